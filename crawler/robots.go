package crawler

import (
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const (
	robotsCacheTTL         = 24 * time.Hour
	robotsNegativeCacheTTL = 5 * time.Minute
	robotsFetchTimeout     = 10 * time.Second
	testModeCrawlDelay     = 10 * time.Millisecond
)

// RobotsCache fetches, parses and caches robots.txt per host, answering
// allow checks and Crawl-delay lookups. Unreachable robots.txt (4xx, 5xx
// or transport error) allows everything, cached under a short negative
// TTL so the host gets re-probed soon.
type RobotsCache struct {
	cache    map[string]*robotsEntry
	client   *http.Client
	mu       sync.RWMutex
	testMode bool
}

type robotsEntry struct {
	data      *robotstxt.RobotsData // nil means allow-all
	fetchedAt time.Time
	ttl       time.Duration
}

// NewRobotsCache creates a robots.txt cache sharing the given transport.
// Robots fetches bypass the DomainManager: they are not crawl pages.
func NewRobotsCache(transport http.RoundTripper, testMode bool) *RobotsCache {
	return &RobotsCache{
		cache: make(map[string]*robotsEntry),
		client: &http.Client{
			Timeout:   robotsFetchTimeout,
			Transport: transport,
		},
		testMode: testMode,
	}
}

// IsAllowed checks whether userAgent may fetch urlStr per the host's
// robots.txt. Malformed URLs are disallowed; unreachable robots.txt
// allows everything.
func (rc *RobotsCache) IsAllowed(urlStr, userAgent string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil || parsedURL.Host == "" {
		return false
	}

	entry := rc.entryFor(parsedURL.Scheme, parsedURL.Host, userAgent)
	if entry.data == nil {
		return true
	}

	path := parsedURL.Path
	if path == "" {
		path = "/"
	}
	if parsedURL.RawQuery != "" {
		path += "?" + parsedURL.RawQuery
	}

	return entry.data.TestAgent(path, userAgent)
}

// CrawlDelay returns the Crawl-delay the host's robots.txt declares for
// userAgent, or zero when none applies.
func (rc *RobotsCache) CrawlDelay(scheme, host, userAgent string) time.Duration {
	entry := rc.entryFor(scheme, host, userAgent)
	if entry.data == nil {
		return 0
	}
	group := entry.data.FindGroup(userAgent)
	if group == nil {
		return 0
	}
	delay := group.CrawlDelay
	if rc.testMode && delay > testModeCrawlDelay {
		delay = testModeCrawlDelay
	}
	return delay
}

// entryFor gets the cached robots entry for host, fetching on miss or
// expiry.
func (rc *RobotsCache) entryFor(scheme, host, userAgent string) *robotsEntry {
	rc.mu.RLock()
	entry, exists := rc.cache[host]
	rc.mu.RUnlock()

	if exists && time.Since(entry.fetchedAt) < entry.ttl {
		return entry
	}

	entry = rc.fetch(scheme, host, userAgent)

	rc.mu.Lock()
	rc.cache[host] = entry
	rc.mu.Unlock()

	return entry
}

// fetch retrieves and parses scheme://host/robots.txt. Any failure mode
// degrades to allow-all with the negative TTL.
func (rc *RobotsCache) fetch(scheme, host, userAgent string) *robotsEntry {
	allowAll := &robotsEntry{fetchedAt: time.Now(), ttl: robotsNegativeCacheTTL}

	if scheme == "" {
		scheme = "http"
	}
	robotsURL := (&url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   "/robots.txt",
	}).String()

	req, err := http.NewRequest("GET", robotsURL, nil)
	if err != nil {
		return allowAll
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := rc.client.Do(req)
	if err != nil {
		return allowAll
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return allowAll
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return allowAll
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return allowAll
	}

	return &robotsEntry{
		data:      data,
		fetchedAt: time.Now(),
		ttl:       robotsCacheTTL,
	}
}
