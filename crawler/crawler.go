package crawler

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"

	"github.com/MunishMummadi/web-scrapper/config"
	"github.com/MunishMummadi/web-scrapper/metrics"
	"github.com/MunishMummadi/web-scrapper/model"
	"github.com/MunishMummadi/web-scrapper/proxy"
	"github.com/MunishMummadi/web-scrapper/queue"
	"github.com/MunishMummadi/web-scrapper/urlutil"
)

const (
	// emptyPollInterval is how long the worker sleeps when no URL is
	// ready but retries are still pending.
	emptyPollInterval = 100 * time.Millisecond
	// iterationPause keeps the loop from spinning tight between URLs.
	iterationPause = 10 * time.Millisecond
	// rehydrateLimit caps how many persisted tasks a restarted session
	// reloads.
	rehydrateLimit = 10000
)

// ContentStore is the injected storage collaborator. All calls are
// fire-and-forget from the worker's perspective: failures are logged and
// never abort the crawl.
type ContentStore interface {
	StoreCrawlResult(ctx context.Context, result *model.CrawlResult) error
	StoreCrawlLog(ctx context.Context, sessionID string, level model.LogLevel, message string) error
}

// Crawler binds the frontier, domain manager, fetcher, parser, robots
// cache and metrics under a single background worker per session.
type Crawler struct {
	cfg        atomic.Pointer[config.CrawlConfig]
	session    *Session
	frontier   queue.Frontier
	store      ContentStore
	metrics    *metrics.MetricsCollector
	bus        *SessionLogBus
	domains    *DomainManager
	fetcher    *PageFetcher
	parser     *ContentParser
	robots     *RobotsCache
	classifier *FailureClassifier

	resultsMu sync.Mutex
	results   []*model.CrawlResult
	resultIdx map[string]int

	successfulDownloads atomic.Int64
	totalResults        atomic.Int64

	stopped   atomic.Bool
	stopChan  chan struct{}
	doneChan  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	storeWG conc.WaitGroup
}

// NewCrawler creates a Crawler for one session. store may be nil, in
// which case results are only held in memory; proxyManager may be nil for
// direct outbound requests.
func NewCrawler(cfg *config.Config, session *Session, frontier queue.Frontier, store ContentStore, m *metrics.MetricsCollector, proxyManager *proxy.Manager) (*Crawler, error) {
	if session == nil {
		return nil, fmt.Errorf("crawler requires a session")
	}
	if frontier == nil {
		return nil, fmt.Errorf("crawler requires a frontier")
	}
	crawlCfg := cfg.Crawl
	if err := validateCrawlConfig(&crawlCfg); err != nil {
		return nil, err
	}
	if store == nil {
		log.Printf("Crawler %s: no content store configured, results held in memory only", session.ID)
	}

	var transport http.RoundTripper
	var reporter ProxyReporter
	if proxyManager != nil {
		transport = proxyManager.GetTransport()
		reporter = proxyManager
	} else {
		transport = &http.Transport{}
	}

	c := &Crawler{
		session:    session,
		frontier:   frontier,
		store:      store,
		metrics:    m,
		bus:        Bus(),
		domains:    NewDomainManager(&crawlCfg),
		fetcher:    NewPageFetcher(&crawlCfg, transport, reporter),
		parser:     NewContentParser(),
		robots:     NewRobotsCache(transport, crawlCfg.TestMode),
		classifier: NewFailureClassifier(),
		resultIdx:  make(map[string]int),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
	c.cfg.Store(&crawlCfg)
	return c, nil
}

// validateCrawlConfig enforces the constructor-time invariants. This is
// the only place configuration problems are fatal.
func validateCrawlConfig(cfg *config.CrawlConfig) error {
	switch {
	case cfg.MaxPages < 0:
		return fmt.Errorf("maxPages must be non-negative, got %d", cfg.MaxPages)
	case cfg.MaxDepth < 0:
		return fmt.Errorf("maxDepth must be non-negative, got %d", cfg.MaxDepth)
	case cfg.RequestTimeout <= 0:
		return fmt.Errorf("requestTimeout must be positive, got %v", cfg.RequestTimeout)
	case cfg.MaxRedirects < 0:
		return fmt.Errorf("maxRedirects must be non-negative, got %d", cfg.MaxRedirects)
	case cfg.MaxRetries < 0:
		return fmt.Errorf("maxRetries must be non-negative, got %d", cfg.MaxRetries)
	case cfg.BaseRetryDelay <= 0:
		return fmt.Errorf("baseRetryDelay must be positive, got %v", cfg.BaseRetryDelay)
	case cfg.RetryBackoffMultiplier < 1:
		return fmt.Errorf("retryBackoffMultiplier must be >= 1, got %v", cfg.RetryBackoffMultiplier)
	case cfg.CircuitBreakerFailureThreshold <= 0:
		return fmt.Errorf("circuitBreakerFailureThreshold must be positive, got %d", cfg.CircuitBreakerFailureThreshold)
	case cfg.SpaRenderingEnabled && cfg.BrowserlessGatewayURL == "":
		return fmt.Errorf("spaRenderingEnabled requires a browserlessGatewayUrl")
	}
	return nil
}

// Session returns the crawler's session.
func (c *Crawler) Session() *Session {
	return c.session
}

// AddSeed enqueues a seed URL. The first seed's host becomes the session
// seed domain for domain restriction. Returns whether the URL was newly
// queued.
func (c *Crawler) AddSeed(ctx context.Context, rawURL string) bool {
	if host, err := urlutil.ExtractHost(rawURL); err == nil && host != "" {
		c.session.SetSeedDomain(host)
	}

	added := c.frontier.AddURL(ctx, rawURL, false, model.PriorityHigh, 0)
	if added {
		if canonical, err := urlutil.Canonicalize(rawURL); err == nil {
			c.ensureResult(canonical)
		}
		if c.metrics != nil {
			c.metrics.IncrementQueuedURLs()
		}
		c.bus.Broadcast(c.session.ID, fmt.Sprintf("Queued seed %s", rawURL), model.LogInfo)
	}
	return added
}

// AddSeeds enqueues a batch of seed URLs and returns how many were newly
// queued.
func (c *Crawler) AddSeeds(ctx context.Context, urls []string) int {
	added := 0
	for _, u := range urls {
		if c.AddSeed(ctx, u) {
			added++
		}
	}
	return added
}

// Start rehydrates persisted frontier state and launches the session's
// single background worker. Subsequent calls are no-ops.
func (c *Crawler) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		if err := c.frontier.Rehydrate(ctx, c.session.ID, rehydrateLimit); err != nil {
			log.Printf("Crawler %s: frontier rehydration failed: %v", c.session.ID, err)
		}
		c.bus.Broadcast(c.session.ID, "Crawl session started", model.LogInfo)
		go c.worker(ctx)
	})
}

// Stop sets the stop flag, waits a bounded grace period for the in-flight
// fetch to complete, then waits for outstanding storage writes.
func (c *Crawler) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		close(c.stopChan)

		grace := c.cfg.Load().RequestTimeout + 5*time.Second
		select {
		case <-c.doneChan:
		case <-time.After(grace):
			log.Printf("Crawler %s: worker did not stop within grace period", c.session.ID)
		}

		c.storeWG.Wait()
		c.domains.Close()
	})
}

// Stopped reports whether the session has ended.
func (c *Crawler) Stopped() bool {
	return c.stopped.Load()
}

// Done returns a channel closed when the worker has exited.
func (c *Crawler) Done() <-chan struct{} {
	return c.doneChan
}

// UpdateConfig atomically replaces the configuration snapshot and
// rebuilds the fetcher under the new user-agent/timeout/redirect policy.
// In-flight requests complete under the prior policy.
func (c *Crawler) UpdateConfig(newCfg *config.CrawlConfig) error {
	if err := validateCrawlConfig(newCfg); err != nil {
		return err
	}
	snapshot := *newCfg
	c.cfg.Store(&snapshot)
	c.domains.UpdateConfig(&snapshot)
	c.fetcher.Rebuild(&snapshot)
	c.bus.Broadcast(c.session.ID, "Configuration updated", model.LogDebug)
	return nil
}

// SetMaxPages is a convenience shortcut replacing only maxPages.
func (c *Crawler) SetMaxPages(n int) error {
	snapshot := *c.cfg.Load()
	snapshot.MaxPages = n
	return c.UpdateConfig(&snapshot)
}

// SetMaxDepth is a convenience shortcut replacing only maxDepth.
func (c *Crawler) SetMaxDepth(n int) error {
	snapshot := *c.cfg.Load()
	snapshot.MaxDepth = n
	return c.UpdateConfig(&snapshot)
}

// Config returns the current configuration snapshot.
func (c *Crawler) Config() config.CrawlConfig {
	return *c.cfg.Load()
}

// GetResults returns a copy of the session's result list.
func (c *Crawler) GetResults() []model.CrawlResult {
	c.resultsMu.Lock()
	defer c.resultsMu.Unlock()
	out := make([]model.CrawlResult, 0, len(c.results))
	for _, r := range c.results {
		out = append(out, *r)
	}
	return out
}

// SuccessfulDownloads returns how many pages have been downloaded.
func (c *Crawler) SuccessfulDownloads() int {
	return int(c.successfulDownloads.Load())
}

// TotalResults returns how many results the session tracks.
func (c *Crawler) TotalResults() int {
	return int(c.totalResults.Load())
}

// CrawlSummary is the end-of-session report: counts by terminal status
// and per-domain statistics.
type CrawlSummary struct {
	SessionID           string
	SuccessfulDownloads int
	TotalResults        int
	ByStatus            map[model.CrawlStatus]int
	ByFailureType       map[model.FailureType]int
	Domains             []model.DomainState
	SpaDetected         bool
}

// Summary builds the session summary from the current result list.
func (c *Crawler) Summary() CrawlSummary {
	summary := CrawlSummary{
		SessionID:           c.session.ID,
		SuccessfulDownloads: c.SuccessfulDownloads(),
		TotalResults:        c.TotalResults(),
		ByStatus:            make(map[model.CrawlStatus]int),
		ByFailureType:       make(map[model.FailureType]int),
		SpaDetected:         c.session.SpaDetected(),
	}

	domains := make(map[string]struct{})
	c.resultsMu.Lock()
	for _, r := range c.results {
		summary.ByStatus[r.CrawlStatus]++
		if r.FailureType != "" {
			summary.ByFailureType[r.FailureType]++
		}
		if r.Domain != "" {
			domains[r.Domain] = struct{}{}
		}
	}
	c.resultsMu.Unlock()

	for domain := range domains {
		summary.Domains = append(summary.Domains, c.domains.State(domain))
	}
	return summary
}

// worker is the session's single background loop.
func (c *Crawler) worker(ctx context.Context) {
	defer close(c.doneChan)
	defer c.emitSummary()

	for {
		if c.stopped.Load() || ctx.Err() != nil {
			return
		}

		cfg := c.cfg.Load()
		if c.SuccessfulDownloads() >= cfg.MaxPages {
			c.stopped.Store(true)
			return
		}

		qu, ok := c.frontier.GetNextURL()
		if !ok {
			if c.frontier.RetryQueueSize() > 0 {
				if !c.pause(emptyPollInterval) {
					return
				}
				continue
			}
			// Seeds exhausted: no URL ready, no retries pending.
			c.stopped.Store(true)
			return
		}

		if c.frontier.IsVisited(qu.URL) {
			continue
		}

		host := c.frontier.ExtractDomain(qu.URL)
		if host == "" {
			c.finishTerminal(ctx, &qu, "", model.FailurePermanent, "invalid URL", "")
			continue
		}

		if c.domains.IsCircuitBreakerOpen(host) {
			// Dropped, not re-enqueued: a delayed-retry entry brings it
			// back if one exists.
			c.bus.Broadcast(c.session.ID, fmt.Sprintf("Circuit breaker open for %s, skipping %s", host, qu.URL), model.LogWarning)
			continue
		}

		if delay := c.domains.GetDelay(host); delay > 0 {
			c.frontier.ScheduleRetry(ctx, qu.URL, qu.RetryCount, "domain delay", model.FailureTransientNetwork, delay)
			continue
		}

		result := c.beginResult(&qu, host)
		c.bus.Broadcast(c.session.ID, fmt.Sprintf("Downloading %s (depth %d, attempt %d)", qu.URL, qu.Depth, qu.RetryCount+1), model.LogDebug)
		c.processURL(ctx, &qu, result, host, cfg)

		if c.SuccessfulDownloads() >= cfg.MaxPages {
			c.stopped.Store(true)
			return
		}
		if c.metrics != nil {
			c.metrics.SetQueueSize(c.frontier.Size() + c.frontier.RetryQueueSize())
			c.metrics.SetOpenCircuits(c.domains.OpenCircuits())
		}
		if !c.pause(iterationPause) {
			return
		}
	}
}

// pause sleeps for d unless the crawler is stopped first. Returns false
// when the worker should exit.
func (c *Crawler) pause(d time.Duration) bool {
	select {
	case <-c.stopChan:
		return false
	case <-time.After(d):
		return true
	}
}

// processURL runs one URL through robots gating, fetch, SPA detection,
// classification, parse and link extraction. Panics are converted to a
// terminal failure so the worker loop never unwinds.
func (c *Crawler) processURL(ctx context.Context, qu *model.QueuedURL, result *model.CrawlResult, host string, cfg *config.CrawlConfig) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Crawler %s: recovered processing %s: %v", c.session.ID, qu.URL, r)
			c.finishTerminal(ctx, qu, host, model.FailurePermanent, fmt.Sprintf("internal error: %v", r), "")
		}
	}()

	if cfg.RespectRobotsTxt {
		if !c.robots.IsAllowed(qu.URL, cfg.UserAgent) {
			if c.metrics != nil {
				c.metrics.IncrementRobotsDisallowed()
			}
			c.finishTerminal(ctx, qu, host, model.FailureRobotsDenied, "disallowed by robots.txt", "")
			return
		}
		if parsed, err := url.Parse(qu.URL); err == nil {
			if delay := c.robots.CrawlDelay(parsed.Scheme, parsed.Host, cfg.UserAgent); delay > 0 {
				c.domains.SetCrawlDelay(host, delay)
			}
		}
	}

	start := time.Now()
	res := c.fetcher.Fetch(ctx, qu.URL)
	if c.metrics != nil {
		c.metrics.RecordScrapingDuration(time.Since(start))
	}

	// The SPA check runs at most once per session, on the first
	// successful fetch. When SPA rendering is enabled with a gateway URL,
	// a positive check switches the fetcher to the rendering gateway and
	// re-fetches the page through it.
	if res.Success && !c.session.SpaChecked() {
		detected := c.fetcher.IsSpaPage(res.Content, qu.URL)
		if c.session.MarkSpaChecked(detected) && detected {
			c.bus.Broadcast(c.session.ID, fmt.Sprintf("SPA detected at %s", qu.URL), model.LogInfo)
			if c.metrics != nil {
				c.metrics.SetSpaDetected(true)
			}
			if cfg.SpaRenderingEnabled && cfg.BrowserlessGatewayURL != "" {
				c.fetcher.SetSpaRendering(true, cfg.BrowserlessGatewayURL, cfg)
				res = c.fetcher.Fetch(ctx, qu.URL)
			}
		}
	}

	if res.Success {
		c.finishSuccess(ctx, qu, result, host, cfg, res)
	} else {
		c.finishFailure(ctx, qu, result, host, cfg, res)
	}
}

// finishSuccess completes a downloaded page: parse, link extraction,
// terminal bookkeeping and storage.
func (c *Crawler) finishSuccess(ctx context.Context, qu *model.QueuedURL, result *model.CrawlResult, host string, cfg *config.CrawlConfig, res model.FetchResult) {
	parsed := c.parser.Parse(res.Content, res.ContentType, res.FinalURL)

	now := time.Now()
	c.resultsMu.Lock()
	result.FinalURL = res.FinalURL
	result.StatusCode = res.StatusCode
	result.ContentType = res.ContentType
	result.ContentSize = len(res.Content)
	result.Title = parsed.Title
	result.MetaDescription = parsed.MetaDescription
	if cfg.ExtractTextContent {
		result.TextContent = parsed.TextContent
	}
	if cfg.StoreRawContent {
		if cfg.IncludeFullContent || len(res.Content) <= previewContentBytes {
			result.RawContent = res.Content
		} else {
			result.RawContent = res.Content[:previewContentBytes]
		}
	}
	result.Links = parsed.Links
	result.CrawlStatus = model.StatusDownloaded
	result.RetryCount = qu.RetryCount
	result.IsRetryAttempt = qu.RetryCount > 0
	result.FailureType = ""
	result.ErrorMessage = ""
	result.FinishedAt = now
	if result.IsRetryAttempt && !result.QueuedAt.IsZero() {
		result.TotalRetryTime = now.Sub(result.QueuedAt)
	}
	snapshot := *result
	c.resultsMu.Unlock()

	c.enqueueLinks(ctx, parsed.Links, qu.Depth+1, cfg)

	c.frontier.MarkVisited(ctx, qu.URL)
	c.successfulDownloads.Inc()
	c.domains.RecordSuccess(host)
	if c.metrics != nil {
		c.metrics.RecordPageCrawled(host, len(res.Content))
	}

	c.storeResult(&snapshot)
	c.bus.Broadcast(c.session.ID, fmt.Sprintf("Downloaded %s (%d, %d bytes, %d links)", qu.URL, res.StatusCode, len(res.Content), len(parsed.Links)), model.LogInfo)
}

// finishFailure classifies a failed fetch and routes it through the retry
// or terminal path.
func (c *Crawler) finishFailure(ctx context.Context, qu *model.QueuedURL, result *model.CrawlResult, host string, cfg *config.CrawlConfig, res model.FetchResult) {
	failureType := c.classifier.Classify(res)

	if failureType == model.FailureHTTPRateLimited {
		c.domains.RecordRateLimit(host)
	} else {
		c.domains.RecordFailure(host, failureType, res.ErrorMessage)
	}

	if c.classifier.ShouldRetry(failureType, qu.RetryCount, cfg.MaxRetries) {
		delay := c.classifier.CalculateRetryDelay(qu.RetryCount+1, cfg, failureType, res.RetryAfter)
		c.frontier.ScheduleRetry(ctx, qu.URL, qu.RetryCount+1, res.ErrorMessage, failureType, delay)

		c.resultsMu.Lock()
		result.StatusCode = res.StatusCode
		result.CrawlStatus = model.StatusRetryScheduled
		result.RetryCount = qu.RetryCount + 1
		result.IsRetryAttempt = true
		result.FailureType = failureType
		result.ErrorMessage = res.ErrorMessage
		result.TransportErrorCode = res.TransportErrorCode
		c.resultsMu.Unlock()

		if c.metrics != nil {
			c.metrics.IncrementRetriesScheduled()
		}
		c.bus.Broadcast(c.session.ID, fmt.Sprintf("Retry %d/%d for %s in %v (%s)", qu.RetryCount+1, cfg.MaxRetries, qu.URL, delay.Round(time.Millisecond), failureType), model.LogWarning)
		return
	}

	c.resultsMu.Lock()
	result.StatusCode = res.StatusCode
	result.TransportErrorCode = res.TransportErrorCode
	c.resultsMu.Unlock()
	c.finishTerminal(ctx, qu, host, failureType, res.ErrorMessage, res.TransportErrorCode)
}

// finishTerminal marks a URL permanently failed.
func (c *Crawler) finishTerminal(ctx context.Context, qu *model.QueuedURL, host string, failureType model.FailureType, errMsg, transportCode string) {
	c.frontier.MarkVisited(ctx, qu.URL)

	result := c.beginResult(qu, host)
	now := time.Now()
	c.resultsMu.Lock()
	result.CrawlStatus = model.StatusFailed
	result.RetryCount = qu.RetryCount
	result.IsRetryAttempt = qu.RetryCount > 0
	result.FailureType = failureType
	result.ErrorMessage = errMsg
	if transportCode != "" {
		result.TransportErrorCode = transportCode
	}
	result.FinishedAt = now
	if result.IsRetryAttempt && !result.QueuedAt.IsZero() {
		result.TotalRetryTime = now.Sub(result.QueuedAt)
	}
	snapshot := *result
	c.resultsMu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordFailure(host, string(failureType))
	}
	c.storeResult(&snapshot)
	c.bus.Broadcast(c.session.ID, fmt.Sprintf("Failed %s: %s (%s)", qu.URL, errMsg, failureType), model.LogError)
}

// previewContentBytes is how much raw content is kept when full content
// storage is off.
const previewContentBytes = 500

// enqueueLinks pushes extracted links into the frontier at the given
// depth, applying depth, domain-restriction and robots policy plus the
// frontier growth caps: additions are deprioritized past maxPages*3 and
// stop entirely past maxPages*5.
func (c *Crawler) enqueueLinks(ctx context.Context, links []string, depth int, cfg *config.CrawlConfig) int {
	if len(links) == 0 || depth > cfg.MaxDepth {
		return 0
	}

	added := 0
	for _, link := range links {
		downloaded := c.SuccessfulDownloads()
		queued := c.frontier.Size() + c.frontier.RetryQueueSize()
		if downloaded+queued >= cfg.MaxPages*5 {
			break
		}
		priority := model.PriorityNormal
		if downloaded+queued >= cfg.MaxPages*3 {
			priority = model.PriorityLow
		}

		if cfg.RestrictToSeedDomain {
			host, err := urlutil.ExtractHost(link)
			if err != nil || host != c.session.SeedDomain() {
				continue
			}
		}
		if cfg.RespectRobotsTxt && !c.robots.IsAllowed(link, cfg.UserAgent) {
			continue
		}

		if c.frontier.AddURL(ctx, link, false, priority, depth) {
			added++
			if c.metrics != nil {
				c.metrics.IncrementQueuedURLs()
			}
		}
	}
	return added
}

// beginResult finds or creates the result record for a URL and marks it
// downloading.
func (c *Crawler) beginResult(qu *model.QueuedURL, host string) *model.CrawlResult {
	result := c.ensureResult(qu.URL)
	c.resultsMu.Lock()
	result.Domain = host
	result.CrawlStatus = model.StatusDownloading
	if result.StartedAt.IsZero() {
		result.StartedAt = time.Now()
	}
	if result.QueuedAt.IsZero() {
		result.QueuedAt = qu.QueuedAt
	}
	c.resultsMu.Unlock()
	return result
}

// ensureResult returns the session's result record for a canonical URL,
// creating it in the queued state if needed.
func (c *Crawler) ensureResult(canonicalURL string) *model.CrawlResult {
	c.resultsMu.Lock()
	defer c.resultsMu.Unlock()

	if idx, ok := c.resultIdx[canonicalURL]; ok {
		return c.results[idx]
	}
	result := &model.CrawlResult{
		SessionID:   c.session.ID,
		URL:         canonicalURL,
		CrawlStatus: model.StatusQueued,
		QueuedAt:    time.Now(),
	}
	c.resultIdx[canonicalURL] = len(c.results)
	c.results = append(c.results, result)
	c.totalResults.Inc()
	return result
}

// storeResult pushes a result snapshot to the content store,
// fire-and-forget under a panic-safe group.
func (c *Crawler) storeResult(result *model.CrawlResult) {
	if c.store == nil {
		return
	}
	c.storeWG.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.store.StoreCrawlResult(ctx, result); err != nil {
			log.Printf("Crawler %s: failed to store result for %s: %v", c.session.ID, result.URL, err)
		}
		if err := c.store.StoreCrawlLog(ctx, c.session.ID, model.LogInfo, fmt.Sprintf("%s -> %s", result.URL, result.CrawlStatus)); err != nil {
			log.Printf("Crawler %s: failed to store crawl log: %v", c.session.ID, err)
		}
	})
}

// emitSummary broadcasts the end-of-session summary.
func (c *Crawler) emitSummary() {
	summary := c.Summary()
	c.bus.Broadcast(c.session.ID, fmt.Sprintf(
		"Crawl session finished: %d downloaded, %d failed, %d results, %d domains",
		summary.SuccessfulDownloads,
		summary.ByStatus[model.StatusFailed],
		summary.TotalResults,
		len(summary.Domains),
	), model.LogInfo)
}
