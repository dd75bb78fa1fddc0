// Package proxy rotates outbound requests across a pool of proxy servers
// and tracks per-proxy health from the fetch outcomes reported back by
// the page fetcher.
package proxy

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/MunishMummadi/web-scrapper/config"
)

const (
	// maxTrackedAssignments bounds the target-to-proxy attribution map.
	maxTrackedAssignments = 4096
	// A proxy goes unhealthy once its error rate crosses the threshold
	// with enough failures to mean something.
	unhealthyErrorRate   = 0.5
	unhealthyMinFailures = 3
)

// Manager handles proxy rotation and health tracking. Outcomes are
// reported per target URL (the fetcher does not know which proxy served
// a request), so proxyFunc records the assignment and RecordSuccess /
// RecordFailure attribute the outcome to the right proxy.
type Manager struct {
	mu          sync.Mutex
	proxies     []*proxyServer
	current     int
	assignments map[string]*proxyServer // target URL -> serving proxy

	proxyAPI     string
	apiKey       string
	refreshTimer *time.Ticker
	done         chan struct{}
	client       *http.Client
	enabled      bool
}

// proxyServer is one pool entry with its health bookkeeping
type proxyServer struct {
	raw       string
	url       *url.URL
	failures  int
	successes int
	healthy   bool
}

// NewManager creates a new proxy rotation manager
func NewManager(cfg config.ProxyConfig) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{enabled: false}, nil
	}

	manager := &Manager{
		proxies:     parseProxyList(cfg.URLs),
		assignments: make(map[string]*proxyServer),
		proxyAPI:    cfg.APIUrl,
		apiKey:      cfg.APIKey,
		done:        make(chan struct{}),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		enabled: true,
	}

	// Start refresh timer if API URL is provided
	if cfg.APIUrl != "" && cfg.APIKey != "" {
		// Refresh proxies every hour
		manager.refreshTimer = time.NewTicker(1 * time.Hour)
		go manager.refreshLoop()
	}

	return manager, nil
}

// parseProxyList validates and parses the configured proxy URLs,
// skipping invalid entries.
func parseProxyList(urls []string) []*proxyServer {
	proxies := make([]*proxyServer, 0, len(urls))
	for _, proxyURL := range urls {
		parsed, err := url.Parse(proxyURL)
		if err != nil || parsed.Host == "" {
			continue // Skip invalid URLs
		}
		proxies = append(proxies, &proxyServer{
			raw:     proxyURL,
			url:     parsed,
			healthy: true, // Assume healthy until proven otherwise
		})
	}
	return proxies
}

// GetTransport returns an http.Transport that uses proxies
func (m *Manager) GetTransport() *http.Transport {
	if !m.enabled {
		// Disabled, return default transport
		return &http.Transport{
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     30 * time.Second,
		}
	}

	return &http.Transport{
		Proxy:               m.proxyFunc,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     30 * time.Second,
	}
}

// proxyFunc is called by the transport to pick the proxy for a request.
// Round-robin over the pool, skipping unhealthy entries; when every
// proxy is unhealthy the round-robin pick is used anyway so proxies get
// a chance to recover.
func (m *Manager) proxyFunc(req *http.Request) (*url.URL, error) {
	if !m.enabled {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.proxies) == 0 {
		return nil, nil // No proxy
	}

	m.current = (m.current + 1) % len(m.proxies)
	picked := m.proxies[m.current]
	if !picked.healthy {
		for i := 1; i < len(m.proxies); i++ {
			candidate := m.proxies[(m.current+i)%len(m.proxies)]
			if candidate.healthy {
				picked = candidate
				break
			}
		}
	}

	m.recordAssignment(req.URL.String(), picked)
	return picked.url, nil
}

// recordAssignment remembers which proxy served a target URL so a later
// outcome report lands on the right proxy. Caller must hold m.mu.
func (m *Manager) recordAssignment(targetURL string, p *proxyServer) {
	if len(m.assignments) >= maxTrackedAssignments {
		// Redirect hops leave entries nobody reports on; reset rather
		// than grow without bound.
		m.assignments = make(map[string]*proxyServer)
	}
	m.assignments[targetURL] = p
}

// RecordSuccess attributes a successful fetch of targetURL to the proxy
// that served it.
func (m *Manager) RecordSuccess(targetURL string) {
	m.recordOutcome(targetURL, true)
}

// RecordFailure attributes a failed fetch of targetURL to the proxy that
// served it.
func (m *Manager) RecordFailure(targetURL string) {
	m.recordOutcome(targetURL, false)
}

func (m *Manager) recordOutcome(targetURL string, success bool) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.assignments[targetURL]
	if !ok {
		return
	}
	delete(m.assignments, targetURL)

	if success {
		p.successes++
	} else {
		p.failures++
	}
	errorRate := float64(p.failures) / float64(p.successes+p.failures)
	p.healthy = errorRate < unhealthyErrorRate || p.failures < unhealthyMinFailures
}

// refreshLoop periodically replaces the pool from the provider API.
func (m *Manager) refreshLoop() {
	for {
		select {
		case <-m.done:
			return
		case <-m.refreshTimer.C:
			m.refreshProxies()
		}
	}
}

// refreshProxies fetches fresh proxies from the provider API. The
// expected response shape is {"proxies": ["http://host:port", ...]}.
// Health stats carry over for proxies that survive the refresh.
func (m *Manager) refreshProxies() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", m.proxyAPI, nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		log.Printf("Proxy refresh failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("Proxy refresh returned status %d", resp.StatusCode)
		return
	}

	var payload struct {
		Proxies []string `json:"proxies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Printf("Proxy refresh returned unparseable body: %v", err)
		return
	}
	fresh := parseProxyList(payload.Proxies)
	if len(fresh) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make(map[string]*proxyServer, len(m.proxies))
	for _, p := range m.proxies {
		existing[p.raw] = p
	}
	for i, p := range fresh {
		if old, ok := existing[p.raw]; ok {
			fresh[i] = old
		}
	}
	m.proxies = fresh
	m.assignments = make(map[string]*proxyServer)
	m.current = 0
}

// Close stops the refresh timer
func (m *Manager) Close() {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		close(m.done)
	}
}
