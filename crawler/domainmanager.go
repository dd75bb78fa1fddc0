package crawler

import (
	"sync"
	"time"

	"github.com/MunishMummadi/web-scrapper/config"
	"github.com/MunishMummadi/web-scrapper/model"
)

// DomainManager tracks per-domain state for the crawl session: last visit
// times, consecutive failures, rate-limit events and the circuit breaker.
// It composes the breaker and the per-host interval tracker behind the
// single contract the worker loop talks to.
type DomainManager struct {
	breaker *CircuitBreaker
	limiter *HostRateLimiter

	mu          sync.RWMutex
	minInterval time.Duration
}

// NewDomainManager creates a DomainManager from the current config
// snapshot.
func NewDomainManager(cfg *config.CrawlConfig) *DomainManager {
	return &DomainManager{
		breaker:     NewCircuitBreaker(cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerOpenDuration),
		limiter:     NewHostRateLimiter(),
		minInterval: cfg.PerDomainInterval,
	}
}

// IsCircuitBreakerOpen reports whether requests to host are currently
// short-circuited.
func (dm *DomainManager) IsCircuitBreakerOpen(host string) bool {
	return dm.breaker.IsOpen(host)
}

// ShouldDelay reports whether a request to host must wait for politeness.
func (dm *DomainManager) ShouldDelay(host string) bool {
	return dm.GetDelay(host) > 0
}

// GetDelay returns the remaining wait before host may be fetched:
// lastVisitAt + max(configured interval, robots Crawl-delay, rate-limit
// backoff) minus now.
func (dm *DomainManager) GetDelay(host string) time.Duration {
	dm.mu.RLock()
	interval := dm.minInterval
	dm.mu.RUnlock()
	return dm.limiter.Delay(host, interval)
}

// SetCrawlDelay records the robots.txt Crawl-delay for host so it feeds
// into subsequent delay computations.
func (dm *DomainManager) SetCrawlDelay(host string, delay time.Duration) {
	dm.limiter.SetCrawlDelay(host, delay)
}

// RecordSuccess notes a successful fetch from host: closes the breaker
// and stamps the visit time.
func (dm *DomainManager) RecordSuccess(host string) {
	dm.limiter.RecordVisit(host)
	dm.breaker.RecordSuccess(host)
}

// RecordFailure notes a failed fetch from host. Returns true when this
// failure tripped the circuit breaker open.
func (dm *DomainManager) RecordFailure(host string, failureType model.FailureType, reason string) bool {
	dm.limiter.RecordVisit(host)
	return dm.breaker.RecordFailure(host)
}

// RecordRateLimit notes a 429 from host: records the rate-limit event,
// doubles the host's backoff for the decay window, and counts as a
// failure toward the breaker.
func (dm *DomainManager) RecordRateLimit(host string) bool {
	dm.limiter.RecordRateLimit(host)
	dm.limiter.RecordVisit(host)
	return dm.breaker.RecordFailure(host)
}

// LastVisit returns when host was last fetched, if ever.
func (dm *DomainManager) LastVisit(host string) (time.Time, bool) {
	return dm.limiter.LastVisit(host)
}

// State returns the current DomainState snapshot for host.
func (dm *DomainManager) State(host string) model.DomainState {
	lastVisit, _ := dm.limiter.LastVisit(host)
	return model.DomainState{
		Host:                host,
		LastVisitAt:         lastVisit,
		ConsecutiveFailures: dm.breaker.ConsecutiveFailures(host),
		RateLimitEvents:     dm.limiter.RateLimitEvents(host),
		BreakerState:        dm.breaker.State(host),
	}
}

// OpenCircuits returns how many hosts currently have an open breaker.
func (dm *DomainManager) OpenCircuits() int {
	return dm.breaker.OpenCount()
}

// UpdateConfig atomically replaces the thresholds; per-host state is
// preserved.
func (dm *DomainManager) UpdateConfig(cfg *config.CrawlConfig) {
	dm.mu.Lock()
	dm.minInterval = cfg.PerDomainInterval
	dm.mu.Unlock()
	dm.breaker.UpdateConfig(cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerOpenDuration)
}

// Close releases the manager's background resources.
func (dm *DomainManager) Close() {
	dm.limiter.Close()
}
