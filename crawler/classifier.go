package crawler

import (
	"math/rand"
	"sync"
	"time"

	"github.com/MunishMummadi/web-scrapper/config"
	"github.com/MunishMummadi/web-scrapper/model"
)

// Transport error codes surfaced by the fetcher. The classifier keys off
// these rather than inspecting raw errors so the two stay decoupled.
const (
	transportDNS          = "DNS"
	transportConnRefused  = "CONNECT_REFUSED"
	transportTimeout      = "TIMEOUT"
	transportTLS          = "TLS"
	transportRedirectLoop = "REDIRECT_LOOP"
	transportNetwork      = "NETWORK"
)

// FailureClassifier maps fetch outcomes to a FailureType and computes
// retry delays with exponential backoff and jitter.
type FailureClassifier struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewFailureClassifier creates a classifier with its own jitter source.
func NewFailureClassifier() *FailureClassifier {
	return &FailureClassifier{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Classify maps a fetch result to a FailureType. Rules are applied in
// order: transport errors first (DNS, refused, timeout), then status codes.
// Callers should only invoke this for unsuccessful results.
func (fc *FailureClassifier) Classify(res model.FetchResult) model.FailureType {
	switch res.TransportErrorCode {
	case transportDNS:
		return model.FailureDNS
	case transportConnRefused:
		return model.FailureConnectRefused
	case transportTimeout:
		return model.FailureTimeout
	case transportRedirectLoop:
		return model.FailureHTTPRedirectLoop
	case transportTLS, transportNetwork:
		return model.FailureTransientNetwork
	}

	switch {
	case res.StatusCode == 429:
		return model.FailureHTTPRateLimited
	case res.StatusCode >= 500 && res.StatusCode < 600:
		return model.FailureHTTPServerError
	case res.StatusCode == 408:
		return model.FailureTimeout
	case res.StatusCode >= 400 && res.StatusCode < 500:
		return model.FailureHTTPClientError
	case res.StatusCode >= 300 && res.StatusCode < 400:
		// A 3xx that reached the caller means redirects were exhausted
		// or disabled.
		return model.FailureHTTPRedirectLoop
	}

	return model.FailurePermanent
}

// ShouldRetry reports whether a failure of the given type, on the given
// attempt count, warrants another try.
func (fc *FailureClassifier) ShouldRetry(ft model.FailureType, retryCount, maxRetries int) bool {
	if !ft.IsRetryable() {
		return false
	}
	return retryCount < maxRetries
}

// CalculateRetryDelay computes the backoff before retry number attempt
// (1-based): min(maxDelay, baseDelay * multiplier^(attempt-1)), with
// jitter of +/-20%. Rate-limited failures get an additional 2x factor,
// and a server-provided Retry-After takes precedence when longer.
func (fc *FailureClassifier) CalculateRetryDelay(attempt int, cfg *config.CrawlConfig, ft model.FailureType, retryAfter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(cfg.BaseRetryDelay)
	for i := 1; i < attempt; i++ {
		delay *= cfg.RetryBackoffMultiplier
	}
	if ft == model.FailureHTTPRateLimited {
		delay *= 2
	}
	if max := float64(cfg.MaxRetryDelay); delay > max {
		delay = max
	}

	fc.mu.Lock()
	jitter := 0.8 + 0.4*fc.rng.Float64()
	fc.mu.Unlock()
	d := time.Duration(delay * jitter)

	if retryAfter > d {
		d = retryAfter
	}
	return d
}
