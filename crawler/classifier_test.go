package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MunishMummadi/web-scrapper/config"
	"github.com/MunishMummadi/web-scrapper/model"
)

func TestClassifyRules(t *testing.T) {
	fc := NewFailureClassifier()

	tests := []struct {
		name string
		res  model.FetchResult
		want model.FailureType
	}{
		{"dns error", model.FetchResult{TransportErrorCode: transportDNS}, model.FailureDNS},
		{"connection refused", model.FetchResult{TransportErrorCode: transportConnRefused}, model.FailureConnectRefused},
		{"transport timeout", model.FetchResult{TransportErrorCode: transportTimeout}, model.FailureTimeout},
		{"generic network error", model.FetchResult{TransportErrorCode: transportNetwork}, model.FailureTransientNetwork},
		{"tls error", model.FetchResult{TransportErrorCode: transportTLS}, model.FailureTransientNetwork},
		{"rate limited", model.FetchResult{StatusCode: 429}, model.FailureHTTPRateLimited},
		{"server error", model.FetchResult{StatusCode: 503}, model.FailureHTTPServerError},
		{"request timeout status", model.FetchResult{StatusCode: 408}, model.FailureTimeout},
		{"not found", model.FetchResult{StatusCode: 404}, model.FailureHTTPClientError},
		{"forbidden", model.FetchResult{StatusCode: 403}, model.FailureHTTPClientError},
		{"redirect surfaced", model.FetchResult{StatusCode: 301}, model.FailureHTTPRedirectLoop},
		{"nothing classifiable", model.FetchResult{}, model.FailurePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fc.Classify(tt.res))
		})
	}
}

func TestShouldRetry(t *testing.T) {
	fc := NewFailureClassifier()

	assert.True(t, fc.ShouldRetry(model.FailureTimeout, 0, 3))
	assert.True(t, fc.ShouldRetry(model.FailureHTTPServerError, 2, 3))
	assert.False(t, fc.ShouldRetry(model.FailureHTTPServerError, 3, 3), "attempts exhausted")
	assert.False(t, fc.ShouldRetry(model.FailureHTTPClientError, 0, 3))
	assert.False(t, fc.ShouldRetry(model.FailureRobotsDenied, 0, 3))
	assert.False(t, fc.ShouldRetry(model.FailurePermanent, 0, 3))
}

func retryConfig() *config.CrawlConfig {
	return &config.CrawlConfig{
		BaseRetryDelay:         time.Second,
		MaxRetryDelay:          10 * time.Second,
		RetryBackoffMultiplier: 2.0,
	}
}

func TestCalculateRetryDelayBackoffBounds(t *testing.T) {
	fc := NewFailureClassifier()
	cfg := retryConfig()

	// attempt 3 => base * 2^2 = 4s, jittered by +/-20%.
	d := fc.CalculateRetryDelay(3, cfg, model.FailureTimeout, 0)
	assert.GreaterOrEqual(t, d, 3200*time.Millisecond)
	assert.LessOrEqual(t, d, 4800*time.Millisecond)
}

func TestCalculateRetryDelayCapped(t *testing.T) {
	fc := NewFailureClassifier()
	cfg := retryConfig()

	// attempt 10 would be 512s before the cap.
	d := fc.CalculateRetryDelay(10, cfg, model.FailureTimeout, 0)
	assert.LessOrEqual(t, d, 12*time.Second) // cap plus jitter headroom
}

func TestCalculateRetryDelayRateLimitedDoubles(t *testing.T) {
	fc := NewFailureClassifier()
	cfg := retryConfig()

	// attempt 1 rate-limited => 2s before jitter.
	d := fc.CalculateRetryDelay(1, cfg, model.FailureHTTPRateLimited, 0)
	assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
	assert.LessOrEqual(t, d, 2400*time.Millisecond)
}

func TestCalculateRetryDelayRespectsRetryAfter(t *testing.T) {
	fc := NewFailureClassifier()
	cfg := retryConfig()

	d := fc.CalculateRetryDelay(1, cfg, model.FailureHTTPRateLimited, 30*time.Second)
	assert.GreaterOrEqual(t, d, 30*time.Second)
}
