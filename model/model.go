// Package model holds the data types shared across the crawling engine's
// components (queue, crawler, database) so none of them need to import each
// other just to see a shared struct. Beyond Priority.String and
// FailureType.IsRetryable it has no behavior of its own.
package model

import "time"

// Priority is the QueuedURL priority band.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// FailureType classifies why a fetch failed, driving retry policy.
type FailureType string

const (
	FailureTransientNetwork FailureType = "TRANSIENT_NETWORK"
	FailureTimeout          FailureType = "TIMEOUT"
	FailureDNS              FailureType = "DNS"
	FailureConnectRefused   FailureType = "CONNECT_REFUSED"
	FailureHTTPServerError  FailureType = "HTTP_SERVER_ERROR"
	FailureHTTPRateLimited  FailureType = "HTTP_RATE_LIMITED"
	FailureHTTPClientError  FailureType = "HTTP_CLIENT_ERROR"
	FailureHTTPRedirectLoop FailureType = "HTTP_REDIRECT_LOOP"
	FailureParseError       FailureType = "PARSE_ERROR"
	FailureRobotsDenied     FailureType = "ROBOTS_DENIED"
	FailurePermanent        FailureType = "PERMANENT"
)

// retryable is the closed set of failure types worth another attempt while
// retryCount < maxRetries.
var retryable = map[FailureType]struct{}{
	FailureTransientNetwork: {},
	FailureTimeout:          {},
	FailureDNS:              {},
	FailureConnectRefused:   {},
	FailureHTTPServerError:  {},
	FailureHTTPRateLimited:  {},
}

// IsRetryable reports whether ft is ever retryable, independent of attempt
// count (callers still must check retryCount < maxRetries separately).
func (ft FailureType) IsRetryable() bool {
	_, ok := retryable[ft]
	return ok
}

// CrawlStatus is the lifecycle state of a CrawlResult.
type CrawlStatus string

const (
	StatusQueued         CrawlStatus = "queued"
	StatusDownloading    CrawlStatus = "downloading"
	StatusDownloaded     CrawlStatus = "downloaded"
	StatusRetryScheduled CrawlStatus = "retry_scheduled"
	StatusFailed         CrawlStatus = "failed"
)

// BreakerState is the DomainManager's three-state circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// QueuedURL is a single frontier entry.
type QueuedURL struct {
	URL         string
	Priority    Priority
	Depth       int
	RetryCount  int
	LastError   string
	FailureType FailureType
	ReadyAt     time.Time
	QueuedAt    time.Time
}

// DomainState is the per-host bookkeeping the DomainManager owns.
type DomainState struct {
	Host                string
	LastVisitAt         time.Time
	ConsecutiveFailures int
	RateLimitEvents     int
	BreakerState        BreakerState
	BreakerOpenedAt     time.Time
}

// CrawlResult is the per-URL outcome record.
type CrawlResult struct {
	SessionID   string
	URL         string
	FinalURL    string
	Domain      string
	StatusCode  int
	ContentType string
	ContentSize int

	Title           string
	MetaDescription string
	TextContent     string
	RawContent      []byte
	Links           []string

	CrawlStatus        CrawlStatus
	RetryCount         int
	IsRetryAttempt     bool
	FailureType        FailureType
	ErrorMessage       string
	TransportErrorCode string

	QueuedAt       time.Time
	StartedAt      time.Time
	FinishedAt     time.Time
	TotalRetryTime time.Duration
}

// ParsedContent is ContentParser's output.
type ParsedContent struct {
	Title           string
	MetaDescription string
	TextContent     string
	Links           []string
}

// FetchResult is PageFetcher's output.
type FetchResult struct {
	StatusCode         int
	ContentType        string
	Content            []byte
	FinalURL           string
	Success            bool
	ErrorMessage       string
	TransportErrorCode string
	RetryAfter         time.Duration
}

// LogLevel is the SessionLogBus severity.
type LogLevel string

const (
	LogTrace   LogLevel = "trace"
	LogDebug   LogLevel = "debug"
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry is a single message broadcast on the SessionLogBus.
type LogEntry struct {
	SessionID string
	Message   string
	Level     LogLevel
	At        time.Time
}
