// Package queue implements the crawl frontier: a priority ready-queue, a
// delayed-retry queue, a visited set, and an optional persistent mirror —
// all behind a single synchronized Frontier interface.
package queue

import (
	"context"
	"time"

	"github.com/MunishMummadi/web-scrapper/model"
)

// FrontierPersistence is the external durable-store collaborator frontier
// mutations are mirrored to, keyed by sessionId. Failures are logged and
// non-fatal from the frontier's perspective.
type FrontierPersistence interface {
	Persist(ctx context.Context, sessionID, url string, depth int, readyAt time.Time, retryCount int) error
	Remove(ctx context.Context, sessionID, url string) error
	LoadPending(ctx context.Context, sessionID string, limit int) ([]PendingEntry, error)
}

// PendingEntry is one row of rehydrated frontier state.
type PendingEntry struct {
	URL        string
	Depth      int
	RetryCount int
	ReadyAt    time.Time
}

// Frontier is the combined ready-queue + delayed-retry queue + visited set
// for a single crawl session.
type Frontier interface {
	// AddURL inserts url if it is not already queued or visited (unless
	// force is true). Returns whether it was added.
	AddURL(ctx context.Context, url string, force bool, priority model.Priority, depth int) bool

	// GetNextURL returns the highest-priority ready URL whose readyAt <= now,
	// ordered by priority desc, then readyAt asc, then FIFO. Returns a zero
	// QueuedURL and false when nothing is ready.
	GetNextURL() (model.QueuedURL, bool)

	// ScheduleRetry moves url to the delayed-retry queue with
	// readyAt = now + delay. Idempotent per (url, retryCount).
	ScheduleRetry(ctx context.Context, url string, retryCount int, errMsg string, failureType model.FailureType, delay time.Duration)

	// MarkVisited marks url terminal: removes it from both queues and
	// inserts it into the visited set.
	MarkVisited(ctx context.Context, url string)

	IsVisited(url string) bool
	Size() int
	RetryQueueSize() int
	HasReadyURLs() bool
	PendingRetryCount() int

	// ExtractDomain returns the host portion used for comparison (lowercased,
	// www-stripped); the original URL is preserved for fetch elsewhere.
	ExtractDomain(url string) string

	GetLastVisitTime(domain string) (time.Time, bool)
	GetQueuedURLInfo(url string) (model.QueuedURL, bool)

	// Rehydrate reloads pending tasks from the persistence collaborator, if
	// one is configured. Safe to call once at Crawler start.
	Rehydrate(ctx context.Context, sessionID string, limit int) error
}
