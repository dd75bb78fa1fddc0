package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MunishMummadi/web-scrapper/model"
)

func TestAddURLDeduplicates(t *testing.T) {
	f := NewMemoryFrontier("s1", nil)
	ctx := context.Background()

	assert.True(t, f.AddURL(ctx, "http://example.com/a", false, model.PriorityNormal, 0))
	assert.False(t, f.AddURL(ctx, "http://example.com/a", false, model.PriorityNormal, 0))
	// Same URL in a different surface form collapses to one entry.
	assert.False(t, f.AddURL(ctx, "http://www.example.com/a?utm_source=x", false, model.PriorityNormal, 0))
	assert.Equal(t, 1, f.Size())
}

func TestAddURLForceReAdds(t *testing.T) {
	f := NewMemoryFrontier("s1", nil)
	ctx := context.Background()

	require.True(t, f.AddURL(ctx, "http://example.com/a", false, model.PriorityNormal, 0))
	f.MarkVisited(ctx, "http://example.com/a")
	assert.False(t, f.AddURL(ctx, "http://example.com/a", false, model.PriorityNormal, 0))
	assert.True(t, f.AddURL(ctx, "http://example.com/a", true, model.PriorityNormal, 0))
	assert.False(t, f.IsVisited("http://example.com/a"))
}

func TestGetNextURLOrdering(t *testing.T) {
	f := NewMemoryFrontier("s1", nil)
	ctx := context.Background()

	f.AddURL(ctx, "http://example.com/low", false, model.PriorityLow, 0)
	f.AddURL(ctx, "http://example.com/first", false, model.PriorityNormal, 0)
	f.AddURL(ctx, "http://example.com/second", false, model.PriorityNormal, 0)
	f.AddURL(ctx, "http://example.com/critical", false, model.PriorityCritical, 0)

	var got []string
	for {
		qu, ok := f.GetNextURL()
		if !ok {
			break
		}
		got = append(got, qu.URL)
	}

	require.Len(t, got, 4)
	assert.Equal(t, "http://example.com/critical", got[0])
	// Equal priority falls back to FIFO.
	assert.Equal(t, "http://example.com/first", got[1])
	assert.Equal(t, "http://example.com/second", got[2])
	assert.Equal(t, "http://example.com/low", got[3])
}

func TestScheduleRetryDelaysReadiness(t *testing.T) {
	f := NewMemoryFrontier("s1", nil)
	ctx := context.Background()

	f.AddURL(ctx, "http://example.com/a", false, model.PriorityNormal, 2)
	qu, ok := f.GetNextURL()
	require.True(t, ok)

	f.ScheduleRetry(ctx, qu.URL, 1, "boom", model.FailureHTTPServerError, 50*time.Millisecond)

	_, ok = f.GetNextURL()
	assert.False(t, ok, "retry should not be ready yet")
	assert.Equal(t, 1, f.RetryQueueSize())
	assert.Equal(t, 1, f.PendingRetryCount())

	time.Sleep(60 * time.Millisecond)
	qu, ok = f.GetNextURL()
	require.True(t, ok)
	assert.Equal(t, 1, qu.RetryCount)
	assert.Equal(t, 2, qu.Depth, "depth survives the retry")
	assert.Equal(t, "boom", qu.LastError)
	assert.Equal(t, model.FailureHTTPServerError, qu.FailureType)
}

func TestScheduleRetryIdempotentPerRetryCount(t *testing.T) {
	f := NewMemoryFrontier("s1", nil)
	ctx := context.Background()

	f.AddURL(ctx, "http://example.com/a", false, model.PriorityNormal, 0)
	f.GetNextURL()

	f.ScheduleRetry(ctx, "http://example.com/a", 1, "first", model.FailureTimeout, time.Minute)
	f.ScheduleRetry(ctx, "http://example.com/a", 1, "second", model.FailureTimeout, time.Minute)
	assert.Equal(t, 1, f.RetryQueueSize())

	info, ok := f.GetQueuedURLInfo("http://example.com/a")
	require.True(t, ok)
	assert.Equal(t, "first", info.LastError)
}

func TestMarkVisitedIsTerminal(t *testing.T) {
	f := NewMemoryFrontier("s1", nil)
	ctx := context.Background()

	f.AddURL(ctx, "http://example.com/a", false, model.PriorityNormal, 0)
	f.MarkVisited(ctx, "http://example.com/a")

	assert.True(t, f.IsVisited("http://example.com/a"))
	assert.Equal(t, 0, f.Size())
	_, ok := f.GetNextURL()
	assert.False(t, ok)

	// Visited URLs are never re-enqueued.
	for i := 0; i < 3; i++ {
		assert.False(t, f.AddURL(ctx, "http://example.com/a", false, model.PriorityNormal, 0))
	}
	f.ScheduleRetry(ctx, "http://example.com/a", 1, "late", model.FailureTimeout, 0)
	assert.Equal(t, 0, f.RetryQueueSize())

	_, seen := f.GetLastVisitTime("example.com")
	assert.True(t, seen)
}

func TestExtractDomain(t *testing.T) {
	f := NewMemoryFrontier("s1", nil)
	assert.Equal(t, "example.com", f.ExtractDomain("http://WWW.Example.com/path"))
	assert.Equal(t, "", f.ExtractDomain("://not-a-url"))
}

// fakePersistence records mirror calls for assertions.
type fakePersistence struct {
	mu      sync.Mutex
	entries map[string]PendingEntry
	removed map[string]bool
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		entries: make(map[string]PendingEntry),
		removed: make(map[string]bool),
	}
}

func (p *fakePersistence) Persist(ctx context.Context, sessionID, url string, depth int, readyAt time.Time, retryCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[url] = PendingEntry{URL: url, Depth: depth, RetryCount: retryCount, ReadyAt: readyAt}
	delete(p.removed, url)
	return nil
}

func (p *fakePersistence) Remove(ctx context.Context, sessionID, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, url)
	p.removed[url] = true
	return nil
}

func (p *fakePersistence) LoadPending(ctx context.Context, sessionID string, limit int) ([]PendingEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingEntry, 0, len(p.entries))
	for _, e := range p.entries {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func TestPersistenceMirrorAndRehydrate(t *testing.T) {
	ctx := context.Background()
	persistence := newFakePersistence()

	f := NewMemoryFrontier("s1", persistence)
	f.AddURL(ctx, "http://example.com/a", false, model.PriorityNormal, 1)
	f.AddURL(ctx, "http://example.com/b", false, model.PriorityNormal, 2)
	f.MarkVisited(ctx, "http://example.com/a")
	f.Close() // waits for the mirror writes

	persistence.mu.Lock()
	assert.Len(t, persistence.entries, 1)
	assert.True(t, persistence.removed["http://example.com/a"])
	persistence.mu.Unlock()

	// A new frontier on the same session reproduces the pending set.
	restored := NewMemoryFrontier("s1", persistence)
	require.NoError(t, restored.Rehydrate(ctx, "s1", 100))

	qu, ok := restored.GetNextURL()
	require.True(t, ok)
	assert.Equal(t, "http://example.com/b", qu.URL)
	assert.Equal(t, 2, qu.Depth)
	_, ok = restored.GetNextURL()
	assert.False(t, ok)
}

func TestRehydrateFutureReadyAtLandsInRetryQueue(t *testing.T) {
	ctx := context.Background()
	persistence := newFakePersistence()
	persistence.entries["http://example.com/later"] = PendingEntry{
		URL:     "http://example.com/later",
		Depth:   1,
		ReadyAt: time.Now().Add(time.Hour),
	}

	f := NewMemoryFrontier("s1", persistence)
	require.NoError(t, f.Rehydrate(ctx, "s1", 100))

	assert.Equal(t, 1, f.RetryQueueSize())
	_, ok := f.GetNextURL()
	assert.False(t, ok)
}
