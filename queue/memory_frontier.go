package queue

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/MunishMummadi/web-scrapper/model"
	"github.com/MunishMummadi/web-scrapper/urlutil"
)

// MemoryFrontier is the in-memory Frontier implementation: a priority
// ready-heap, a readyAt-ordered delayed-retry heap, and a visited set,
// keyed throughout by the canonical URL form. Mutations are optionally
// mirrored to a FrontierPersistence collaborator; mirror failures are
// logged and never fail the frontier operation.
type MemoryFrontier struct {
	sessionID   string
	persistence FrontierPersistence

	mu        sync.Mutex
	ready     readyHeap
	retry     retryHeap
	entries   map[string]*item // canonical URL -> queued item
	visited   map[string]struct{}
	depths    map[string]int // preserved across retries
	retrySeen map[string]int // last retryCount scheduled per URL
	lastVisit map[string]time.Time
	seq       int64

	// Mirror writes drain through a single goroutine so the durable
	// store sees mutations in submission order.
	mirrorCh   chan mirrorOp
	mirrorOnce sync.Once
	wg         conc.WaitGroup
}

// mirrorOp is one queued persistence mutation.
type mirrorOp struct {
	remove     bool
	url        string
	depth      int
	retryCount int
	readyAt    time.Time
}

// NewMemoryFrontier creates a frontier for one session. persistence may
// be nil, in which case the frontier is purely in-memory.
func NewMemoryFrontier(sessionID string, persistence FrontierPersistence) *MemoryFrontier {
	return &MemoryFrontier{
		sessionID:   sessionID,
		persistence: persistence,
		entries:     make(map[string]*item),
		visited:     make(map[string]struct{}),
		depths:      make(map[string]int),
		retrySeen:   make(map[string]int),
		lastVisit:   make(map[string]time.Time),
	}
}

// AddURL inserts url into the ready queue if it is not already queued or
// visited. force re-adds regardless, clearing any visited mark.
func (f *MemoryFrontier) AddURL(ctx context.Context, rawURL string, force bool, priority model.Priority, depth int) bool {
	canonical, err := urlutil.Canonicalize(rawURL)
	if err != nil || canonical == "" {
		return false
	}

	f.mu.Lock()
	if !force {
		if _, seen := f.visited[canonical]; seen {
			f.mu.Unlock()
			return false
		}
		if _, queued := f.entries[canonical]; queued {
			f.mu.Unlock()
			return false
		}
	} else {
		delete(f.visited, canonical)
		if existing, queued := f.entries[canonical]; queued {
			f.removeLocked(existing)
		}
	}

	now := time.Now()
	f.seq++
	it := &item{
		entry: model.QueuedURL{
			URL:      canonical,
			Priority: priority,
			Depth:    depth,
			ReadyAt:  now,
			QueuedAt: now,
		},
		seq: f.seq,
	}
	heap.Push(&f.ready, it)
	f.entries[canonical] = it
	f.depths[canonical] = depth
	f.mu.Unlock()

	f.mirrorPersist(canonical, depth, now, 0)
	return true
}

// GetNextURL promotes due retry entries into the ready heap, then returns
// the highest-priority ready URL. The returned entry is handed off to the
// caller: it is no longer tracked as queued.
func (f *MemoryFrontier) GetNextURL() (model.QueuedURL, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.promoteDueLocked(time.Now())

	if f.ready.Len() == 0 {
		return model.QueuedURL{}, false
	}
	it := heap.Pop(&f.ready).(*item)
	delete(f.entries, it.entry.URL)
	return it.entry, true
}

// ScheduleRetry moves url to the delayed-retry queue with
// readyAt = now + delay. Idempotent per (url, retryCount): a retry
// already scheduled at the same or a later count is left alone. Depth is
// preserved from the original enqueue.
func (f *MemoryFrontier) ScheduleRetry(ctx context.Context, rawURL string, retryCount int, errMsg string, failureType model.FailureType, delay time.Duration) {
	canonical, err := urlutil.Canonicalize(rawURL)
	if err != nil || canonical == "" {
		return
	}

	f.mu.Lock()
	if _, seen := f.visited[canonical]; seen {
		f.mu.Unlock()
		return
	}
	if last, ok := f.retrySeen[canonical]; ok && last >= retryCount {
		if _, queued := f.entries[canonical]; queued {
			f.mu.Unlock()
			return
		}
	}
	if existing, queued := f.entries[canonical]; queued {
		f.removeLocked(existing)
	}

	readyAt := time.Now().Add(delay)
	f.seq++
	it := &item{
		entry: model.QueuedURL{
			URL:         canonical,
			Priority:    model.PriorityNormal,
			Depth:       f.depths[canonical],
			RetryCount:  retryCount,
			LastError:   errMsg,
			FailureType: failureType,
			ReadyAt:     readyAt,
			QueuedAt:    time.Now(),
		},
		seq: f.seq,
	}
	heap.Push(&f.retry, it)
	f.entries[canonical] = it
	f.retrySeen[canonical] = retryCount
	depth := f.depths[canonical]
	f.mu.Unlock()

	f.mirrorPersist(canonical, depth, readyAt, retryCount)
}

// MarkVisited marks url terminal: removed from both queues, inserted into
// the visited set. Later AddURL calls for the same URL are rejected
// unless forced.
func (f *MemoryFrontier) MarkVisited(ctx context.Context, rawURL string) {
	canonical, err := urlutil.Canonicalize(rawURL)
	if err != nil || canonical == "" {
		return
	}

	f.mu.Lock()
	if it, queued := f.entries[canonical]; queued {
		f.removeLocked(it)
	}
	f.visited[canonical] = struct{}{}
	delete(f.depths, canonical)
	delete(f.retrySeen, canonical)
	if domain := f.extractDomain(canonical); domain != "" {
		f.lastVisit[domain] = time.Now()
	}
	f.mu.Unlock()

	f.mirrorRemove(canonical)
}

// IsVisited reports whether url is terminal within this session.
func (f *MemoryFrontier) IsVisited(rawURL string) bool {
	canonical, err := urlutil.Canonicalize(rawURL)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, seen := f.visited[canonical]
	return seen
}

// Size returns the number of URLs in the ready queue.
func (f *MemoryFrontier) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promoteDueLocked(time.Now())
	return f.ready.Len()
}

// RetryQueueSize returns the number of URLs waiting in the delayed-retry
// queue.
func (f *MemoryFrontier) RetryQueueSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retry.Len()
}

// HasReadyURLs reports whether GetNextURL would return an entry now.
func (f *MemoryFrontier) HasReadyURLs() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promoteDueLocked(time.Now())
	return f.ready.Len() > 0
}

// PendingRetryCount returns how many retry entries are still waiting for
// their readyAt.
func (f *MemoryFrontier) PendingRetryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	count := 0
	for _, it := range f.retry {
		if it.entry.ReadyAt.After(now) {
			count++
		}
	}
	return count
}

// ExtractDomain returns the comparison host for url (lowercased,
// www-stripped), or "" when the URL does not parse.
func (f *MemoryFrontier) ExtractDomain(rawURL string) string {
	return f.extractDomain(rawURL)
}

func (f *MemoryFrontier) extractDomain(rawURL string) string {
	host, err := urlutil.ExtractHost(rawURL)
	if err != nil {
		return ""
	}
	return host
}

// GetLastVisitTime returns when a URL of domain was last marked visited.
func (f *MemoryFrontier) GetLastVisitTime(domain string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.lastVisit[domain]
	return t, ok
}

// GetQueuedURLInfo returns the queued entry for url, if it is currently
// in either queue.
func (f *MemoryFrontier) GetQueuedURLInfo(rawURL string) (model.QueuedURL, bool) {
	canonical, err := urlutil.Canonicalize(rawURL)
	if err != nil {
		return model.QueuedURL{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.entries[canonical]
	if !ok {
		return model.QueuedURL{}, false
	}
	return it.entry, true
}

// Rehydrate reloads pending tasks from the persistence collaborator.
// Entries whose readyAt is still in the future land in the retry queue;
// the rest go straight to the ready queue.
func (f *MemoryFrontier) Rehydrate(ctx context.Context, sessionID string, limit int) error {
	if f.persistence == nil {
		return nil
	}
	pending, err := f.persistence.LoadPending(ctx, sessionID, limit)
	if err != nil {
		return err
	}

	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range pending {
		canonical, err := urlutil.Canonicalize(p.URL)
		if err != nil || canonical == "" {
			continue
		}
		if _, seen := f.visited[canonical]; seen {
			continue
		}
		if _, queued := f.entries[canonical]; queued {
			continue
		}

		f.seq++
		it := &item{
			entry: model.QueuedURL{
				URL:        canonical,
				Priority:   model.PriorityNormal,
				Depth:      p.Depth,
				RetryCount: p.RetryCount,
				ReadyAt:    p.ReadyAt,
				QueuedAt:   now,
			},
			seq: f.seq,
		}
		if p.ReadyAt.After(now) {
			heap.Push(&f.retry, it)
			f.retrySeen[canonical] = p.RetryCount
		} else {
			heap.Push(&f.ready, it)
		}
		f.entries[canonical] = it
		f.depths[canonical] = p.Depth
	}
	return nil
}

// Close waits for outstanding persistence mirror writes to finish.
func (f *MemoryFrontier) Close() {
	if f.mirrorCh != nil {
		close(f.mirrorCh)
	}
	f.wg.Wait()
}

// promoteDueLocked moves every retry entry whose readyAt has passed into
// the ready heap. Caller must hold f.mu.
func (f *MemoryFrontier) promoteDueLocked(now time.Time) {
	for _, it := range drainReady(&f.retry, now) {
		heap.Push(&f.ready, it)
	}
}

// removeLocked deletes it from whichever heap currently holds it. Caller
// must hold f.mu.
func (f *MemoryFrontier) removeLocked(it *item) {
	if it.index >= 0 && it.index < f.ready.Len() && f.ready[it.index] == it {
		heap.Remove(&f.ready, it.index)
	} else if it.index >= 0 && it.index < f.retry.Len() && f.retry[it.index] == it {
		heap.Remove(&f.retry, it.index)
	}
	delete(f.entries, it.entry.URL)
}

// mirrorPersist mirrors an enqueue to the persistence collaborator,
// fire-and-forget from the caller's perspective.
func (f *MemoryFrontier) mirrorPersist(url string, depth int, readyAt time.Time, retryCount int) {
	f.enqueueMirror(mirrorOp{url: url, depth: depth, retryCount: retryCount, readyAt: readyAt})
}

// mirrorRemove mirrors a terminal transition to the persistence
// collaborator.
func (f *MemoryFrontier) mirrorRemove(url string) {
	f.enqueueMirror(mirrorOp{remove: true, url: url})
}

func (f *MemoryFrontier) enqueueMirror(op mirrorOp) {
	if f.persistence == nil {
		return
	}
	f.mirrorOnce.Do(func() {
		f.mirrorCh = make(chan mirrorOp, 1024)
		f.wg.Go(f.drainMirror)
	})
	select {
	case f.mirrorCh <- op:
	default:
		log.Printf("Frontier persistence queue full, dropping mirror write for %s", op.url)
	}
}

func (f *MemoryFrontier) drainMirror() {
	for op := range f.mirrorCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		if op.remove {
			err = f.persistence.Remove(ctx, f.sessionID, op.url)
		} else {
			err = f.persistence.Persist(ctx, f.sessionID, op.url, op.depth, op.readyAt, op.retryCount)
		}
		cancel()
		if err != nil {
			log.Printf("Frontier persistence write failed for %s: %v", op.url, err)
		}
	}
}
