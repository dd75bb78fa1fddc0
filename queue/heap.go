package queue

import (
	"container/heap"
	"time"

	"github.com/MunishMummadi/web-scrapper/model"
)

// item is one frontier entry tracked in either the ready heap or the
// delayed-retry heap.
type item struct {
	entry model.QueuedURL
	seq   int64 // insertion order, for FIFO tie-breaking
	index int   // maintained by container/heap
}

// readyHeap orders by priority descending, then readyAt ascending, then FIFO
// (insertion sequence) — the ordering GetNextURL promises.
type readyHeap []*item

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.entry.Priority != b.entry.Priority {
		return a.entry.Priority > b.entry.Priority
	}
	if !a.entry.ReadyAt.Equal(b.entry.ReadyAt) {
		return a.entry.ReadyAt.Before(b.entry.ReadyAt)
	}
	return a.seq < b.seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// retryHeap orders purely by readyAt ascending — the delayed-retry queue
// only cares about when an entry becomes ready, not its final priority
// ordering (it is re-evaluated by readyHeap once it is promoted).
type retryHeap []*item

func (h retryHeap) Len() int { return len(h) }

func (h retryHeap) Less(i, j int) bool {
	return h[i].entry.ReadyAt.Before(h[j].entry.ReadyAt)
}

func (h retryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *retryHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// drainReady pops every entry in h whose ReadyAt <= now, in no particular
// order, removing them from h.
func drainReady(h *retryHeap, now time.Time) []*item {
	var drained []*item
	for h.Len() > 0 && !(*h)[0].entry.ReadyAt.After(now) {
		drained = append(drained, heap.Pop(h).(*item))
	}
	return drained
}
