package crawler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MunishMummadi/web-scrapper/model"
)

// defaultBusRate is the global token-bucket rate for broadcasts;
// messages beyond it are discarded rather than queued.
const (
	defaultBusRate  = rate.Limit(100)
	defaultBusBurst = 200
)

// SessionLogBus broadcasts per-session log lines to subscribers. There is
// an admin topic that receives everything and per-session topics scoped
// by sessionId. Delivery is best-effort: a global token-bucket rate
// limiter discards excess messages, and a subscriber with a full buffer
// misses the message rather than blocking the publisher.
type SessionLogBus struct {
	mu      sync.RWMutex
	subs    map[string]map[int]chan model.LogEntry
	admin   map[int]chan model.LogEntry
	nextID  int
	limiter *rate.Limiter
	relay   func(model.LogEntry)
	dropped int64
}

var (
	defaultBus     *SessionLogBus
	defaultBusOnce sync.Once
)

// Bus returns the process-wide log bus, created on first use.
func Bus() *SessionLogBus {
	defaultBusOnce.Do(func() {
		defaultBus = NewSessionLogBus()
	})
	return defaultBus
}

// NewSessionLogBus creates a bus with the default rate limit.
func NewSessionLogBus() *SessionLogBus {
	return &SessionLogBus{
		subs:    make(map[string]map[int]chan model.LogEntry),
		admin:   make(map[int]chan model.LogEntry),
		limiter: rate.NewLimiter(defaultBusRate, defaultBusBurst),
	}
}

// SetRelay installs an optional secondary sink (e.g. a Redis publish) the
// bus forwards every delivered entry to. Set once at wiring time.
func (b *SessionLogBus) SetRelay(relay func(model.LogEntry)) {
	b.mu.Lock()
	b.relay = relay
	b.mu.Unlock()
}

// Broadcast publishes a log line. An empty sessionID goes to the admin
// topic only; otherwise both the session topic and the admin topic
// receive it. Safe for concurrent use from any goroutine.
func (b *SessionLogBus) Broadcast(sessionID, message string, level model.LogLevel) {
	if !b.limiter.Allow() {
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		return
	}

	entry := model.LogEntry{
		SessionID: sessionID,
		Message:   message,
		Level:     level,
		At:        time.Now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.admin {
		deliver(ch, entry)
	}
	if sessionID != "" {
		for _, ch := range b.subs[sessionID] {
			deliver(ch, entry)
		}
	}
	if b.relay != nil {
		b.relay(entry)
	}
}

// deliver sends without blocking; a full subscriber misses the entry.
func deliver(ch chan model.LogEntry, entry model.LogEntry) {
	select {
	case ch <- entry:
	default:
	}
}

// Subscribe registers a subscriber for a session topic, or for the admin
// topic when sessionID is empty. Returns the receiving channel and an
// unsubscribe function that also closes it.
func (b *SessionLogBus) Subscribe(sessionID string, buffer int) (<-chan model.LogEntry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan model.LogEntry, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if sessionID == "" {
		b.admin[id] = ch
	} else {
		if b.subs[sessionID] == nil {
			b.subs[sessionID] = make(map[int]chan model.LogEntry)
		}
		b.subs[sessionID][id] = ch
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sessionID == "" {
			delete(b.admin, id)
		} else if m := b.subs[sessionID]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(b.subs, sessionID)
			}
		}
		b.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// Dropped returns how many messages the rate limiter has discarded.
func (b *SessionLogBus) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
