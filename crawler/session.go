package crawler

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"go.uber.org/atomic"
)

// Session identifies one end-to-end crawl: a stable id used for log
// routing and frontier persistence, the seed domain when restriction is
// enabled, and the set-once SPA detection flags.
type Session struct {
	ID string

	mu         sync.Mutex
	seedDomain string

	spaChecked  atomic.Bool
	spaDetected atomic.Bool
}

// NewSession creates a session. An empty id gets a random one.
func NewSession(id string) *Session {
	if id == "" {
		id = randomSessionID()
	}
	return &Session{ID: id}
}

func randomSessionID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "session-unknown"
	}
	return "session-" + hex.EncodeToString(buf)
}

// SetSeedDomain records the host of the first seed. Only the first call
// takes effect.
func (s *Session) SetSeedDomain(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seedDomain == "" {
		s.seedDomain = domain
	}
}

// SeedDomain returns the recorded seed domain, if any.
func (s *Session) SeedDomain() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seedDomain
}

// MarkSpaChecked records the outcome of the session's single SPA check.
// Returns true only for the caller that performed the check; later calls
// are no-ops.
func (s *Session) MarkSpaChecked(detected bool) bool {
	if !s.spaChecked.CompareAndSwap(false, true) {
		return false
	}
	if detected {
		s.spaDetected.Store(true)
	}
	return true
}

// SpaChecked reports whether the session's SPA check has run.
func (s *Session) SpaChecked() bool { return s.spaChecked.Load() }

// SpaDetected reports whether the session's SPA check found a
// client-rendered page.
func (s *Session) SpaDetected() bool { return s.spaDetected.Load() }
