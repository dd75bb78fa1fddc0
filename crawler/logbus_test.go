package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MunishMummadi/web-scrapper/model"
)

func receiveOne(t *testing.T, ch <-chan model.LogEntry) model.LogEntry {
	t.Helper()
	select {
	case entry := <-ch:
		return entry
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for log entry")
		return model.LogEntry{}
	}
}

func TestBroadcastReachesSessionAndAdmin(t *testing.T) {
	bus := NewSessionLogBus()

	sessionCh, cancelSession := bus.Subscribe("s1", 8)
	defer cancelSession()
	adminCh, cancelAdmin := bus.Subscribe("", 8)
	defer cancelAdmin()

	bus.Broadcast("s1", "hello", model.LogInfo)

	entry := receiveOne(t, sessionCh)
	assert.Equal(t, "s1", entry.SessionID)
	assert.Equal(t, "hello", entry.Message)
	assert.Equal(t, model.LogInfo, entry.Level)

	adminEntry := receiveOne(t, adminCh)
	assert.Equal(t, "hello", adminEntry.Message)
}

func TestBroadcastScopedBySession(t *testing.T) {
	bus := NewSessionLogBus()

	otherCh, cancel := bus.Subscribe("s2", 8)
	defer cancel()

	bus.Broadcast("s1", "not for you", model.LogInfo)

	select {
	case <-otherCh:
		t.Fatal("entry leaked across sessions")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptySessionGoesToAdminOnly(t *testing.T) {
	bus := NewSessionLogBus()

	adminCh, cancelAdmin := bus.Subscribe("", 8)
	defer cancelAdmin()
	sessionCh, cancelSession := bus.Subscribe("s1", 8)
	defer cancelSession()

	bus.Broadcast("", "admin only", model.LogWarning)

	receiveOne(t, adminCh)
	select {
	case <-sessionCh:
		t.Fatal("admin-topic entry reached a session subscriber")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRateLimiterDropsExcess(t *testing.T) {
	bus := NewSessionLogBus()

	ch, cancel := bus.Subscribe("s1", 10000)
	defer cancel()

	for i := 0; i < 5000; i++ {
		bus.Broadcast("s1", "flood", model.LogDebug)
	}

	assert.Greater(t, bus.Dropped(), int64(0))
	assert.Less(t, len(ch), 5000)
}

func TestFullSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := NewSessionLogBus()

	_, cancel := bus.Subscribe("s1", 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.Broadcast("s1", "burst", model.LogDebug)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
}

func TestRelayReceivesEntries(t *testing.T) {
	bus := NewSessionLogBus()

	var relayed []model.LogEntry
	bus.SetRelay(func(entry model.LogEntry) {
		relayed = append(relayed, entry)
	})

	bus.Broadcast("s1", "mirrored", model.LogInfo)
	require.Len(t, relayed, 1)
	assert.Equal(t, "mirrored", relayed[0].Message)
}
