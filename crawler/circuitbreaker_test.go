package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MunishMummadi/web-scrapper/model"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	assert.False(t, cb.IsOpen("a.test"))
	cb.RecordFailure("a.test")
	cb.RecordFailure("a.test")
	assert.False(t, cb.IsOpen("a.test"))
	assert.Equal(t, model.BreakerClosed, cb.State("a.test"))

	tripped := cb.RecordFailure("a.test")
	assert.True(t, tripped)
	assert.True(t, cb.IsOpen("a.test"))
	assert.Equal(t, model.BreakerOpen, cb.State("a.test"))
	assert.Equal(t, 1, cb.OpenCount())
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure("a.test")
	cb.RecordFailure("a.test")
	cb.RecordSuccess("a.test")
	cb.RecordFailure("a.test")
	cb.RecordFailure("a.test")
	assert.False(t, cb.IsOpen("a.test"), "streak restarted after success")
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(2, 30*time.Millisecond)

	cb.RecordFailure("a.test")
	cb.RecordFailure("a.test")
	require.True(t, cb.IsOpen("a.test"))

	time.Sleep(40 * time.Millisecond)

	// Cooldown elapsed: one probe is allowed through.
	assert.False(t, cb.IsOpen("a.test"))
	assert.Equal(t, model.BreakerHalfOpen, cb.State("a.test"))
	// A second request while the probe is out stays blocked.
	assert.True(t, cb.IsOpen("a.test"))

	cb.RecordSuccess("a.test")
	assert.Equal(t, model.BreakerClosed, cb.State("a.test"))
	assert.False(t, cb.IsOpen("a.test"))
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 30*time.Millisecond)

	cb.RecordFailure("a.test")
	cb.RecordFailure("a.test")
	time.Sleep(40 * time.Millisecond)
	require.False(t, cb.IsOpen("a.test"))

	cb.RecordFailure("a.test")
	assert.Equal(t, model.BreakerOpen, cb.State("a.test"))
	assert.True(t, cb.IsOpen("a.test"), "cooldown restarted")
}

func TestBreakerUpdateConfigPreservesState(t *testing.T) {
	cb := NewCircuitBreaker(5, time.Minute)

	cb.RecordFailure("a.test")
	cb.RecordFailure("a.test")
	cb.UpdateConfig(2, time.Minute)
	assert.Equal(t, 2, cb.ConsecutiveFailures("a.test"))

	cb.RecordFailure("a.test")
	assert.True(t, cb.IsOpen("a.test"), "new threshold applies to the existing streak")
}
