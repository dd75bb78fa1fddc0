package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionGeneratesID(t *testing.T) {
	a := NewSession("")
	b := NewSession("")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)

	named := NewSession("my-session")
	assert.Equal(t, "my-session", named.ID)
}

func TestSeedDomainSetOnce(t *testing.T) {
	s := NewSession("s1")
	s.SetSeedDomain("a.test")
	s.SetSeedDomain("b.test")
	assert.Equal(t, "a.test", s.SeedDomain())
}

func TestSpaFlagsSetOnce(t *testing.T) {
	s := NewSession("s1")
	assert.False(t, s.SpaChecked())
	assert.False(t, s.SpaDetected())

	assert.True(t, s.MarkSpaChecked(false))
	assert.True(t, s.SpaChecked())
	assert.False(t, s.SpaDetected())

	// The check already ran; a later positive outcome is ignored.
	assert.False(t, s.MarkSpaChecked(true))
	assert.False(t, s.SpaDetected())
}
