package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedClock_Now(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := FixedClock{At: at}
	assert.Equal(t, at, c.Now())
	assert.Equal(t, at, c.Now())
}

func TestSequentialIDGenerator_Deterministic(t *testing.T) {
	gen := &SequentialIDGenerator{Prefix: "wf"}
	assert.Equal(t, "wf-1", gen.NewID())
	assert.Equal(t, "wf-2", gen.NewID())
	assert.Equal(t, "wf-3", gen.NewID())
}

func TestUUIDGenerator_ProducesUniqueIDs(t *testing.T) {
	gen := UUIDGenerator{}
	a := gen.NewID()
	b := gen.NewID()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
