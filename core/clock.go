package core

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SystemClock is the production Clock backed by the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock returns a fixed instant, useful for deterministic tests.
type FixedClock struct {
	At time.Time
}

func (f FixedClock) Now() time.Time { return f.At }

// UUIDGenerator generates RFC 4122 v4 identifiers via google/uuid.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// SequentialIDGenerator produces predictable ids for tests, formatted
// "<prefix>-<n>" with n starting at 1.
type SequentialIDGenerator struct {
	Prefix string
	n      int
}

func (s *SequentialIDGenerator) NewID() string {
	s.n++
	if s.Prefix == "" {
		return uuid.NewString()
	}
	return s.Prefix + "-" + strconv.Itoa(s.n)
}
