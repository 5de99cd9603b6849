// Package clock abstracts the time source used by the rate limiter and the
// CSRF token store so that window and TTL behavior can be tested
// deterministically, without sleeps.
//
// Production code uses System(), which is backed by time.Now and therefore
// carries Go's monotonic clock reading: comparisons between readings are
// immune to wall-clock adjustments (NTP, manual changes). Tests use a Manual
// clock and advance it explicitly.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time.
//
// Implementations must be safe for concurrent use. Readings from the same
// Clock must never move backward when only Advance-style operations are used;
// System guarantees this via Go's monotonic clock reading.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns a Clock backed by time.Now.
func System() Clock { return systemClock{} }

// Manual is a controllable Clock for deterministic tests.
//
// Example:
//
//	clk := clock.NewManual(time.Unix(0, 0))
//	// ... exercise code under test ...
//	clk.Advance(15 * time.Minute) // window has now elapsed
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a Manual clock starting at the given instant.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d. Negative values are ignored so the
// clock stays monotonic.
func (m *Manual) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set jumps to an absolute instant. Unlike Advance this can move time
// backward; use it only to establish an initial state.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
