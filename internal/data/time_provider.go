package data

import "time"

// TimeProvider abstracts the clock so claim timestamps, reap cutoffs and
// provenance stamps stay deterministic under test.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider is the production clock.
type RealTimeProvider struct{}

func (r *RealTimeProvider) Now() time.Time { return time.Now() }

// FixedTimeProvider is a settable clock for tests.
type FixedTimeProvider struct {
	current time.Time
}

func NewFixedTimeProvider(t time.Time) *FixedTimeProvider {
	return &FixedTimeProvider{current: t}
}

func (f *FixedTimeProvider) Now() time.Time { return f.current }

// SetTime jumps the clock to t.
func (f *FixedTimeProvider) SetTime(t time.Time) {
	f.current = t
}

// AddTime advances the clock by d.
func (f *FixedTimeProvider) AddTime(d time.Duration) {
	f.current = f.current.Add(d)
}
