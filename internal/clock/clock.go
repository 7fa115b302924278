package clock

import "time"

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a caller-controlled timestamp for tests.
// Params: mutable timestamp advanced by the test.
// Returns: deterministic clock implementation.
type FixedClock struct {
	Time time.Time
}

// Now returns the fixed timestamp.
// Params: none.
// Returns: configured timestamp.
func (c *FixedClock) Now() time.Time {
	return c.Time
}

// Advance moves the fixed clock forward.
// Params: duration to add.
// Returns: updated timestamp.
func (c *FixedClock) Advance(d time.Duration) time.Time {
	c.Time = c.Time.Add(d)
	return c.Time
}
