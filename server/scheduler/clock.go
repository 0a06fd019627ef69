package scheduler

import "time"

// Clock abstracts time.Now so the scheduler's due-date logic can be
// driven by a virtual clock in tests (spec.md §8 properties 7-9),
// grounded on _examples/haukened-rr-dns's
// internal/dns/common/clock/clock.go.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// MockClock is a settable Clock for tests.
type MockClock struct {
	CurrentTime time.Time
}

func (c *MockClock) Now() time.Time { return c.CurrentTime }

// Advance moves the mock clock forward by d.
func (c *MockClock) Advance(d time.Duration) { c.CurrentTime = c.CurrentTime.Add(d) }
