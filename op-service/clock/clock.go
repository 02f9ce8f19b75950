// Package clock provides an abstraction for time to enable testing of functionality that uses time as an input.
package clock

import (
	"sync"
	"time"
)

// Clock represents time in a way that can be provided by varying implementations.
// Methods are designed to be direct replacements for methods in the time package.
type Clock interface {
	// Now provides the current local time. Equivalent to time.Now
	Now() time.Time

	// Since returns the time elapsed since t. It is shorthand for time.Now().Sub(t).
	Since(t time.Time) time.Duration
}

type systemClock struct{}

// SystemClock provides an instance of Clock that uses the system clock via methods in the time package.
var SystemClock Clock = systemClock{}

func (s systemClock) Now() time.Time {
	return time.Now()
}

func (s systemClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// DeterministicClock provides a fake clock that only advances when explicitly told to.
type DeterministicClock struct {
	now  time.Time
	lock sync.RWMutex
}

var _ Clock = (*DeterministicClock)(nil)

// NewDeterministicClock creates a new clock where the current time is set to now.
func NewDeterministicClock(now time.Time) *DeterministicClock {
	return &DeterministicClock{now: now}
}

func (s *DeterministicClock) Now() time.Time {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.now
}

func (s *DeterministicClock) Since(t time.Time) time.Duration {
	return s.Now().Sub(t)
}

// AdvanceTime moves the time forward by the specified duration.
func (s *DeterministicClock) AdvanceTime(d time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.now = s.now.Add(d)
}

// SetTime moves the clock to the given time. It is not an error to move backwards,
// callers relying on monotonic time must not do so.
func (s *DeterministicClock) SetTime(t time.Time) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.now = t
}
