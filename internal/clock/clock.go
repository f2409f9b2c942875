// Package clock provides an injectable time source so that lease deadlines
// and expiry decisions can be tested against a fixed instant instead of the
// wall clock.  All timestamps produced by this package are in UTC.
package clock

import "time"

// Clock yields the current time for components that compare against lease
// deadlines.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem returns a clock backed by time.Now.
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

type fixedClock struct {
	now time.Time
}

// NewFixed returns a clock frozen at the given instant.  Tests use it to
// place themselves before or after a lease deadline deterministically.
func NewFixed(t time.Time) Clock {
	return fixedClock{now: t.UTC()}
}

func (f fixedClock) Now() time.Time {
	return f.now
}
