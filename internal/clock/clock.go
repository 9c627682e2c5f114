package clock

import "time"

// Clock abstracts wall time so schedulers and services can be tested
// deterministically.
type Clock interface {
	Now() time.Time
	// After behaves like time.After against this clock's notion of time.
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewSystemClock returns a Clock backed by time.Now in UTC.
func NewSystemClock() Clock { return systemClock{} }
