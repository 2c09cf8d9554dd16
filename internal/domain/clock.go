package domain

import "time"

// Clock supplies the current time to engines and the scheduler. Injected so
// time-driven transitions (auction windows, negotiation expiry) are testable
// without sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
