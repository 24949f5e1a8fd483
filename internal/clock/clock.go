// Package clock supplies timestamps for transform records.
package clock

import (
	"errors"
	"time"
)

// ErrUnavailable is returned when no timestamp can be produced.
var ErrUnavailable = errors.New("clock unavailable")

// Clock returns the current stamp for outgoing transforms.
type Clock interface {
	Now() (time.Time, error)
}

// System reads the wall clock. The returned time keeps Go's monotonic reading
// so stamps taken within one process never go backwards.
type System struct{}

// Now returns time.Now.
func (System) Now() (time.Time, error) {
	return time.Now(), nil
}

// Func adapts a plain function to Clock.
type Func func() (time.Time, error)

// Now calls f.
func (f Func) Now() (time.Time, error) {
	return f()
}

// Fixed always returns the same instant.
func Fixed(t time.Time) Clock {
	return Func(func() (time.Time, error) { return t, nil })
}

// Failing always returns err wrapped in ErrUnavailable.
func Failing(err error) Clock {
	return Func(func() (time.Time, error) {
		return time.Time{}, errors.Join(ErrUnavailable, err)
	})
}
