package pipeline

import "time"

// Clock supplies the single timestamp a batch freezes at start. Tests pin it
// with testutil.FrozenClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
