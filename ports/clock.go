package ports

import (
	"time"

	"gokpi/domain/core"
)

// Clock supplies the current time so staleness rules and freshness windows
// test without the wall clock.
type Clock interface {
	Now() time.Time
	Today() core.Date
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) Today() core.Date {
	return core.DateOf(time.Now())
}
