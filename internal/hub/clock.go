package hub

import "time"

// Clock abstracts wall-clock reads so answer timing and pause windows are
// testable with a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the real clock used outside tests.
var SystemClock Clock = systemClock{}
