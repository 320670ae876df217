package clock

import "time"

// Clock supplies the current time. Services never call time.Now directly
// so that billing date arithmetic stays testable.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// New returns a Clock backed by the system time, always in UTC
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}
