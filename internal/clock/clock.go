package clock

import "time"

// Clock abstracts wall-clock time so deadline logic stays testable
type Clock interface {
	Now() time.Time
}

// Real reads the system clock in UTC
type Real struct{}

// Now returns the current UTC time
func (Real) Now() time.Time {
	return time.Now().UTC()
}
