package ble

import "time"

// Clock supplies the monotonic time base for retry and timeout deadlines.
// It must be non-decreasing for the lifetime of the controller.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
