package worker

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// Schedule computes the throttling delay before an upload attempt: base
// doubled per prior failure, capped. Delay(0) is the base delay, so even a
// fresh entry waits briefly between uploads.
type Schedule struct {
	base time.Duration
	cap  time.Duration
}

// NewSchedule creates a capped exponential schedule.
func NewSchedule(base, cap time.Duration) Schedule {
	return Schedule{base: base, cap: cap}
}

// Delay returns the wait before an attempt on an entry with the given retry
// count. Non-decreasing in retryCount and never above the cap.
func (s Schedule) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	b := retry.WithCappedDuration(s.cap, retry.NewExponential(s.base))

	var d time.Duration
	for i := 0; i <= retryCount; i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		d = next
	}
	return d
}
