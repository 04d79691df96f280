package rtimer

import "time"

// Time is a reading of the node's local real-time clock in ticks. It is 32
// bits wide and wraps, so ordering between two readings is only meaningful
// when they are less than half the range apart.
type Time uint32

// Second is the number of ticks in one second of the local clock.
const Second Time = 32768

// Ticks converts a wall-clock duration into clock ticks, truncating any
// fraction of a tick. Negative durations yield zero.
func Ticks(d time.Duration) Time {
	if d <= 0 {
		return 0
	}
	secs := uint64(d / time.Second)
	rem := uint64(d % time.Second)
	return Time(secs*uint64(Second) + rem*uint64(Second)/uint64(time.Second))
}

// Duration converts a tick count into the shortest wall-clock duration that
// spans at least that many ticks.
func (t Time) Duration() time.Duration {
	ns := uint64(t) * uint64(time.Second)
	d := ns / uint64(Second)
	if ns%uint64(Second) != 0 {
		d++
	}
	return time.Duration(d)
}

// Sub returns the signed distance t - u, taking wraparound into account.
func (t Time) Sub(u Time) int32 {
	return int32(t - u)
}

// Before reports whether t happens before u.
func (t Time) Before(u Time) bool {
	return t.Sub(u) < 0
}

// After reports whether t happens after u.
func (t Time) After(u Time) bool {
	return t.Sub(u) > 0
}
