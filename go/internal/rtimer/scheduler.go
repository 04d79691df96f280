package rtimer

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Callback is invoked when a deadline expires. It receives the deadline it was
// scheduled for and returns the next absolute deadline.
type Callback func(deadline Time) Time

// Scheduler emulates the node's real-time timer on top of a wall clock. The
// local clock counts ticks since the epoch. At most one callback is pending at
// any time.
type Scheduler struct {
	clock clockwork.Clock
	epoch time.Time
}

// NewScheduler returns a scheduler whose local clock reads zero at epoch.
// Schedulers sharing a clock and an epoch agree on the local time.
func NewScheduler(clock clockwork.Clock, epoch time.Time) *Scheduler {
	return &Scheduler{clock: clock, epoch: epoch}
}

// Now returns the current local clock reading.
func (s *Scheduler) Now() Time {
	return Ticks(s.clock.Since(s.epoch))
}

// Until returns the wall-clock duration left before the deadline. Deadlines
// that already passed yield zero.
func (s *Scheduler) Until(deadline Time) time.Duration {
	delta := deadline.Sub(s.Now())
	if delta <= 0 {
		return 0
	}
	return Time(delta).Duration()
}

// Run waits for deadline, calls fn with it and keeps rescheduling on the
// deadline fn returns, until ctx is cancelled. A deadline in the past fires
// immediately. A callback already running is never interrupted.
func (s *Scheduler) Run(ctx context.Context, deadline Time, fn Callback) {
	for {
		if wait := s.Until(deadline); wait > 0 {
			timer := s.clock.NewTimer(wait)
			select {
			case <-ctx.Done():
				stopAndDrainTimer(timer)
				return
			case <-timer.Chan():
			}
		} else {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if deadline.Before(s.Now()) {
				log.Debug().
					Uint32("deadline", uint32(deadline)).
					Uint32("now", uint32(s.Now())).
					Msg("rtimer deadline already passed, firing late")
			}
		}
		deadline = fn(deadline)
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
