package report

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dlobba/lwb-cc2538/go/internal/round"
)

// PublishingObserver forwards round reports to a Publisher from its own
// goroutine, so a slow broker never delays a round. Reports that do not fit
// in the queue are dropped.
type PublishingObserver struct {
	pub     Publisher
	runID   uuid.UUID
	clock   clockwork.Clock
	queue   chan round.Report
	timeout time.Duration
	// drainTimeout bounds the flush of queued reports after Run is cancelled.
	drainTimeout time.Duration

	dropped   atomic.Uint64
	published atomic.Uint64
}

func NewPublishingObserver(pub Publisher, runID uuid.UUID, clock clockwork.Clock, queueSize int) *PublishingObserver {
	return &PublishingObserver{
		pub:     pub,
		runID:   runID,
		clock:   clock,
		queue:        make(chan round.Report, queueSize),
		timeout:      5 * time.Second,
		drainTimeout: 2 * time.Second,
	}
}

func (o *PublishingObserver) ObserveRound(r round.Report) {
	select {
	case o.queue <- r:
	default:
		o.dropped.Add(1)
		log.Warn().Uint16("node_id", r.NodeID).Msg("report queue full, dropping round report")
	}
}

// Run publishes queued reports until ctx is cancelled, then flushes what is
// still queued within the drain timeout. The publisher must stay open until
// Run returns.
func (o *PublishingObserver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			o.drain()
			return
		case r := <-o.queue:
			if ctx.Err() != nil {
				o.drain(r)
				return
			}
			o.publish(ctx, r)
		}
	}
}

// drain publishes pending, then the queue, on a context detached from the
// cancelled one.
func (o *PublishingObserver) drain(pending ...round.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), o.drainTimeout)
	defer cancel()
	for _, r := range pending {
		o.publish(ctx, r)
	}
	var late uint64
	for {
		select {
		case r := <-o.queue:
			if ctx.Err() != nil {
				late++
				continue
			}
			o.publish(ctx, r)
		default:
			if late > 0 {
				o.dropped.Add(late)
				log.Warn().Uint64("dropped", late).Msg("drain timed out, dropping queued round reports")
			}
			return
		}
	}
}

func (o *PublishingObserver) publish(ctx context.Context, r round.Report) {
	env, err := NewRoundEnvelope(o.runID, r, o.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to build round envelope")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if err := o.pub.Publish(ctx, env); err != nil {
		log.Error().
			Err(err).
			Uint16("node_id", r.NodeID).
			Uint32("seq_no", r.SeqNo).
			Msg("failed to publish round report")
		return
	}
	o.published.Add(1)
}

// Stats returns how many reports were published and dropped.
func (o *PublishingObserver) Stats() (published, dropped uint64) {
	return o.published.Load(), o.dropped.Load()
}
