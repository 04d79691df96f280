package report

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlobba/lwb-cc2538/go/internal/round"
)

type recordingPublisher struct {
	mu   sync.Mutex
	envs []Envelope
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.envs = append(p.envs, env)
	return nil
}

func (p *recordingPublisher) published() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Envelope(nil), p.envs...)
}

func TestPublishingObserverForwardsReports(t *testing.T) {
	pub := &recordingPublisher{}
	runID := uuid.New()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	o := NewPublishingObserver(pub, runID, clock, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	diff := uint32(8192)
	o.ObserveRound(round.Report{NodeID: 2, Role: round.RoleReceiver, SeqNo: 4, Received: true, Synced: true})
	o.ObserveRound(round.Report{NodeID: 2, Role: round.RoleReceiver, SeqNo: 5, Received: true, Synced: true, EpochDiff: &diff})

	require.Eventually(t, func() bool { return len(pub.published()) == 2 }, time.Second, 5*time.Millisecond)

	envs := pub.published()
	assert.Equal(t, runID.String(), envs[0].RunID)
	assert.Equal(t, EventRoundCompleted, envs[0].EventType)
	assert.Equal(t, uint16(2), envs[0].NodeID)
	assert.Equal(t, clock.Now(), envs[0].Timestamp)
	assert.NotEqual(t, envs[0].EventID, envs[1].EventID)

	r, err := envs[1].Report()
	require.NoError(t, err)
	assert.Equal(t, uint32(5), r.SeqNo)
	require.NotNil(t, r.EpochDiff)
	assert.Equal(t, diff, *r.EpochDiff)

	published, dropped := o.Stats()
	assert.Equal(t, uint64(2), published)
	assert.Zero(t, dropped)
}

func TestPublishingObserverDropsWhenFull(t *testing.T) {
	o := NewPublishingObserver(NoOpPublisher{}, uuid.New(), clockwork.NewFakeClock(), 1)

	o.ObserveRound(round.Report{NodeID: 1})
	o.ObserveRound(round.Report{NodeID: 1})
	o.ObserveRound(round.Report{NodeID: 1})

	_, dropped := o.Stats()
	assert.Equal(t, uint64(2), dropped)
}

func TestPublishingObserverSurvivesPublishErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	o := NewPublishingObserver(pub, uuid.New(), clockwork.NewFakeClock(), 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(ctx)
	}()

	o.ObserveRound(round.Report{NodeID: 3})
	require.Eventually(t, func() bool { return len(o.queue) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	published, _ := o.Stats()
	assert.Zero(t, published)
}

func TestPublishingObserverFlushesQueueOnCancel(t *testing.T) {
	pub := &recordingPublisher{}
	o := NewPublishingObserver(pub, uuid.New(), clockwork.NewFakeClock(), 8)

	for seq := uint32(0); seq < 5; seq++ {
		o.ObserveRound(round.Report{NodeID: 2, SeqNo: seq})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o.Run(ctx)

	envs := pub.published()
	require.Len(t, envs, 5)
	for i, env := range envs {
		r, err := env.Report()
		require.NoError(t, err)
		assert.Equal(t, uint32(i), r.SeqNo)
	}
	published, dropped := o.Stats()
	assert.Equal(t, uint64(5), published)
	assert.Zero(t, dropped)
}

// blockingPublisher waits for the context of every publish to end.
type blockingPublisher struct{}

func (blockingPublisher) Publish(ctx context.Context, _ Envelope) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPublishingObserverDrainIsBounded(t *testing.T) {
	o := NewPublishingObserver(blockingPublisher{}, uuid.New(), clockwork.NewFakeClock(), 8)
	o.drainTimeout = 20 * time.Millisecond

	for i := 0; i < 3; i++ {
		o.ObserveRound(round.Report{NodeID: 2})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(ctx)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the drain timeout")
	}

	published, dropped := o.Stats()
	assert.Zero(t, published)
	assert.Equal(t, uint64(2), dropped)
	assert.Empty(t, o.queue)
}

func TestEnvelopeWireFormat(t *testing.T) {
	env, err := NewRoundEnvelope(uuid.Nil, round.Report{NodeID: 9, SeqNo: 1}, time.Unix(0, 0))
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"eventId", "eventType", "runId", "nodeId", "timestamp", "payload"} {
		assert.Contains(t, raw, key)
	}

	_, err = Envelope{EventType: "Other"}.Report()
	assert.Error(t, err)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "glossy.rounds.12", DefaultJetStreamConfig().Subject(12))
}
