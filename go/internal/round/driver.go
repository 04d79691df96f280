// Package round drives the Glossy test application: the initiator floods a
// sequence numbered payload every period, receivers bootstrap, keep in sync
// with the floods and report what they received.
package round

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dlobba/lwb-cc2538/go/internal/diag"
	"github.com/dlobba/lwb-cc2538/go/internal/glossy"
	"github.com/dlobba/lwb-cc2538/go/internal/rtimer"
)

var ErrCoreInit = errors.New("round: glossy core init failed")

type step uint8

const (
	stepBoot step = iota
	stepRoundStart
	stepFloodEnd
	stepBootstrapEnd
	stepReceiveEnd
)

// State is a copy of the driver state, for inspection between resumptions.
type State struct {
	Payload         Payload
	Previous        Payload
	PreviousRefTime rtimer.Time
	Anchor          rtimer.Time
	Bootstrapped    bool
	TagCheck        bool
	Counters        Counters
}

// Driver is the per-node round state machine. Resume is its only re-entry
// point and must be called from a single goroutine, each time at the deadline
// returned by the previous call.
type Driver struct {
	cfg       Config
	role      Role
	core      glossy.Core
	out       diag.Emitter
	observers []Observer

	payload         Payload
	buf             []byte
	previous        Payload
	previousRefTime rtimer.Time
	tagCheck        bool
	bootstrapped    bool
	counters        Counters
	anchor          rtimer.Time

	step          step
	roundAttempts uint16
	lastEpochDiff *uint32
	lastCorrupted bool
	lastReceived  bool
}

func NewDriver(cfg Config, core glossy.Core, out diag.Emitter, observers ...Observer) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	role := RoleReceiver
	if cfg.IsInitiator() {
		role = RoleInitiator
	}
	return &Driver{
		cfg:       cfg,
		role:      role,
		core:      core,
		out:       out,
		observers: observers,
		payload:   NewPayload(cfg.PayloadDataLen),
		buf:       make([]byte, SeqNoSize+cfg.PayloadDataLen),
	}, nil
}

func (d *Driver) Role() Role { return d.role }

// Init prepares the core and the payload and returns the deadline of the
// first round. A core failure is fatal for the node.
func (d *Driver) Init(now rtimer.Time) (rtimer.Time, error) {
	if err := d.core.Init(); err != nil {
		d.out.Print("Glossy init failed")
		return 0, fmt.Errorf("%w: %w", ErrCoreInit, err)
	}
	d.out.Print("Glossy successfully initialised")

	d.core.SetEncoding(glossy.EncodingOff)

	d.payload.SeqNo = 0
	if len(d.cfg.Tag) > d.cfg.PayloadDataLen {
		d.out.Print("Password too large to be embedded within the app payload!")
		d.out.Print("Password not set!")
		d.tagCheck = false
	} else {
		copy(d.payload.Data, d.cfg.Tag)
		d.tagCheck = true
	}
	d.previous = d.payload.Clone()
	d.step = stepBoot

	log.Info().
		Uint16("node_id", uint16(d.cfg.NodeID)).
		Str("role", string(d.role)).
		Bool("tag_check", d.tagCheck).
		Msg("glossy round driver initialised")

	if d.role == RoleInitiator {
		return now + d.cfg.InitiatorStartDelay, nil
	}
	return now + d.cfg.ReceiverStartDelay, nil
}

// Resume advances the state machine at the scheduled deadline now and returns
// the next absolute deadline.
func (d *Driver) Resume(now rtimer.Time) rtimer.Time {
	switch d.step {
	case stepBoot:
		d.out.Print("Starting Glossy. Node ID %d", d.cfg.NodeID)
		d.previousRefTime = 0
		return d.startRound(now)
	case stepRoundStart:
		return d.startRound(now)
	case stepFloodEnd:
		return d.endFlood(now)
	case stepBootstrapEnd:
		return d.endBootstrap(now)
	case stepReceiveEnd:
		d.core.Stop()
		return d.finishReceive()
	}
	panic(fmt.Sprintf("round: unknown step %d", d.step))
}

// Snapshot returns a copy of the driver state. It must not be called while
// Resume is running.
func (d *Driver) Snapshot() State {
	return State{
		Payload:         d.payload.Clone(),
		Previous:        d.previous.Clone(),
		PreviousRefTime: d.previousRefTime,
		Anchor:          d.anchor,
		Bootstrapped:    d.bootstrapped,
		TagCheck:        d.tagCheck,
		Counters:        d.counters,
	}
}

func (d *Driver) startRound(now rtimer.Time) rtimer.Time {
	d.roundAttempts = 0
	d.lastEpochDiff = nil
	d.lastCorrupted = false
	d.lastReceived = false

	if d.role == RoleInitiator {
		n, err := d.payload.MarshalTo(d.buf)
		if err != nil {
			// buf is sized from the config, so this is a programming error
			panic(err)
		}
		d.core.Start(d.cfg.NodeID, d.buf, n, d.cfg.NTx, glossy.WithSync)
		d.step = stepFloodEnd
		return now + d.cfg.Slot
	}

	if !d.bootstrapped {
		d.out.Print("BOOTSTRAP")
		return d.bootstrapAttempt(now)
	}

	d.core.Start(glossy.UnknownInitiator, d.buf, glossy.UnknownPayloadLen, d.cfg.NTx, glossy.WithSync)
	d.step = stepReceiveEnd
	return now + d.cfg.Slot + d.cfg.Guard
}

func (d *Driver) endFlood(now rtimer.Time) rtimer.Time {
	d.core.Stop()

	d.out.Emit(diag.TagBroadcast, "sent_seq %d, payload_len %d", d.payload.SeqNo, d.payload.Len())
	d.out.Emit(diag.TagPayload, "rcvd_seq %d", d.payload.SeqNo)
	d.emitStats()
	d.core.DebugPrint()
	d.core.StatsPrint()
	d.emitEpochDiff()

	d.previousRefTime = d.core.RefTime()
	d.previous = d.payload.Clone()
	sent := d.payload.SeqNo
	d.payload.SeqNo++

	d.step = stepRoundStart
	next := now - d.cfg.Slot + d.cfg.Period
	d.notify(Report{
		SeqNo:    sent,
		Synced:   true,
		Received: true,
		RefTime:  uint32(d.previousRefTime),
		NextWake: uint32(next),
	})
	return next
}

func (d *Driver) bootstrapAttempt(now rtimer.Time) rtimer.Time {
	d.counters.Bootstrapped++
	d.roundAttempts++
	d.core.Start(glossy.UnknownInitiator, d.buf, glossy.UnknownPayloadLen, d.cfg.NTx, glossy.WithSync)
	d.step = stepBootstrapEnd
	return now + d.cfg.Slot
}

func (d *Driver) endBootstrap(now rtimer.Time) rtimer.Time {
	d.core.Stop()
	if !d.core.IsRefTimeUpdated() {
		return d.bootstrapAttempt(now)
	}
	d.bootstrapped = true
	log.Info().
		Uint16("node_id", uint16(d.cfg.NodeID)).
		Uint16("attempts", d.roundAttempts).
		Msg("bootstrap complete")
	return d.finishReceive()
}

func (d *Driver) finishReceive() rtimer.Time {
	synced := d.core.IsRefTimeUpdated()
	if synced {
		d.out.Emit(diag.TagAppDebug, "Synced")
		d.anchor = d.core.RefTime() + d.cfg.Period
	} else {
		d.out.Emit(diag.TagAppDebug, "Not Synced")
		d.anchor += d.cfg.Period
	}

	if d.core.RxCount() > 0 {
		d.counters.Received++
		d.lastReceived = true
		d.receive()
	} else {
		d.counters.Missed++
	}

	d.step = stepRoundStart
	next := d.anchor - d.cfg.Guard
	// A missed or corrupted round leaves stale or garbage bytes in payload.
	d.notify(Report{
		SeqNo:     d.previous.SeqNo,
		Synced:    synced,
		Received:  d.lastReceived,
		Corrupted: d.lastCorrupted,
		RefTime:   uint32(d.core.RefTime()),
		NextWake:  uint32(next),
	})
	return next
}

func (d *Driver) receive() {
	if err := d.payload.UnmarshalFrom(d.buf); err != nil {
		panic(err)
	}

	if d.tagCheck && !CheckTag(d.payload.Data, d.cfg.PayloadDataLen, d.cfg.Tag, len(d.cfg.Tag)) {
		d.lastCorrupted = true
		d.out.Emit(diag.TagAppDebug, "Received a corrupted packet.")
		return
	}

	d.out.Emit(diag.TagPayload, "rcvd_seq %d", d.payload.SeqNo)
	d.emitStats()
	d.core.DebugPrint()
	d.core.StatsPrint()
	d.emitEpochDiff()

	d.previousRefTime = d.core.RefTime()
	d.previous = d.payload.Clone()
}

func (d *Driver) emitStats() {
	d.out.Emit(diag.TagAppStats, "n_rx %d, n_tx %d, f_relay_cnt %d, rcvd %d, missed %d, bootpd %d",
		d.core.RxCount(), d.core.TxCount(), d.core.RelayCntFirstRx(),
		d.counters.Received, d.counters.Missed, d.counters.Bootstrapped)
}

// emitEpochDiff reports the reference time elapsed between two consecutive
// sequence numbers. The first payload after boot is never compared.
func (d *Driver) emitEpochDiff() {
	if d.previous.SeqNo > 0 && d.payload.SeqNo == d.previous.SeqNo+1 {
		diff := uint32(d.core.RefTime() - d.previousRefTime)
		d.lastEpochDiff = &diff
		d.out.Emit(diag.TagAppDebug, "Epoch_diff rtimer %d", diff)
	}
}

func (d *Driver) notify(r Report) {
	r.NodeID = uint16(d.cfg.NodeID)
	r.Role = d.role
	r.RxCount = d.core.RxCount()
	r.TxCount = d.core.TxCount()
	r.RelayCntFirstRx = d.core.RelayCntFirstRx()
	r.EpochDiff = d.lastEpochDiff
	r.BootstrapAttempts = d.roundAttempts
	r.Counters = d.counters
	for _, o := range d.observers {
		o.ObserveRound(r)
	}
}
