package glossy

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dlobba/lwb-cc2538/go/internal/diag"
	"github.com/dlobba/lwb-cc2538/go/internal/rtimer"
)

// SimCore is a Core backed by a Medium. The initiator's reference time is the
// start of its own flood; a receiver adopts the start of the flood it heard.
type SimCore struct {
	id     NodeID
	medium *Medium
	now    func() rtimer.Time
	out    diag.Emitter

	enc     Encoding
	running bool
	origin  bool
	buf     []byte
	nTxMax  uint8
	sync    SyncMode
	started rtimer.Time

	nRx         uint8
	nTx         uint8
	relayCnt    uint8
	tRef        rtimer.Time
	tRefUpdated bool

	totalRx    uint32
	totalTx    uint32
	firstRelay uint8
	badLength  uint32
}

// NewSimCore returns a core for node id. now reads the node's local clock.
func NewSimCore(id NodeID, medium *Medium, now func() rtimer.Time, out diag.Emitter) *SimCore {
	return &SimCore{id: id, medium: medium, now: now, out: out}
}

func (c *SimCore) Init() error {
	if !c.medium.attached(c.id) {
		return fmt.Errorf("%w: node %d: %w", ErrInitFailed, c.id, ErrNotAttached)
	}
	return nil
}

func (c *SimCore) SetEncoding(enc Encoding) {
	c.enc = enc
}

func (c *SimCore) Start(initiator NodeID, buf []byte, payloadLen int, nTx uint8, sync SyncMode) {
	if c.running {
		log.Warn().Uint16("node_id", uint16(c.id)).Msg("glossy start while a flood is running, stopping it first")
		c.Stop()
	}

	c.running = true
	c.started = c.now()
	c.buf = buf
	c.nTxMax = nTx
	c.sync = sync
	c.origin = initiator != UnknownInitiator && initiator == c.id

	c.nRx, c.nTx, c.relayCnt = 0, 0, 0
	c.tRefUpdated = false

	if c.origin {
		n := payloadLen
		if n <= 0 || n > len(buf) {
			n = len(buf)
		}
		c.medium.originate(c.id, buf[:n], c.started)
	}
}

func (c *SimCore) Stop() {
	if !c.running {
		return
	}
	c.running = false
	end := c.now()

	if c.origin {
		c.medium.finish(c.id, end)
		c.nTx = c.nTxMax
		c.nRx = c.nTxMax
		c.relayCnt = 0
		c.setRefTime(c.started)
		c.account()
		return
	}

	d, ok := c.medium.receive(c.id, c.started, end)
	if !ok {
		return
	}
	if len(d.data) > len(c.buf) {
		c.badLength++
		return
	}
	copy(c.buf, d.data)

	c.nRx = c.nTxMax
	c.nTx = c.nTxMax
	if d.hops > 0 {
		c.relayCnt = d.hops - 1
	}
	c.firstRelay = c.relayCnt
	c.setRefTime(d.start)
	c.account()
}

func (c *SimCore) setRefTime(t rtimer.Time) {
	if c.sync != WithSync {
		return
	}
	c.tRef = t
	c.tRefUpdated = true
}

func (c *SimCore) account() {
	c.totalRx += uint32(c.nRx)
	c.totalTx += uint32(c.nTx)
}

func (c *SimCore) IsRefTimeUpdated() bool { return c.tRefUpdated }
func (c *SimCore) RefTime() rtimer.Time   { return c.tRef }
func (c *SimCore) RxCount() uint8         { return c.nRx }
func (c *SimCore) TxCount() uint8         { return c.nTx }
func (c *SimCore) RelayCntFirstRx() uint8 { return c.relayCnt }

func (c *SimCore) DebugPrint() {
	c.out.Emit(diag.TagFloodDebug, "n_T_slots %d, T_slot %d, relay_cnt_t_ref %d, tref_ts %d",
		uint16(c.nRx)+uint16(c.nTx), c.medium.HopTime(), c.relayCnt, c.tRef)
}

func (c *SimCore) StatsPrint() {
	c.out.Emit(diag.TagStats, "n_rx %d, n_tx %d, relay_cnt_first_rx %d, n_bad_length %d, n_bad_header %d, n_bad_payload %d",
		c.totalRx, c.totalTx, c.firstRelay, c.badLength, 0, 0)
}
