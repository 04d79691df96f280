package round

import (
	"github.com/dlobba/lwb-cc2538/go/internal/glossy"
	"github.com/dlobba/lwb-cc2538/go/internal/rtimer"
)

// outcome is what the fake core reports for one Start/Stop pair.
type outcome struct {
	refUpdated bool
	refTime    rtimer.Time
	nRx        uint8
	nTx        uint8
	relay      uint8
	packet     []byte
}

type startCall struct {
	initiator  glossy.NodeID
	packet     []byte
	payloadLen int
	nTx        uint8
	sync       glossy.SyncMode
}

// fakeCore replays scripted outcomes, one per Stop. An exhausted script
// behaves like an empty channel.
type fakeCore struct {
	initErr  error
	enc      glossy.Encoding
	encSet   bool
	script   []outcome
	current  outcome
	buf      []byte
	running  bool
	starts   []startCall
	stops    int
	debugs   int
	statsOut int
}

func (f *fakeCore) Init() error { return f.initErr }

func (f *fakeCore) SetEncoding(enc glossy.Encoding) {
	f.enc = enc
	f.encSet = true
}

func (f *fakeCore) Start(initiator glossy.NodeID, buf []byte, payloadLen int, nTx uint8, sync glossy.SyncMode) {
	f.running = true
	f.buf = buf
	f.current = outcome{refTime: f.current.refTime}
	f.starts = append(f.starts, startCall{
		initiator:  initiator,
		packet:     append([]byte(nil), buf...),
		payloadLen: payloadLen,
		nTx:        nTx,
		sync:       sync,
	})
}

func (f *fakeCore) Stop() {
	f.running = false
	f.stops++
	prevRef := f.current.refTime
	if len(f.script) == 0 {
		f.current = outcome{refTime: prevRef}
		return
	}
	f.current = f.script[0]
	f.script = f.script[1:]
	if !f.current.refUpdated {
		f.current.refTime = prevRef
	}
	if f.current.packet != nil {
		copy(f.buf, f.current.packet)
	}
}

func (f *fakeCore) IsRefTimeUpdated() bool { return f.current.refUpdated }
func (f *fakeCore) RefTime() rtimer.Time   { return f.current.refTime }
func (f *fakeCore) RxCount() uint8         { return f.current.nRx }
func (f *fakeCore) TxCount() uint8         { return f.current.nTx }
func (f *fakeCore) RelayCntFirstRx() uint8 { return f.current.relay }
func (f *fakeCore) DebugPrint()            { f.debugs++ }
func (f *fakeCore) StatsPrint()            { f.statsOut++ }

// packet builds a packed payload carrying seq and the given data prefix.
func packet(seq uint32, dataLen int, prefix ...byte) []byte {
	p := NewPayload(dataLen)
	p.SeqNo = seq
	copy(p.Data, prefix)
	buf := make([]byte, p.Len())
	if _, err := p.MarshalTo(buf); err != nil {
		panic(err)
	}
	return buf
}

func received(seq uint32, ref rtimer.Time, dataLen int, prefix ...byte) outcome {
	return outcome{
		refUpdated: true,
		refTime:    ref,
		nRx:        2,
		nTx:        2,
		relay:      1,
		packet:     packet(seq, dataLen, prefix...),
	}
}
