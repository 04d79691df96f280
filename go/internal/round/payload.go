package round

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// SeqNoSize is the width of the sequence number on the wire.
const SeqNoSize = 4

var ErrShortPayload = errors.New("round: payload shorter than its fixed layout")

// Payload is the application data carried by every flood. On the wire it is
// the little-endian sequence number immediately followed by Data, with no
// padding. Data has the same length on every node of a deployment.
type Payload struct {
	SeqNo uint32
	Data  []byte
}

// NewPayload returns a payload with sequence number 0 and dataLen zero bytes.
func NewPayload(dataLen int) Payload {
	return Payload{Data: make([]byte, dataLen)}
}

// Len is the packed size.
func (p Payload) Len() int {
	return SeqNoSize + len(p.Data)
}

// Clone returns a deep copy.
func (p Payload) Clone() Payload {
	return Payload{SeqNo: p.SeqNo, Data: append([]byte(nil), p.Data...)}
}

// MarshalTo packs p into buf and returns the number of bytes written.
func (p Payload) MarshalTo(buf []byte) (int, error) {
	if len(buf) < p.Len() {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrShortPayload, p.Len(), len(buf))
	}
	binary.LittleEndian.PutUint32(buf, p.SeqNo)
	copy(buf[SeqNoSize:], p.Data)
	return p.Len(), nil
}

// UnmarshalFrom unpacks buf into p, keeping the length of p.Data.
func (p *Payload) UnmarshalFrom(buf []byte) error {
	if len(buf) < p.Len() {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrShortPayload, p.Len(), len(buf))
	}
	p.SeqNo = binary.LittleEndian.Uint32(buf)
	copy(p.Data, buf[SeqNoSize:p.Len()])
	return nil
}
