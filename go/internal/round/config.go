package round

import (
	"errors"
	"fmt"

	"github.com/dlobba/lwb-cc2538/go/internal/glossy"
	"github.com/dlobba/lwb-cc2538/go/internal/rtimer"
)

const (
	DefaultNTx            uint8 = 2
	DefaultPayloadDataLen       = 109

	DefaultPeriod = rtimer.Second / 4
	DefaultSlot   = rtimer.Second / 50
	DefaultGuard  = rtimer.Second / 1000

	DefaultInitiatorStartDelay = rtimer.Second * 10
	DefaultReceiverStartDelay  = rtimer.Second * 2
)

// DefaultTag is embedded at the start of the payload data to detect damage.
var DefaultTag = []byte{0x00, 0x00, 0x04, 0x02}

var ErrInvalidConfig = errors.New("round: invalid config")

// Config holds the compile-time parameters of the test application. All
// nodes of a deployment must share everything but NodeID.
type Config struct {
	NodeID      glossy.NodeID
	InitiatorID glossy.NodeID

	NTx            uint8
	PayloadDataLen int

	Period rtimer.Time
	Slot   rtimer.Time
	Guard  rtimer.Time

	InitiatorStartDelay rtimer.Time
	ReceiverStartDelay  rtimer.Time

	Tag []byte
}

func DefaultConfig(nodeID, initiatorID glossy.NodeID) Config {
	return Config{
		NodeID:              nodeID,
		InitiatorID:         initiatorID,
		NTx:                 DefaultNTx,
		PayloadDataLen:      DefaultPayloadDataLen,
		Period:              DefaultPeriod,
		Slot:                DefaultSlot,
		Guard:               DefaultGuard,
		InitiatorStartDelay: DefaultInitiatorStartDelay,
		ReceiverStartDelay:  DefaultReceiverStartDelay,
		Tag:                 append([]byte(nil), DefaultTag...),
	}
}

func (c Config) Validate() error {
	switch {
	case c.NodeID == 0:
		return fmt.Errorf("%w: node id must be non-zero", ErrInvalidConfig)
	case c.InitiatorID == 0:
		return fmt.Errorf("%w: initiator id must be non-zero", ErrInvalidConfig)
	case c.NTx == 0:
		return fmt.Errorf("%w: n_tx must be positive", ErrInvalidConfig)
	case c.PayloadDataLen <= 0:
		return fmt.Errorf("%w: payload data length must be positive", ErrInvalidConfig)
	case c.Slot == 0:
		return fmt.Errorf("%w: slot must be positive", ErrInvalidConfig)
	case c.Slot+c.Guard >= c.Period:
		return fmt.Errorf("%w: slot %d + guard %d must fit in period %d", ErrInvalidConfig, c.Slot, c.Guard, c.Period)
	}
	return nil
}

// IsInitiator reports whether the node originates the floods.
func (c Config) IsInitiator() bool {
	return c.NodeID == c.InitiatorID
}
