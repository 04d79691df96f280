// Package glossy defines the contract of the Glossy flooding and time
// synchronisation core, and a simulated core for running nodes on a host.
package glossy

import (
	"errors"

	"github.com/dlobba/lwb-cc2538/go/internal/rtimer"
)

// NodeID identifies a node in the deployment.
type NodeID uint16

// SyncMode selects whether a flood carries time synchronisation.
type SyncMode uint8

const (
	WithoutSync SyncMode = iota
	WithSync
)

// Encoding selects the payload encoding applied by the core.
type Encoding uint8

const (
	EncodingOff Encoding = iota
	EncodingOn
)

const (
	// UnknownInitiator lets a receiver accept a flood from any initiator.
	UnknownInitiator NodeID = 0
	// UnknownPayloadLen lets a receiver learn the length from the flood.
	UnknownPayloadLen = 0
)

var (
	ErrInitFailed  = errors.New("glossy: init failed")
	ErrNotAttached = errors.New("glossy: node not attached to the medium")
)

// Core is the flooding and synchronisation service a round driver relies on.
// Exactly one flood is in progress between Start and Stop. Counters and the
// reference time describe the flood most recently stopped.
type Core interface {
	Init() error
	SetEncoding(enc Encoding)

	// Start begins a flood. An initiator passes its own id and the payload
	// length; a receiver passes UnknownInitiator and UnknownPayloadLen and
	// the core writes the received payload into buf.
	Start(initiator NodeID, buf []byte, payloadLen int, nTx uint8, sync SyncMode)
	Stop()

	IsRefTimeUpdated() bool
	RefTime() rtimer.Time

	RxCount() uint8
	TxCount() uint8
	RelayCntFirstRx() uint8

	DebugPrint()
	StatsPrint()
}
