package glossy

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/dlobba/lwb-cc2538/go/internal/rtimer"
)

// MediumConfig tunes the simulated network.
type MediumConfig struct {
	// Loss is the probability that a single hop fails to relay a flood.
	Loss float64
	// Corrupt is the probability that a delivered payload has its leading
	// data bytes damaged.
	Corrupt float64
	// Seed makes loss and corruption decisions reproducible.
	Seed uint64
	// HopTime is the duration of one relay slot, reported as T_slot.
	HopTime rtimer.Time
}

// Medium is a shared broadcast medium for simulated cores. It keeps the most
// recent flood and decides, per receiver, whether that flood reached it during
// its receive window. It does not model the flooding wave itself.
type Medium struct {
	mu    sync.Mutex
	cfg   MediumConfig
	rng   *rand.Rand
	hops  map[NodeID]uint8
	flood flood
}

type flood struct {
	initiator NodeID
	data      []byte
	start     rtimer.Time
	end       rtimer.Time
	active    bool
	valid     bool
}

type delivery struct {
	initiator NodeID
	data      []byte
	start     rtimer.Time
	hops      uint8
}

// NewMedium returns an empty medium.
func NewMedium(cfg MediumConfig) *Medium {
	return &Medium{
		cfg:  cfg,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		hops: make(map[NodeID]uint8),
	}
}

// Attach places a node at the given hop distance from the initiator.
func (m *Medium) Attach(id NodeID, hops uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hops[id] = hops
}

// HopTime returns the configured relay slot duration.
func (m *Medium) HopTime() rtimer.Time {
	return m.cfg.HopTime
}

func (m *Medium) attached(id NodeID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.hops[id]
	return ok
}

func (m *Medium) originate(id NodeID, data []byte, at rtimer.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flood = flood{
		initiator: id,
		data:      append([]byte(nil), data...),
		start:     at,
		active:    true,
		valid:     true,
	}
}

func (m *Medium) finish(id NodeID, at rtimer.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flood.valid && m.flood.active && m.flood.initiator == id {
		m.flood.active = false
		m.flood.end = at
	}
}

// receive reports the flood heard by id during the window [from, to], if any.
func (m *Medium) receive(id NodeID, from, to rtimer.Time) (delivery, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := m.flood
	if !f.valid || f.initiator == id {
		return delivery{}, false
	}
	if f.start.After(to) {
		return delivery{}, false
	}
	if !f.active && f.end.Before(from) {
		return delivery{}, false
	}

	hops, ok := m.hops[id]
	if !ok {
		return delivery{}, false
	}
	if m.cfg.Loss > 0 && m.rng.Float64() >= math.Pow(1-m.cfg.Loss, float64(hops)) {
		return delivery{}, false
	}

	data := append([]byte(nil), f.data...)
	if m.cfg.Corrupt > 0 && m.rng.Float64() < m.cfg.Corrupt {
		// damage the bytes right after the 4-byte sequence number
		for i := 4; i < 8 && i < len(data); i++ {
			data[i] ^= 0xff
		}
	}

	return delivery{
		initiator: f.initiator,
		data:      data,
		start:     f.start,
		hops:      hops,
	}, true
}
