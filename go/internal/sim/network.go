// Package sim runs a whole Glossy test deployment on one host: every node
// gets its own driver, simulated core and local timer, and all of them share
// one simulated radio medium and one wall clock.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dlobba/lwb-cc2538/go/internal/config"
	"github.com/dlobba/lwb-cc2538/go/internal/diag"
	"github.com/dlobba/lwb-cc2538/go/internal/glossy"
	"github.com/dlobba/lwb-cc2538/go/internal/round"
	"github.com/dlobba/lwb-cc2538/go/internal/rtimer"
)

var (
	ErrNoNodes        = errors.New("sim: no nodes configured")
	ErrDuplicateNode  = errors.New("sim: duplicate node id")
	ErrAllNodesFailed = errors.New("sim: every node failed to start")
)

// Node describes one simulated device.
type Node struct {
	Config round.Config
	Hops   uint8
}

type Options struct {
	Clock clockwork.Clock
	// Epoch is the instant every local clock reads zero. Defaults to the
	// clock's current time.
	Epoch time.Time
	// Output receives the diagnostic lines of every node, prefixed with the
	// node id. Defaults to io.Discard.
	Output io.Writer
	// Observers are attached to every driver.
	Observers []round.Observer
}

// Network is a set of nodes sharing one medium.
type Network struct {
	medium *glossy.Medium
	nodes  []*node

	mu     sync.Mutex
	failed []glossy.NodeID
}

type node struct {
	id     glossy.NodeID
	sched  *rtimer.Scheduler
	driver *round.Driver
}

// New builds the network. Drivers are validated here; cores are initialised
// when the network runs.
func New(mc glossy.MediumConfig, nodes []Node, opts Options) (*Network, error) {
	if len(nodes) == 0 {
		return nil, ErrNoNodes
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Epoch.IsZero() {
		opts.Epoch = opts.Clock.Now()
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	out := &lockedWriter{w: opts.Output}

	n := &Network{medium: glossy.NewMedium(mc)}
	seen := make(map[glossy.NodeID]bool, len(nodes))
	for _, spec := range nodes {
		id := spec.Config.NodeID
		if seen[id] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateNode, id)
		}
		seen[id] = true

		n.medium.Attach(id, spec.Hops)
		sched := rtimer.NewScheduler(opts.Clock, opts.Epoch)
		stream := diag.NewStream(out, uint16(id), true)
		core := glossy.NewSimCore(id, n.medium, sched.Now, stream)

		driver, err := round.NewDriver(spec.Config, core, stream, opts.Observers...)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", id, err)
		}
		n.nodes = append(n.nodes, &node{id: id, sched: sched, driver: driver})
	}
	return n, nil
}

// FromConfig builds the network described by the simulation section of cfg.
func FromConfig(cfg *config.Config, opts Options) (*Network, error) {
	resolved, err := cfg.SimNodes()
	if err != nil {
		return nil, err
	}

	nodes := make([]Node, 0, len(resolved))
	for _, r := range resolved {
		rc, err := cfg.Driver(r.ID)
		if err != nil {
			return nil, err
		}
		log.Debug().
			Uint16("node_id", uint16(r.ID)).
			Str("ieee_addr", r.Addr.String()).
			Uint8("hops", r.Hops).
			Msg("simulated node")
		nodes = append(nodes, Node{Config: rc, Hops: r.Hops})
	}

	return New(glossy.MediumConfig{
		Loss:    cfg.Simulation.Loss,
		Corrupt: cfg.Simulation.Corrupt,
		Seed:    cfg.Simulation.Seed,
		HopTime: cfg.HopTime(),
	}, nodes, opts)
}

// Run starts every node on its own goroutine and blocks until ctx is
// cancelled. A node whose core fails to initialise stops alone; Run only
// fails when no node could start.
func (n *Network) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, nd := range n.nodes {
		g.Go(func() error {
			n.runNode(ctx, nd)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if failed := n.Failed(); len(failed) == len(n.nodes) {
		return ErrAllNodesFailed
	}
	return nil
}

// Failed lists the nodes that could not start.
func (n *Network) Failed() []glossy.NodeID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]glossy.NodeID(nil), n.failed...)
}

func (n *Network) runNode(ctx context.Context, nd *node) {
	first, err := nd.driver.Init(nd.sched.Now())
	if err != nil {
		log.Error().Err(err).Uint16("node_id", uint16(nd.id)).Msg("node stopped")
		n.mu.Lock()
		n.failed = append(n.failed, nd.id)
		n.mu.Unlock()
		return
	}

	log.Info().
		Uint16("node_id", uint16(nd.id)).
		Str("role", string(nd.driver.Role())).
		Uint32("first_wake", uint32(first)).
		Msg("node started")

	nd.sched.Run(ctx, first, nd.driver.Resume)
}

// lockedWriter serialises the lines of all nodes on one writer.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
