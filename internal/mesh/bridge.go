package mesh

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/logging"
	"github.com/muurk/sensornode/internal/nodeconfig"
)

// ConfigWriter persists the settings the mesh learns at runtime.
// *nodeconfig.Store implements it.
type ConfigWriter interface {
	SetChannel(ch uint8) error
	SetProvisioned(v bool) error
}

// FrameSink receives frames from the mesh.
type FrameSink interface {
	Forward(f Frame)
}

// Bridge connects a Mesh to the rest of the node.
type Bridge struct {
	mesh  Mesh
	store ConfigWriter
	sink  FrameSink

	rx     chan Frame
	attach chan ChannelInfo
	paired chan PairingResult

	provisioned atomic.Bool
	dropped     atomic.Uint64

	// OnProvisioned is called from Run after a successful pairing has been
	// committed.
	OnProvisioned func(PairingResult)
	// OnDrop is called from the callback goroutine when a queue is full.
	OnDrop func(kind string)
}

// NewBridge creates a bridge whose queues hold queueSize events each.
func NewBridge(m Mesh, store ConfigWriter, sink FrameSink, queueSize int) *Bridge {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Bridge{
		mesh:   m,
		store:  store,
		sink:   sink,
		rx:     make(chan Frame, queueSize),
		attach: make(chan ChannelInfo, queueSize),
		paired: make(chan PairingResult, queueSize),
	}
}

// Start initialises the mesh with rec's mesh settings.
func (b *Bridge) Start(ctx context.Context, rec nodeconfig.Record) error {
	b.provisioned.Store(rec.Provisioned)
	return b.mesh.Init(ctx, ConfigFromRecord(rec), b.Handlers())
}

// Handlers returns callbacks that enqueue without blocking.
func (b *Bridge) Handlers() Handlers {
	return Handlers{
		OnReceive: func(f Frame) {
			enqueue(b, b.rx, f, "frame")
		},
		OnNetworkAttach: func(ci ChannelInfo) {
			enqueue(b, b.attach, ci, "attach")
		},
		OnPaired: func(pr PairingResult) {
			enqueue(b, b.paired, pr, "paired")
		},
	}
}

func enqueue[T any](b *Bridge, ch chan T, v T, kind string) {
	select {
	case ch <- v:
	default:
		b.dropped.Add(1)
		logging.Warn("Mesh queue full, event dropped", zap.String("kind", kind))
		if b.OnDrop != nil {
			b.OnDrop(kind)
		}
	}
}

// Run consumes mesh events until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-b.rx:
			if b.sink != nil {
				b.sink.Forward(f)
			}
		case ci := <-b.attach:
			b.handleAttach(ci)
		case pr := <-b.paired:
			b.handlePaired(pr)
		}
	}
}

func (b *Bridge) handleAttach(ci ChannelInfo) {
	if err := b.store.SetChannel(ci.Channel); err != nil {
		logging.Error("Failed to persist mesh channel",
			zap.Uint8("channel", ci.Channel),
			zap.Error(err))
		return
	}
	logging.Info("Attached to mesh network", zap.Uint8("channel", ci.Channel))
}

func (b *Bridge) handlePaired(pr PairingResult) {
	if !pr.Success {
		logging.Info("Pairing failed", zap.String("peer", pr.Peer))
		return
	}
	if err := b.store.SetProvisioned(true); err != nil {
		logging.Error("Failed to persist provisioned state, staying unprovisioned",
			zap.String("peer", pr.Peer),
			zap.Error(err))
		return
	}
	b.provisioned.Store(true)
	logging.Info("Node provisioned", zap.String("peer", pr.Peer))
	if b.OnProvisioned != nil {
		b.OnProvisioned(pr)
	}
}

// Provisioned reports whether pairing has been committed.
func (b *Bridge) Provisioned() bool {
	return b.provisioned.Load()
}

// Dropped returns how many callbacks were discarded because a queue was full.
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}

// Send transmits f once the node is provisioned.
func (b *Bridge) Send(ctx context.Context, f Frame) error {
	if !b.provisioned.Load() {
		return ErrNotProvisioned
	}
	return b.mesh.Send(ctx, f)
}

// StartPairing opens a pairing window on the mesh.
func (b *Bridge) StartPairing(ctx context.Context, window time.Duration) error {
	return b.mesh.StartPairing(ctx, window)
}

// Close shuts the mesh down.
func (b *Bridge) Close() error {
	return b.mesh.Close()
}
