package mesh

import (
	"context"
	"errors"
	"time"

	"github.com/muurk/sensornode/internal/nodeconfig"
)

// ErrNotProvisioned is returned by Bridge.Send before pairing has been
// committed.
var ErrNotProvisioned = errors.New("mesh: node is not provisioned")

// Config is what the mesh implementation needs to join the network.
type Config struct {
	nodeconfig.MeshConfig
	NodeName   string
	GUID       nodeconfig.GUID
	LocalKey   nodeconfig.Key
	PrimaryKey nodeconfig.Key
}

// ConfigFromRecord extracts the mesh configuration from a loaded record.
func ConfigFromRecord(r nodeconfig.Record) Config {
	return Config{
		MeshConfig: r.Mesh,
		NodeName:   r.NodeName,
		GUID:       r.GUID,
		LocalKey:   r.LocalKey,
		PrimaryKey: r.PrimaryKey,
	}
}

// Frame is one application payload carried over the mesh.
type Frame struct {
	Source  string `json:"source,omitempty"`
	Payload []byte `json:"payload"`
	RSSI    int8   `json:"rssi,omitempty"`
}

// ChannelInfo is reported when the node attaches to a network.
type ChannelInfo struct {
	Channel uint8 `json:"channel"`
}

// PairingResult is reported when a pairing window produces an outcome.
type PairingResult struct {
	Success bool   `json:"success"`
	Peer    string `json:"peer,omitempty"`
}

// Handlers are the callbacks a Mesh delivers events to. They must not block.
type Handlers struct {
	OnReceive       func(Frame)
	OnNetworkAttach func(ChannelInfo)
	OnPaired        func(PairingResult)
}

// Mesh is a mesh radio stack.
type Mesh interface {
	// Init joins the network with cfg and registers h.
	Init(ctx context.Context, cfg Config, h Handlers) error
	Send(ctx context.Context, f Frame) error
	// StartPairing accepts pairing requests for window.
	StartPairing(ctx context.Context, window time.Duration) error
	Close() error
}

// Offline is a Mesh with no radio. Sends are discarded and pairing windows
// never produce a result.
type Offline struct{}

func (Offline) Init(context.Context, Config, Handlers) error { return nil }

func (Offline) Send(context.Context, Frame) error { return nil }

func (Offline) StartPairing(context.Context, time.Duration) error { return nil }

func (Offline) Close() error { return nil }
