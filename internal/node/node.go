package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/sensornode/internal/clock"
	"github.com/muurk/sensornode/internal/config"
	"github.com/muurk/sensornode/internal/hw"
	"github.com/muurk/sensornode/internal/input"
	"github.com/muurk/sensornode/internal/logging"
	"github.com/muurk/sensornode/internal/mesh"
	"github.com/muurk/sensornode/internal/metrics"
	"github.com/muurk/sensornode/internal/nodeconfig"
	"github.com/muurk/sensornode/internal/nvs"
	"github.com/muurk/sensornode/internal/ota"
	"github.com/muurk/sensornode/internal/provisioning"
	"github.com/muurk/sensornode/internal/telemetry"
	"github.com/muurk/sensornode/internal/version"
)

// ButtonOpener opens the physical button and feeds its events to emit.
type ButtonOpener func(emit func(input.Event)) (io.Closer, error)

// Deps are the collaborators a Node runs with. Nil fields fall back to
// inert implementations, except NVS, Partitions and Transport.
type Deps struct {
	NVS        nvs.Store
	Partitions ota.PartitionTable
	Transport  ota.Transport

	Mesh       mesh.Mesh
	Telemetry  telemetry.Client
	Indicator  hw.Indicator
	Advertiser provisioning.Advertiser
	OpenButton ButtonOpener
	HardwareID nodeconfig.HardwareID
	Restarter  Restarter
	Metrics    *metrics.Metrics
	Clock      clock.Clock

	closers []io.Closer
}

// Close releases everything OpenDeps opened.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// ErrRestartPending is returned by BeginOTA once a restart is scheduled.
var ErrRestartPending = errors.New("restart pending")

// RestartError is returned by Run when the node asked to be restarted.
type RestartError struct {
	Reason string
}

func (e *RestartError) Error() string {
	return "restart requested: " + e.Reason
}

// IsRestart reports whether err asks for a restart.
func IsRestart(err error) bool {
	var re *RestartError
	return errors.As(err, &re)
}

// Node is a running sensor node.
type Node struct {
	settings config.Settings
	deps     Deps
	clk      clock.Clock

	store      *nodeconfig.Store
	bridge     *mesh.Bridge
	publisher  *telemetry.Publisher
	window     *provisioning.Window
	pipeline   *ota.Pipeline
	dispatcher *input.Dispatcher
	actuator   *Actuator
	button     *input.Producer

	record  nodeconfig.Record
	restart chan string
}

// New assembles a node. Nothing is started until Boot and Run.
func New(settings config.Settings, deps Deps) (*Node, error) {
	if deps.NVS == nil {
		return nil, errors.New("node: no config store")
	}
	if deps.Partitions == nil || deps.Transport == nil {
		return nil, errors.New("node: no OTA partitions or transport")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Mesh == nil {
		deps.Mesh = mesh.Offline{}
	}
	if deps.Indicator == nil {
		deps.Indicator = hw.LogIndicator{}
	}

	policy, err := nodeconfig.ParseIdentityPolicy(settings.Store.IdentityPolicy)
	if err != nil {
		return nil, err
	}

	n := &Node{
		settings: settings,
		deps:     deps,
		clk:      deps.Clock,
		restart:  make(chan string, 1),
	}

	storeOpts := nodeconfig.DefaultOptions()
	storeOpts.Policy = policy
	if deps.HardwareID != nil {
		storeOpts.HardwareID = deps.HardwareID
	}
	if deps.Metrics != nil {
		storeOpts.OnWriteFailure = func(f nodeconfig.Field, _ error) {
			deps.Metrics.StoreWriteFailed(f.Key())
		}
	}
	n.store = nodeconfig.New(deps.NVS, storeOpts)

	if deps.Telemetry != nil {
		n.publisher = telemetry.NewPublisher(deps.Telemetry, settings.MQTT.TopicPrefix, settings.MQTT.QoS, n.clk)
		if deps.Metrics != nil {
			n.publisher.OnDrop = func(string) { deps.Metrics.TelemetryDropped() }
		}
	}

	otaOpts := ota.DefaultOptions()
	otaOpts.ChunkSize = settings.OTA.ChunkSize
	otaOpts.RetryInterval = settings.OTA.RetryInterval
	otaOpts.MaxAttempts = settings.OTA.MaxAttempts
	otaOpts.ExpectedDigest = settings.OTA.ExpectedDigest
	otaOpts.OnFinish = func(s ota.Session, _ error) {
		if deps.Metrics != nil {
			deps.Metrics.OTASession(s.State.String(), s.Written)
		}
	}
	n.pipeline, err = ota.NewPipeline(deps.Transport, deps.Partitions, otaOpts)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	restarter := deps.Restarter
	if restarter == nil {
		restarter = RestarterFunc(n.requestRestart)
	}
	n.actuator = NewActuator(n.StartProvisioning, n.store, restarter, n.pipeline.Gate(), deps.Indicator, n.clk)

	machineOpts := input.DefaultMachineOptions()
	if settings.Restart.GraceDelay > 0 {
		machineOpts.RestartDelay = settings.Restart.GraceDelay
	}
	n.dispatcher = input.NewDispatcher(input.NewMachine(machineOpts), n.actuator)
	if deps.Metrics != nil {
		n.dispatcher.OnAction = func(source string, a input.Action) {
			deps.Metrics.ButtonAction(source, a.Kind.String())
		}
	}
	n.button = n.dispatcher.Producer("button", 16)

	return n, nil
}

func (n *Node) requestRestart(reason string) {
	select {
	case n.restart <- reason:
	default:
	}
}

// Store returns the config store.
func (n *Node) Store() *nodeconfig.Store {
	return n.store
}

// Pipeline returns the OTA pipeline.
func (n *Node) Pipeline() *ota.Pipeline {
	return n.pipeline
}

// Producer registers an additional input source. It must be called before Run.
func (n *Node) Producer(name string, size int) *input.Producer {
	return n.dispatcher.Producer(name, size)
}

// ButtonProducer is the queue the physical button feeds.
func (n *Node) ButtonProducer() *input.Producer {
	return n.button
}

// Boot loads the config store. Non-fatal load problems are logged; an
// unreadable identity under FailOnCorruption is returned.
func (n *Node) Boot() (nodeconfig.Record, error) {
	rec, err := n.store.Load()
	if err != nil {
		if nodeconfig.IsIdentityError(err) {
			return rec, err
		}
		logging.Warn("Config store loaded with errors", zap.Error(err))
	}
	n.record = rec
	if n.deps.Metrics != nil {
		n.deps.Metrics.SetBootCount(rec.BootCount)
	}
	return rec, nil
}

// Run starts the node and blocks until ctx ends (nil) or a restart is
// requested (*RestartError). Boot must have been called.
func (n *Node) Run(ctx context.Context) error {
	if delay := time.Duration(n.record.StartDelay) * time.Second; delay > 0 {
		logging.Info("Waiting before start", zap.Duration("delay", delay))
		select {
		case <-n.clk.After(delay):
		case <-ctx.Done():
			return nil
		}
	}

	if n.deps.OpenButton != nil {
		btn, err := n.deps.OpenButton(func(ev input.Event) { n.button.TrySend(ev) })
		if err != nil {
			return err
		}
		defer btn.Close()
	}

	n.bridge = mesh.NewBridge(n.deps.Mesh, n.store, n.frameSink(), int(n.record.Mesh.QueueSize))
	n.window = provisioning.NewWindow(n.bridge, n.deps.Advertiser, n.deps.Indicator, n.clk, n.settings.Provisioning.Window)
	n.bridge.OnProvisioned = func(mesh.PairingResult) { n.window.Close() }
	if n.deps.Metrics != nil {
		n.bridge.OnDrop = n.deps.Metrics.MeshDropped
	}
	if err := n.bridge.Start(ctx, n.record); err != nil {
		logging.Error("Mesh unavailable, continuing without it", zap.Error(err))
	}
	defer n.bridge.Close()

	n.startTelemetry(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.dispatcher.Run(gctx) })
	g.Go(func() error { return n.bridge.Run(gctx) })
	if n.publisher != nil {
		g.Go(func() error { return n.publisher.RunStats(gctx, n.settings.MQTT.StatsInterval) })
	}
	if n.deps.Metrics != nil && n.settings.Metrics.Listen != "" {
		g.Go(func() error {
			return n.deps.Metrics.Serve(gctx, n.settings.Metrics.Listen, map[string]http.Handler{
				"/ota": n.otaHandler(gctx),
			})
		})
	}
	g.Go(func() error {
		select {
		case reason := <-n.restart:
			return &RestartError{Reason: reason}
		case <-gctx.Done():
			return nil
		}
	})

	logging.Info("Node running",
		zap.String("version", version.Short()),
		zap.String("name", n.record.NodeName),
		zap.Stringer("guid", n.record.GUID),
		zap.Bool("provisioned", n.record.Provisioned),
		zap.Uint32("boot_count", n.record.BootCount))

	return g.Wait()
}

func (n *Node) frameSink() mesh.FrameSink {
	if n.publisher == nil {
		return nil
	}
	return n.publisher
}

func (n *Node) startTelemetry(ctx context.Context) {
	c, ok := n.deps.Telemetry.(*telemetry.MQTTClient)
	if !ok {
		return
	}
	if err := n.deps.Indicator.Start(hw.PatternConnecting); err != nil {
		logging.Warn("Failed to show connecting pattern", zap.Error(err))
	}
	c.OnStateChange = func(up bool) {
		if n.deps.Metrics != nil {
			n.deps.Metrics.BrokerConnected(up)
		}
		var err error
		if up {
			err = n.deps.Indicator.Stop(hw.PatternConnecting)
		} else {
			err = n.deps.Indicator.Start(hw.PatternConnecting)
		}
		if err != nil {
			logging.Warn("Failed to update connecting pattern", zap.Error(err))
		}
	}
	c.Start(ctx)
}

// StartProvisioning opens the pairing window.
func (n *Node) StartProvisioning(ctx context.Context) error {
	if n.window == nil {
		return errors.New("node is not running")
	}
	rec := n.store.Snapshot()
	return n.window.Start(ctx, provisioning.Info{
		GUID:    rec.GUID.String(),
		Name:    rec.NodeName,
		Version: version.Short(),
	})
}

// FactoryReset wipes the identity and restarts once any OTA session is over.
func (n *Node) FactoryReset(ctx context.Context) error {
	return n.actuator.FactoryResetAndRestart(ctx, n.settings.Restart.GraceDelay)
}

// BeginOTA runs one update. On success the node restarts into the new image
// after the grace delay.
func (n *Node) BeginOTA(ctx context.Context, url string) (uint64, error) {
	if n.actuator.Pending() {
		return 0, ErrRestartPending
	}
	if err := n.deps.Indicator.Start(hw.PatternOTA); err != nil {
		logging.Warn("Failed to show OTA pattern", zap.Error(err))
	}
	written, err := n.pipeline.PerformUpdate(ctx, url)
	if serr := n.deps.Indicator.Stop(hw.PatternOTA); serr != nil {
		logging.Warn("Failed to clear OTA pattern", zap.Error(serr))
	}
	if err != nil {
		return written, err
	}
	if rerr := n.actuator.Restart(ctx, n.settings.Restart.GraceDelay); rerr != nil {
		return written, rerr
	}
	return written, nil
}

// otaHandler starts an update from POST /ota?url=...
func (n *Node) otaHandler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		url := r.FormValue("url")
		if url == "" {
			http.Error(w, "missing url", http.StatusBadRequest)
			return
		}
		if n.pipeline.Gate().Active() {
			http.Error(w, "update in progress", http.StatusConflict)
			return
		}
		if n.actuator.Pending() {
			http.Error(w, "restart pending", http.StatusConflict)
			return
		}
		go func() {
			if _, err := n.BeginOTA(ctx, url); err != nil {
				logging.Error("OTA request failed", zap.String("url", url), zap.Error(err))
			}
		}()
		w.WriteHeader(http.StatusAccepted)
	})
}
