// Package metrics exposes node counters in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/logging"
)

// Metrics holds the node collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	bootCount        prometheus.Gauge
	storeFailures    *prometheus.CounterVec
	buttonActions    *prometheus.CounterVec
	otaSessions      *prometheus.CounterVec
	otaBytes         prometheus.Counter
	telemetryDropped prometheus.Counter
	brokerConnected  prometheus.Gauge
	meshDropped      *prometheus.CounterVec
}

// New registers the node collectors and the Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		bootCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "sensornode_boot_count",
			Help: "The persisted boot counter after this boot.",
		}),
		storeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sensornode_store_write_failures_total",
			Help: "The number of failed config store writes (per key).",
		}, []string{"key"}),
		buttonActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sensornode_button_actions_total",
			Help: "The number of actions triggered by input events (per source and action).",
		}, []string{"source", "action"}),
		otaSessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sensornode_ota_sessions_total",
			Help: "The number of finished OTA sessions (per final state).",
		}, []string{"result"}),
		otaBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "sensornode_ota_bytes_written_total",
			Help: "The number of image bytes written to the update partition.",
		}),
		telemetryDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "sensornode_telemetry_dropped_total",
			Help: "The number of payloads dropped because the broker was unavailable.",
		}),
		brokerConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "sensornode_broker_connected",
			Help: "1 while the MQTT broker connection is up.",
		}),
		meshDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sensornode_mesh_dropped_total",
			Help: "The number of mesh callbacks dropped because a queue was full (per kind).",
		}, []string{"kind"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SetBootCount(n uint32) {
	m.bootCount.Set(float64(n))
}

func (m *Metrics) StoreWriteFailed(key string) {
	m.storeFailures.With(prometheus.Labels{"key": key}).Inc()
}

func (m *Metrics) ButtonAction(source, action string) {
	m.buttonActions.With(prometheus.Labels{"source": source, "action": action}).Inc()
}

// OTASession records a finished session and the bytes it wrote.
func (m *Metrics) OTASession(result string, written uint64) {
	m.otaSessions.With(prometheus.Labels{"result": result}).Inc()
	m.otaBytes.Add(float64(written))
}

func (m *Metrics) TelemetryDropped() {
	m.telemetryDropped.Inc()
}

func (m *Metrics) BrokerConnected(up bool) {
	if up {
		m.brokerConnected.Set(1)
	} else {
		m.brokerConnected.Set(0)
	}
}

func (m *Metrics) MeshDropped(kind string) {
	m.meshDropped.With(prometheus.Labels{"kind": kind}).Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics endpoint on addr until ctx is done. extra mounts
// additional handlers on the same listener.
func (m *Metrics) Serve(ctx context.Context, addr string, extra map[string]http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	for pattern, h := range extra {
		mux.Handle(pattern, h)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logging.Info("Starting metrics server", zap.String("bind", addr))

	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
