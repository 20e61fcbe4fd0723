package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()

	m.SetBootCount(7)
	m.StoreWriteFailed("drop_ch")
	m.StoreWriteFailed("drop_ch")
	m.ButtonAction("button0", "Restart")
	m.OTASession("Committed", 4096)
	m.OTASession("Failed", 2048)
	m.TelemetryDropped()
	m.BrokerConnected(true)
	m.MeshDropped("frame")

	if got := testutil.ToFloat64(m.bootCount); got != 7 {
		t.Errorf("boot count = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.storeFailures.WithLabelValues("drop_ch")); got != 2 {
		t.Errorf("store failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.buttonActions.WithLabelValues("button0", "Restart")); got != 1 {
		t.Errorf("button actions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.otaSessions.WithLabelValues("Failed")); got != 1 {
		t.Errorf("failed sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.otaBytes); got != 6144 {
		t.Errorf("ota bytes = %v, want 6144", got)
	}
	if got := testutil.ToFloat64(m.brokerConnected); got != 1 {
		t.Errorf("broker connected = %v, want 1", got)
	}
	m.BrokerConnected(false)
	if got := testutil.ToFloat64(m.brokerConnected); got != 0 {
		t.Errorf("broker connected = %v, want 0", got)
	}
}

func TestHandlerExposesNodeMetrics(t *testing.T) {
	m := New()
	m.SetBootCount(3)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{"sensornode_boot_count 3", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
