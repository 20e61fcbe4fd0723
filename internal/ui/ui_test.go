package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/sensornode/internal/nodeconfig"
	"github.com/muurk/sensornode/internal/ota"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{4096, "4.0 KiB"},
		{1536 * 1024, "1.5 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestClampWidth(t *testing.T) {
	if got := clampWidth(10); got != MinTerminalWidth {
		t.Errorf("clampWidth(10) = %d, want %d", got, MinTerminalWidth)
	}
	if got := clampWidth(500); got != MaxContentWidth {
		t.Errorf("clampWidth(500) = %d, want %d", got, MaxContentWidth)
	}
	if got := clampWidth(80); got != 80 {
		t.Errorf("clampWidth(80) = %d, want 80", got)
	}
}

func TestRenderRecordListsEveryKey(t *testing.T) {
	rec := nodeconfig.Defaults()
	out := RenderRecord(rec)

	for _, f := range nodeconfig.Fields() {
		if !strings.Contains(out, f.Key()) {
			t.Errorf("record table missing key %q", f.Key())
		}
	}
	if !strings.Contains(out, "Sensor Node") {
		t.Error("record table missing node name")
	}
}

func TestResultRendersDetailsInOrder(t *testing.T) {
	out := NewSuccessResult("Update committed",
		Detail{Key: "Written", Value: "4.0 KiB"},
		Detail{Key: "Slot", Value: "ota_1"},
	).SetWidth(80).Render()

	w, s := strings.Index(out, "Written"), strings.Index(out, "Slot")
	if w < 0 || s < 0 || w > s {
		t.Errorf("details out of order in:\n%s", out)
	}
	if !strings.Contains(out, "SUCCESS") {
		t.Error("success box missing its label")
	}
}

func TestFailureResultShowsError(t *testing.T) {
	out := NewFailureResult("Update failed", errors.New("stream closed"), "Check the URL").SetWidth(80).Render()
	for _, want := range []string{"FAILED", "stream closed", "Check the URL"} {
		if !strings.Contains(out, want) {
			t.Errorf("failure box missing %q", want)
		}
	}
}

func TestResultFitsWidth(t *testing.T) {
	out := NewWarningResult("Partial", Detail{Key: "a", Value: "b"}).SetWidth(70).Render()
	if got := lipgloss.Width(out); got > 70 {
		t.Errorf("rendered width = %d, want <= 70", got)
	}
}

func TestTransferProgress(t *testing.T) {
	p := NewTransferProgress(80)
	out := p.Render(ota.Progress{Session: ota.Session{
		State:    ota.StateDownloading,
		Expected: 4096,
		Written:  2048,
	}})
	for _, want := range []string{"Downloading", "50%", "2.0 KiB / 4.0 KiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("progress %q missing %q", out, want)
		}
	}
}

func TestPrinterFoldsProgressStates(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	for _, st := range []ota.State{
		ota.StateConnecting,
		ota.StateDownloading,
		ota.StateWriting,
		ota.StateDownloading,
		ota.StateWriting,
		ota.StateVerifying,
		ota.StateCommitted,
	} {
		p.PrintProgress(ota.Progress{Session: ota.Session{State: st, Expected: 10}})
	}

	if got := strings.Count(buf.String(), "\n"); got != 4 {
		t.Errorf("printed %d lines, want 4:\n%s", got, buf.String())
	}
}

func TestConfirmDangerousOperation(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"I AGREE\n", true},
		{"  I AGREE  \n", true},
		{"i agree\n", false},
		{"yes\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := FactoryResetConfirmation(strings.NewReader(tt.input), &out); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
