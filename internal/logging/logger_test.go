package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"verbose", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitializeSilentWithoutLevel(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger should be a no-op when no level is configured")
	}
}

func TestHexDumpTruncates(t *testing.T) {
	data := make([]byte, 300)
	got := HexDump(data)

	if !strings.HasSuffix(got, "...") {
		t.Errorf("HexDump() of 300 bytes should be truncated, got len %d", len(got))
	}
	if len(got) != 2*maxDumpBytes+3 {
		t.Errorf("HexDump() length = %d, want %d", len(got), 2*maxDumpBytes+3)
	}
	if HexDump(nil) != "" {
		t.Error("HexDump(nil) should be empty")
	}
}

func TestASCIIDump(t *testing.T) {
	got := ASCIIDump([]byte{'o', 'k', 0x00, 0x7f, '!'})
	if got != "ok..!" {
		t.Errorf("ASCIIDump() = %q, want %q", got, "ok..!")
	}
}

type stringer string

func (s stringer) String() string { return string(s) }

func TestLogStateChange(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	LogStateChange("ota", stringer("Connecting"), stringer("Downloading"), zap.String("session", "abc"))

	entries := logs.FilterMessage("State change").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 state change entry, got %d", len(entries))
	}

	fields := entries[0].ContextMap()
	if fields["from"] != "Connecting" || fields["to"] != "Downloading" {
		t.Errorf("unexpected fields: %v", fields)
	}
	if fields["session"] != "abc" {
		t.Errorf("extra field missing: %v", fields)
	}
}
