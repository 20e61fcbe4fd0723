package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if !strings.Contains(configDir, "sensornode") {
		t.Errorf("GetConfigDir() = %v, should contain 'sensornode'", configDir)
	}

	if runtime.GOOS == "linux" && os.Getenv("XDG_CONFIG_HOME") == "" {
		if !strings.Contains(configDir, ".config") {
			t.Errorf("Unix config dir should contain '.config', got: %v", configDir)
		}
	}
}

func TestGetConfigDirXDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG lookup only applies on linux")
	}
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if configDir != filepath.Join("/tmp/xdg", "sensornode") {
		t.Errorf("GetConfigDir() = %v, want /tmp/xdg/sensornode", configDir)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	chdir(t, t.TempDir())

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.OTA.ChunkSize != 1024 {
		t.Errorf("OTA.ChunkSize = %v, want 1024", s.OTA.ChunkSize)
	}
	if s.OTA.RetryInterval != time.Second {
		t.Errorf("OTA.RetryInterval = %v, want 1s", s.OTA.RetryInterval)
	}
	if s.Provisioning.Window != 30*time.Second {
		t.Errorf("Provisioning.Window = %v, want 30s", s.Provisioning.Window)
	}
	if s.Restart.GraceDelay != 2*time.Second {
		t.Errorf("Restart.GraceDelay = %v, want 2s", s.Restart.GraceDelay)
	}
	if s.MQTT.TopicPrefix != "droplet/alpha" {
		t.Errorf("MQTT.TopicPrefix = %q, want droplet/alpha", s.MQTT.TopicPrefix)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensornode.yaml")
	content := `
ota:
  chunk_size: 512
  max_attempts: 5
mqtt:
  broker: tcp://broker.example:1883
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SENSORNODE_MQTT_BROKER", "tcp://override:1883")
	t.Setenv("SENSORNODE_OTA_RETRY_INTERVAL", "250ms")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.OTA.ChunkSize != 512 {
		t.Errorf("OTA.ChunkSize = %v, want 512", s.OTA.ChunkSize)
	}
	if s.OTA.MaxAttempts != 5 {
		t.Errorf("OTA.MaxAttempts = %v, want 5", s.OTA.MaxAttempts)
	}
	if s.MQTT.Broker != "tcp://override:1883" {
		t.Errorf("MQTT.Broker = %v, want env override", s.MQTT.Broker)
	}
	if s.OTA.RetryInterval != 250*time.Millisecond {
		t.Errorf("OTA.RetryInterval = %v, want 250ms", s.OTA.RetryInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(*Settings) {}, false},
		{"zero chunk", func(s *Settings) { s.OTA.ChunkSize = 0 }, true},
		{"bad policy", func(s *Settings) { s.Store.IdentityPolicy = "ignore" }, true},
		{"fail policy", func(s *Settings) { s.Store.IdentityPolicy = "fail" }, false},
		{"qos 3", func(s *Settings) { s.MQTT.QoS = 3 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sensornode.yaml")

	written, err := WriteDefault(path)
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if written != path {
		t.Errorf("WriteDefault() path = %v, want %v", written, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# Sensor node runtime settings") {
		t.Error("settings file should start with the header comment")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file should not remain after save")
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of written defaults error = %v", err)
	}
	if s.GPIO.HoldRepeat != 500*time.Millisecond {
		t.Errorf("GPIO.HoldRepeat = %v, want 500ms", s.GPIO.HoldRepeat)
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent to testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir(%q) error = %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatalf("restoring working directory: %v", err)
		}
	})
}
