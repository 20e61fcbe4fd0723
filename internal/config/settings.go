package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "SENSORNODE"

// Settings is the full runtime configuration of the node process.
type Settings struct {
	Log          LogSettings          `mapstructure:"log" yaml:"log"`
	Store        StoreSettings        `mapstructure:"store" yaml:"store"`
	OTA          OTASettings          `mapstructure:"ota" yaml:"ota"`
	GPIO         GPIOSettings         `mapstructure:"gpio" yaml:"gpio"`
	MQTT         MQTTSettings         `mapstructure:"mqtt" yaml:"mqtt"`
	Mesh         MeshSettings         `mapstructure:"mesh" yaml:"mesh"`
	Provisioning ProvisioningSettings `mapstructure:"provisioning" yaml:"provisioning"`
	Metrics      MetricsSettings      `mapstructure:"metrics" yaml:"metrics"`
	Restart      RestartSettings      `mapstructure:"restart" yaml:"restart"`
}

type LogSettings struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// StoreSettings locates the non-volatile store file.
type StoreSettings struct {
	Path string `mapstructure:"path" yaml:"path"`
	// IdentityPolicy is "regenerate" or "fail".
	IdentityPolicy string `mapstructure:"identity_policy" yaml:"identity_policy"`
}

type OTASettings struct {
	PartitionDir   string        `mapstructure:"partition_dir" yaml:"partition_dir"`
	ChunkSize      int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	RetryInterval  time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	MaxAttempts    uint64        `mapstructure:"max_attempts" yaml:"max_attempts"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// ExpectedDigest is an optional hex BLAKE3 digest of the image.
	ExpectedDigest string `mapstructure:"expected_digest" yaml:"expected_digest"`
}

type GPIOSettings struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Chip        string        `mapstructure:"chip" yaml:"chip"`
	ButtonLine  int           `mapstructure:"button_line" yaml:"button_line"`
	LEDLine     int           `mapstructure:"led_line" yaml:"led_line"`
	ActiveLow   bool          `mapstructure:"active_low" yaml:"active_low"`
	Debounce    time.Duration `mapstructure:"debounce" yaml:"debounce"`
	DoubleClick time.Duration `mapstructure:"double_click" yaml:"double_click"`
	LongPress   time.Duration `mapstructure:"long_press" yaml:"long_press"`
	HoldRepeat  time.Duration `mapstructure:"hold_repeat" yaml:"hold_repeat"`
}

type MQTTSettings struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Broker        string        `mapstructure:"broker" yaml:"broker"`
	ClientID      string        `mapstructure:"client_id" yaml:"client_id"`
	Username      string        `mapstructure:"username" yaml:"username"`
	Password      string        `mapstructure:"password" yaml:"password,omitempty"`
	TopicPrefix   string        `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	QoS           byte          `mapstructure:"qos" yaml:"qos"`
	StatsInterval time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
}

type MeshSettings struct {
	// GatewayURL is the websocket endpoint of the mesh gateway. Empty runs
	// the node without a mesh link.
	GatewayURL string `mapstructure:"gateway_url" yaml:"gateway_url"`
}

type ProvisioningSettings struct {
	Window  time.Duration `mapstructure:"window" yaml:"window"`
	Service string        `mapstructure:"service" yaml:"service"`
	Domain  string        `mapstructure:"domain" yaml:"domain"`
	Port    int           `mapstructure:"port" yaml:"port"`
}

type MetricsSettings struct {
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `mapstructure:"listen" yaml:"listen"`
}

type RestartSettings struct {
	ExitCode   int           `mapstructure:"exit_code" yaml:"exit_code"`
	GraceDelay time.Duration `mapstructure:"grace_delay" yaml:"grace_delay"`
}

// Defaults returns the settings used when no file or override is present.
func Defaults() Settings {
	return Settings{
		Log: LogSettings{Level: "info"},
		Store: StoreSettings{
			Path:           dataPath("nvs.cbor"),
			IdentityPolicy: "regenerate",
		},
		OTA: OTASettings{
			PartitionDir:   dataPath("partitions"),
			ChunkSize:      1024,
			RetryInterval:  time.Second,
			MaxAttempts:    0,
			RequestTimeout: 30 * time.Second,
		},
		GPIO: GPIOSettings{
			Enabled:     true,
			Chip:        "gpiochip0",
			ButtonLine:  0,
			LEDLine:     2,
			ActiveLow:   true,
			Debounce:    30 * time.Millisecond,
			DoubleClick: 400 * time.Millisecond,
			LongPress:   time.Second,
			HoldRepeat:  500 * time.Millisecond,
		},
		MQTT: MQTTSettings{
			Enabled:       true,
			Broker:        "tcp://localhost:1883",
			TopicPrefix:   "droplet/alpha",
			StatsInterval: time.Minute,
		},
		Provisioning: ProvisioningSettings{
			Window:  30 * time.Second,
			Service: "_sensornode._udp",
			Domain:  "local.",
			Port:    5683,
		},
		Restart: RestartSettings{
			ExitCode:   3,
			GraceDelay: 2 * time.Second,
		},
	}
}

// setDefaults registers every default with viper so that environment
// overrides work for keys absent from the file.
func setDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.identity_policy", d.Store.IdentityPolicy)

	v.SetDefault("ota.partition_dir", d.OTA.PartitionDir)
	v.SetDefault("ota.chunk_size", d.OTA.ChunkSize)
	v.SetDefault("ota.retry_interval", d.OTA.RetryInterval)
	v.SetDefault("ota.max_attempts", d.OTA.MaxAttempts)
	v.SetDefault("ota.request_timeout", d.OTA.RequestTimeout)
	v.SetDefault("ota.expected_digest", d.OTA.ExpectedDigest)

	v.SetDefault("gpio.enabled", d.GPIO.Enabled)
	v.SetDefault("gpio.chip", d.GPIO.Chip)
	v.SetDefault("gpio.button_line", d.GPIO.ButtonLine)
	v.SetDefault("gpio.led_line", d.GPIO.LEDLine)
	v.SetDefault("gpio.active_low", d.GPIO.ActiveLow)
	v.SetDefault("gpio.debounce", d.GPIO.Debounce)
	v.SetDefault("gpio.double_click", d.GPIO.DoubleClick)
	v.SetDefault("gpio.long_press", d.GPIO.LongPress)
	v.SetDefault("gpio.hold_repeat", d.GPIO.HoldRepeat)

	v.SetDefault("mqtt.enabled", d.MQTT.Enabled)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.topic_prefix", d.MQTT.TopicPrefix)
	v.SetDefault("mqtt.qos", d.MQTT.QoS)
	v.SetDefault("mqtt.stats_interval", d.MQTT.StatsInterval)

	v.SetDefault("mesh.gateway_url", d.Mesh.GatewayURL)

	v.SetDefault("provisioning.window", d.Provisioning.Window)
	v.SetDefault("provisioning.service", d.Provisioning.Service)
	v.SetDefault("provisioning.domain", d.Provisioning.Domain)
	v.SetDefault("provisioning.port", d.Provisioning.Port)

	v.SetDefault("metrics.listen", d.Metrics.Listen)

	v.SetDefault("restart.exit_code", d.Restart.ExitCode)
	v.SetDefault("restart.grace_delay", d.Restart.GraceDelay)
}

// Load reads settings from path, or searches the working directory and the
// config directory when path is empty. A missing file is not an error.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(settingsName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (s *Settings) Validate() error {
	if s.OTA.ChunkSize <= 0 {
		return fmt.Errorf("ota.chunk_size must be positive, got %d", s.OTA.ChunkSize)
	}
	if s.OTA.RetryInterval < 0 {
		return fmt.Errorf("ota.retry_interval must not be negative")
	}
	switch s.Store.IdentityPolicy {
	case "regenerate", "fail":
	default:
		return fmt.Errorf("store.identity_policy must be \"regenerate\" or \"fail\", got %q", s.Store.IdentityPolicy)
	}
	if s.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", s.MQTT.QoS)
	}
	return nil
}
