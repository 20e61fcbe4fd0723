package node

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/config"
	"github.com/muurk/sensornode/internal/hw"
	"github.com/muurk/sensornode/internal/input"
	"github.com/muurk/sensornode/internal/logging"
	"github.com/muurk/sensornode/internal/mesh"
	"github.com/muurk/sensornode/internal/metrics"
	"github.com/muurk/sensornode/internal/nvs"
	"github.com/muurk/sensornode/internal/ota"
	"github.com/muurk/sensornode/internal/provisioning"
	"github.com/muurk/sensornode/internal/telemetry"
)

// StoreNamespace is the namespace of the node config in the NVS file.
const StoreNamespace = "sensornode"

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// OpenDeps opens the real collaborators described by settings. The caller
// owns the result and must Close it.
func OpenDeps(s config.Settings) (*Deps, error) {
	deps := &Deps{}
	ok := false
	defer func() {
		if !ok {
			deps.Close()
		}
	}()

	store, err := nvs.OpenFile(s.Store.Path, StoreNamespace)
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	deps.NVS = store

	parts, err := ota.OpenDir(s.OTA.PartitionDir)
	if err != nil {
		return nil, fmt.Errorf("open partitions: %w", err)
	}
	deps.Partitions = parts
	deps.Transport = ota.NewHTTPTransport(s.OTA.RequestTimeout)

	if s.Mesh.GatewayURL != "" {
		link := mesh.NewWSLink(s.Mesh.GatewayURL)
		deps.Mesh = link
		deps.closers = append(deps.closers, link)
	}

	if s.MQTT.Enabled {
		clientID := s.MQTT.ClientID
		if clientID == "" {
			clientID = "sensornode-" + uuid.NewString()
		}
		c := telemetry.NewMQTTClient(telemetry.MQTTOptions{
			Broker:   s.MQTT.Broker,
			ClientID: clientID,
			Username: s.MQTT.Username,
			Password: s.MQTT.Password,
		})
		deps.Telemetry = c
		deps.closers = append(deps.closers, closerFunc(func() error {
			c.Close()
			return nil
		}))
	}

	deps.Indicator = hw.LogIndicator{}
	if s.GPIO.Enabled {
		led, lerr := hw.OpenIndicator(hw.LEDConfig{
			Chip:      s.GPIO.Chip,
			Line:      s.GPIO.LEDLine,
			ActiveLow: s.GPIO.ActiveLow,
		}, hw.DefaultPatterns())
		if lerr != nil {
			logging.Warn("LED unavailable, logging patterns instead", zap.Error(lerr))
		} else {
			deps.Indicator = led
			deps.closers = append(deps.closers, led)
		}
		deps.OpenButton = buttonOpener(s.GPIO)
	}

	adv := provisioning.NewZeroconfAdvertiser()
	if s.Provisioning.Service != "" {
		adv.Service = s.Provisioning.Service
	}
	if s.Provisioning.Domain != "" {
		adv.Domain = s.Provisioning.Domain
	}
	if s.Provisioning.Port > 0 {
		adv.Port = s.Provisioning.Port
	}
	deps.Advertiser = adv

	if s.Metrics.Listen != "" {
		deps.Metrics = metrics.New()
	}

	ok = true
	return deps, nil
}

func buttonOpener(g config.GPIOSettings) ButtonOpener {
	return func(emit func(input.Event)) (io.Closer, error) {
		timing := hw.DefaultClassifierOptions()
		if g.DoubleClick > 0 {
			timing.DoubleClick = g.DoubleClick
		}
		if g.LongPress > 0 {
			timing.LongPress = g.LongPress
		}
		if g.HoldRepeat > 0 {
			timing.HoldRepeat = g.HoldRepeat
		}
		btn, err := hw.OpenButton(0, hw.ButtonConfig{
			Chip:      g.Chip,
			Line:      g.ButtonLine,
			ActiveLow: g.ActiveLow,
			Debounce:  g.Debounce,
			Timing:    timing,
		}, emit)
		if err != nil {
			return nil, err
		}
		return btn, nil
	}
}
