package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/logging"
)

const publishTimeout = 5 * time.Second

// Client is a broker connection.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, payload []byte) error
}

// MQTTOptions configures an MQTTClient.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// RetryInterval is the delay between connection attempts.
	RetryInterval time.Duration
}

// MQTTClient is a Client backed by paho. The connected flag follows the
// OnConnect and ConnectionLost callbacks.
type MQTTClient struct {
	conn      paho.Client
	broker    string
	connected atomic.Bool

	// OnStateChange is called with the new connected state.
	OnStateChange func(connected bool)
}

// NewMQTTClient creates a client. Call Start to connect.
func NewMQTTClient(opts MQTTOptions) *MQTTClient {
	c := &MQTTClient{broker: opts.Broker}

	po := paho.NewClientOptions()
	po.AddBroker(opts.Broker)
	po.SetClientID(opts.ClientID)
	po.SetUsername(opts.Username)
	po.SetPassword(opts.Password)
	po.SetCleanSession(true)
	po.SetAutoReconnect(true)
	po.SetConnectRetry(true)
	if opts.RetryInterval > 0 {
		po.SetConnectRetryInterval(opts.RetryInterval)
		po.SetMaxReconnectInterval(opts.RetryInterval)
	}
	po.SetOnConnectHandler(c.onConnected)
	po.SetConnectionLostHandler(c.onConnectionLost)

	c.conn = paho.NewClient(po)
	return c
}

func (c *MQTTClient) onConnected(paho.Client) {
	c.connected.Store(true)
	logging.Info("Connected to MQTT broker", zap.String("broker", c.broker))
	if c.OnStateChange != nil {
		c.OnStateChange(true)
	}
}

func (c *MQTTClient) onConnectionLost(_ paho.Client, reason error) {
	c.connected.Store(false)
	logging.Warn("MQTT connection lost", zap.String("broker", c.broker), zap.Error(reason))
	if c.OnStateChange != nil {
		c.OnStateChange(false)
	}
}

// Start begins connecting in the background. It returns immediately; the
// client keeps retrying until Close.
func (c *MQTTClient) Start(ctx context.Context) {
	logging.Info("Connecting to MQTT broker", zap.String("broker", c.broker))
	token := c.conn.Connect()
	go func() {
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				logging.Error("MQTT connect failed", zap.String("broker", c.broker), zap.Error(err))
			}
		case <-ctx.Done():
		}
	}()
}

// IsConnected reports whether the broker connection is up.
func (c *MQTTClient) IsConnected() bool {
	return c.connected.Load()
}

// Publish sends payload and waits for the broker acknowledgement.
func (c *MQTTClient) Publish(topic string, qos byte, payload []byte) error {
	token := c.conn.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: %w", topic, errPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

var errPublishTimeout = errors.New("timed out waiting for broker")

// Close disconnects, allowing in-flight work 250ms to finish.
func (c *MQTTClient) Close() {
	c.conn.Disconnect(250)
	c.connected.Store(false)
}
