package telemetry

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/clock"
	"github.com/muurk/sensornode/internal/logging"
	"github.com/muurk/sensornode/internal/mesh"
)

// Topic suffixes below the configured prefix.
const (
	TopicEvent        = "event"
	TopicStatsReceive = "statistics/rcvcnt"
	TopicStatsSend    = "statistics/txcnt"
)

// DefaultStatsInterval is how often RunStats publishes counters.
const DefaultStatsInterval = 60 * time.Second

// Counters are the publisher's traffic totals.
type Counters struct {
	// Received counts frames forwarded from the mesh.
	Received uint64
	// Sent counts payloads accepted by the broker.
	Sent    uint64
	Dropped uint64
}

// Publisher sends payloads to a Client when it is connected.
type Publisher struct {
	client Client
	prefix string
	qos    byte
	clk    clock.Clock

	received atomic.Uint64
	sent     atomic.Uint64
	dropped  atomic.Uint64

	// OnDrop is called for every discarded payload.
	OnDrop func(topic string)
}

// NewPublisher creates a publisher for topics under prefix.
func NewPublisher(client Client, prefix string, qos byte, clk clock.Clock) *Publisher {
	if clk == nil {
		clk = clock.Real()
	}
	return &Publisher{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		qos:    qos,
		clk:    clk,
	}
}

// Topic returns prefix/suffix.
func (p *Publisher) Topic(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "/" + suffix
}

// Publish sends payload to topic. One trailing line feed is removed. It
// returns false when the payload was dropped or empty.
func (p *Publisher) Publish(topic string, payload []byte) bool {
	if n := len(payload); n > 0 && payload[n-1] == '\n' {
		payload = payload[:n-1]
	}
	if len(payload) == 0 {
		return false
	}

	if !p.client.IsConnected() {
		p.drop(topic, "Disconnected from broker, payload dropped", nil)
		return false
	}
	if err := p.client.Publish(topic, p.qos, payload); err != nil {
		p.drop(topic, "Publish failed, payload dropped", err)
		return false
	}
	p.sent.Add(1)
	return true
}

func (p *Publisher) drop(topic, msg string, err error) {
	p.dropped.Add(1)
	fields := []zap.Field{zap.String("topic", topic)}
	if err != nil {
		fields = append(fields, zap.Error(err))
		logging.Warn(msg, fields...)
	} else {
		logging.Debug(msg, fields...)
	}
	if p.OnDrop != nil {
		p.OnDrop(topic)
	}
}

// Forward publishes a mesh frame on the event topic.
func (p *Publisher) Forward(f mesh.Frame) {
	p.received.Add(1)
	p.Publish(p.Topic(TopicEvent), f.Payload)
}

// Counters returns a snapshot of the totals.
func (p *Publisher) Counters() Counters {
	return Counters{
		Received: p.received.Load(),
		Sent:     p.sent.Load(),
		Dropped:  p.dropped.Load(),
	}
}

// RunStats publishes the receive and send counters every interval until ctx
// is done.
func (p *Publisher) RunStats(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	ticker := p.clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c := p.Counters()
			p.Publish(p.Topic(TopicStatsReceive), []byte(strconv.FormatUint(c.Received, 10)))
			p.Publish(p.Topic(TopicStatsSend), []byte(strconv.FormatUint(c.Sent, 10)))
		}
	}
}
