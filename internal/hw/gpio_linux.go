//go:build linux

package hw

import (
	"fmt"
	"time"

	gpiod "github.com/warthog618/go-gpiocdev"
	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/clock"
	"github.com/muurk/sensornode/internal/input"
	"github.com/muurk/sensornode/internal/logging"
)

// ButtonConfig locates and times a button line.
type ButtonConfig struct {
	Chip      string
	Line      int
	ActiveLow bool
	Debounce  time.Duration
	Timing    ClassifierOptions
}

// Button is a debounced GPIO button.
type Button struct {
	line       *gpiod.Line
	classifier *Classifier
}

// OpenButton requests the button line and starts classifying edges. emit is
// called from the driver's event goroutine and must not block.
func OpenButton(id int, cfg ButtonConfig, emit func(input.Event)) (*Button, error) {
	cls, err := NewClassifier(id, cfg.Timing, clock.Real(), emit)
	if err != nil {
		return nil, input.NewDriverError("invalid button timing", err)
	}

	b := &Button{classifier: cls}

	opts := []gpiod.LineReqOption{
		gpiod.AsInput,
		gpiod.WithBothEdges,
		gpiod.WithEventHandler(b.handle),
	}
	if cfg.ActiveLow {
		opts = append(opts, gpiod.AsActiveLow, gpiod.WithPullUp)
	}
	if cfg.Debounce > 0 {
		opts = append(opts, gpiod.WithDebounce(cfg.Debounce))
	}

	line, err := gpiod.RequestLine(cfg.Chip, cfg.Line, opts...)
	if err != nil {
		return nil, input.NewDriverError(fmt.Sprintf("request button %s:%d", cfg.Chip, cfg.Line), err)
	}
	b.line = line

	logging.Info("Button ready",
		zap.String("chip", cfg.Chip),
		zap.Int("line", cfg.Line),
		zap.Bool("active_low", cfg.ActiveLow),
	)
	return b, nil
}

func (b *Button) handle(evt gpiod.LineEvent) {
	switch evt.Type {
	case gpiod.LineEventRisingEdge:
		b.classifier.Press()
	case gpiod.LineEventFallingEdge:
		b.classifier.Release()
	}
}

// Close releases the line.
func (b *Button) Close() error {
	b.classifier.Close()
	if err := b.line.Close(); err != nil {
		return fmt.Errorf("close button line: %w", err)
	}
	return nil
}

// LEDConfig locates the LED line.
type LEDConfig struct {
	Chip      string
	Line      int
	ActiveLow bool
}

// GPIOIndicator is a Blinker on a GPIO output line.
type GPIOIndicator struct {
	*Blinker
	line *gpiod.Line
}

// OpenIndicator requests the LED line, initially off.
func OpenIndicator(cfg LEDConfig, patterns PatternTable) (*GPIOIndicator, error) {
	opts := []gpiod.LineReqOption{gpiod.AsOutput(0)}
	if cfg.ActiveLow {
		opts = append(opts, gpiod.AsActiveLow)
	}

	line, err := gpiod.RequestLine(cfg.Chip, cfg.Line, opts...)
	if err != nil {
		return nil, input.NewDriverError(fmt.Sprintf("request LED %s:%d", cfg.Chip, cfg.Line), err)
	}

	return &GPIOIndicator{
		Blinker: NewBlinker(line, patterns, clock.Real()),
		line:    line,
	}, nil
}

// Close turns the LED off and releases the line.
func (g *GPIOIndicator) Close() error {
	if err := g.Blinker.Close(); err != nil {
		logging.Warn("LED off failed", zap.Error(err))
	}
	if err := g.line.Close(); err != nil {
		return fmt.Errorf("close LED line: %w", err)
	}
	return nil
}
