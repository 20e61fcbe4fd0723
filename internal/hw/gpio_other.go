//go:build !linux

package hw

import (
	"errors"
	"time"

	"github.com/muurk/sensornode/internal/input"
)

var errNoGPIO = errors.New("GPIO character devices are only available on linux")

type ButtonConfig struct {
	Chip      string
	Line      int
	ActiveLow bool
	Debounce  time.Duration
	Timing    ClassifierOptions
}

type Button struct{}

func OpenButton(int, ButtonConfig, func(input.Event)) (*Button, error) {
	return nil, input.NewDriverError("open button", errNoGPIO)
}

func (b *Button) Close() error { return nil }

type LEDConfig struct {
	Chip      string
	Line      int
	ActiveLow bool
}

type GPIOIndicator struct {
	*Blinker
}

func OpenIndicator(LEDConfig, PatternTable) (*GPIOIndicator, error) {
	return nil, input.NewDriverError("open LED", errNoGPIO)
}

func (g *GPIOIndicator) Close() error { return nil }
