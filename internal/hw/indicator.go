package hw

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/muurk/sensornode/internal/clock"
	"github.com/muurk/sensornode/internal/input"
	"github.com/muurk/sensornode/internal/logging"
)

// Pattern names an LED sequence.
type Pattern string

const (
	PatternConnecting   Pattern = "connecting"
	PatternProvisioning Pattern = "provisioning"
	PatternFactoryReset Pattern = "factory_reset"
	PatternOTA          Pattern = "ota"
	PatternError        Pattern = "error"
)

// Indicator plays LED patterns. Errors are for logging only.
type Indicator interface {
	Start(p Pattern) error
	Stop(p Pattern) error
}

// Step is one blink cycle.
type Step struct {
	On     time.Duration `yaml:"on"`
	Off    time.Duration `yaml:"off"`
	Repeat int           `yaml:"repeat"`
}

// PatternTable maps names to steps.
type PatternTable map[Pattern]Step

//go:embed patterns.yaml
var defaultPatterns []byte

// ParsePatterns parses a YAML pattern table.
func ParsePatterns(data []byte) (PatternTable, error) {
	var doc struct {
		Patterns PatternTable `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse LED patterns: %w", err)
	}
	for name, step := range doc.Patterns {
		if step.On <= 0 || step.Off <= 0 {
			return nil, fmt.Errorf("pattern %q: on and off must be positive", name)
		}
		if step.Repeat < 0 {
			return nil, fmt.Errorf("pattern %q: repeat must not be negative", name)
		}
	}
	return doc.Patterns, nil
}

// DefaultPatterns returns the embedded pattern table.
func DefaultPatterns() PatternTable {
	t, err := ParsePatterns(defaultPatterns)
	if err != nil {
		panic("hw: embedded patterns invalid: " + err.Error())
	}
	return t
}

// Names returns the pattern names in sorted order.
func (t PatternTable) Names() []string {
	names := make([]string, 0, len(t))
	for p := range t {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}

// Output is a single on/off line.
type Output interface {
	SetValue(v int) error
}

// Blinker plays patterns on an Output.
type Blinker struct {
	out      Output
	patterns PatternTable
	clock    clock.Clock

	mu     sync.Mutex
	active []Pattern
	gen    uint64
	timer  *clock.Timer
	closed bool
}

// NewBlinker creates a blinker. A nil clock uses the real clock.
func NewBlinker(out Output, patterns PatternTable, clk clock.Clock) *Blinker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Blinker{out: out, patterns: patterns, clock: clk}
}

// Start pushes p on top of the active patterns and plays it.
func (b *Blinker) Start(p Pattern) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return input.NewIndicatorError("indicator closed", nil)
	}
	if _, ok := b.patterns[p]; !ok {
		return input.NewIndicatorError(fmt.Sprintf("unknown pattern %q", p), nil)
	}
	b.remove(p)
	b.active = append(b.active, p)
	return b.playLocked()
}

// Stop removes p and resumes the pattern below it, or turns the LED off.
func (b *Blinker) Stop(p Pattern) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.remove(p) {
		return nil
	}
	return b.playLocked()
}

// Active returns the pattern currently shown, if any.
func (b *Blinker) Active() (Pattern, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.active) == 0 {
		return "", false
	}
	return b.active[len(b.active)-1], true
}

// Close stops blinking and turns the LED off.
func (b *Blinker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.active = nil
	return b.playLocked()
}

func (b *Blinker) remove(p Pattern) bool {
	for i, a := range b.active {
		if a == p {
			b.active = append(b.active[:i], b.active[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Blinker) playLocked() error {
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	if len(b.active) == 0 {
		if err := b.out.SetValue(0); err != nil {
			return input.NewIndicatorError("turning LED off", err)
		}
		return nil
	}

	top := b.active[len(b.active)-1]
	logging.Debug("LED pattern", zap.String("pattern", string(top)))
	if err := b.out.SetValue(1); err != nil {
		return input.NewIndicatorError(fmt.Sprintf("starting pattern %q", top), err)
	}
	b.scheduleLocked(top, b.patterns[top], b.gen, true, 1)
	return nil
}

// scheduleLocked arms the next edge of the running pattern. cycle counts
// completed on-phases, for patterns with a repeat limit.
func (b *Blinker) scheduleLocked(p Pattern, step Step, gen uint64, on bool, cycle int) {
	wait := step.Off
	if on {
		wait = step.On
	}
	b.timer = b.clock.AfterFunc(wait, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if gen != b.gen {
			return
		}

		if on && step.Repeat > 0 && cycle >= step.Repeat {
			b.remove(p)
			if err := b.playLocked(); err != nil {
				logging.Warn("LED update failed", zap.Error(err))
			}
			return
		}

		next := 0
		if !on {
			next = 1
		}
		if err := b.out.SetValue(next); err != nil {
			logging.Warn("LED update failed", zap.String("pattern", string(p)), zap.Error(err))
		}
		if on {
			b.scheduleLocked(p, step, gen, false, cycle)
		} else {
			b.scheduleLocked(p, step, gen, true, cycle+1)
		}
	})
}

// LogIndicator only logs patterns. Used when GPIO is disabled.
type LogIndicator struct{}

func (LogIndicator) Start(p Pattern) error {
	logging.Info("LED pattern start", zap.String("pattern", string(p)))
	return nil
}

func (LogIndicator) Stop(p Pattern) error {
	logging.Info("LED pattern stop", zap.String("pattern", string(p)))
	return nil
}
