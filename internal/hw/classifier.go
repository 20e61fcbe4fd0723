package hw

import (
	"fmt"
	"sync"
	"time"

	"github.com/muurk/sensornode/internal/clock"
	"github.com/muurk/sensornode/internal/input"
)

// ClassifierOptions holds the button timings.
type ClassifierOptions struct {
	DoubleClick time.Duration
	LongPress   time.Duration
	HoldRepeat  time.Duration
}

// DefaultClassifierOptions returns 400ms double click, 1s long press and a
// hold callback every 500ms.
func DefaultClassifierOptions() ClassifierOptions {
	return ClassifierOptions{
		DoubleClick: 400 * time.Millisecond,
		LongPress:   time.Second,
		HoldRepeat:  500 * time.Millisecond,
	}
}

func (o ClassifierOptions) validate() error {
	if o.DoubleClick <= 0 || o.LongPress <= 0 || o.HoldRepeat <= 0 {
		return fmt.Errorf("button timings must be positive: %+v", o)
	}
	return nil
}

// Classifier converts press and release edges of one button into events.
type Classifier struct {
	button int
	opts   ClassifierOptions
	clock  clock.Clock
	emit   func(input.Event)

	mu        sync.Mutex
	pressed   bool
	longFired bool
	gen       uint64
	clickGen  uint64
	longTimer *clock.Timer
	holdTimer *clock.Timer
	click     *clock.Timer
}

// NewClassifier creates a classifier. emit must not block.
func NewClassifier(button int, opts ClassifierOptions, clk clock.Clock, emit func(input.Event)) (*Classifier, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Classifier{
		button: button,
		opts:   opts,
		clock:  clk,
		emit:   emit,
	}, nil
}

func (c *Classifier) event(kind input.EventKind) input.Event {
	return input.Event{Button: c.button, Kind: kind, At: c.clock.Now()}
}

// Press handles a debounced press edge.
func (c *Classifier) Press() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pressed {
		return
	}
	c.pressed = true
	c.longFired = false
	c.gen++
	gen := c.gen
	c.longTimer = c.clock.AfterFunc(c.opts.LongPress, func() { c.longStart(gen) })
}

// Release handles a debounced release edge.
func (c *Classifier) Release() {
	var out []input.Event

	c.mu.Lock()
	if !c.pressed {
		c.mu.Unlock()
		return
	}
	c.pressed = false
	c.gen++
	c.stopTimersLocked()

	if !c.longFired {
		if c.click != nil && c.click.Stop() {
			c.click = nil
			c.clickGen++
			out = append(out, c.event(input.DoubleClick))
		} else {
			c.clickGen++
			cg := c.clickGen
			c.click = c.clock.AfterFunc(c.opts.DoubleClick, func() { c.singleClick(cg) })
		}
	}
	c.mu.Unlock()

	c.send(out)
}

// Close stops all pending timers.
func (c *Classifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.clickGen++
	c.stopTimersLocked()
	if c.click != nil {
		c.click.Stop()
		c.click = nil
	}
}

func (c *Classifier) stopTimersLocked() {
	if c.longTimer != nil {
		c.longTimer.Stop()
		c.longTimer = nil
	}
	if c.holdTimer != nil {
		c.holdTimer.Stop()
		c.holdTimer = nil
	}
}

func (c *Classifier) send(events []input.Event) {
	for _, ev := range events {
		c.emit(ev)
	}
}

func (c *Classifier) singleClick(cg uint64) {
	c.mu.Lock()
	if cg != c.clickGen {
		c.mu.Unlock()
		return
	}
	c.click = nil
	ev := c.event(input.SingleClick)
	c.mu.Unlock()

	c.emit(ev)
}

func (c *Classifier) longStart(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.pressed {
		c.mu.Unlock()
		return
	}
	c.longFired = true
	// A long press swallows a click still waiting for its double.
	if c.click != nil {
		c.click.Stop()
		c.click = nil
		c.clickGen++
	}
	ev := c.event(input.LongPressStart)
	c.holdTimer = c.clock.AfterFunc(c.opts.HoldRepeat, func() { c.hold(gen) })
	c.mu.Unlock()

	c.emit(ev)
}

func (c *Classifier) hold(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.pressed {
		c.mu.Unlock()
		return
	}
	ev := c.event(input.LongPressHold)
	c.holdTimer = c.clock.AfterFunc(c.opts.HoldRepeat, func() { c.hold(gen) })
	c.mu.Unlock()

	c.emit(ev)
}
