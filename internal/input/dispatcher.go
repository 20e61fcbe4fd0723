package input

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/logging"
)

// Actuator carries out actions. Implementations must not block the
// dispatcher for the length of a grace delay.
type Actuator interface {
	StartProvisioning(ctx context.Context) error
	Restart(ctx context.Context, delay time.Duration) error
	FactoryResetAndRestart(ctx context.Context, delay time.Duration) error
}

// Producer is a bounded queue owned by one event source.
type Producer struct {
	name string
	ch   chan Event
}

// Name returns the producer name used in logs.
func (p *Producer) Name() string {
	return p.name
}

// TrySend enqueues ev without blocking. It returns false and drops the event
// when the queue is full.
func (p *Producer) TrySend(ev Event) bool {
	select {
	case p.ch <- ev:
		return true
	default:
		logging.Warn("Input queue full, event dropped",
			zap.String("source", p.name),
			zap.Stringer("event", ev.Kind),
		)
		return false
	}
}

type sourcedEvent struct {
	source string
	ev     Event
}

// Dispatcher drains every producer on one goroutine, in FIFO order per
// producer, so the machine and the actuator are never entered concurrently.
type Dispatcher struct {
	machine  *Machine
	actuator Actuator

	mu        sync.Mutex
	producers []*Producer
	started   bool

	// OnAction, when set, is called for every non-None action before it runs.
	OnAction func(source string, a Action)
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(machine *Machine, actuator Actuator) *Dispatcher {
	return &Dispatcher{
		machine:  machine,
		actuator: actuator,
	}
}

// Producer registers a new bounded queue. It must be called before Run.
func (d *Dispatcher) Producer(name string, size int) *Producer {
	if size < 1 {
		size = 1
	}
	p := &Producer{name: name, ch: make(chan Event, size)}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		panic("input: Producer called after Run")
	}
	d.producers = append(d.producers, p)
	return p
}

// Run processes events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	d.started = true
	producers := append([]*Producer(nil), d.producers...)
	d.mu.Unlock()

	merged := make(chan sourcedEvent)
	var wg sync.WaitGroup
	for _, p := range producers {
		wg.Add(1)
		go func(p *Producer) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-p.ch:
					select {
					case merged <- sourcedEvent{source: p.name, ev: ev}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(p)
	}
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case se := <-merged:
			d.handle(ctx, se.source, se.ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, source string, ev Event) {
	before := d.machine.Button(ev.Button).State
	action := d.machine.Handle(ev)
	after := d.machine.Button(ev.Button).State

	logging.Debug("Input event",
		zap.String("source", source),
		zap.Stringer("event", ev.Kind),
		zap.Int("button", ev.Button),
	)
	if before != after {
		logging.LogStateChange("button", before, after, zap.Int("button", ev.Button))
	}

	if action.Kind == ActionNone {
		return
	}

	logging.LogAction(source, action)
	if d.OnAction != nil {
		d.OnAction(source, action)
	}

	var err error
	switch action.Kind {
	case ActionStartProvisioning:
		err = d.actuator.StartProvisioning(ctx)
	case ActionRestart:
		err = d.actuator.Restart(ctx, action.Delay)
	case ActionFactoryResetAndRestart:
		err = d.actuator.FactoryResetAndRestart(ctx, action.Delay)
	}
	if err != nil {
		logging.Error("Action failed",
			zap.Stringer("action", action.Kind),
			zap.Error(err),
		)
	}
}
