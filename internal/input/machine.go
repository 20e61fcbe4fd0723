package input

import (
	"fmt"
	"sync"
	"time"
)

// Defaults for MachineOptions.
const (
	DefaultFactoryResetHold = 10 * time.Second
	DefaultRestartDelay     = 2 * time.Second
)

// EventKind is a classified button callback.
type EventKind int

const (
	SingleClick EventKind = iota
	DoubleClick
	LongPressStart
	LongPressHold
)

func (k EventKind) String() string {
	switch k {
	case SingleClick:
		return "SingleClick"
	case DoubleClick:
		return "DoubleClick"
	case LongPressStart:
		return "LongPressStart"
	case LongPressHold:
		return "LongPressHold"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one debounced callback from a button driver.
type Event struct {
	Button int
	Kind   EventKind
	// At is a monotonic timestamp (time.Now carries one).
	At time.Time
}

// ActionKind names what the node should do in response to input.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionStartProvisioning
	ActionRestart
	ActionFactoryResetAndRestart
)

func (k ActionKind) String() string {
	switch k {
	case ActionNone:
		return "None"
	case ActionStartProvisioning:
		return "StartProvisioning"
	case ActionRestart:
		return "Restart"
	case ActionFactoryResetAndRestart:
		return "FactoryResetAndRestart"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is the result of handling an event.
type Action struct {
	Kind   ActionKind
	Button int
	// Delay is the grace period before a restart.
	Delay time.Duration
}

func (a Action) String() string {
	if a.Delay > 0 {
		return fmt.Sprintf("%s(after %s)", a.Kind, a.Delay)
	}
	return a.Kind.String()
}

// State is the per-button state.
type State int

const (
	Idle State = iota
	Pressed
	LongHeld
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Pressed:
		return "Pressed"
	case LongHeld:
		return "LongHeld"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ButtonState is owned by the Machine and never persisted.
type ButtonState struct {
	State      State
	LastEdge   time.Time
	PressStart time.Time
}

// HasPressStart reports whether a long press is being timed.
func (b ButtonState) HasPressStart() bool {
	return !b.PressStart.IsZero()
}

// MachineOptions configures a Machine.
type MachineOptions struct {
	// FactoryResetHold is how long a press must be held before a reset.
	FactoryResetHold time.Duration
	// RestartDelay is the grace period attached to restart actions.
	RestartDelay time.Duration
}

// DefaultMachineOptions returns a 10s hold and a 2s restart grace.
func DefaultMachineOptions() *MachineOptions {
	return &MachineOptions{
		FactoryResetHold: DefaultFactoryResetHold,
		RestartDelay:     DefaultRestartDelay,
	}
}

// Machine classifies events per button.
type Machine struct {
	mu      sync.Mutex
	opts    MachineOptions
	buttons map[int]*ButtonState
}

// NewMachine creates a machine. A nil opts uses DefaultMachineOptions.
func NewMachine(opts *MachineOptions) *Machine {
	if opts == nil {
		opts = DefaultMachineOptions()
	}
	return &Machine{
		opts:    *opts,
		buttons: make(map[int]*ButtonState),
	}
}

// Button returns a copy of the state of button id.
func (m *Machine) Button(id int) ButtonState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buttons[id]; ok {
		return *b
	}
	return ButtonState{}
}

func (m *Machine) button(id int) *ButtonState {
	b, ok := m.buttons[id]
	if !ok {
		b = &ButtonState{}
		m.buttons[id] = b
	}
	return b
}

// Handle applies ev and returns the resulting action, ActionNone if any.
//
// A hold triggers the factory reset once the press has lasted at least
// FactoryResetHold. The button then stays LongHeld, so further holds from the
// same press do nothing until the next LongPressStart.
func (m *Machine) Handle(ev Event) Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.button(ev.Button)
	b.LastEdge = ev.At

	switch ev.Kind {
	case SingleClick:
		b.State = Idle
		b.PressStart = time.Time{}
		return Action{Kind: ActionStartProvisioning, Button: ev.Button}

	case DoubleClick:
		b.State = Idle
		b.PressStart = time.Time{}
		return Action{Kind: ActionRestart, Button: ev.Button, Delay: m.opts.RestartDelay}

	case LongPressStart:
		b.State = Pressed
		b.PressStart = ev.At
		return Action{Kind: ActionNone, Button: ev.Button}

	case LongPressHold:
		if b.State != Pressed || !b.HasPressStart() {
			return Action{Kind: ActionNone, Button: ev.Button}
		}
		if ev.At.Sub(b.PressStart) < m.opts.FactoryResetHold {
			return Action{Kind: ActionNone, Button: ev.Button}
		}
		b.State = LongHeld
		return Action{Kind: ActionFactoryResetAndRestart, Button: ev.Button, Delay: m.opts.RestartDelay}
	}

	return Action{Kind: ActionNone, Button: ev.Button}
}
