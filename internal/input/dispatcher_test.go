package input

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingActuator struct {
	mu    sync.Mutex
	calls []string
	err   error
	done  chan struct{}
}

func newRecordingActuator() *recordingActuator {
	return &recordingActuator{done: make(chan struct{}, 16)}
}

func (r *recordingActuator) record(name string) error {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
	r.done <- struct{}{}
	return r.err
}

func (r *recordingActuator) StartProvisioning(context.Context) error {
	return r.record("provision")
}

func (r *recordingActuator) Restart(_ context.Context, delay time.Duration) error {
	return r.record("restart:" + delay.String())
}

func (r *recordingActuator) FactoryResetAndRestart(context.Context, time.Duration) error {
	return r.record("reset")
}

func (r *recordingActuator) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingActuator) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for action %d", i+1)
		}
	}
}

func TestDispatcherRunsActionsInOrder(t *testing.T) {
	act := newRecordingActuator()
	d := NewDispatcher(NewMachine(nil), act)
	p := d.Producer("button", 8)

	var seen []ActionKind
	var seenMu sync.Mutex
	d.OnAction = func(_ string, a Action) {
		seenMu.Lock()
		seen = append(seen, a.Kind)
		seenMu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	start := time.Now()
	require.True(t, p.TrySend(Event{Kind: SingleClick, At: start}))
	require.True(t, p.TrySend(Event{Kind: LongPressStart, At: start}))
	require.True(t, p.TrySend(Event{Kind: LongPressHold, At: at(start, 10000)}))
	require.True(t, p.TrySend(Event{Kind: LongPressHold, At: at(start, 10500)}))
	require.True(t, p.TrySend(Event{Kind: DoubleClick, At: at(start, 11000)}))

	act.wait(t, 3)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"provision", "reset", "restart:2s"}, act.Calls())
	seenMu.Lock()
	assert.Len(t, seen, 3)
	seenMu.Unlock()
}

func TestProducerDropsWhenFull(t *testing.T) {
	d := NewDispatcher(NewMachine(nil), newRecordingActuator())
	p := d.Producer("button", 1)

	assert.True(t, p.TrySend(Event{Kind: SingleClick}))
	assert.False(t, p.TrySend(Event{Kind: SingleClick}), "second send should not block or queue")
}

func TestActuatorErrorIsNotFatal(t *testing.T) {
	act := newRecordingActuator()
	act.err = NewIndicatorError("led busy", errors.New("ebusy"))
	d := NewDispatcher(NewMachine(nil), act)
	p := d.Producer("button", 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	p.TrySend(Event{Kind: SingleClick, At: time.Now()})
	p.TrySend(Event{Kind: SingleClick, At: time.Now()})
	act.wait(t, 2)

	assert.Len(t, act.Calls(), 2)
}

func TestErrorHelpers(t *testing.T) {
	err := NewDriverError("open gpiochip0", errors.New("no such file"))
	assert.True(t, IsDriverError(err))
	assert.False(t, IsIndicatorError(err))
	assert.Contains(t, err.Error(), "Button Driver Error")
}
