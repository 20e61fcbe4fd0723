package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/sensornode/internal/clock"
	"github.com/muurk/sensornode/internal/hw"
)

// journal records the order of resets and restarts.
type journal struct {
	mu      sync.Mutex
	entries []string
	err     error
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) FactoryReset() error {
	j.add("reset")
	return j.err
}

func (j *journal) Restart(reason string) {
	j.add("restart: " + reason)
}

// manualGate is active until released.
type manualGate struct {
	mu     sync.Mutex
	active bool
	sealed bool
	idle   chan struct{}
}

func newManualGate(active bool) *manualGate {
	g := &manualGate{active: active, idle: make(chan struct{})}
	if !active {
		close(g.idle)
	}
	return g
}

func (g *manualGate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

func (g *manualGate) WaitIdle(ctx context.Context) error {
	g.mu.Lock()
	idle := g.idle
	g.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *manualGate) Seal() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return false
	}
	g.sealed = true
	return true
}

// activate starts a session, as an OTA request arriving late would.
func (g *manualGate) activate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = true
	g.idle = make(chan struct{})
}

func (g *manualGate) isSealed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sealed
}

func (g *manualGate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
	close(g.idle)
}

type patternLog struct {
	mu      sync.Mutex
	started []hw.Pattern
}

func (p *patternLog) Start(pat hw.Pattern) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, pat)
	return nil
}

func (p *patternLog) Stop(hw.Pattern) error { return nil }

func (p *patternLog) list() []hw.Pattern {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]hw.Pattern(nil), p.started...)
}

func TestFactoryResetRunsBeforeRestart(t *testing.T) {
	j := &journal{}
	leds := &patternLog{}
	a := NewActuator(nil, j, j, nil, leds, clock.Real())

	require.NoError(t, a.FactoryResetAndRestart(context.Background(), 0))
	a.Wait()

	assert.Equal(t, []string{"reset", "restart: factory reset"}, j.list())
	assert.Contains(t, leds.list(), hw.PatternFactoryReset)
}

func TestRestartWaitsForGraceDelay(t *testing.T) {
	j := &journal{}
	clk := clock.Fake(time.Unix(0, 0))
	a := NewActuator(nil, j, j, nil, nil, clk)

	require.NoError(t, a.Restart(context.Background(), 2*time.Second))
	clk.WaitForTimers(1)
	clk.Advance(1999 * time.Millisecond)
	assert.Empty(t, j.list())

	clk.Advance(time.Millisecond)
	a.Wait()
	assert.Equal(t, []string{"restart: restart requested"}, j.list())
}

func TestRestartDeferredWhileGateActive(t *testing.T) {
	j := &journal{}
	gate := newManualGate(true)
	a := NewActuator(nil, j, j, gate, nil, clock.Real())

	require.NoError(t, a.Restart(context.Background(), 0))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, j.list())
	assert.True(t, a.Pending())

	gate.release()
	a.Wait()
	assert.Equal(t, []string{"restart: restart requested"}, j.list())
}

func TestRestartWaitsForSessionStartedDuringDelay(t *testing.T) {
	j := &journal{}
	gate := newManualGate(false)
	clk := clock.Fake(time.Unix(0, 0))
	a := NewActuator(nil, j, j, gate, nil, clk)

	require.NoError(t, a.Restart(context.Background(), 2*time.Second))
	clk.WaitForTimers(1)
	gate.activate()
	clk.Advance(2 * time.Second)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, j.list(), "restart ran while a session was active")
	assert.True(t, a.Pending())
	assert.False(t, gate.isSealed())

	gate.release()
	clk.WaitForTimers(1)
	clk.Advance(2 * time.Second)
	a.Wait()

	assert.Equal(t, []string{"restart: restart requested"}, j.list())
	assert.True(t, gate.isSealed())
}

func TestResetUpgradesPendingRestart(t *testing.T) {
	j := &journal{}
	gate := newManualGate(true)
	a := NewActuator(nil, j, j, gate, nil, clock.Real())

	require.NoError(t, a.Restart(context.Background(), 0))
	require.NoError(t, a.FactoryResetAndRestart(context.Background(), 0))
	require.NoError(t, a.Restart(context.Background(), 0))

	gate.release()
	a.Wait()
	assert.Equal(t, []string{"reset", "restart: factory reset"}, j.list())
}

func TestScheduledRestartAbandonedOnCancel(t *testing.T) {
	j := &journal{}
	gate := newManualGate(true)
	a := NewActuator(nil, j, j, gate, nil, clock.Real())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.FactoryResetAndRestart(ctx, 0))
	cancel()
	a.Wait()

	assert.Empty(t, j.list())
	assert.False(t, a.Pending())
}

func TestFactoryResetFailureStillRestarts(t *testing.T) {
	j := &journal{err: errors.New("flash busy")}
	leds := &patternLog{}
	a := NewActuator(nil, j, j, nil, leds, clock.Real())

	require.NoError(t, a.FactoryResetAndRestart(context.Background(), 0))
	a.Wait()

	assert.Equal(t, []string{"reset", "restart: factory reset"}, j.list())
	assert.Contains(t, leds.list(), hw.PatternError)
}

func TestStartProvisioningCallsProvision(t *testing.T) {
	calls := 0
	a := NewActuator(func(context.Context) error {
		calls++
		return nil
	}, nil, nil, nil, nil, nil)

	require.NoError(t, a.StartProvisioning(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestExitRestarterExitsWithCode(t *testing.T) {
	r := NewExitRestarter(3)
	got := -1
	r.exit = func(code int) { got = code }

	r.Restart("test")
	assert.Equal(t, 3, got)
}
