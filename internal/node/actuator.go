package node

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/clock"
	"github.com/muurk/sensornode/internal/hw"
	"github.com/muurk/sensornode/internal/logging"
)

// Resetter wipes the node identity. *nodeconfig.Store implements it.
type Resetter interface {
	FactoryReset() error
}

// Gate reports whether an OTA session is running. *ota.Gate implements it.
type Gate interface {
	Active() bool
	WaitIdle(ctx context.Context) error
	// Seal shuts out new sessions if none is running and reports whether
	// it did.
	Seal() bool
}

// Actuator carries out input actions. Restart and FactoryResetAndRestart
// return immediately; the work runs on its own goroutine so the dispatcher
// keeps draining events.
type Actuator struct {
	provision func(ctx context.Context) error
	resetter  Resetter
	restarter Restarter
	gate      Gate
	indicator hw.Indicator
	clk       clock.Clock

	mu        sync.Mutex
	pending   bool
	wantReset bool
	wg        sync.WaitGroup
}

// NewActuator creates an actuator. gate and indicator may be nil.
func NewActuator(provision func(context.Context) error, resetter Resetter, restarter Restarter, gate Gate, indicator hw.Indicator, clk clock.Clock) *Actuator {
	if clk == nil {
		clk = clock.Real()
	}
	if indicator == nil {
		indicator = hw.LogIndicator{}
	}
	return &Actuator{
		provision: provision,
		resetter:  resetter,
		restarter: restarter,
		gate:      gate,
		indicator: indicator,
		clk:       clk,
	}
}

func (a *Actuator) StartProvisioning(ctx context.Context) error {
	if a.provision == nil {
		return nil
	}
	return a.provision(ctx)
}

func (a *Actuator) Restart(ctx context.Context, delay time.Duration) error {
	a.schedule(ctx, delay, false)
	return nil
}

func (a *Actuator) FactoryResetAndRestart(ctx context.Context, delay time.Duration) error {
	a.schedule(ctx, delay, true)
	return nil
}

// Pending reports whether a restart has been scheduled.
func (a *Actuator) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Wait blocks until scheduled work has finished or been abandoned.
func (a *Actuator) Wait() {
	a.wg.Wait()
}

// schedule starts one restart sequence. A reset requested while a plain
// restart is pending upgrades it.
func (a *Actuator) schedule(ctx context.Context, delay time.Duration, reset bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if reset {
		a.wantReset = true
	}
	if a.pending {
		logging.Debug("Restart already scheduled", zap.Bool("reset", a.wantReset))
		return
	}
	a.pending = true
	a.wg.Add(1)
	go a.run(ctx, delay)
}

func (a *Actuator) run(ctx context.Context, delay time.Duration) {
	defer a.wg.Done()

	shown := false
	for {
		if a.gate != nil && a.gate.Active() {
			logging.Info("Restart deferred until the OTA session ends")
			if err := a.gate.WaitIdle(ctx); err != nil {
				a.abandon(err)
				return
			}
		}

		if !shown && a.resetRequested() {
			shown = true
			if err := a.indicator.Start(hw.PatternFactoryReset); err != nil {
				logging.Warn("Failed to show factory reset pattern", zap.Error(err))
			}
		}

		if delay > 0 {
			select {
			case <-a.clk.After(delay):
			case <-ctx.Done():
				a.abandon(ctx.Err())
				return
			}
		}

		// A session may have started during the delay. Sealing is atomic
		// with the idle check, so none can start after this point.
		if a.gate == nil || a.gate.Seal() {
			break
		}
		logging.Info("OTA session started during the restart delay")
	}

	reason := "restart requested"
	if a.resetRequested() {
		reason = "factory reset"
		if err := a.resetter.FactoryReset(); err != nil {
			logging.Error("Factory reset failed, restarting with current identity", zap.Error(err))
			if ierr := a.indicator.Start(hw.PatternError); ierr != nil {
				logging.Warn("Failed to show error pattern", zap.Error(ierr))
			}
		} else {
			logging.Info("Factory reset complete")
		}
	}

	a.restarter.Restart(reason)
}

func (a *Actuator) resetRequested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wantReset
}

func (a *Actuator) abandon(err error) {
	logging.Info("Scheduled restart abandoned", zap.Error(err))
	a.mu.Lock()
	a.pending = false
	a.wantReset = false
	a.mu.Unlock()
}
