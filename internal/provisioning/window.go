package provisioning

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/clock"
	"github.com/muurk/sensornode/internal/hw"
	"github.com/muurk/sensornode/internal/logging"
)

// DefaultWindow is how long pairing stays open.
const DefaultWindow = 30 * time.Second

// Pairer opens the mesh side of a pairing window. *mesh.Bridge implements it.
type Pairer interface {
	StartPairing(ctx context.Context, window time.Duration) error
}

// Window is the provisioning window. It is safe for concurrent use.
type Window struct {
	pairer    Pairer
	adv       Advertiser
	indicator hw.Indicator
	clk       clock.Clock
	duration  time.Duration

	mu      sync.Mutex
	open    bool
	timer   *clock.Timer
	stopAdv func()

	// OnClose is called after the window closes, with expired set when it
	// ran out rather than being closed.
	OnClose func(expired bool)
}

// NewWindow creates a closed window. adv and indicator may be nil.
func NewWindow(pairer Pairer, adv Advertiser, indicator hw.Indicator, clk clock.Clock, duration time.Duration) *Window {
	if clk == nil {
		clk = clock.Real()
	}
	if duration <= 0 {
		duration = DefaultWindow
	}
	if indicator == nil {
		indicator = hw.LogIndicator{}
	}
	return &Window{
		pairer:    pairer,
		adv:       adv,
		indicator: indicator,
		clk:       clk,
		duration:  duration,
	}
}

// Start opens the window. It returns nil without side effects when the
// window is already open.
func (w *Window) Start(ctx context.Context, info Info) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.open {
		logging.Debug("Provisioning window already open")
		return nil
	}

	if err := w.pairer.StartPairing(ctx, w.duration); err != nil {
		return err
	}
	if err := w.indicator.Start(hw.PatternProvisioning); err != nil {
		logging.Warn("Failed to show provisioning pattern", zap.Error(err))
	}
	if w.adv != nil {
		stop, err := w.adv.Advertise(info)
		if err != nil {
			logging.Warn("Provisioning advertisement unavailable", zap.Error(err))
		} else {
			w.stopAdv = stop
		}
	}

	w.open = true
	w.timer = w.clk.AfterFunc(w.duration, func() { w.close(true) })

	logging.Info("Provisioning window opened",
		zap.Duration("duration", w.duration),
		zap.String("guid", info.GUID))
	return nil
}

// Close ends the window early. It is a no-op when the window is closed.
func (w *Window) Close() {
	w.close(false)
}

func (w *Window) close(expired bool) {
	w.mu.Lock()
	if !w.open {
		w.mu.Unlock()
		return
	}
	w.open = false
	if !expired && w.timer != nil {
		w.timer.Stop()
	}
	w.timer = nil
	if w.stopAdv != nil {
		w.stopAdv()
		w.stopAdv = nil
	}
	if err := w.indicator.Stop(hw.PatternProvisioning); err != nil {
		logging.Warn("Failed to clear provisioning pattern", zap.Error(err))
	}
	onClose := w.OnClose
	w.mu.Unlock()

	logging.Info("Provisioning window closed", zap.Bool("expired", expired))
	if onClose != nil {
		onClose(expired)
	}
}

// Open reports whether the window is open.
func (w *Window) Open() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}
