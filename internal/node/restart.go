package node

import (
	"os"

	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/logging"
)

// Restarter restarts the node process.
type Restarter interface {
	Restart(reason string)
}

// RestarterFunc adapts a function to Restarter.
type RestarterFunc func(reason string)

func (f RestarterFunc) Restart(reason string) { f(reason) }

// ExitRestarter exits the process with Code and relies on the service
// supervisor to start it again.
type ExitRestarter struct {
	Code int
	exit func(int)
}

// NewExitRestarter returns a restarter exiting with code.
func NewExitRestarter(code int) *ExitRestarter {
	return &ExitRestarter{Code: code, exit: os.Exit}
}

func (r *ExitRestarter) Restart(reason string) {
	logging.Info("Restarting", zap.String("reason", reason), zap.Int("exit_code", r.Code))
	logging.Sync()
	r.exit(r.Code)
}
