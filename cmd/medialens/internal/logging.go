package internal

import (
	"fmt"

	"github.com/medialens/medialens/internal/runlog"
)

// SetupRunLog opens a per-run structured log file named after the
// subcommand. The caller owns the returned logger and must Close it.
func SetupRunLog(subcommand string) (*runlog.Logger, error) {
	logDir, err := LogDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate log dir: %w", err)
	}
	return runlog.New(logDir, "medialens-"+subcommand)
}
