// Package debuglog provides the env-gated debug logger used by the fault and
// merge paths. Logging is off unless VMOKIT_LOG_FAULTS is set, so the hot
// paths pay a single nil check.
package debuglog

import (
	"log/slog"
	"os"
)

// Faults is non-nil when VMOKIT_LOG_FAULTS is set in the environment.
var Faults *slog.Logger

func init() {
	if os.Getenv("VMOKIT_LOG_FAULTS") != "" {
		Faults = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
}
