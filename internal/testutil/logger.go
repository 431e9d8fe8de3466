package testutil

import (
	"log/slog"
)

// DiscardLogger returns a slog.Logger that discards all output. Use it to
// keep test logs quiet; log.Logger is a type alias for *slog.Logger so the
// result plugs into every constructor that takes a logger.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
