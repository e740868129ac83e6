package pipecache

import "log/slog"

// Global logger for all pipecache instances
var log = slog.Default()

// SetLogger configures the global logger
func SetLogger(l *slog.Logger) {
	log = l
}
