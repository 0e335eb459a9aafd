// Package logging provides types.Logger adapters for log/slog, zap and a no-op logger.
package logging
