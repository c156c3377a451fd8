package profiler

import (
	"log/slog"
	"time"
)

// ProfilerBuilderOption is a functional option for configuring a Profiler via NewProfiler.
type ProfilerBuilderOption func(*Profiler)

// WithLogger sets the logger the periodic summary is written to.
//
// Parameters:
//   - logger: the logger to use; nil keeps the no-op default
//
// Returns:
//   - ProfilerBuilderOption: option function to apply
func WithLogger(logger *slog.Logger) ProfilerBuilderOption {
	return func(p *Profiler) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithUpdateInterval sets how often the summary is logged.
//
// Parameters:
//   - interval: the minimum time between summaries
//
// Returns:
//   - ProfilerBuilderOption: option function to apply
func WithUpdateInterval(interval time.Duration) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.updateInterval = interval
	}
}
