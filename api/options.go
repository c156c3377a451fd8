package api

import (
	"log/slog"

	"github.com/Carmen-Shannon/gltf2image/engine/logging"
	"github.com/Carmen-Shannon/gltf2image/engine/renderer"
)

// contextConfig collects the options of CreateContext.
type contextConfig struct {
	logger        *slog.Logger
	logCallback   logging.Callback
	logLevel      logging.Level
	backend       renderer.RendererBackendType
	forceSoftware bool
	resourceDir   string
	decodeWorkers int
}

// ContextOption is a functional option for CreateContext.
type ContextOption func(*contextConfig)

// WithLogger sets the logger of the context and everything it owns.
//
// Parameters:
//   - logger: the logger; nil keeps the silent default
//
// Returns:
//   - ContextOption: option function to apply
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *contextConfig) {
		c.logger = logger
	}
}

// WithLogCallback sends every log line at or above level to fn instead of a logger.
// fn is called from whichever goroutine logs, one call at a time.
//
// Parameters:
//   - fn: the log sink
//   - level: the lowest level forwarded
//
// Returns:
//   - ContextOption: option function to apply
func WithLogCallback(fn logging.Callback, level logging.Level) ContextOption {
	return func(c *contextConfig) {
		c.logCallback = fn
		c.logLevel = level
	}
}

// WithBackend selects the renderer backend. Defaults to the GPU backend.
//
// Parameters:
//   - backend: the backend type
//
// Returns:
//   - ContextOption: option function to apply
func WithBackend(backend renderer.RendererBackendType) ContextOption {
	return func(c *contextConfig) {
		c.backend = backend
	}
}

// WithForceSoftwareAdapter asks the GPU backend for a software (fallback) adapter.
//
// Parameters:
//   - force: true to force the fallback adapter
//
// Returns:
//   - ContextOption: option function to apply
func WithForceSoftwareAdapter(force bool) ContextOption {
	return func(c *contextConfig) {
		c.forceSoftware = force
	}
}

// WithResourceDir sets the directory relative glTF URIs are read from.
//
// Parameters:
//   - dir: the resource directory
//
// Returns:
//   - ContextOption: option function to apply
func WithResourceDir(dir string) ContextOption {
	return func(c *contextConfig) {
		c.resourceDir = dir
	}
}

// WithDecodeWorkers limits concurrent texture decoding during asset loads.
//
// Parameters:
//   - n: the worker limit
//
// Returns:
//   - ContextOption: option function to apply
func WithDecodeWorkers(n int) ContextOption {
	return func(c *contextConfig) {
		c.decodeWorkers = n
	}
}

// resolveLogger returns the logger the context should use.
func (c *contextConfig) resolveLogger() *slog.Logger {
	if c.logCallback != nil {
		return slog.New(logging.NewCallbackHandler(c.logCallback, c.logLevel))
	}
	return logging.OrNop(c.logger)
}
