package loader

import (
	"log/slog"

	"github.com/Carmen-Shannon/gltf2image/engine/renderer"
)

// LoaderBuilderOption is a functional option for configuring a Loader via NewLoader.
type LoaderBuilderOption func(*loader)

// WithRenderer is an option builder that sets the Renderer used by the Loader. Required.
//
// Parameters:
//   - r: the renderer instance
//
// Returns:
//   - LoaderBuilderOption: a function that applies the renderer option to a loader
func WithRenderer(r renderer.Renderer) LoaderBuilderOption {
	return func(l *loader) {
		l.renderer = r
	}
}

// WithResourceDir sets the directory relative buffer and image URIs are read from.
// Without it, assets may only reference embedded or data URI resources.
//
// Parameters:
//   - dir: the resource directory
//
// Returns:
//   - LoaderBuilderOption: a function that applies the option to a loader
func WithResourceDir(dir string) LoaderBuilderOption {
	return func(l *loader) {
		l.resourceDir = dir
	}
}

// WithLogger sets the logger for import and lifecycle diagnostics.
//
// Parameters:
//   - logger: the logger to use; nil keeps the no-op default
//
// Returns:
//   - LoaderBuilderOption: a function that applies the option to a loader
func WithLogger(logger *slog.Logger) LoaderBuilderOption {
	return func(l *loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithDecodeWorkers sets the maximum number of textures decoded concurrently. Defaults to the CPU count.
//
// Parameters:
//   - n: the worker limit; values below 1 are treated as 1
//
// Returns:
//   - LoaderBuilderOption: a function that applies the option to a loader
func WithDecodeWorkers(n int) LoaderBuilderOption {
	return func(l *loader) {
		l.decodeWorkers = n
	}
}
