package renderer

import "log/slog"

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithForceFallbackAdapter makes the WGPU backend request a CPU/software fallback adapter instead of
// a hardware GPU. This requires a software Vulkan ICD to be installed on the system
// (e.g. SwiftShader or lavapipe). Ignored by the software backend.
//
// Parameters:
//   - force: true to force the fallback adapter, false to use hardware (default)
//
// Returns:
//   - RendererBuilderOption: a function that applies the option to a renderer
func WithForceFallbackAdapter(force bool) RendererBuilderOption {
	return func(r *renderer) {
		r.forceFallbackAdapter = force
	}
}

// WithLogger sets the logger used for resource lifecycle and backend diagnostics.
//
// Parameters:
//   - logger: the logger to use; nil keeps the no-op default
//
// Returns:
//   - RendererBuilderOption: a function that applies the option to a renderer
func WithLogger(logger *slog.Logger) RendererBuilderOption {
	return func(r *renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBackend injects a backend instance, bypassing backend construction.
// The backend type still reports the value passed to NewRenderer.
//
// Parameters:
//   - backend: the backend to use
//
// Returns:
//   - RendererBuilderOption: a function that applies the option to a renderer
func WithBackend(backend RendererBackend) RendererBuilderOption {
	return func(r *renderer) {
		r.backend = backend
	}
}
