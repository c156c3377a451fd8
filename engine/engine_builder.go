package engine

import (
	"log/slog"
	"time"

	"github.com/Carmen-Shannon/gltf2image/engine/renderer"
)

// RenderContextBuilderOption is a functional option for configuring a RenderContext.
// Use the With* functions to create options that are applied directly to the context instance.
type RenderContextBuilderOption func(*renderContext)

// WithLogger sets the logger shared by the context and its collaborators.
//
// Parameters:
//   - logger: the logger to use; nil keeps the no-op default
//
// Returns:
//   - RenderContextBuilderOption: option function to apply
func WithLogger(logger *slog.Logger) RenderContextBuilderOption {
	return func(c *renderContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBackend selects the renderer backend. Defaults to renderer.BackendTypeWGPU.
//
// Parameters:
//   - backendType: the backend to create
//
// Returns:
//   - RenderContextBuilderOption: option function to apply
func WithBackend(backendType renderer.RendererBackendType) RenderContextBuilderOption {
	return func(c *renderContext) {
		c.backendType = backendType
	}
}

// WithForceFallbackAdapter makes the WGPU backend request a software adapter.
//
// Parameters:
//   - force: true to force the fallback adapter
//
// Returns:
//   - RenderContextBuilderOption: option function to apply
func WithForceFallbackAdapter(force bool) RenderContextBuilderOption {
	return func(c *renderContext) {
		c.forceFallbackAdapter = force
	}
}

// WithRenderer hands the context an already created renderer. The context takes ownership and
// releases it on Close; WithBackend and WithForceFallbackAdapter are ignored.
//
// Parameters:
//   - r: the renderer, created on the thread that will own the context
//
// Returns:
//   - RenderContextBuilderOption: option function to apply
func WithRenderer(r renderer.Renderer) RenderContextBuilderOption {
	return func(c *renderContext) {
		c.renderer = r
	}
}

// WithResourceDir sets the directory external glTF buffers and images are read from.
//
// Parameters:
//   - dir: the resource directory; empty allows embedded resources only
//
// Returns:
//   - RenderContextBuilderOption: option function to apply
func WithResourceDir(dir string) RenderContextBuilderOption {
	return func(c *renderContext) {
		c.resourceDir = dir
	}
}

// WithDecodeWorkers limits how many textures are decoded concurrently while loading an asset.
//
// Parameters:
//   - n: the worker limit
//
// Returns:
//   - RenderContextBuilderOption: option function to apply
func WithDecodeWorkers(n int) RenderContextBuilderOption {
	return func(c *renderContext) {
		c.decodeWorkers = n
	}
}

// WithStatsInterval sets how often render statistics are logged.
//
// Parameters:
//   - interval: the minimum time between summaries
//
// Returns:
//   - RenderContextBuilderOption: option function to apply
func WithStatsInterval(interval time.Duration) RenderContextBuilderOption {
	return func(c *renderContext) {
		c.statsInterval = interval
	}
}
