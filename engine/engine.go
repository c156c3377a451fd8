// Package engine owns the rendering engine on a single thread and turns render requests into pixels.
//
// A RenderContext is created on, and must only be used from, the thread that will own it; in
// practice that is the worker of a workqueue.WorkQueue. Every method except OwnerThread and Stats
// checks the calling thread and returns ErrWrongThread otherwise.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/Carmen-Shannon/gltf2image/engine/loader"
	"github.com/Carmen-Shannon/gltf2image/engine/logging"
	"github.com/Carmen-Shannon/gltf2image/engine/profiler"
	"github.com/Carmen-Shannon/gltf2image/engine/renderer"
	"github.com/Carmen-Shannon/gltf2image/engine/workqueue"
)

// renderContext implements the RenderContext interface.
type renderContext struct {
	ownerThread uint64
	closed      bool

	logger *slog.Logger

	// Pre-creation config collected from builder options
	backendType          renderer.RendererBackendType
	forceFallbackAdapter bool
	resourceDir          string
	decodeWorkers        int
	statsInterval        time.Duration

	renderer renderer.Renderer
	loader   loader.Loader
	profiler *profiler.Profiler
	jobs     *renderJobManager
}

// RenderContext owns a renderer, the loader that creates assets on it and the render statistics.
type RenderContext interface {
	// LoadGLTFAsset parses glTF JSON or GLB bytes and creates the asset's renderer resources.
	//
	// Parameters:
	//   - data: the encoded asset
	//
	// Returns:
	//   - *loader.Asset: the loaded asset
	//   - error: ErrWrongThread, ErrContextClosed, or an error wrapping ErrCouldNotLoadAsset
	LoadGLTFAsset(data []byte) (*loader.Asset, error)

	// DestroyGLTFAsset releases every renderer resource of an asset.
	//
	// Parameters:
	//   - a: an asset returned by LoadGLTFAsset
	//
	// Returns:
	//   - error: ErrWrongThread, ErrContextClosed, loader.ErrUnknownAsset, or a renderer error
	DestroyGLTFAsset(a *loader.Asset) error

	// Assets returns the live assets in load order.
	//
	// Returns:
	//   - []*loader.Asset: the live assets, or nil when called from the wrong thread
	Assets() []*loader.Asset

	// Render draws the assets of req into req.Output. onComplete is called exactly once with the
	// outcome, after every transient resource of the render has been destroyed.
	//
	// Parameters:
	//   - req: the render request
	//   - onComplete: the completion callback; may be nil
	Render(req RenderRequest, onComplete func(error))

	// OwnerThread returns the ID of the thread the context was created on.
	//
	// Returns:
	//   - uint64: the owner thread ID
	OwnerThread() uint64

	// Renderer returns the renderer the context owns.
	//
	// Returns:
	//   - renderer.Renderer: the renderer
	Renderer() renderer.Renderer

	// Stats returns the render job statistics. Safe to call from any thread.
	//
	// Returns:
	//   - profiler.Snapshot: the statistics
	Stats() profiler.Snapshot

	// Close destroys the remaining assets and the loader, then releases the renderer.
	// Later calls return nil.
	//
	// Returns:
	//   - error: ErrWrongThread, or the joined asset destroy errors
	Close() error
}

var _ RenderContext = &renderContext{}

// NewRenderContext creates a RenderContext owned by the calling thread. The caller must be locked
// to its OS thread (runtime.LockOSThread) for as long as the context lives, which is the case
// inside a workqueue.WorkQueue item. If any part fails to initialize, everything built so far is
// released and no context is returned.
//
// Parameters:
//   - options: functional options for context configuration
//
// Returns:
//   - RenderContext: the new context
//   - error: error if the renderer or the loader could not be created
func NewRenderContext(options ...RenderContextBuilderOption) (RenderContext, error) {
	c := &renderContext{
		ownerThread:   workqueue.CurrentThreadID(),
		logger:        logging.Nop(),
		backendType:   renderer.BackendTypeWGPU,
		decodeWorkers: runtime.NumCPU(),
		statsInterval: time.Minute,
	}

	for _, opt := range options {
		opt(c)
	}

	if c.renderer == nil {
		r, err := renderer.NewRenderer(c.backendType,
			renderer.WithLogger(c.logger.With("component", "renderer")),
			renderer.WithForceFallbackAdapter(c.forceFallbackAdapter),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s renderer: %w", c.backendType, err)
		}
		c.renderer = r
	}

	l, err := loader.NewLoader(loader.BackendTypeGLTF,
		loader.WithRenderer(c.renderer),
		loader.WithResourceDir(c.resourceDir),
		loader.WithDecodeWorkers(c.decodeWorkers),
		loader.WithLogger(c.logger.With("component", "loader")),
	)
	if err != nil {
		c.renderer.Release()
		return nil, fmt.Errorf("failed to create loader: %w", err)
	}
	c.loader = l

	c.profiler = profiler.NewProfiler(
		profiler.WithLogger(c.logger.With("component", "profiler")),
		profiler.WithUpdateInterval(c.statsInterval),
	)
	c.jobs = &renderJobManager{
		ownerThread: c.ownerThread,
		renderer:    c.renderer,
		loader:      c.loader,
		profiler:    c.profiler,
		logger:      c.logger,
	}

	c.logger.Info("render context created",
		"backend", c.renderer.BackendType().String(),
		"thread", c.ownerThread,
	)
	return c, nil
}

func (c *renderContext) LoadGLTFAsset(data []byte) (*loader.Asset, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	a, err := c.loader.LoadAsset(data)
	if err != nil {
		c.logger.Warn("failed to load asset", "bytes", len(data), "err", err)
		return nil, fmt.Errorf("%w: %w", ErrCouldNotLoadAsset, err)
	}
	return a, nil
}

func (c *renderContext) DestroyGLTFAsset(a *loader.Asset) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.loader.DestroyAsset(a)
}

func (c *renderContext) Assets() []*loader.Asset {
	if c.check() != nil {
		return nil
	}
	return c.loader.Assets()
}

func (c *renderContext) Render(req RenderRequest, onComplete func(error)) {
	if err := c.check(); err != nil {
		if onComplete != nil {
			onComplete(err)
		}
		return
	}
	c.jobs.run(req, onComplete)
}

func (c *renderContext) OwnerThread() uint64 {
	return c.ownerThread
}

func (c *renderContext) Renderer() renderer.Renderer {
	return c.renderer
}

func (c *renderContext) Stats() profiler.Snapshot {
	return c.profiler.Snapshot()
}

func (c *renderContext) Close() error {
	if !c.onOwnerThread() {
		return ErrWrongThread
	}
	if c.closed {
		return nil
	}
	c.closed = true

	// Assets hold renderer resources, so the loader goes first.
	err := c.loader.Release()
	if errors.Is(err, loader.ErrLoaderReleased) {
		err = nil
	}
	c.renderer.Release()

	c.logger.Info("render context closed", "thread", c.ownerThread)
	return err
}

// check returns ErrWrongThread or ErrContextClosed when the context may not be used.
func (c *renderContext) check() error {
	if !c.onOwnerThread() {
		return ErrWrongThread
	}
	if c.closed {
		return ErrContextClosed
	}
	return nil
}

func (c *renderContext) onOwnerThread() bool {
	return workqueue.CurrentThreadID() == c.ownerThread
}
