package api

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/Carmen-Shannon/gltf2image/engine"
	"github.com/Carmen-Shannon/gltf2image/engine/profiler"
	"github.com/Carmen-Shannon/gltf2image/engine/workqueue"
	"github.com/google/uuid"
)

// Context is a render context that may be used from any goroutine. It owns a work queue whose
// worker thread owns the engine; every call is marshalled onto that thread in submission order.
type Context struct {
	id      uuid.UUID
	queue   workqueue.WorkQueue
	session *Session
	logger  *slog.Logger

	mu        sync.Mutex
	destroyed bool
}

// CreateContext starts a worker thread and creates the engine on it. If the engine cannot be
// created the worker is stopped again and no context is returned.
//
// Parameters:
//   - options: functional options for context configuration
//
// Returns:
//   - *Context: the new context, nil on failure
//   - Result: Success or UnknownError
func CreateContext(options ...ContextOption) (*Context, Result) {
	cfg := &contextConfig{
		decodeWorkers: 4,
	}
	for _, opt := range options {
		opt(cfg)
	}

	id := uuid.New()
	logger := cfg.resolveLogger().With("context", id)

	q := workqueue.NewWorkQueue(
		workqueue.WithName("render-"+id.String()[:8]),
		workqueue.WithLogger(logger.With("component", "workqueue")),
	)
	if err := q.Start(); err != nil {
		logger.Error("failed to start work queue", "err", err)
		return nil, UnknownError
	}

	c := &Context{id: id, queue: q, logger: logger}
	err := q.AddWorkItemAndWait(func() error {
		rc, err := engine.NewRenderContext(
			engine.WithLogger(logger),
			engine.WithBackend(cfg.backend),
			engine.WithForceFallbackAdapter(cfg.forceSoftware),
			engine.WithResourceDir(cfg.resourceDir),
			engine.WithDecodeWorkers(cfg.decodeWorkers),
		)
		if err != nil {
			return err
		}
		c.session = newSession(rc, logger)
		return nil
	})
	if err != nil {
		logger.Error("failed to create render context", "err", err)
		_ = q.Exit()
		return nil, UnknownError
	}
	return c, Success
}

// ID returns the context's identifier, which also tags its log records.
func (c *Context) ID() uuid.UUID {
	return c.id
}

// Session returns the thread-confined session. Its methods only succeed on the context's
// worker thread, for example inside a closure passed to Do.
func (c *Context) Session() *Session {
	return c.session
}

// Do runs fn on the worker thread with the session and waits for it. It is the escape hatch
// for batching several session calls into one hop.
//
// Parameters:
//   - fn: the closure to run
//
// Returns:
//   - Result: the result of fn, or UnknownError if it could not be run
func (c *Context) Do(fn func(s *Session) Result) Result {
	if c.isDestroyed() {
		return UnknownError
	}

	r := UnknownError
	if err := c.queue.AddWorkItemAndWait(func() error {
		r = fn(c.session)
		return nil
	}); err != nil {
		c.logger.Error("work item failed", "err", err)
		return c.submitResult(err)
	}
	return r
}

// Destroy closes the engine on the worker thread and stops the worker. The context must not be
// used afterwards; later calls return UnknownError.
//
// Returns:
//   - Result: Success, WrongThread when called from a work item such as a render callback,
//     or UnknownError if the context was already destroyed or teardown failed
func (c *Context) Destroy() Result {
	if c.queue.OnWorkerThread() {
		c.logger.Error("Destroy called from the worker thread")
		return WrongThread
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return UnknownError
	}
	c.destroyed = true
	c.mu.Unlock()

	r := Success
	if err := c.queue.AddWorkItemAndWait(c.session.close); err != nil {
		c.logger.Error("failed to close render context", "err", err)
		r = c.submitResult(err)
	}
	if err := c.queue.Exit(); err != nil {
		c.logger.Error("failed to stop work queue", "err", err)
		r = UnknownError
	}
	c.logger.Info("context destroyed")
	return r
}

// LoadAsset loads glTF JSON or GLB bytes on the worker thread and blocks until it is done.
// data is not retained.
//
// Parameters:
//   - data: the encoded asset
//
// Returns:
//   - AssetHandle: the new handle, zero on failure
//   - Result: Success, InvalidSceneCouldNotLoadAsset or UnknownError
func (c *Context) LoadAsset(data []byte) (AssetHandle, Result) {
	var h AssetHandle
	r := c.Do(func(s *Session) Result {
		var r Result
		h, r = s.LoadAsset(data)
		return r
	})
	return h, r
}

// DestroyAsset releases an asset on the worker thread and blocks until it is done.
// Renders queued before the call still see the asset.
//
// Parameters:
//   - h: a handle returned by LoadAsset
//
// Returns:
//   - Result: Success or UnknownError
func (c *Context) DestroyAsset(h AssetHandle) Result {
	return c.Do(func(s *Session) Result {
		return s.DestroyAsset(h)
	})
}

// Render queues a render and returns immediately. onComplete is called exactly once: on the
// worker thread when the render finishes, or on the calling goroutine if it could not be queued.
// out is borrowed until then. Once queued a render cannot be cancelled.
//
// Parameters:
//   - width: the output width in pixels
//   - height: the output height in pixels
//   - assets: the assets to draw together; exactly one camera must exist across them
//   - out: the RGBA8 output buffer, exactly width*height*4 bytes
//   - onComplete: the completion callback; may be nil
func (c *Context) Render(width, height uint32, assets []AssetHandle, out []byte, onComplete func(Result)) {
	fail := func(r Result) {
		if onComplete != nil {
			onComplete(r)
		}
	}
	if c.isDestroyed() {
		fail(UnknownError)
		return
	}

	handles := append([]AssetHandle(nil), assets...)
	if err := c.queue.AddWorkItem(func() {
		c.session.Render(width, height, handles, out, onComplete)
	}); err != nil {
		c.logger.Error("failed to queue render", "err", err)
		fail(UnknownError)
	}
}

// RenderSync is Render followed by a wait for the callback.
//
// Returns:
//   - Result: the render result; WrongThread when called from the worker thread itself
func (c *Context) RenderSync(width, height uint32, assets []AssetHandle, out []byte) Result {
	if c.queue.OnWorkerThread() {
		return WrongThread
	}

	done := make(chan Result, 1)
	c.Render(width, height, assets, out, func(r Result) {
		done <- r
	})
	return <-done
}

// Stats returns the render statistics. Safe to call at any time, including after Destroy.
func (c *Context) Stats() profiler.Snapshot {
	return c.session.ctx.Stats()
}

func (c *Context) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// submitResult maps a queue error. Reentrant waits are a threading mistake by the caller.
func (c *Context) submitResult(err error) Result {
	if errors.Is(err, workqueue.ErrReentrantWait) {
		return WrongThread
	}
	return ResultFromError(err)
}
