package api

import (
	"log/slog"

	"github.com/Carmen-Shannon/gltf2image/engine"
	"github.com/Carmen-Shannon/gltf2image/engine/loader"
	"github.com/Carmen-Shannon/gltf2image/engine/workqueue"
	"github.com/google/uuid"
)

// AssetHandle is an opaque reference to a loaded asset. The zero value refers to no asset.
type AssetHandle struct {
	id uuid.UUID
}

// IsZero reports whether h refers to no asset.
func (h AssetHandle) IsZero() bool {
	return h.id == uuid.Nil
}

// String returns the handle's identifier.
func (h AssetHandle) String() string {
	return h.id.String()
}

// Session is the thread-confined side of a Context. It wraps a RenderContext and the handle
// registry, and every method must run on the owner thread; calls from anywhere else return
// WrongThread without touching any state.
//
// Most callers use Context, which marshals onto the owner thread. Session is what runs there.
type Session struct {
	ctx     engine.RenderContext
	handles map[uuid.UUID]*loader.Asset
	logger  *slog.Logger
}

// newSession wraps ctx. Must be called on ctx's owner thread.
func newSession(ctx engine.RenderContext, logger *slog.Logger) *Session {
	return &Session{
		ctx:     ctx,
		handles: make(map[uuid.UUID]*loader.Asset),
		logger:  logger,
	}
}

// LoadAsset loads glTF JSON or GLB bytes and registers a new handle for the asset.
//
// Parameters:
//   - data: the encoded asset
//
// Returns:
//   - AssetHandle: the new handle, zero on failure
//   - Result: Success, WrongThread, InvalidSceneCouldNotLoadAsset or UnknownError
func (s *Session) LoadAsset(data []byte) (AssetHandle, Result) {
	if !s.onOwnerThread() {
		return AssetHandle{}, WrongThread
	}

	a, err := s.ctx.LoadGLTFAsset(data)
	if err != nil {
		return AssetHandle{}, s.result("load asset", err)
	}

	id := uuid.New()
	s.handles[id] = a
	s.logger.Debug("asset loaded", "handle", id, "name", a.Name())
	return AssetHandle{id: id}, Success
}

// DestroyAsset releases the asset behind h. The handle is invalid afterwards.
//
// Parameters:
//   - h: a handle returned by LoadAsset
//
// Returns:
//   - Result: Success, WrongThread, or UnknownError for unknown handles and renderer failures
func (s *Session) DestroyAsset(h AssetHandle) Result {
	if !s.onOwnerThread() {
		return WrongThread
	}

	a, ok := s.handles[h.id]
	if !ok {
		s.logger.Warn("destroy of unknown asset handle", "handle", h.id)
		return UnknownError
	}
	delete(s.handles, h.id)

	if err := s.ctx.DestroyGLTFAsset(a); err != nil {
		return s.result("destroy asset", err)
	}
	return Success
}

// Render draws the assets behind handles into out. Handles are resolved now, so an asset
// destroyed by an earlier queued call yields UnknownError. onComplete is called exactly once,
// on the owner thread.
//
// Parameters:
//   - width: the output width in pixels
//   - height: the output height in pixels
//   - handles: the assets to draw, in order
//   - out: the RGBA8 output buffer, exactly width*height*4 bytes
//   - onComplete: the completion callback; may be nil
func (s *Session) Render(width, height uint32, handles []AssetHandle, out []byte, onComplete func(Result)) {
	complete := func(r Result) {
		if onComplete != nil {
			onComplete(r)
		}
	}

	if !s.onOwnerThread() {
		complete(WrongThread)
		return
	}

	assets := make([]*loader.Asset, 0, len(handles))
	for _, h := range handles {
		a, ok := s.handles[h.id]
		if !ok {
			s.logger.Warn("render with unknown asset handle", "handle", h.id)
			complete(UnknownError)
			return
		}
		assets = append(assets, a)
	}

	s.ctx.Render(engine.RenderRequest{
		Width:  width,
		Height: height,
		Assets: assets,
		Output: out,
	}, func(err error) {
		complete(s.result("render", err))
	})
}

// AssetCount returns the number of live handles, or -1 off the owner thread.
func (s *Session) AssetCount() int {
	if !s.onOwnerThread() {
		return -1
	}
	return len(s.handles)
}

// close closes the render context. The registry is cleared because the context's loader
// destroys every remaining asset.
func (s *Session) close() error {
	if !s.onOwnerThread() {
		return engine.ErrWrongThread
	}
	clear(s.handles)
	return s.ctx.Close()
}

func (s *Session) onOwnerThread() bool {
	return workqueue.CurrentThreadID() == s.ctx.OwnerThread()
}

// result translates err and logs the failures that carry no code of their own.
func (s *Session) result(op string, err error) Result {
	r := ResultFromError(err)
	if r == UnknownError {
		s.logger.Error("operation failed", "op", op, "err", err)
	}
	return r
}
