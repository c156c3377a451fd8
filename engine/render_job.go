package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"github.com/Carmen-Shannon/gltf2image/engine/loader"
	"github.com/Carmen-Shannon/gltf2image/engine/profiler"
	"github.com/Carmen-Shannon/gltf2image/engine/renderer"
	"github.com/Carmen-Shannon/gltf2image/engine/workqueue"
	"github.com/cogentcore/webgpu/wgpu"
)

// RenderRequest describes one offscreen render.
type RenderRequest struct {
	// Width and Height are the output size in pixels.
	Width, Height uint32

	// Assets are added to the scene in order. Exactly one camera must exist across all of them.
	Assets []*loader.Asset

	// Output receives the image as tightly packed RGBA8, row 0 at the top.
	// Its length must be exactly Width*Height*4. The buffer is borrowed until the callback fires.
	Output []byte
}

// transientResources are the renderer objects created for one render and destroyed after it.
type transientResources struct {
	r renderer.Renderer

	texture *renderer.Texture
	target  *renderer.RenderTarget
	scene   *renderer.Scene
	view    *renderer.View
}

// release destroys whatever was created, scene first and texture last. Every destroy is attempted.
func (t *transientResources) release() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Join(err, fmt.Errorf("%w: teardown: %v", ErrRenderPanicked, p))
		}
	}()

	var errs []error
	if t.scene != nil {
		if derr := t.r.DestroyScene(t.scene); derr != nil {
			errs = append(errs, fmt.Errorf("destroy scene: %w", derr))
		}
		t.scene = nil
	}
	if t.view != nil {
		if derr := t.r.DestroyView(t.view); derr != nil {
			errs = append(errs, fmt.Errorf("destroy view: %w", derr))
		}
		t.view = nil
	}
	if t.target != nil {
		if derr := t.r.DestroyRenderTarget(t.target); derr != nil {
			errs = append(errs, fmt.Errorf("destroy render target: %w", derr))
		}
		t.target = nil
	}
	if t.texture != nil {
		if derr := t.r.DestroyTexture(t.texture); derr != nil {
			errs = append(errs, fmt.Errorf("destroy texture: %w", derr))
		}
		t.texture = nil
	}
	return errors.Join(errs...)
}

// renderJobManager runs render requests on the owner thread.
type renderJobManager struct {
	ownerThread uint64

	renderer renderer.Renderer
	loader   loader.Loader
	profiler *profiler.Profiler
	logger   *slog.Logger
}

// run renders req, records the outcome and calls onComplete exactly once.
func (m *renderJobManager) run(req RenderRequest, onComplete func(error)) {
	start := time.Now()
	err := m.render(req)
	elapsed := time.Since(start)
	m.profiler.Record(elapsed, failureLabel(err))

	if err != nil {
		m.logger.Warn("render failed",
			"width", req.Width,
			"height", req.Height,
			"assets", len(req.Assets),
			"err", err,
		)
	} else {
		m.logger.Debug("render finished",
			"width", req.Width,
			"height", req.Height,
			"assets", len(req.Assets),
			"elapsed", elapsed,
		)
	}

	if onComplete != nil {
		onComplete(err)
	}
}

func (m *renderJobManager) render(req RenderRequest) (err error) {
	if workqueue.CurrentThreadID() != m.ownerThread {
		return ErrWrongThread
	}

	// Nothing touches the renderer before the request is known to be well formed.
	if uint64(len(req.Output)) != uint64(req.Width)*uint64(req.Height)*4 {
		return fmt.Errorf("%w: got %d bytes, want %dx%dx4", ErrPixelBufferWrongSize, len(req.Output), req.Width, req.Height)
	}
	if req.Width == 0 || req.Height == 0 {
		return ErrInvalidDimensions
	}

	res := &transientResources{r: m.renderer}
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("render panicked", "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrRenderPanicked, p)
		}
		if teardownErr := res.release(); teardownErr != nil {
			if err != nil {
				m.logger.Warn("render error superseded by teardown failure", "err", err)
			}
			err = teardownErr
		}
	}()

	return m.draw(req, res)
}

// draw creates the transient resources on res and renders into req.Output.
func (m *renderJobManager) draw(req RenderRequest, res *transientResources) error {
	r := m.renderer

	color, err := r.CreateTexture(renderer.TextureDescriptor{
		Label:  "render-color",
		Width:  req.Width,
		Height: req.Height,
		Format: wgpu.TextureFormatRGBA8UnormSrgb,
		Usage:  renderer.TextureUsageColorAttachment | renderer.TextureUsageReadback,
	})
	if err != nil {
		return err
	}
	res.texture = color

	target, err := r.CreateRenderTarget("render-target", color)
	if err != nil {
		return err
	}
	res.target = target

	res.scene = r.CreateScene()
	res.view = r.CreateView()

	view := res.view
	view.SetScene(res.scene)
	view.SetRenderTarget(target)
	view.SetBlendMode(renderer.BlendModeTranslucent)
	view.SetViewport(renderer.Viewport{Width: req.Width, Height: req.Height})
	view.SetClearColor([4]float32{0, 0, 0, 0})

	cameraEntity, err := m.populate(res.scene, req.Assets)
	if err != nil {
		return err
	}
	if err := view.SetCamera(cameraEntity); err != nil {
		return err
	}

	if err := r.RenderStandalone(view); err != nil {
		return err
	}

	delivered := false
	var readErr error
	region := renderer.PixelRegion{Width: req.Width, Height: req.Height}
	if err := r.ReadPixels(target, region, req.Output, func(err error) {
		delivered = true
		readErr = err
	}); err != nil {
		return err
	}
	if err := r.Flush(); err != nil {
		return err
	}
	if !delivered {
		return errors.New("pixel read-back did not complete during flush")
	}
	return readErr
}

// populate adds every entity of assets to scene and returns the single camera entity.
func (m *renderJobManager) populate(scene *renderer.Scene, assets []*loader.Asset) (*renderer.Entity, error) {
	live := m.loader.Assets()

	var cameraEntity *renderer.Entity
	for _, a := range assets {
		if !slices.Contains(live, a) {
			return nil, fmt.Errorf("render asset: %w", loader.ErrUnknownAsset)
		}

		scene.AddEntities(a.Entities()...)
		for _, e := range a.CameraEntities() {
			if cameraEntity != nil {
				return nil, ErrTooManyCameras
			}
			cameraEntity = e
		}
	}

	if cameraEntity == nil {
		return nil, ErrNoCamerasFound
	}
	return cameraEntity, nil
}
