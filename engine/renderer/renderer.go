package renderer

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Carmen-Shannon/gltf2image/common"
	"github.com/Carmen-Shannon/gltf2image/engine/logging"
	"github.com/cogentcore/webgpu/wgpu"
)

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	backendType RendererBackendType
	backend     RendererBackend
	logger      *slog.Logger
	released    bool

	// Pre-creation config collected from builder options
	forceFallbackAdapter bool

	nextID        uint64
	textures      map[*Texture]struct{}
	renderTargets map[*RenderTarget]struct{}
	meshes        map[*Mesh]struct{}
	materials     map[*Material]struct{}
	scenes        map[*Scene]struct{}
	views         map[*View]struct{}
}

// Renderer is the engine boundary: it creates and destroys GPU-side resources, renders views
// offscreen and reads pixels back. Every handle it returns stays valid until passed to the matching
// Destroy call; destroying a handle twice returns ErrUnknownResource.
//
// A Renderer is not safe for use from more than one OS thread; callers confine it to one.
type Renderer interface {
	// CreateTexture creates a 2D RGBA8 texture.
	//
	// Parameters:
	//   - desc: the texture description
	//
	// Returns:
	//   - *Texture: the new texture
	//   - error: ErrInvalidDescriptor for bad sizes or formats, or a backend error
	CreateTexture(desc TextureDescriptor) (*Texture, error)

	// CreateRenderTarget wraps a color texture as a render target.
	//
	// Parameters:
	//   - label: the target label
	//   - color: a live texture created with TextureUsageColorAttachment
	//
	// Returns:
	//   - *RenderTarget: the new render target
	//   - error: error if the texture is unknown or not renderable
	CreateRenderTarget(label string, color *Texture) (*RenderTarget, error)

	// CreateMesh uploads an indexed triangle list.
	//
	// Parameters:
	//   - desc: the mesh data
	//
	// Returns:
	//   - *Mesh: the new mesh
	//   - error: error if an index is out of range or the upload fails
	CreateMesh(desc MeshDescriptor) (*Mesh, error)

	// CreateMaterial creates an unlit material.
	//
	// Parameters:
	//   - desc: the material description
	//
	// Returns:
	//   - *Material: the new material
	//   - error: error if the base color texture is unknown
	CreateMaterial(desc MaterialDescriptor) (*Material, error)

	// CreateScene creates an empty scene.
	//
	// Returns:
	//   - *Scene: the new scene
	CreateScene() *Scene

	// CreateView creates a view with an opaque blend mode, an empty viewport and a transparent black clear color.
	//
	// Returns:
	//   - *View: the new view
	CreateView() *View

	// RenderStandalone renders a view into its render target immediately, outside of any frame loop.
	//
	// Parameters:
	//   - view: a live view with a scene, a render target and a camera entity
	//
	// Returns:
	//   - error: ErrIncompleteView, ErrUnknownResource, or a backend error
	RenderStandalone(view *View) error

	// ReadPixels schedules a read-back of region into dst as tightly packed RGBA8, row 0 at the top.
	// done is called exactly once, during a later Flush, unless ReadPixels itself returns an error.
	//
	// Parameters:
	//   - target: the render target to read
	//   - region: the pixel rectangle to read
	//   - dst: destination buffer of exactly region.Width*region.Height*4 bytes
	//   - done: completion callback
	//
	// Returns:
	//   - error: error if the read-back could not be scheduled
	ReadPixels(target *RenderTarget, region PixelRegion, dst []byte, done func(error)) error

	// Flush blocks until all submitted work has finished and pending read-back callbacks have fired.
	//
	// Returns:
	//   - error: a backend error
	Flush() error

	// DestroyTexture destroys a texture. The texture must not be used by a live render target or material.
	DestroyTexture(t *Texture) error

	// DestroyRenderTarget destroys a render target. Its color texture is not destroyed.
	DestroyRenderTarget(rt *RenderTarget) error

	// DestroyMesh destroys a mesh.
	DestroyMesh(m *Mesh) error

	// DestroyMaterial destroys a material. Its texture is not destroyed.
	DestroyMaterial(m *Material) error

	// DestroyScene destroys a scene. The entities it references are not affected.
	DestroyScene(s *Scene) error

	// DestroyView destroys a view.
	DestroyView(v *View) error

	// Stats returns the number of live resources of each kind.
	//
	// Returns:
	//   - ResourceStats: live resource counts
	Stats() ResourceStats

	// BackendType returns the backend the renderer was created with.
	//
	// Returns:
	//   - RendererBackendType: the backend type
	BackendType() RendererBackendType

	// Release frees every remaining resource and the backend. Later calls return ErrReleased.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates a new Renderer with the specified backend.
// Must be called on the thread that will own the renderer.
//
// Parameters:
//   - backendType: the type of rendering backend to use
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: the new renderer
//   - error: error if the backend could not be initialized
func NewRenderer(backendType RendererBackendType, options ...RendererBuilderOption) (Renderer, error) {
	r := &renderer{
		mu:            &sync.Mutex{},
		backendType:   backendType,
		logger:        logging.Nop(),
		textures:      make(map[*Texture]struct{}),
		renderTargets: make(map[*RenderTarget]struct{}),
		meshes:        make(map[*Mesh]struct{}),
		materials:     make(map[*Material]struct{}),
		scenes:        make(map[*Scene]struct{}),
		views:         make(map[*View]struct{}),
	}

	// Apply options first so config flags (e.g. forceFallbackAdapter) are
	// available before the backend requests a GPU adapter.
	for _, opt := range options {
		opt(r)
	}

	if r.backend == nil {
		switch backendType {
		case BackendTypeWGPU:
			b, err := newWGPURendererBackend(r.forceFallbackAdapter, r.logger)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize wgpu backend: %w", err)
			}
			r.backend = b
		case BackendTypeSoftware:
			r.backend = newSoftwareRendererBackend()
		default:
			return nil, fmt.Errorf("unsupported renderer backend %s", backendType)
		}
	}

	r.logger.Debug("renderer created", "backend", backendType.String())
	return r, nil
}

func (r *renderer) BackendType() RendererBackendType {
	return r.backendType
}

// id hands out a new resource id. Caller holds r.mu.
func (r *renderer) id() uint64 {
	r.nextID++
	return r.nextID
}

func (r *renderer) CreateTexture(desc TextureDescriptor) (*Texture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, ErrReleased
	}

	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("%w: texture %q has zero size %dx%d", ErrInvalidDescriptor, desc.Label, desc.Width, desc.Height)
	}
	if desc.Width > common.MaxTextureDimension*2 || desc.Height > common.MaxTextureDimension*2 {
		return nil, fmt.Errorf("%w: texture %q size %dx%d exceeds %d", ErrInvalidDescriptor,
			desc.Label, desc.Width, desc.Height, common.MaxTextureDimension*2)
	}
	desc.Format = common.Coalesce(desc.Format, wgpu.TextureFormatRGBA8UnormSrgb)
	if desc.Format != wgpu.TextureFormatRGBA8UnormSrgb && desc.Format != wgpu.TextureFormatRGBA8Unorm {
		return nil, fmt.Errorf("%w: texture %q has unsupported format %v", ErrInvalidDescriptor, desc.Label, desc.Format)
	}
	if desc.Pixels != nil && len(desc.Pixels) != common.RGBABufferSize(desc.Width, desc.Height) {
		return nil, fmt.Errorf("%w: texture %q has %d bytes of pixels, want %d", ErrInvalidDescriptor,
			desc.Label, len(desc.Pixels), common.RGBABufferSize(desc.Width, desc.Height))
	}

	sampler := common.DefaultSamplerStagingData()
	if desc.Sampler != nil {
		sampler = *desc.Sampler
	}

	t := &Texture{
		id:      r.id(),
		label:   desc.Label,
		width:   desc.Width,
		height:  desc.Height,
		format:  desc.Format,
		usage:   desc.Usage,
		sampler: sampler,
	}
	if err := r.backend.CreateTexture(t, desc); err != nil {
		return nil, fmt.Errorf("failed to create texture %q: %w", desc.Label, err)
	}
	r.textures[t] = struct{}{}
	return t, nil
}

func (r *renderer) CreateRenderTarget(label string, color *Texture) (*RenderTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, ErrReleased
	}

	if _, ok := r.textures[color]; !ok {
		return nil, fmt.Errorf("render target %q color texture: %w", label, ErrUnknownResource)
	}
	if color.usage&TextureUsageColorAttachment == 0 {
		return nil, fmt.Errorf("%w: texture %q lacks TextureUsageColorAttachment", ErrInvalidDescriptor, color.label)
	}

	rt := &RenderTarget{id: r.id(), label: label, color: color}
	r.renderTargets[rt] = struct{}{}
	return rt, nil
}

func (r *renderer) CreateMesh(desc MeshDescriptor) (*Mesh, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, ErrReleased
	}

	if len(desc.Indices)%3 != 0 {
		return nil, fmt.Errorf("%w: mesh %q index count %d is not a multiple of 3", ErrInvalidDescriptor, desc.Label, len(desc.Indices))
	}
	for _, idx := range desc.Indices {
		if int(idx) >= len(desc.Vertices) {
			return nil, fmt.Errorf("%w: mesh %q index %d out of range (%d vertices)", ErrInvalidDescriptor, desc.Label, idx, len(desc.Vertices))
		}
	}

	m := &Mesh{id: r.id(), label: desc.Label, indexCount: len(desc.Indices), vertices: len(desc.Vertices)}
	if err := r.backend.CreateMesh(m, desc); err != nil {
		return nil, fmt.Errorf("failed to create mesh %q: %w", desc.Label, err)
	}
	r.meshes[m] = struct{}{}
	return m, nil
}

func (r *renderer) CreateMaterial(desc MaterialDescriptor) (*Material, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, ErrReleased
	}

	if t := desc.BaseColorTexture; t != nil {
		if _, ok := r.textures[t]; !ok {
			return nil, fmt.Errorf("material %q base color texture: %w", desc.Label, ErrUnknownResource)
		}
		if t.usage&TextureUsageSampled == 0 {
			return nil, fmt.Errorf("%w: texture %q lacks TextureUsageSampled", ErrInvalidDescriptor, t.label)
		}
	}

	m := &Material{id: r.id(), desc: desc}
	if err := r.backend.CreateMaterial(m); err != nil {
		return nil, fmt.Errorf("failed to create material %q: %w", desc.Label, err)
	}
	r.materials[m] = struct{}{}
	return m, nil
}

func (r *renderer) CreateScene() *Scene {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Scene{id: r.id()}
	r.scenes[s] = struct{}{}
	return s
}

func (r *renderer) CreateView() *View {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := &View{id: r.id()}
	r.views[v] = struct{}{}
	return v
}

func (r *renderer) RenderStandalone(view *View) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return ErrReleased
	}

	if _, ok := r.views[view]; !ok {
		return fmt.Errorf("view: %w", ErrUnknownResource)
	}
	if view.scene == nil || view.target == nil || view.camera == nil {
		return ErrIncompleteView
	}
	if _, ok := r.scenes[view.scene]; !ok {
		return fmt.Errorf("view scene: %w", ErrUnknownResource)
	}
	if _, ok := r.renderTargets[view.target]; !ok {
		return fmt.Errorf("view render target: %w", ErrUnknownResource)
	}

	viewport := view.viewport
	tw, th := view.target.color.Size()
	if viewport.Width == 0 || viewport.Height == 0 {
		viewport = Viewport{Width: tw, Height: th}
	}
	if uint64(viewport.X)+uint64(viewport.Width) > uint64(tw) || uint64(viewport.Y)+uint64(viewport.Height) > uint64(th) {
		return fmt.Errorf("%w: viewport %+v exceeds target %dx%d", ErrInvalidDescriptor, viewport, tw, th)
	}

	items, err := r.drawList(view, viewport)
	if err != nil {
		return err
	}

	return r.backend.Draw(RenderPass{
		Target:     view.target,
		Viewport:   viewport,
		ClearColor: view.clearColor,
		BlendMode:  view.blend,
		Items:      items,
	})
}

// drawList computes the clip-space transform of every drawable entity. Opaque and masked
// items keep scene order; blended items follow, farthest first. Caller holds r.mu.
func (r *renderer) drawList(view *View, viewport Viewport) ([]DrawItem, error) {
	projection := view.camera.Camera.ProjectionMatrix(viewport.Aspect())
	viewMatrix := view.camera.Transform.Inv()
	viewProjection := projection.Mul4(viewMatrix)

	type blendedItem struct {
		item  DrawItem
		depth float32
	}

	var items []DrawItem
	var blended []blendedItem
	for _, e := range view.scene.entities {
		if e == nil || e.Mesh == nil {
			continue
		}
		if _, ok := r.meshes[e.Mesh]; !ok {
			return nil, fmt.Errorf("entity %q mesh: %w", e.Name, ErrUnknownResource)
		}
		if e.Material != nil {
			if _, ok := r.materials[e.Material]; !ok {
				return nil, fmt.Errorf("entity %q material: %w", e.Name, ErrUnknownResource)
			}
		}
		if e.Mesh.indexCount == 0 {
			continue
		}

		item := DrawItem{
			Mesh:     e.Mesh,
			Material: e.Material,
			MVP:      viewProjection.Mul4(e.Transform),
		}
		if e.Material != nil && e.Material.desc.AlphaMode == common.AlphaModeBlend {
			item.Blended = true
			// View space looks down -Z: more negative is farther.
			depth := viewMatrix.Mul4(e.Transform).Col(3).Z()
			blended = append(blended, blendedItem{item: item, depth: depth})
			continue
		}
		items = append(items, item)
	}

	sort.SliceStable(blended, func(i, j int) bool { return blended[i].depth < blended[j].depth })
	for _, b := range blended {
		items = append(items, b.item)
	}
	return items, nil
}

func (r *renderer) ReadPixels(target *RenderTarget, region PixelRegion, dst []byte, done func(error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return ErrReleased
	}

	if _, ok := r.renderTargets[target]; !ok {
		return fmt.Errorf("read-back target: %w", ErrUnknownResource)
	}
	if target.color.usage&TextureUsageReadback == 0 {
		return fmt.Errorf("%w: texture %q lacks TextureUsageReadback", ErrInvalidDescriptor, target.color.label)
	}
	tw, th := target.color.Size()
	if region.Width == 0 || region.Height == 0 ||
		uint64(region.X)+uint64(region.Width) > uint64(tw) || uint64(region.Y)+uint64(region.Height) > uint64(th) {
		return fmt.Errorf("%w: %+v in %dx%d", ErrRegionOutOfBounds, region, tw, th)
	}
	if want := common.RGBABufferSize(region.Width, region.Height); len(dst) != want {
		return fmt.Errorf("%w: destination has %d bytes, want %d", ErrInvalidDescriptor, len(dst), want)
	}
	if done == nil {
		done = func(error) {}
	}

	return r.backend.ReadPixels(target, region, dst, done)
}

// Flush runs without r.mu held so read-back callbacks may call back into the renderer.
func (r *renderer) Flush() error {
	r.mu.Lock()
	released := r.released
	r.mu.Unlock()
	if released {
		return ErrReleased
	}
	return r.backend.Flush()
}

func (r *renderer) DestroyTexture(t *Texture) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.textures[t]; !ok {
		return fmt.Errorf("texture: %w", ErrUnknownResource)
	}
	delete(r.textures, t)
	r.backend.DestroyTexture(t)
	return nil
}

func (r *renderer) DestroyRenderTarget(rt *RenderTarget) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.renderTargets[rt]; !ok {
		return fmt.Errorf("render target: %w", ErrUnknownResource)
	}
	delete(r.renderTargets, rt)
	return nil
}

func (r *renderer) DestroyMesh(m *Mesh) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.meshes[m]; !ok {
		return fmt.Errorf("mesh: %w", ErrUnknownResource)
	}
	delete(r.meshes, m)
	r.backend.DestroyMesh(m)
	return nil
}

func (r *renderer) DestroyMaterial(m *Material) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.materials[m]; !ok {
		return fmt.Errorf("material: %w", ErrUnknownResource)
	}
	delete(r.materials, m)
	r.backend.DestroyMaterial(m)
	return nil
}

func (r *renderer) DestroyScene(s *Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.scenes[s]; !ok {
		return fmt.Errorf("scene: %w", ErrUnknownResource)
	}
	delete(r.scenes, s)
	s.entities = nil
	return nil
}

func (r *renderer) DestroyView(v *View) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.views[v]; !ok {
		return fmt.Errorf("view: %w", ErrUnknownResource)
	}
	delete(r.views, v)
	return nil
}

func (r *renderer) Stats() ResourceStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return ResourceStats{
		Textures:      len(r.textures),
		RenderTargets: len(r.renderTargets),
		Meshes:        len(r.meshes),
		Materials:     len(r.materials),
		Scenes:        len(r.scenes),
		Views:         len(r.views),
	}
}

func (r *renderer) Release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true

	leaked := ResourceStats{
		Textures:      len(r.textures),
		RenderTargets: len(r.renderTargets),
		Meshes:        len(r.meshes),
		Materials:     len(r.materials),
		Scenes:        len(r.scenes),
		Views:         len(r.views),
	}
	r.mu.Unlock()

	if leaked.Total() > 0 {
		r.logger.Warn("renderer released with live resources",
			"textures", leaked.Textures,
			"renderTargets", leaked.RenderTargets,
			"meshes", leaked.Meshes,
			"materials", leaked.Materials,
			"scenes", leaked.Scenes,
			"views", leaked.Views,
		)
	}

	if err := r.flushQuietly(); err != nil {
		r.logger.Warn("flush before release failed", "err", err)
	}
	r.backend.Release()

	r.mu.Lock()
	clear(r.textures)
	clear(r.renderTargets)
	clear(r.meshes)
	clear(r.materials)
	clear(r.scenes)
	clear(r.views)
	r.mu.Unlock()
	r.logger.Debug("renderer released", "backend", r.backendType.String())
}

// flushQuietly drains the backend, converting a panic from a broken device into an error.
func (r *renderer) flushQuietly() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New(fmt.Sprint(p))
		}
	}()
	return r.backend.Flush()
}
