package renderer

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/gltf2image/common"
	"github.com/Carmen-Shannon/gltf2image/engine/camera"
	"github.com/Carmen-Shannon/gltf2image/engine/model"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

var (
	// ErrUnknownResource is returned when a handle was never created by this renderer or was already destroyed.
	ErrUnknownResource = errors.New("unknown or destroyed renderer resource")

	// ErrInvalidDescriptor is returned when a create call is given unusable parameters.
	ErrInvalidDescriptor = errors.New("invalid resource descriptor")

	// ErrIncompleteView is returned when a view is rendered without a scene, a target or a camera.
	ErrIncompleteView = errors.New("view is missing a scene, render target or camera")

	// ErrRegionOutOfBounds is returned when a read-back region does not fit the render target.
	ErrRegionOutOfBounds = errors.New("pixel region outside the render target")

	// ErrReleased is returned by every call made after Release.
	ErrReleased = errors.New("renderer released")
)

// TextureUsage is a bit set describing how a texture will be used.
type TextureUsage uint32

const (
	// TextureUsageSampled allows the texture to be sampled by materials.
	TextureUsageSampled TextureUsage = 1 << iota
	// TextureUsageColorAttachment allows the texture to back a render target.
	TextureUsageColorAttachment
	// TextureUsageReadback allows pixels to be copied back to the host.
	TextureUsageReadback
)

// TextureDescriptor describes a texture to create.
type TextureDescriptor struct {
	// Label names the texture in logs and GPU debuggers.
	Label string

	// Width and Height are the texture size in pixels. Both must be non-zero.
	Width, Height uint32

	// Format must be wgpu.TextureFormatRGBA8Unorm or wgpu.TextureFormatRGBA8UnormSrgb.
	// The zero value selects wgpu.TextureFormatRGBA8UnormSrgb.
	Format wgpu.TextureFormat

	// Usage is the set of allowed uses.
	Usage TextureUsage

	// Pixels is optional initial content, tightly packed RGBA8 with row 0 at the top.
	Pixels []byte

	// Sampler configures sampling when the texture is bound to a material. Nil means the glTF default.
	Sampler *common.SamplerStagingData
}

// Texture is a 2D RGBA8 image owned by a renderer.
type Texture struct {
	id      uint64
	label   string
	width   uint32
	height  uint32
	format  wgpu.TextureFormat
	usage   TextureUsage
	sampler common.SamplerStagingData
}

// Label returns the texture label.
func (t *Texture) Label() string { return t.label }

// Size returns the texture dimensions in pixels.
func (t *Texture) Size() (width, height uint32) { return t.width, t.height }

// Format returns the texel format.
func (t *Texture) Format() wgpu.TextureFormat { return t.format }

// Usage returns the usage flags the texture was created with.
func (t *Texture) Usage() TextureUsage { return t.usage }

// RenderTarget binds a color texture as the output of a view.
type RenderTarget struct {
	id    uint64
	label string
	color *Texture
}

// Label returns the render target label.
func (rt *RenderTarget) Label() string { return rt.label }

// Color returns the color attachment.
func (rt *RenderTarget) Color() *Texture { return rt.color }

// MeshDescriptor describes an indexed triangle list.
type MeshDescriptor struct {
	Label    string
	Vertices []model.Vertex
	Indices  []uint32
}

// Mesh is uploaded vertex and index data.
type Mesh struct {
	id         uint64
	label      string
	indexCount int
	vertices   int
}

// Label returns the mesh label.
func (m *Mesh) Label() string { return m.label }

// IndexCount returns the number of indices drawn.
func (m *Mesh) IndexCount() int { return m.indexCount }

// MaterialDescriptor describes an unlit material.
type MaterialDescriptor struct {
	Label string

	// BaseColor multiplies the texture and vertex colors (linear RGBA).
	BaseColor [4]float32

	// BaseColorTexture is optional. It must have TextureUsageSampled.
	BaseColorTexture *Texture

	AlphaMode   common.AlphaMode
	AlphaCutoff float32
	DoubleSided bool
}

// Material is a created unlit material.
type Material struct {
	id   uint64
	desc MaterialDescriptor
}

// Label returns the material label.
func (m *Material) Label() string { return m.desc.Label }

// Descriptor returns the values the material was created with.
func (m *Material) Descriptor() MaterialDescriptor { return m.desc }

// Entity is a renderable and/or camera-carrying node placed in world space.
// Entities belong to whoever created them; a scene only references them.
type Entity struct {
	// Name identifies the entity in logs.
	Name string

	// Transform is the model-to-world matrix.
	Transform mgl32.Mat4

	// Mesh and Material are set for drawable entities. A nil Material draws opaque white.
	Mesh     *Mesh
	Material *Material

	// Camera is set for camera entities. The camera looks down its local -Z axis.
	Camera camera.Camera
}

// Scene is an ordered set of entities.
type Scene struct {
	id       uint64
	entities []*Entity
}

// AddEntity appends an entity. Adding the same entity twice draws it twice.
func (s *Scene) AddEntity(e *Entity) {
	s.entities = append(s.entities, e)
}

// AddEntities appends entities in order.
func (s *Scene) AddEntities(es ...*Entity) {
	s.entities = append(s.entities, es...)
}

// Entities returns the entities in insertion order.
func (s *Scene) Entities() []*Entity {
	return s.entities
}

// BlendMode controls how the rendered view composes with its target.
type BlendMode int

const (
	// BlendModeOpaque forces the output alpha to 1.
	BlendModeOpaque BlendMode = iota
	// BlendModeTranslucent keeps the alpha produced by the clear color and the materials.
	BlendModeTranslucent
)

// Viewport is a pixel rectangle with its origin at the top-left corner of the target.
type Viewport struct {
	X, Y          uint32
	Width, Height uint32
}

// Aspect returns width over height, or 1 for a degenerate viewport.
func (v Viewport) Aspect() float32 {
	if v.Width == 0 || v.Height == 0 {
		return 1
	}
	return float32(v.Width) / float32(v.Height)
}

// View ties together what to render (a scene), from where (a camera entity) and into what (a render target).
type View struct {
	id         uint64
	scene      *Scene
	target     *RenderTarget
	camera     *Entity
	blend      BlendMode
	viewport   Viewport
	clearColor [4]float32
}

func (v *View) SetScene(s *Scene) { v.scene = s }
func (v *View) SetRenderTarget(rt *RenderTarget) { v.target = rt }
func (v *View) SetBlendMode(mode BlendMode) { v.blend = mode }
func (v *View) SetViewport(vp Viewport) { v.viewport = vp }
func (v *View) SetClearColor(color [4]float32) { v.clearColor = color }
func (v *View) Scene() *Scene { return v.scene }
func (v *View) RenderTarget() *RenderTarget { return v.target }
func (v *View) Camera() *Entity { return v.camera }
func (v *View) BlendMode() BlendMode { return v.blend }
func (v *View) Viewport() Viewport { return v.viewport }
func (v *View) ClearColor() [4]float32 { return v.clearColor }

// SetCamera selects the entity whose camera and transform the view renders from.
//
// Parameters:
//   - e: an entity with a non-nil Camera
//
// Returns:
//   - error: error if e carries no camera
func (v *View) SetCamera(e *Entity) error {
	if e == nil || e.Camera == nil {
		return fmt.Errorf("%w: entity has no camera", ErrInvalidDescriptor)
	}
	v.camera = e
	return nil
}

// PixelRegion is a rectangle of a render target to read back, origin at the top-left.
type PixelRegion struct {
	X, Y          uint32
	Width, Height uint32
}

// ResourceStats counts the live resources of a renderer.
type ResourceStats struct {
	Textures      int
	RenderTargets int
	Meshes        int
	Materials     int
	Scenes        int
	Views         int
}

// Total returns the sum of all live resources.
func (s ResourceStats) Total() int {
	return s.Textures + s.RenderTargets + s.Meshes + s.Materials + s.Scenes + s.Views
}
