package renderer

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// RendererBackendType identifies the backend implementation used by the Renderer.
type RendererBackendType int

const (
	// BackendTypeWGPU selects the WebGPU backend running headless on a GPU adapter.
	BackendTypeWGPU RendererBackendType = iota

	// BackendTypeSoftware selects the CPU rasterizer. It needs no GPU and is deterministic.
	BackendTypeSoftware
)

// String returns the backend name as used in configuration files.
func (t RendererBackendType) String() string {
	switch t {
	case BackendTypeWGPU:
		return "wgpu"
	case BackendTypeSoftware:
		return "software"
	default:
		return fmt.Sprintf("RendererBackendType(%d)", int(t))
	}
}

// ParseBackendType parses a backend name produced by String.
//
// Parameters:
//   - name: "wgpu" or "software"
//
// Returns:
//   - RendererBackendType: the parsed type
//   - error: error if the name is unknown
func ParseBackendType(name string) (RendererBackendType, error) {
	switch name {
	case "wgpu", "gpu":
		return BackendTypeWGPU, nil
	case "software", "cpu":
		return BackendTypeSoftware, nil
	default:
		return 0, fmt.Errorf("unknown renderer backend %q", name)
	}
}

// DrawItem is one mesh drawn with one material and a precomputed clip-space transform.
type DrawItem struct {
	Mesh     *Mesh
	Material *Material

	// MVP maps model space to clip space (projection * view * model), depth in [0, 1].
	MVP mgl32.Mat4

	// Blended marks items drawn with alpha blending and without depth writes.
	Blended bool
}

// RenderPass is everything a backend needs to produce one image.
// Items are drawn in order; the frontend puts blended items last, sorted back to front.
type RenderPass struct {
	Target     *RenderTarget
	Viewport   Viewport
	ClearColor [4]float32
	BlendMode  BlendMode
	Items      []DrawItem
}

// RendererBackend is the contract implemented by each backend. The Renderer frontend validates
// handles and owns bookkeeping; backends only hold their native objects keyed by handle.
// All methods are called from the thread that owns the Renderer.
type RendererBackend interface {
	// CreateTexture allocates native storage for t and uploads desc.Pixels when present.
	CreateTexture(t *Texture, desc TextureDescriptor) error

	// DestroyTexture frees the native storage of t.
	DestroyTexture(t *Texture)

	// CreateMesh uploads vertex and index data for m.
	CreateMesh(m *Mesh, desc MeshDescriptor) error

	// DestroyMesh frees the native buffers of m.
	DestroyMesh(m *Mesh)

	// CreateMaterial prepares native state (bind groups, samplers) for m.
	CreateMaterial(m *Material) error

	// DestroyMaterial frees the native state of m.
	DestroyMaterial(m *Material)

	// Draw clears pass.Target and draws pass.Items into it.
	Draw(pass RenderPass) error

	// ReadPixels schedules a copy of region into dst. done fires during a later Flush.
	ReadPixels(target *RenderTarget, region PixelRegion, dst []byte, done func(error)) error

	// Flush blocks until every submitted command has completed and every pending read-back callback has fired.
	Flush() error

	// Release frees every native object. The backend is unusable afterwards.
	Release()
}
