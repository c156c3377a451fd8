package renderer

import (
	"testing"

	"github.com/Carmen-Shannon/gltf2image/common"
	"github.com/Carmen-Shannon/gltf2image/engine/camera"
	"github.com/Carmen-Shannon/gltf2image/engine/model"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSoftwareRenderer(t *testing.T) Renderer {
	t.Helper()
	r, err := NewRenderer(BackendTypeSoftware)
	require.NoError(t, err)
	t.Cleanup(r.Release)
	return r
}

// quad returns a square covering [-1, 1] in x and y at depth z, with uv (0, 0) at the top-left.
func quad(z float32) MeshDescriptor {
	white := [4]float32{1, 1, 1, 1}
	return MeshDescriptor{
		Label: "quad",
		Vertices: []model.Vertex{
			{Position: [3]float32{-1, -1, z}, TexCoord: [2]float32{0, 1}, Color: white},
			{Position: [3]float32{1, -1, z}, TexCoord: [2]float32{1, 1}, Color: white},
			{Position: [3]float32{1, 1, z}, TexCoord: [2]float32{1, 0}, Color: white},
			{Position: [3]float32{-1, 1, z}, TexCoord: [2]float32{0, 0}, Color: white},
		},
		Indices: []uint32{0, 1, 2, 0, 2, 3},
	}
}

type testScene struct {
	r      Renderer
	scene  *Scene
	view   *View
	target *RenderTarget
	width  uint32
	height uint32
}

// newTestScene builds a view with an orthographic camera at the origin that maps [-1, 1] onto the target.
func newTestScene(t *testing.T, r Renderer, width, height uint32, format wgpu.TextureFormat) *testScene {
	t.Helper()

	color, err := r.CreateTexture(TextureDescriptor{
		Label:  "color",
		Width:  width,
		Height: height,
		Format: format,
		Usage:  TextureUsageColorAttachment | TextureUsageReadback,
	})
	require.NoError(t, err)
	target, err := r.CreateRenderTarget("target", color)
	require.NoError(t, err)

	cam := &Entity{
		Name:      "camera",
		Transform: mgl32.Ident4(),
		Camera:    camera.NewCamera(camera.WithOrthographic(1, 1, 0.1, 10)),
	}
	scene := r.CreateScene()
	view := r.CreateView()
	view.SetScene(scene)
	view.SetRenderTarget(target)
	require.NoError(t, view.SetCamera(cam))

	return &testScene{r: r, scene: scene, view: view, target: target, width: width, height: height}
}

func (s *testScene) add(t *testing.T, mesh MeshDescriptor, mat *MaterialDescriptor) {
	t.Helper()

	m, err := s.r.CreateMesh(mesh)
	require.NoError(t, err)
	e := &Entity{Name: mesh.Label, Transform: mgl32.Ident4(), Mesh: m}
	if mat != nil {
		e.Material, err = s.r.CreateMaterial(*mat)
		require.NoError(t, err)
	}
	s.scene.AddEntity(e)
}

func (s *testScene) render(t *testing.T) []byte {
	t.Helper()

	require.NoError(t, s.r.RenderStandalone(s.view))
	pixels := make([]byte, common.RGBABufferSize(s.width, s.height))
	var got error
	called := false
	require.NoError(t, s.r.ReadPixels(s.target, PixelRegion{Width: s.width, Height: s.height}, pixels, func(err error) {
		called = true
		got = err
	}))
	require.NoError(t, s.r.Flush())
	require.True(t, called)
	require.NoError(t, got)
	return pixels
}

func pixelAt(pixels []byte, width, x, y int) [4]byte {
	i := (y*width + x) * 4
	return [4]byte{pixels[i], pixels[i+1], pixels[i+2], pixels[i+3]}
}

func TestRenderOpaqueQuadFillsTarget(t *testing.T) {
	r := newSoftwareRenderer(t)
	s := newTestScene(t, r, 4, 4, wgpu.TextureFormatRGBA8Unorm)
	s.add(t, quad(-1), &MaterialDescriptor{Label: "red", BaseColor: [4]float32{1, 0, 0, 1}})

	pixels := s.render(t)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, [4]byte{255, 0, 0, 255}, pixelAt(pixels, 4, x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestNilMaterialDrawsWhite(t *testing.T) {
	r := newSoftwareRenderer(t)
	s := newTestScene(t, r, 2, 2, wgpu.TextureFormatRGBA8Unorm)
	s.add(t, quad(-1), nil)

	pixels := s.render(t)
	assert.Equal(t, [4]byte{255, 255, 255, 255}, pixelAt(pixels, 2, 1, 1))
}

func TestClearColorAndBlendMode(t *testing.T) {
	r := newSoftwareRenderer(t)
	s := newTestScene(t, r, 2, 2, wgpu.TextureFormatRGBA8Unorm)
	s.view.SetClearColor([4]float32{0, 0, 1, 0.5})

	pixels := s.render(t)
	assert.Equal(t, [4]byte{0, 0, 255, 255}, pixelAt(pixels, 2, 0, 0), "opaque views force alpha to 1")

	s.view.SetBlendMode(BlendModeTranslucent)
	pixels = s.render(t)
	assert.Equal(t, [4]byte{0, 0, 255, 128}, pixelAt(pixels, 2, 0, 0))
}

func TestDepthTestKeepsNearestSurface(t *testing.T) {
	r := newSoftwareRenderer(t)
	s := newTestScene(t, r, 2, 2, wgpu.TextureFormatRGBA8Unorm)
	s.add(t, quad(-1), &MaterialDescriptor{Label: "near", BaseColor: [4]float32{0, 0, 1, 1}})
	s.add(t, quad(-2), &MaterialDescriptor{Label: "far", BaseColor: [4]float32{1, 0, 0, 1}})

	pixels := s.render(t)
	assert.Equal(t, [4]byte{0, 0, 255, 255}, pixelAt(pixels, 2, 0, 0))
}

func TestBlendedItemOverOpaque(t *testing.T) {
	r := newSoftwareRenderer(t)
	s := newTestScene(t, r, 2, 2, wgpu.TextureFormatRGBA8Unorm)
	s.add(t, quad(-1), &MaterialDescriptor{
		Label:     "glass",
		BaseColor: [4]float32{0, 1, 0, 0.5},
		AlphaMode: common.AlphaModeBlend,
	})
	s.add(t, quad(-2), &MaterialDescriptor{Label: "wall", BaseColor: [4]float32{1, 0, 0, 1}})

	pixels := s.render(t)
	assert.Equal(t, [4]byte{128, 128, 0, 255}, pixelAt(pixels, 2, 1, 0))
}

func TestMaskDiscardsBelowCutoff(t *testing.T) {
	r := newSoftwareRenderer(t)
	s := newTestScene(t, r, 2, 2, wgpu.TextureFormatRGBA8Unorm)
	s.view.SetBlendMode(BlendModeTranslucent)
	s.add(t, quad(-1), &MaterialDescriptor{
		Label:       "cut",
		BaseColor:   [4]float32{1, 1, 1, 0.3},
		AlphaMode:   common.AlphaModeMask,
		AlphaCutoff: 0.5,
	})
	s.add(t, quad(-2), &MaterialDescriptor{
		Label:       "kept",
		BaseColor:   [4]float32{1, 0, 0, 0.7},
		AlphaMode:   common.AlphaModeMask,
		AlphaCutoff: 0.5,
	})

	pixels := s.render(t)
	assert.Equal(t, [4]byte{255, 0, 0, 255}, pixelAt(pixels, 2, 0, 1))
}

func TestViewportLimitsDrawing(t *testing.T) {
	r := newSoftwareRenderer(t)
	s := newTestScene(t, r, 4, 2, wgpu.TextureFormatRGBA8Unorm)
	s.view.SetViewport(Viewport{X: 2, Y: 0, Width: 2, Height: 2})
	s.add(t, quad(-1), &MaterialDescriptor{Label: "red", BaseColor: [4]float32{1, 0, 0, 1}})

	pixels := s.render(t)
	assert.Equal(t, [4]byte{0, 0, 0, 255}, pixelAt(pixels, 4, 0, 0))
	assert.Equal(t, [4]byte{0, 0, 0, 255}, pixelAt(pixels, 4, 1, 1))
	assert.Equal(t, [4]byte{255, 0, 0, 255}, pixelAt(pixels, 4, 2, 0))
	assert.Equal(t, [4]byte{255, 0, 0, 255}, pixelAt(pixels, 4, 3, 1))

	s.view.SetViewport(Viewport{X: 3, Width: 2, Height: 2})
	assert.ErrorIs(t, r.RenderStandalone(s.view), ErrInvalidDescriptor)
}

func TestTextureSamplingNearest(t *testing.T) {
	r := newSoftwareRenderer(t)
	s := newTestScene(t, r, 2, 2, wgpu.TextureFormatRGBA8Unorm)

	tex, err := r.CreateTexture(TextureDescriptor{
		Label:  "checker",
		Width:  2,
		Height: 1,
		Format: wgpu.TextureFormatRGBA8Unorm,
		Usage:  TextureUsageSampled,
		Pixels: []byte{255, 0, 0, 255, 0, 255, 0, 255},
	})
	require.NoError(t, err)
	s.add(t, quad(-1), &MaterialDescriptor{Label: "textured", BaseColor: [4]float32{1, 1, 1, 1}, BaseColorTexture: tex})

	pixels := s.render(t)
	assert.Equal(t, [4]byte{255, 0, 0, 255}, pixelAt(pixels, 2, 0, 0))
	assert.Equal(t, [4]byte{0, 255, 0, 255}, pixelAt(pixels, 2, 1, 1))
}

func TestSRGBTargetEncodesOnReadback(t *testing.T) {
	r := newSoftwareRenderer(t)
	s := newTestScene(t, r, 1, 1, 0)
	assert.Equal(t, wgpu.TextureFormatRGBA8UnormSrgb, s.target.Color().Format())

	s.view.SetClearColor([4]float32{0.5, 0, 1, 1})
	pixels := s.render(t)
	assert.InDelta(t, 188, int(pixels[0]), 1)
	assert.Equal(t, byte(0), pixels[1])
	assert.Equal(t, byte(255), pixels[2])
}

func TestWrapCoord(t *testing.T) {
	assert.Equal(t, 0, wrapCoord(1.1, 4, wgpu.AddressModeRepeat))
	assert.Equal(t, 3, wrapCoord(-0.1, 4, wgpu.AddressModeRepeat))
	assert.Equal(t, 3, wrapCoord(1.1, 4, wgpu.AddressModeClampToEdge))
	assert.Equal(t, 0, wrapCoord(-3, 4, wgpu.AddressModeClampToEdge))
	assert.Equal(t, 3, wrapCoord(1.1, 4, wgpu.AddressModeMirrorRepeat))
	assert.Equal(t, 0, wrapCoord(-0.1, 4, wgpu.AddressModeMirrorRepeat))
}

func TestBlendedItemsSortFarthestFirst(t *testing.T) {
	r := newSoftwareRenderer(t)
	s := newTestScene(t, r, 2, 2, wgpu.TextureFormatRGBA8Unorm)
	s.add(t, quad(-1), &MaterialDescriptor{Label: "near", AlphaMode: common.AlphaModeBlend})
	s.add(t, quad(-1), &MaterialDescriptor{Label: "opaque"})
	s.add(t, quad(-1), &MaterialDescriptor{Label: "far", AlphaMode: common.AlphaModeBlend})

	entities := s.scene.Entities()
	entities[0].Transform = mgl32.Translate3D(0, 0, -1)
	entities[2].Transform = mgl32.Translate3D(0, 0, -5)

	impl := r.(*renderer)
	items, err := impl.drawList(s.view, Viewport{Width: 2, Height: 2})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "opaque", items[0].Material.Label())
	assert.False(t, items[0].Blended)
	assert.Equal(t, "far", items[1].Material.Label())
	assert.Equal(t, "near", items[2].Material.Label())
	assert.True(t, items[2].Blended)
}

func TestReadPixelsDeliversOnFlush(t *testing.T) {
	r := newSoftwareRenderer(t)
	s := newTestScene(t, r, 2, 2, wgpu.TextureFormatRGBA8Unorm)
	require.NoError(t, r.RenderStandalone(s.view))

	dst := make([]byte, 16)
	calls := 0
	require.NoError(t, r.ReadPixels(s.target, PixelRegion{Width: 2, Height: 2}, dst, func(err error) {
		assert.NoError(t, err)
		calls++
	}))
	assert.Zero(t, calls)
	require.NoError(t, r.Flush())
	assert.Equal(t, 1, calls)
	require.NoError(t, r.Flush())
	assert.Equal(t, 1, calls)
}

func TestReadPixelsValidation(t *testing.T) {
	r := newSoftwareRenderer(t)
	s := newTestScene(t, r, 2, 2, wgpu.TextureFormatRGBA8Unorm)

	err := r.ReadPixels(s.target, PixelRegion{X: 1, Width: 2, Height: 2}, make([]byte, 16), nil)
	assert.ErrorIs(t, err, ErrRegionOutOfBounds)

	err = r.ReadPixels(s.target, PixelRegion{Width: 2, Height: 2}, make([]byte, 15), nil)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	tex, err := r.CreateTexture(TextureDescriptor{Label: "no-readback", Width: 2, Height: 2, Usage: TextureUsageColorAttachment})
	require.NoError(t, err)
	rt, err := r.CreateRenderTarget("no-readback", tex)
	require.NoError(t, err)
	err = r.ReadPixels(rt, PixelRegion{Width: 2, Height: 2}, make([]byte, 16), nil)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestCreateValidation(t *testing.T) {
	r := newSoftwareRenderer(t)

	_, err := r.CreateTexture(TextureDescriptor{Width: 0, Height: 4})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	_, err = r.CreateTexture(TextureDescriptor{Width: 2, Height: 2, Format: wgpu.TextureFormatBGRA8Unorm})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	_, err = r.CreateTexture(TextureDescriptor{Width: 2, Height: 2, Pixels: make([]byte, 3)})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	sampled, err := r.CreateTexture(TextureDescriptor{Label: "sampled", Width: 1, Height: 1, Usage: TextureUsageSampled})
	require.NoError(t, err)
	_, err = r.CreateRenderTarget("bad", sampled)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	_, err = r.CreateMesh(MeshDescriptor{Vertices: make([]model.Vertex, 3), Indices: []uint32{0, 1}})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	_, err = r.CreateMesh(MeshDescriptor{Vertices: make([]model.Vertex, 3), Indices: []uint32{0, 1, 3}})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	require.NoError(t, r.DestroyTexture(sampled))
	_, err = r.CreateMaterial(MaterialDescriptor{BaseColorTexture: sampled})
	assert.ErrorIs(t, err, ErrUnknownResource)
}

func TestIncompleteViewAndCameraEntity(t *testing.T) {
	r := newSoftwareRenderer(t)
	v := r.CreateView()
	assert.ErrorIs(t, r.RenderStandalone(v), ErrIncompleteView)
	assert.ErrorIs(t, v.SetCamera(&Entity{Name: "not a camera"}), ErrInvalidDescriptor)
}

func TestDestroyTwiceAndStats(t *testing.T) {
	r := newSoftwareRenderer(t)
	s := newTestScene(t, r, 2, 2, wgpu.TextureFormatRGBA8Unorm)
	s.add(t, quad(-1), &MaterialDescriptor{Label: "m"})

	stats := r.Stats()
	assert.Equal(t, ResourceStats{Textures: 1, RenderTargets: 1, Meshes: 1, Materials: 1, Scenes: 1, Views: 1}, stats)
	assert.Equal(t, 6, stats.Total())

	e := s.scene.Entities()[0]
	require.NoError(t, r.DestroyMaterial(e.Material))
	assert.ErrorIs(t, r.DestroyMaterial(e.Material), ErrUnknownResource)
	assert.ErrorIs(t, r.RenderStandalone(s.view), ErrUnknownResource)

	require.NoError(t, r.DestroyMesh(e.Mesh))
	require.NoError(t, r.DestroyView(s.view))
	require.NoError(t, r.DestroyScene(s.scene))
	require.NoError(t, r.DestroyRenderTarget(s.target))
	require.NoError(t, r.DestroyTexture(s.target.Color()))
	assert.Zero(t, r.Stats().Total())
	assert.ErrorIs(t, r.DestroyView(s.view), ErrUnknownResource)
}

func TestReleaseFailsLaterCalls(t *testing.T) {
	r, err := NewRenderer(BackendTypeSoftware)
	require.NoError(t, err)
	s := newTestScene(t, r, 2, 2, wgpu.TextureFormatRGBA8Unorm)
	require.NoError(t, r.RenderStandalone(s.view))

	var got error
	require.NoError(t, r.ReadPixels(s.target, PixelRegion{Width: 2, Height: 2}, make([]byte, 16), func(err error) { got = err }))

	r.Release()
	assert.NoError(t, got, "pending read-backs are flushed before release")
	_, err = r.CreateTexture(TextureDescriptor{Width: 1, Height: 1})
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, r.Flush(), ErrReleased)
	r.Release()
}

func TestParseBackendType(t *testing.T) {
	bt, err := ParseBackendType("cpu")
	require.NoError(t, err)
	assert.Equal(t, BackendTypeSoftware, bt)

	bt, err = ParseBackendType("wgpu")
	require.NoError(t, err)
	assert.Equal(t, BackendTypeWGPU, bt)

	_, err = ParseBackendType("vulkan")
	assert.Error(t, err)
}
