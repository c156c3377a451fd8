package loader

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/Carmen-Shannon/gltf2image/common"
	"github.com/Carmen-Shannon/gltf2image/engine/camera"
	"github.com/Carmen-Shannon/gltf2image/engine/renderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(t *testing.T, options ...LoaderBuilderOption) (Loader, renderer.Renderer) {
	t.Helper()
	r, err := renderer.NewRenderer(renderer.BackendTypeSoftware)
	require.NoError(t, err)
	t.Cleanup(r.Release)

	l, err := NewLoader(BackendTypeGLTF, append([]LoaderBuilderOption{WithRenderer(r)}, options...)...)
	require.NoError(t, err)
	return l, r
}

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

// triangleURI returns a data URI holding three VEC3 float positions.
func triangleURI() string {
	buf := make([]byte, 0, 36)
	for _, f := range []float32{-1, 1, 0, 1, -1, 0, 1, 1, 0} {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(buf)
}

func TestNewLoader_RequiresRenderer(t *testing.T) {
	_, err := NewLoader(BackendTypeGLTF)
	assert.Error(t, err)
}

func TestLoadAsset_RedTriangle(t *testing.T) {
	l, r := newTestLoader(t)

	a, err := l.LoadAsset(readTestdata(t, "red_triangle_unlit.gltf"))
	require.NoError(t, err)

	assert.Equal(t, "red_triangle", a.Name())
	assert.Empty(t, a.CameraEntities())
	require.Len(t, a.Entities(), 1)

	e := a.Entities()[0]
	assert.Equal(t, "triangle", e.Name)
	require.NotNil(t, e.Mesh)
	assert.Equal(t, 3, e.Mesh.IndexCount())
	require.NotNil(t, e.Material)
	assert.Equal(t, [4]float32{1, 0, 0, 1}, e.Material.Descriptor().BaseColor)
	assert.Equal(t, common.AlphaModeOpaque, e.Material.Descriptor().AlphaMode)

	textures, materials, meshes := a.ResourceCounts()
	assert.Equal(t, 0, textures)
	assert.Equal(t, 1, materials)
	assert.Equal(t, 1, meshes)
	assert.Equal(t, renderer.ResourceStats{Materials: 1, Meshes: 1}, r.Stats())
}

func TestLoadAsset_OrthographicCamera(t *testing.T) {
	l, _ := newTestLoader(t)

	a, err := l.LoadAsset(readTestdata(t, "orthographic_camera.gltf"))
	require.NoError(t, err)
	require.Len(t, a.CameraEntities(), 1)
	assert.Len(t, a.Entities(), 1)

	e := a.CameraEntities()[0]
	assert.Nil(t, e.Mesh)
	require.NotNil(t, e.Camera)
	assert.Equal(t, camera.ProjectionOrthographic, e.Camera.Projection())
	xmag, ymag := e.Camera.Magnification()
	assert.Equal(t, float32(1), xmag)
	assert.Equal(t, float32(1), ymag)
	assert.InDelta(t, 1.0, e.Transform.Col(3).Z(), 1e-6)
}

func TestLoadAsset_TexturedQuad(t *testing.T) {
	l, r := newTestLoader(t, WithDecodeWorkers(2))

	a, err := l.LoadAsset(readTestdata(t, "textured_quad.gltf"))
	require.NoError(t, err)

	// Both materials sample the same glTF texture, which is uploaded once.
	textures, materials, meshes := a.ResourceCounts()
	assert.Equal(t, 1, textures)
	assert.Equal(t, 2, materials)
	assert.Equal(t, 1, meshes)
	assert.Equal(t, 1, r.Stats().Textures)

	require.Len(t, a.Entities(), 2)
	quad := a.Entities()[0]
	require.NotNil(t, quad.Material)
	desc := quad.Material.Descriptor()
	assert.Equal(t, "checker", desc.Label)
	assert.Equal(t, common.AlphaModeMask, desc.AlphaMode)
	assert.Equal(t, float32(0.25), desc.AlphaCutoff)
	assert.True(t, desc.DoubleSided)
	require.NotNil(t, desc.BaseColorTexture)
	w, h := desc.BaseColorTexture.Size()
	assert.Equal(t, uint32(2), w)
	assert.Equal(t, uint32(2), h)
	assert.Equal(t, 6, quad.Mesh.IndexCount())

	require.Len(t, a.CameraEntities(), 1)
	eye := a.CameraEntities()[0].Camera
	assert.Equal(t, camera.ProjectionPerspective, eye.Projection())
	assert.Equal(t, float32(0), eye.Far(), "a perspective camera without zfar is infinite")
	assert.Equal(t, float32(0), eye.Aspect())
}

func TestLoadAsset_CameraRigTransforms(t *testing.T) {
	l, _ := newTestLoader(t)

	a, err := l.LoadAsset(readTestdata(t, "camera_rig.gltf"))
	require.NoError(t, err)
	require.Len(t, a.CameraEntities(), 2)

	left := a.CameraEntities()[0]
	assert.Equal(t, "left", left.Name)
	assert.InDelta(t, -2.0, left.Transform.Col(3).X(), 1e-5)
	assert.InDelta(t, 5.0, left.Transform.Col(3).Z(), 1e-5)
	assert.Equal(t, float32(1.5), left.Camera.Aspect())
	assert.Equal(t, float32(100), left.Camera.Far())

	right := a.CameraEntities()[1]
	assert.Equal(t, "right", right.Name)
	assert.InDelta(t, 2.0, right.Transform.Col(3).X(), 1e-5)
	assert.Equal(t, camera.ProjectionOrthographic, right.Camera.Projection())
	xmag, _ := right.Camera.Magnification()
	assert.Equal(t, float32(2), xmag)
}

func TestLoadAsset_GLB(t *testing.T) {
	l, _ := newTestLoader(t)

	a, err := l.LoadAsset(readTestdata(t, "red_triangle_camera.glb"))
	require.NoError(t, err)

	assert.Len(t, a.Entities(), 2)
	assert.Len(t, a.CameraEntities(), 1)
	textures, _, _ := a.ResourceCounts()
	assert.Equal(t, 1, textures)
}

func TestLoadAsset_ExternalResources(t *testing.T) {
	dir := filepath.Join("testdata", "external")

	t.Run("resolved under the resource dir", func(t *testing.T) {
		l, _ := newTestLoader(t, WithResourceDir(dir))
		a, err := l.LoadAsset(readTestdata(t, "external/red_triangle.gltf"))
		require.NoError(t, err)
		assert.Len(t, a.Entities(), 1)
	})

	t.Run("rejected without a resource dir", func(t *testing.T) {
		l, _ := newTestLoader(t)
		_, err := l.LoadAsset(readTestdata(t, "external/red_triangle.gltf"))
		assert.ErrorIs(t, err, ErrInvalidAsset)
	})

	t.Run("rejected when escaping the resource dir", func(t *testing.T) {
		l, _ := newTestLoader(t, WithResourceDir(dir))
		_, err := l.LoadAsset(readTestdata(t, "external/escaping.gltf"))
		assert.ErrorIs(t, err, ErrInvalidAsset)
	})
}

func TestLoadAsset_InvalidData(t *testing.T) {
	l, r := newTestLoader(t)

	cases := map[string]string{
		"empty":              "",
		"not json":           "not json",
		"wrong shape":        `{ "invalid": "format" }`,
		"glTF 1.0":           `{"asset":{"version":"1.0"}}`,
		"unsupported ext":    `{"asset":{"version":"2.0"},"extensionsRequired":["KHR_draco_mesh_compression"]}`,
		"accessor range":     `{"asset":{"version":"2.0"},"meshes":[{"primitives":[{"attributes":{"POSITION":7}}]}]}`,
		"bad scene index":    `{"asset":{"version":"2.0"},"scene":3,"scenes":[{"nodes":[]}]}`,
		"node cycle":         `{"asset":{"version":"2.0"},"scenes":[{"nodes":[0]}],"nodes":[{"children":[1]},{"children":[0]}]}`,
		"unknown alpha mode": `{"asset":{"version":"2.0"},"materials":[{"alphaMode":"DITHER"}]}`,
		"camera type":        `{"asset":{"version":"2.0"},"cameras":[{"type":"fisheye"}]}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			a, err := l.LoadAsset([]byte(data))
			assert.Nil(t, a)
			assert.ErrorIs(t, err, ErrInvalidAsset)
		})
	}

	assert.Empty(t, l.Assets())
	assert.Zero(t, r.Stats().Total())
}

func TestLoadAsset_FailedDecodeLeavesNothingBehind(t *testing.T) {
	l, r := newTestLoader(t)

	doc := `{
		"asset": {"version": "2.0"},
		"scenes": [{"nodes": [0]}],
		"nodes": [{"mesh": 0}],
		"meshes": [{"primitives": [{"attributes": {"POSITION": 0}, "material": 0}]}],
		"materials": [{"pbrMetallicRoughness": {"baseColorTexture": {"index": 0}}}],
		"textures": [{"source": 0}],
		"images": [{"uri": "data:image/png;base64,bm90IGEgcG5n"}],
		"accessors": [{"bufferView": 0, "componentType": 5126, "count": 3, "type": "VEC3"}],
		"bufferViews": [{"buffer": 0, "byteLength": 36}],
		"buffers": [{"uri": "` + triangleURI() + `", "byteLength": 36}]
	}`

	_, err := l.LoadAsset([]byte(doc))
	assert.ErrorIs(t, err, ErrInvalidAsset)
	assert.Zero(t, r.Stats().Total())
}

func TestLoadAsset_NonIndexedDefaultMaterial(t *testing.T) {
	l, _ := newTestLoader(t)

	doc := `{
		"asset": {"version": "2.0"},
		"nodes": [{"name": "a", "mesh": 0}, {"name": "b", "mesh": 0, "translation": [3, 0, 0]}],
		"meshes": [{"primitives": [{"attributes": {"POSITION": 0}}]}],
		"accessors": [{"bufferView": 0, "componentType": 5126, "count": 3, "type": "VEC3"}],
		"bufferViews": [{"buffer": 0, "byteLength": 36}],
		"buffers": [{"uri": "` + triangleURI() + `", "byteLength": 36}]
	}`

	a, err := l.LoadAsset([]byte(doc))
	require.NoError(t, err)

	// Without scenes every root node is instanced; both share one mesh.
	require.Len(t, a.Entities(), 2)
	assert.Nil(t, a.Entities()[0].Material)
	assert.Same(t, a.Entities()[0].Mesh, a.Entities()[1].Mesh)
	assert.InDelta(t, 3.0, a.Entities()[1].Transform.Col(3).X(), 1e-6)
	_, _, meshes := a.ResourceCounts()
	assert.Equal(t, 1, meshes)
}

func TestDestroyAsset(t *testing.T) {
	l, r := newTestLoader(t)

	first, err := l.LoadAsset(readTestdata(t, "textured_quad.gltf"))
	require.NoError(t, err)
	second, err := l.LoadAsset(readTestdata(t, "textured_quad.gltf"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, []*Asset{first, second}, l.Assets())

	require.NoError(t, l.DestroyAsset(first))
	assert.Equal(t, []*Asset{second}, l.Assets())
	assert.Equal(t, renderer.ResourceStats{Textures: 1, Materials: 2, Meshes: 1}, r.Stats())

	assert.ErrorIs(t, l.DestroyAsset(first), ErrUnknownAsset)
	assert.ErrorIs(t, l.DestroyAsset(nil), ErrUnknownAsset)

	// Reloading after a destroy yields an independent asset.
	third, err := l.LoadAsset(readTestdata(t, "textured_quad.gltf"))
	require.NoError(t, err)
	require.NoError(t, l.DestroyAsset(second))
	require.NoError(t, l.DestroyAsset(third))
	assert.Zero(t, r.Stats().Total())
}

func TestRelease(t *testing.T) {
	l, r := newTestLoader(t)

	a, err := l.LoadAsset(readTestdata(t, "red_triangle_unlit.gltf"))
	require.NoError(t, err)
	_, err = l.LoadAsset(readTestdata(t, "orthographic_camera.gltf"))
	require.NoError(t, err)

	require.NoError(t, l.Release())
	assert.Zero(t, r.Stats().Total())
	assert.Empty(t, l.Assets())

	_, err = l.LoadAsset(readTestdata(t, "red_triangle_unlit.gltf"))
	assert.ErrorIs(t, err, ErrLoaderReleased)
	assert.ErrorIs(t, l.DestroyAsset(a), ErrLoaderReleased)
	assert.ErrorIs(t, l.Release(), ErrLoaderReleased)
}

func TestRelease_StopsDecodeWorkers(t *testing.T) {
	before := runtime.NumGoroutine()
	for range 10 {
		l, _ := newTestLoader(t, WithDecodeWorkers(8))
		require.NoError(t, l.Release())
	}
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 2*time.Second, 10*time.Millisecond)
}
