package main

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/gltf2image/api"
	"github.com/Carmen-Shannon/gltf2image/engine/logging"
	"github.com/Carmen-Shannon/gltf2image/engine/renderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testdata(name string) string {
	return filepath.Join("..", "..", "api", "testdata", name)
}

func TestRenderEach(t *testing.T) {
	ctx, res := api.CreateContext(api.WithBackend(renderer.BackendTypeSoftware))
	require.Equal(t, api.Success, res)
	defer ctx.Destroy()

	out := t.TempDir()
	cfg := RenderConfig{Width: 16, Height: 8, OutDir: out, Workers: 2}
	err := renderEach(ctx, logging.Nop(), cfg, []string{testdata("red_triangle_camera.glb"), testdata("red_triangle_unlit.gltf")})

	// The camera-less triangle fails; the other file is still written.
	require.Error(t, err)
	assert.ErrorIs(t, err, api.InvalidSceneNoCamerasFound.Err())

	fp, err := os.Open(filepath.Join(out, "red_triangle_camera.png"))
	require.NoError(t, err)
	defer fp.Close()
	img, err := png.Decode(fp)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())

	_, err = os.Stat(filepath.Join(out, "red_triangle_unlit.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestRenderCombined(t *testing.T) {
	ctx, res := api.CreateContext(api.WithBackend(renderer.BackendTypeSoftware))
	require.Equal(t, api.Success, res)
	defer ctx.Destroy()

	out := filepath.Join(t.TempDir(), "combined.png")
	cfg := RenderConfig{Width: 32, Height: 32}
	require.NoError(t, renderCombined(ctx, cfg, []string{testdata("red_triangle_unlit.gltf"), testdata("orthographic_camera.gltf")}, out))

	fp, err := os.Open(out)
	require.NoError(t, err)
	defer fp.Close()
	img, err := png.Decode(fp)
	require.NoError(t, err)

	r, g, b, a := img.At(20, 10).RGBA()
	assert.Equal(t, [4]uint32{0xffff, 0, 0, 0xffff}, [4]uint32{r, g, b, a})

	// Both assets were destroyed again.
	var live int
	ctx.Do(func(s *api.Session) api.Result {
		live = s.AssetCount()
		return api.Success
	})
	assert.Equal(t, 0, live)
}
