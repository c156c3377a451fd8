package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/Carmen-Shannon/gltf2image/engine"
	"github.com/Carmen-Shannon/gltf2image/engine/logging"
	"github.com/Carmen-Shannon/gltf2image/engine/renderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T, options ...ContextOption) *Context {
	t.Helper()
	c, r := CreateContext(append([]ContextOption{WithBackend(renderer.BackendTypeSoftware)}, options...)...)
	require.Equal(t, Success, r)
	t.Cleanup(func() { c.Destroy() })
	return c
}

func load(t *testing.T, c *Context, name string) AssetHandle {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	h, r := c.LoadAsset(data)
	require.Equal(t, Success, r, name)
	require.False(t, h.IsZero())
	return h
}

func alphaAt(buf []byte, width, x, y int) byte {
	return buf[(y*width+x)*4+3]
}

func TestRender_SingleCameraAsset(t *testing.T) {
	c := newTestContext(t)
	h := load(t, c, "red_triangle_camera.glb")

	out := make([]byte, 64*64*4)
	calls := 0
	done := make(chan Result, 2)
	c.Render(64, 64, []AssetHandle{h}, out, func(r Result) {
		calls++
		done <- r
	})
	assert.Equal(t, Success, <-done)

	// A second render on the same queue runs after the first callback.
	assert.Equal(t, Success, c.RenderSync(1, 1, []AssetHandle{h}, make([]byte, 4)))
	assert.Equal(t, 1, calls)

	assert.Equal(t, byte(255), alphaAt(out, 64, 40, 20))
	assert.Equal(t, byte(0), alphaAt(out, 64, 16, 48))
}

func TestRender_TriangleAndCamera(t *testing.T) {
	c := newTestContext(t)
	triangle := load(t, c, "red_triangle_unlit.gltf")
	cam := load(t, c, "orthographic_camera.gltf")

	out := make([]byte, 64*64*4)
	require.Equal(t, Success, c.RenderSync(64, 64, []AssetHandle{triangle, cam}, out))

	i := (20*64 + 40) * 4
	assert.Equal(t, []byte{255, 0, 0, 255}, out[i:i+4])

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Jobs)
	assert.Equal(t, uint64(1), stats.Succeeded)
}

func TestRender_TwoCamerasAcrossAssets(t *testing.T) {
	c := newTestContext(t)
	a := load(t, c, "red_triangle_camera.glb")
	b := load(t, c, "orthographic_camera.gltf")

	r := c.RenderSync(64, 64, []AssetHandle{a, b}, make([]byte, 64*64*4))
	assert.Equal(t, InvalidSceneTooManyCameras, r)

	rig := load(t, c, "camera_rig.gltf")
	r = c.RenderSync(64, 64, []AssetHandle{rig}, make([]byte, 64*64*4))
	assert.Equal(t, InvalidSceneTooManyCameras, r)
}

func TestRender_NoCameras(t *testing.T) {
	c := newTestContext(t)
	h := load(t, c, "red_triangle_unlit.gltf")

	r := c.RenderSync(64, 64, []AssetHandle{h}, make([]byte, 64*64*4))
	assert.Equal(t, InvalidSceneNoCamerasFound, r)
}

func TestRender_WrongStride(t *testing.T) {
	c := newTestContext(t)
	h := load(t, c, "red_triangle_camera.glb")

	out := make([]byte, 64*64*3)
	r := c.RenderSync(64, 64, []AssetHandle{h}, out)
	assert.Equal(t, PixelBufferWrongSize, r)
	assert.Equal(t, make([]byte, 64*64*3), out)
	assert.Equal(t, map[string]uint64{"PixelBufferWrongSize": 1}, c.Stats().Failures)
}

func TestSession_WrongThread(t *testing.T) {
	c := newTestContext(t)
	data, err := os.ReadFile(filepath.Join("testdata", "red_triangle_camera.glb"))
	require.NoError(t, err)

	h, r := c.Session().LoadAsset(data)
	assert.Equal(t, WrongThread, r)
	assert.True(t, h.IsZero())

	var count int
	require.Equal(t, Success, c.Do(func(s *Session) Result {
		count = s.AssetCount()
		return Success
	}))
	assert.Equal(t, 0, count)
	assert.Equal(t, -1, c.Session().AssetCount())

	// The context stays usable.
	load(t, c, "red_triangle_camera.glb")

	got := make(chan Result, 1)
	c.Session().Render(1, 1, nil, make([]byte, 4), func(r Result) { got <- r })
	assert.Equal(t, WrongThread, <-got)
	assert.Equal(t, WrongThread, c.Session().DestroyAsset(h))
}

func TestRenderSync_FromWorkerThread(t *testing.T) {
	c := newTestContext(t)

	var r Result
	c.Do(func(*Session) Result {
		r = c.RenderSync(1, 1, nil, make([]byte, 4))
		return Success
	})
	assert.Equal(t, WrongThread, r)

	// Blocking calls from the worker cannot be served either.
	c.Do(func(*Session) Result {
		r = c.DestroyAsset(AssetHandle{})
		return Success
	})
	assert.Equal(t, WrongThread, r)
}

func TestLoadAsset_Invalid(t *testing.T) {
	c := newTestContext(t)

	h, r := c.LoadAsset([]byte("not a gltf"))
	assert.Equal(t, InvalidSceneCouldNotLoadAsset, r)
	assert.True(t, h.IsZero())

	_, r = c.LoadAsset(nil)
	assert.Equal(t, InvalidSceneCouldNotLoadAsset, r)
}

func TestDestroyAsset_ThenReload(t *testing.T) {
	c := newTestContext(t)
	first := load(t, c, "red_triangle_camera.glb")

	require.Equal(t, Success, c.DestroyAsset(first))
	assert.Equal(t, UnknownError, c.DestroyAsset(first))

	// Rendering a destroyed handle reports an unknown error.
	r := c.RenderSync(8, 8, []AssetHandle{first}, make([]byte, 8*8*4))
	assert.Equal(t, UnknownError, r)

	second := load(t, c, "red_triangle_camera.glb")
	assert.NotEqual(t, first, second)
	assert.Equal(t, Success, c.RenderSync(8, 8, []AssetHandle{second}, make([]byte, 8*8*4)))
}

func TestDestroyAsset_AfterQueuedRender(t *testing.T) {
	c := newTestContext(t)
	h := load(t, c, "red_triangle_camera.glb")

	done := make(chan Result, 1)
	c.Render(16, 16, []AssetHandle{h}, make([]byte, 16*16*4), func(r Result) { done <- r })
	assert.Equal(t, Success, c.DestroyAsset(h))
	assert.Equal(t, Success, <-done)
}

func TestRender_ConcurrentProducers(t *testing.T) {
	c := newTestContext(t)
	h := load(t, c, "red_triangle_camera.glb")

	const producers = 8
	var wg sync.WaitGroup
	results := make([]Result, producers)
	for i := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.RenderSync(32, 32, []AssetHandle{h}, make([]byte, 32*32*4))
		}()
	}
	wg.Wait()

	for i, r := range results {
		assert.Equal(t, Success, r, "producer %d", i)
	}
	assert.Equal(t, uint64(producers), c.Stats().Succeeded)
}

func TestDestroy(t *testing.T) {
	c, r := CreateContext(WithBackend(renderer.BackendTypeSoftware))
	require.Equal(t, Success, r)
	h := load(t, c, "red_triangle_camera.glb")

	assert.Equal(t, Success, c.Destroy())
	assert.Equal(t, UnknownError, c.Destroy())

	_, r = c.LoadAsset([]byte("{}"))
	assert.Equal(t, UnknownError, r)
	assert.Equal(t, UnknownError, c.DestroyAsset(h))

	calls := 0
	c.Render(1, 1, []AssetHandle{h}, make([]byte, 4), func(r Result) {
		calls++
		assert.Equal(t, UnknownError, r)
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, uint64(0), c.Stats().Jobs)
}

func TestCreateContext_UnknownBackend(t *testing.T) {
	c, r := CreateContext(WithBackend(renderer.RendererBackendType(99)))
	assert.Equal(t, UnknownError, r)
	assert.Nil(t, c)
}

func TestCreateContext_LogCallback(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	c := newTestContext(t, WithLogCallback(func(level logging.Level, message string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, level.String()+" "+message)
	}, logging.LevelInfo))

	_, r := c.LoadAsset([]byte("nope"))
	require.Equal(t, InvalidSceneCouldNotLoadAsset, r)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "INFO render context created")
	assert.Contains(t, lines[len(lines)-1], "WARNING failed to load asset")
}

func TestResultFromError(t *testing.T) {
	tests := map[string]struct {
		err  error
		want Result
	}{
		"nil":            {nil, Success},
		"wrong thread":   {engine.ErrWrongThread, WrongThread},
		"wrapped size":   {fmt.Errorf("render: %w", engine.ErrPixelBufferWrongSize), PixelBufferWrongSize},
		"load":           {fmt.Errorf("%w: bad json", engine.ErrCouldNotLoadAsset), InvalidSceneCouldNotLoadAsset},
		"no cameras":     {engine.ErrNoCamerasFound, InvalidSceneNoCamerasFound},
		"too many":       {engine.ErrTooManyCameras, InvalidSceneTooManyCameras},
		"joined":         {errors.Join(errors.New("teardown"), engine.ErrTooManyCameras), InvalidSceneTooManyCameras},
		"panic":          {engine.ErrRenderPanicked, UnknownError},
		"dimensions":     {engine.ErrInvalidDimensions, UnknownError},
		"anything else":  {errors.New("device lost"), UnknownError},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResultFromError(tt.err))
		})
	}
}

func TestResult_ErrRoundTrip(t *testing.T) {
	for r := Success; r <= PixelBufferWrongSize; r++ {
		assert.Equal(t, r, ResultFromError(r.Err()), r.String())
	}
	assert.ErrorIs(t, UnknownError.Err(), ErrUnknown)
	assert.Equal(t, "InvalidScene_TooManyCameras", InvalidSceneTooManyCameras.String())
	assert.Equal(t, "Result(42)", Result(42).String())
	assert.True(t, PixelBufferWrongSize.IsValidationFailure())
	assert.False(t, WrongThread.IsValidationFailure())
}

func TestDestroy_FromRenderCallback(t *testing.T) {
	c, r := CreateContext(WithBackend(renderer.BackendTypeSoftware))
	require.Equal(t, Success, r)
	h := load(t, c, "red_triangle_camera.glb")

	done := make(chan Result, 1)
	c.Render(1, 1, []AssetHandle{h}, make([]byte, 4), func(Result) {
		done <- c.Destroy()
	})
	select {
	case r := <-done:
		assert.Equal(t, WrongThread, r)
	case <-time.After(5 * time.Second):
		t.Fatal("render callback did not complete")
	}

	// The rejected call left the context alive.
	assert.Equal(t, Success, c.RenderSync(1, 1, []AssetHandle{h}, make([]byte, 4)))
	assert.Equal(t, Success, c.Destroy())
}

func TestDestroy_ReleasesGoroutines(t *testing.T) {
	before := runtime.NumGoroutine()
	for range 20 {
		c, r := CreateContext(WithBackend(renderer.BackendTypeSoftware), WithDecodeWorkers(4))
		require.Equal(t, Success, r)
		require.Equal(t, Success, c.Destroy())
	}
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 2*time.Second, 10*time.Millisecond)
}
