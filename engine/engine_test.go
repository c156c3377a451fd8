package engine

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Carmen-Shannon/gltf2image/engine/loader"
	"github.com/Carmen-Shannon/gltf2image/engine/renderer"
	"github.com/Carmen-Shannon/gltf2image/engine/workqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness runs a software render context on its own work queue.
type harness struct {
	t   *testing.T
	q   workqueue.WorkQueue
	ctx RenderContext
}

func newHarness(t *testing.T, options ...RenderContextBuilderOption) *harness {
	t.Helper()

	q := workqueue.NewWorkQueue(workqueue.WithName("engine-test"))
	require.NoError(t, q.Start())

	h := &harness{t: t, q: q}
	err := q.AddWorkItemAndWait(func() error {
		var err error
		h.ctx, err = NewRenderContext(append([]RenderContextBuilderOption{WithBackend(renderer.BackendTypeSoftware)}, options...)...)
		return err
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = q.AddWorkItemAndWait(h.ctx.Close)
		_ = q.Exit()
	})
	return h
}

// newWrappedHarness builds the renderer on the worker so wrap can intercept its calls.
func newWrappedHarness(t *testing.T, wrap func(renderer.Renderer) renderer.Renderer) *harness {
	t.Helper()

	q := workqueue.NewWorkQueue()
	require.NoError(t, q.Start())

	h := &harness{t: t, q: q}
	err := q.AddWorkItemAndWait(func() error {
		r, err := renderer.NewRenderer(renderer.BackendTypeSoftware)
		if err != nil {
			return err
		}
		h.ctx, err = NewRenderContext(WithRenderer(wrap(r)))
		return err
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = q.AddWorkItemAndWait(h.ctx.Close)
		_ = q.Exit()
	})
	return h
}

func testdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("loader", "testdata", name))
	require.NoError(t, err)
	return data
}

func (h *harness) load(name string) *loader.Asset {
	h.t.Helper()
	data := testdata(h.t, name)
	var a *loader.Asset
	err := h.q.AddWorkItemAndWait(func() error {
		var err error
		a, err = h.ctx.LoadGLTFAsset(data)
		return err
	})
	require.NoError(h.t, err)
	return a
}

// render runs one request on the worker and returns the callback count and the error it received.
func (h *harness) render(req RenderRequest) (int, error) {
	var result error
	calls := 0
	err := h.q.AddWorkItemAndWait(func() error {
		h.ctx.Render(req, func(err error) {
			calls++
			result = err
		})
		return nil
	})
	require.NoError(h.t, err)
	return calls, result
}

func (h *harness) stats() renderer.ResourceStats {
	var s renderer.ResourceStats
	require.NoError(h.t, h.q.AddWorkItemAndWait(func() error {
		s = h.ctx.Renderer().Stats()
		return nil
	}))
	return s
}

func pixelAt(buf []byte, width, x, y int) [4]byte {
	i := (y*width + x) * 4
	return [4]byte{buf[i], buf[i+1], buf[i+2], buf[i+3]}
}

func TestRender_RedTriangle(t *testing.T) {
	h := newHarness(t)
	triangle := h.load("red_triangle_unlit.gltf")
	cam := h.load("orthographic_camera.gltf")
	before := h.stats()

	out := make([]byte, 100*100*4)
	calls, err := h.render(RenderRequest{Width: 100, Height: 100, Assets: []*loader.Asset{triangle, cam}, Output: out})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	inside := pixelAt(out, 100, 60, 40)
	assert.Equal(t, [4]byte{255, 0, 0, 255}, inside)
	outside := pixelAt(out, 100, 25, 75)
	assert.Equal(t, byte(0), outside[3])

	// No transient resource survives the render.
	assert.Equal(t, before, h.stats())
	assert.Equal(t, uint64(1), h.ctx.Stats().Succeeded)
}

func TestRender_AssetOrderDoesNotMatter(t *testing.T) {
	h := newHarness(t)
	triangle := h.load("red_triangle_unlit.gltf")
	cam := h.load("orthographic_camera.gltf")

	out := make([]byte, 100*100*4)
	_, err := h.render(RenderRequest{Width: 100, Height: 100, Assets: []*loader.Asset{cam, triangle}, Output: out})
	require.NoError(t, err)
	assert.Equal(t, [4]byte{255, 0, 0, 255}, pixelAt(out, 100, 60, 40))
}

func TestRender_CameraCount(t *testing.T) {
	h := newHarness(t)
	triangle := h.load("red_triangle_unlit.gltf")
	cam1 := h.load("orthographic_camera.gltf")
	cam2 := h.load("orthographic_camera.gltf")
	rig := h.load("camera_rig.gltf")
	before := h.stats()

	out := make([]byte, 10*10*4)

	calls, err := h.render(RenderRequest{Width: 10, Height: 10, Assets: []*loader.Asset{triangle}, Output: out})
	assert.ErrorIs(t, err, ErrNoCamerasFound)
	assert.Equal(t, 1, calls)

	_, err = h.render(RenderRequest{Width: 10, Height: 10, Assets: nil, Output: out})
	assert.ErrorIs(t, err, ErrNoCamerasFound)

	calls, err = h.render(RenderRequest{Width: 10, Height: 10, Assets: []*loader.Asset{triangle, cam1, cam2}, Output: out})
	assert.ErrorIs(t, err, ErrTooManyCameras)
	assert.Equal(t, 1, calls)

	// One asset carrying two cameras is rejected as well.
	_, err = h.render(RenderRequest{Width: 10, Height: 10, Assets: []*loader.Asset{rig}, Output: out})
	assert.ErrorIs(t, err, ErrTooManyCameras)

	assert.Equal(t, before, h.stats())
	assert.Equal(t, map[string]uint64{"NoCamerasFound": 2, "TooManyCameras": 2}, h.ctx.Stats().Failures)
}

// countingRenderer counts the resource creation calls that reach the renderer.
type countingRenderer struct {
	renderer.Renderer
	mu      sync.Mutex
	creates int
}

func (c *countingRenderer) count() {
	c.mu.Lock()
	c.creates++
	c.mu.Unlock()
}

func (c *countingRenderer) CreateTexture(desc renderer.TextureDescriptor) (*renderer.Texture, error) {
	c.count()
	return c.Renderer.CreateTexture(desc)
}

func (c *countingRenderer) CreateScene() *renderer.Scene {
	c.count()
	return c.Renderer.CreateScene()
}

func (c *countingRenderer) CreateView() *renderer.View {
	c.count()
	return c.Renderer.CreateView()
}

func (c *countingRenderer) creations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates
}

func TestRender_PixelBufferWrongSize(t *testing.T) {
	counter := &countingRenderer{}
	h := newWrappedHarness(t, func(r renderer.Renderer) renderer.Renderer {
		counter.Renderer = r
		return counter
	})
	triangle := h.load("red_triangle_unlit.gltf")
	cam := h.load("orthographic_camera.gltf")
	before := counter.creations()

	for _, size := range []int{100*100*4 - 1, 100*100*4 + 1, 100 * 100 * 3, 0} {
		calls, err := h.render(RenderRequest{
			Width:  100,
			Height: 100,
			Assets: []*loader.Asset{triangle, cam},
			Output: make([]byte, size),
		})
		assert.ErrorIs(t, err, ErrPixelBufferWrongSize, "size %d", size)
		assert.Equal(t, 1, calls)
	}
	assert.Equal(t, before, counter.creations(), "no renderer call for a rejected buffer")
}

func TestRender_InvalidDimensions(t *testing.T) {
	h := newHarness(t)
	cam := h.load("orthographic_camera.gltf")

	_, err := h.render(RenderRequest{Width: 0, Height: 10, Assets: []*loader.Asset{cam}, Output: []byte{}})
	assert.ErrorIs(t, err, ErrInvalidDimensions)
}

func TestRender_DestroyedAsset(t *testing.T) {
	h := newHarness(t)
	triangle := h.load("red_triangle_unlit.gltf")
	cam := h.load("orthographic_camera.gltf")

	require.NoError(t, h.q.AddWorkItemAndWait(func() error { return h.ctx.DestroyGLTFAsset(triangle) }))

	out := make([]byte, 4*4*4)
	_, err := h.render(RenderRequest{Width: 4, Height: 4, Assets: []*loader.Asset{triangle, cam}, Output: out})
	assert.ErrorIs(t, err, loader.ErrUnknownAsset)
	assert.Zero(t, h.stats().Scenes)

	err = h.q.AddWorkItemAndWait(func() error { return h.ctx.DestroyGLTFAsset(triangle) })
	assert.ErrorIs(t, err, loader.ErrUnknownAsset)
}

// panickingRenderer panics while drawing.
type panickingRenderer struct {
	renderer.Renderer
}

func (p *panickingRenderer) RenderStandalone(*renderer.View) error {
	panic("device lost")
}

func TestRender_PanicIsRecovered(t *testing.T) {
	h := newWrappedHarness(t, func(r renderer.Renderer) renderer.Renderer {
		return &panickingRenderer{Renderer: r}
	})
	triangle := h.load("red_triangle_unlit.gltf")
	cam := h.load("orthographic_camera.gltf")
	before := h.stats()

	calls, err := h.render(RenderRequest{Width: 8, Height: 8, Assets: []*loader.Asset{triangle, cam}, Output: make([]byte, 8*8*4)})
	assert.ErrorIs(t, err, ErrRenderPanicked)
	assert.Equal(t, 1, calls)
	assert.Equal(t, before, h.stats())
}

// failingTeardownRenderer fails to destroy views.
type failingTeardownRenderer struct {
	renderer.Renderer
}

var errViewStuck = errors.New("view stuck")

func (f *failingTeardownRenderer) DestroyView(v *renderer.View) error {
	_ = f.Renderer.DestroyView(v)
	return errViewStuck
}

func TestRender_TeardownErrorSupersedes(t *testing.T) {
	h := newWrappedHarness(t, func(r renderer.Renderer) renderer.Renderer {
		return &failingTeardownRenderer{Renderer: r}
	})
	triangle := h.load("red_triangle_unlit.gltf")

	calls, err := h.render(RenderRequest{Width: 8, Height: 8, Assets: []*loader.Asset{triangle}, Output: make([]byte, 8*8*4)})
	assert.ErrorIs(t, err, errViewStuck)
	assert.NotErrorIs(t, err, ErrNoCamerasFound)
	assert.Equal(t, 1, calls)

	s := h.stats()
	assert.Zero(t, s.Scenes)
	assert.Zero(t, s.RenderTargets)
	assert.Zero(t, s.Views)
}

func TestRenderContext_WrongThread(t *testing.T) {
	h := newHarness(t)
	cam := h.load("orthographic_camera.gltf")

	a, err := h.ctx.LoadGLTFAsset(testdata(t, "red_triangle_unlit.gltf"))
	assert.Nil(t, a)
	assert.ErrorIs(t, err, ErrWrongThread)

	assert.ErrorIs(t, h.ctx.DestroyGLTFAsset(cam), ErrWrongThread)
	assert.ErrorIs(t, h.ctx.Close(), ErrWrongThread)
	assert.Nil(t, h.ctx.Assets())

	var renderErr error
	calls := 0
	h.ctx.Render(RenderRequest{Width: 1, Height: 1, Assets: []*loader.Asset{cam}, Output: make([]byte, 4)}, func(err error) {
		calls++
		renderErr = err
	})
	assert.ErrorIs(t, renderErr, ErrWrongThread)
	assert.Equal(t, 1, calls)

	// The context is untouched and still usable from its owner.
	var assets []*loader.Asset
	require.NoError(t, h.q.AddWorkItemAndWait(func() error {
		assets = h.ctx.Assets()
		return nil
	}))
	assert.Equal(t, []*loader.Asset{cam}, assets)
	assert.Equal(t, h.q.ThreadID(), h.ctx.OwnerThread())
}

func TestRenderContext_CouldNotLoadAsset(t *testing.T) {
	h := newHarness(t)

	for _, data := range [][]byte{nil, []byte("not json"), []byte(`{ "invalid": "format" }`)} {
		err := h.q.AddWorkItemAndWait(func() error {
			_, err := h.ctx.LoadGLTFAsset(data)
			return err
		})
		assert.ErrorIs(t, err, ErrCouldNotLoadAsset)
		assert.ErrorIs(t, err, loader.ErrInvalidAsset)
	}
	assert.Zero(t, h.stats().Total())
}

func TestRenderContext_Close(t *testing.T) {
	h := newHarness(t)
	h.load("red_triangle_unlit.gltf")

	require.NoError(t, h.q.AddWorkItemAndWait(h.ctx.Close))
	require.NoError(t, h.q.AddWorkItemAndWait(h.ctx.Close))

	data := testdata(t, "red_triangle_unlit.gltf")
	err := h.q.AddWorkItemAndWait(func() error {
		_, err := h.ctx.LoadGLTFAsset(data)
		return err
	})
	assert.ErrorIs(t, err, ErrContextClosed)

	calls, err := h.render(RenderRequest{Width: 1, Height: 1, Output: make([]byte, 4)})
	assert.ErrorIs(t, err, ErrContextClosed)
	assert.Equal(t, 1, calls)
}

func TestNewRenderContext_UnknownBackend(t *testing.T) {
	q := workqueue.NewWorkQueue()
	require.NoError(t, q.Start())
	defer q.Exit()

	err := q.AddWorkItemAndWait(func() error {
		ctx, err := NewRenderContext(WithBackend(renderer.RendererBackendType(42)))
		assert.Nil(t, ctx)
		return err
	})
	assert.Error(t, err)
}

func TestRender_QueuedRendersRunInOrder(t *testing.T) {
	h := newHarness(t)
	triangle := h.load("red_triangle_unlit.gltf")
	cam := h.load("orthographic_camera.gltf")

	const jobs = 20
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	outputs := make([][]byte, jobs)

	for i := range jobs {
		outputs[i] = make([]byte, 16*16*4)
		wg.Add(1)
		require.NoError(t, h.q.AddWorkItem(func() {
			h.ctx.Render(RenderRequest{Width: 16, Height: 16, Assets: []*loader.Asset{triangle, cam}, Output: outputs[i]}, func(err error) {
				defer wg.Done()
				assert.NoError(t, err)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			})
		}))
	}
	wg.Wait()

	for i := range jobs {
		assert.Equal(t, i, order[i])
		assert.Equal(t, byte(255), pixelAt(outputs[i], 16, 12, 2)[0])
	}
	assert.Equal(t, uint64(jobs), h.ctx.Stats().Jobs)
}
