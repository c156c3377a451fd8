package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/gltf2image/common"
	"github.com/Carmen-Shannon/gltf2image/engine/camera"
	"github.com/Carmen-Shannon/gltf2image/engine/logging"
	"github.com/Carmen-Shannon/gltf2image/engine/model"
	"github.com/Carmen-Shannon/gltf2image/engine/renderer"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/cogentcore/webgpu/wgpu"
)

var (
	// ErrInvalidAsset wraps every failure to parse or import asset bytes.
	ErrInvalidAsset = errors.New("invalid glTF asset")

	// ErrUnknownAsset is returned when destroying an asset this loader does not own,
	// including one that was already destroyed.
	ErrUnknownAsset = errors.New("unknown or destroyed asset")

	// ErrLoaderReleased is returned by every call made after Release.
	ErrLoaderReleased = errors.New("loader released")
)

// LoaderBackendType identifies the model file format backend to use.
type LoaderBackendType int

const (
	// BackendTypeGLTF selects the glTF/GLB loader backend.
	BackendTypeGLTF LoaderBackendType = iota
)

// decodeQueueSize bounds the number of texture decodes waiting for a worker.
const decodeQueueSize = 64

// loader is the implementation of the Loader interface.
type loader struct {
	mu *sync.Mutex

	renderer renderer.Renderer
	backend  loaderBackend
	logger   *slog.Logger

	resourceDir   string
	decodeWorkers int
	decodePool    worker.DynamicWorkerPool

	assets   []*Asset
	released bool
}

// Loader turns encoded glTF assets into renderer resources and entities, and tracks the assets it
// created so they can be destroyed individually or all at once.
//
// A Loader uses its Renderer from the calling thread only; callers confine both to one thread.
type Loader interface {
	// LoadAsset imports glTF JSON or GLB bytes and creates the textures, materials, meshes
	// and entities of the default scene. Texture images are decoded in parallel.
	//
	// Parameters:
	//   - data: the encoded asset
	//
	// Returns:
	//   - *Asset: the loaded asset
	//   - error: ErrInvalidAsset for unloadable bytes, or a renderer error
	LoadAsset(data []byte) (*Asset, error)

	// DestroyAsset destroys every renderer resource the asset owns.
	//
	// Parameters:
	//   - a: an asset returned by LoadAsset
	//
	// Returns:
	//   - error: ErrUnknownAsset if the asset is not live, or the joined destroy errors
	DestroyAsset(a *Asset) error

	// Assets returns the live assets in load order.
	//
	// Returns:
	//   - []*Asset: the live assets
	Assets() []*Asset

	// Release destroys every remaining asset. Later calls return ErrLoaderReleased.
	//
	// Returns:
	//   - error: the joined destroy errors
	Release() error
}

var _ Loader = &loader{}

// NewLoader creates a new Loader instance with the specified backend type and options applied.
//
// Parameters:
//   - backendType: the type of loader backend to use (e.g., BackendTypeGLTF)
//   - options: a variadic list of LoaderBuilderOption functions to configure the Loader
//
// Returns:
//   - Loader: a new instance of Loader configured with the provided backend and options
//   - error: error if no renderer was given or the backend type is unknown
func NewLoader(backendType LoaderBackendType, options ...LoaderBuilderOption) (Loader, error) {
	l := &loader{
		mu:            &sync.Mutex{},
		logger:        logging.Nop(),
		decodeWorkers: runtime.NumCPU(),
	}

	for _, option := range options {
		option(l)
	}

	if l.renderer == nil {
		return nil, errors.New("loader: a renderer is required")
	}

	switch backendType {
	case BackendTypeGLTF:
		l.backend = newGLTFLoaderBackend(l.resourceDir, l.logger)
	default:
		return nil, fmt.Errorf("loader: unknown backend type %d", backendType)
	}

	l.decodePool = worker.NewDynamicWorkerPool(max(1, l.decodeWorkers), decodeQueueSize, 1*time.Second)
	return l, nil
}

func (l *loader) LoadAsset(data []byte) (*Asset, error) {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	if released {
		return nil, ErrLoaderReleased
	}

	start := time.Now()
	imported, err := l.backend.Import(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAsset, err)
	}

	a := newAsset(imported.Name)
	if err := l.instantiate(a, imported); err != nil {
		if releaseErr := a.release(l.renderer); releaseErr != nil {
			l.logger.Warn("failed to release partially loaded asset", "asset", imported.Name, "err", releaseErr)
		}
		return nil, err
	}

	l.mu.Lock()
	l.assets = append(l.assets, a)
	l.mu.Unlock()

	textures, materials, meshes := a.ResourceCounts()
	l.logger.Debug("asset loaded",
		"asset", a.name,
		"id", a.id,
		"entities", len(a.entities),
		"cameras", len(a.cameraEntities),
		"textures", textures,
		"materials", materials,
		"meshes", meshes,
		"elapsed", time.Since(start),
	)
	return a, nil
}

func (l *loader) DestroyAsset(a *Asset) error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return ErrLoaderReleased
	}
	index := l.indexOf(a)
	if index < 0 {
		l.mu.Unlock()
		return ErrUnknownAsset
	}
	l.assets = append(l.assets[:index], l.assets[index+1:]...)
	l.mu.Unlock()

	if err := a.release(l.renderer); err != nil {
		return fmt.Errorf("failed to destroy asset %q: %w", a.name, err)
	}
	l.logger.Debug("asset destroyed", "asset", a.name, "id", a.id)
	return nil
}

func (l *loader) Assets() []*Asset {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Asset(nil), l.assets...)
}

func (l *loader) Release() error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return ErrLoaderReleased
	}
	l.released = true
	assets := l.assets
	l.assets = nil
	l.mu.Unlock()

	var errs []error
	for _, a := range assets {
		if err := a.release(l.renderer); err != nil {
			errs = append(errs, fmt.Errorf("asset %q: %w", a.name, err))
		}
	}
	if len(assets) > 0 {
		l.logger.Debug("loader released remaining assets", "count", len(assets))
	}
	l.retireDecodePool()
	return errors.Join(errs...)
}

// retireDecodePool ends every decode worker goroutine and waits for them to go.
// Pool workers share one stop channel and drop stop ids that are not their own,
// so Stop alone can leave workers running. A retire task is taken by exactly one
// worker and ends its goroutine with runtime.Goexit.
func (l *loader) retireDecodePool() {
	n := l.decodePool.GetMaxWorkers()
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		l.decodePool.SubmitTask(worker.Task{
			ID: -1 - i,
			Do: func() (any, error) {
				defer wg.Done()
				runtime.Goexit()
				return nil, nil
			},
		})
	}
	wg.Wait()
}

// indexOf returns the position of a in the live asset list, or -1. Caller holds l.mu.
func (l *loader) indexOf(a *Asset) int {
	if a == nil {
		return -1
	}
	for i, live := range l.assets {
		if live == a {
			return i
		}
	}
	return -1
}

// instantiate creates the renderer resources and entities for an imported asset. Every resource
// is recorded on a as soon as it exists so a failure part way can be released by the caller.
func (l *loader) instantiate(a *Asset, imported *model.ImportedAsset) error {
	// Distinct textures in first-use order; materials sharing a texture share one upload.
	var sources []*common.ImportedTexture
	textureIndex := make(map[*common.ImportedTexture]int)
	for i := range imported.Materials {
		tex := imported.Materials[i].BaseColorTexture
		if tex == nil {
			continue
		}
		if _, ok := textureIndex[tex]; !ok {
			textureIndex[tex] = len(sources)
			sources = append(sources, tex)
		}
	}

	staged, err := l.decodeTextures(sources)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAsset, err)
	}

	for i, tex := range sources {
		t, err := l.renderer.CreateTexture(renderer.TextureDescriptor{
			Label:   tex.Name,
			Width:   staged[i].Width,
			Height:  staged[i].Height,
			Format:  wgpu.TextureFormatRGBA8UnormSrgb,
			Usage:   renderer.TextureUsageSampled,
			Pixels:  staged[i].Pixels,
			Sampler: tex.SamplerData,
		})
		if err != nil {
			return err
		}
		a.textures = append(a.textures, t)
	}

	materials := make([]*renderer.Material, len(imported.Materials))
	for i := range imported.Materials {
		src := &imported.Materials[i]
		desc := renderer.MaterialDescriptor{
			Label:       common.Coalesce(src.Name, fmt.Sprintf("material_%d", i)),
			BaseColor:   src.BaseColor,
			AlphaMode:   src.AlphaMode,
			AlphaCutoff: src.AlphaCutoff,
			DoubleSided: src.DoubleSided,
		}
		if src.BaseColorTexture != nil {
			desc.BaseColorTexture = a.textures[textureIndex[src.BaseColorTexture]]
		}
		m, err := l.renderer.CreateMaterial(desc)
		if err != nil {
			return err
		}
		a.materials = append(a.materials, m)
		materials[i] = m
	}

	meshes := make([][]*renderer.Mesh, len(imported.Meshes))
	for i, primitives := range imported.Meshes {
		meshes[i] = make([]*renderer.Mesh, len(primitives))
		for j := range primitives {
			if len(primitives[j].Indices) == 0 {
				continue
			}
			m, err := l.renderer.CreateMesh(renderer.MeshDescriptor{
				Label:    primitives[j].Name,
				Vertices: primitives[j].Vertices,
				Indices:  primitives[j].Indices,
			})
			if err != nil {
				return err
			}
			a.meshes = append(a.meshes, m)
			meshes[i][j] = m
		}
	}

	for _, node := range imported.Nodes {
		if node.MeshIndex >= 0 {
			for j, m := range meshes[node.MeshIndex] {
				if m == nil {
					continue
				}
				e := &renderer.Entity{
					Name:      common.Coalesce(node.Name, m.Label()),
					Transform: node.World,
					Mesh:      m,
				}
				if idx := imported.Meshes[node.MeshIndex][j].MaterialIndex; idx >= 0 {
					e.Material = materials[idx]
				}
				a.entities = append(a.entities, e)
			}
		}

		if node.CameraIndex >= 0 {
			e := &renderer.Entity{
				Name:      common.Coalesce(node.Name, imported.Cameras[node.CameraIndex].Name, "camera"),
				Transform: node.World,
				Camera:    newCamera(imported.Cameras[node.CameraIndex]),
			}
			a.entities = append(a.entities, e)
			a.cameraEntities = append(a.cameraEntities, e)
		}
	}

	return nil
}

// decodeTextures decodes every texture on the decode pool and waits for all of them.
func (l *loader) decodeTextures(textures []*common.ImportedTexture) ([]common.TextureStagingData, error) {
	staged := make([]common.TextureStagingData, len(textures))
	errs := make([]error, len(textures))

	var wg sync.WaitGroup
	for i, tex := range textures {
		wg.Add(1)
		l.decodePool.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				// A panic here would take down the pool worker and the process with it.
				defer func() {
					if p := recover(); p != nil {
						errs[i] = fmt.Errorf("texture %q: decoder panicked: %v", tex.Name, p)
					}
				}()

				data, err := tex.Decode()
				if err != nil {
					errs[i] = fmt.Errorf("texture %q: %w", tex.Name, err)
					return nil, errs[i]
				}
				staged[i] = data
				return nil, nil
			},
		})
	}
	wg.Wait()

	return staged, errors.Join(errs...)
}

// newCamera builds a renderer camera from imported projection values.
func newCamera(c model.ImportedCamera) camera.Camera {
	if c.Type == model.ProjectionOrthographic {
		return camera.NewCamera(
			camera.WithName(c.Name),
			camera.WithOrthographic(c.XMag, c.YMag, c.ZNear, c.ZFar),
		)
	}
	return camera.NewCamera(
		camera.WithName(c.Name),
		camera.WithPerspective(c.YFov, c.AspectRatio, c.ZNear, c.ZFar),
	)
}
