package loader

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/gltf2image/engine/renderer"
	"github.com/google/uuid"
)

// Asset is a loaded glTF asset: the entities of its default scene and the renderer resources
// behind them. An Asset is created by Loader.LoadAsset and stays valid until Loader.DestroyAsset.
type Asset struct {
	id   uuid.UUID
	name string

	entities       []*renderer.Entity
	cameraEntities []*renderer.Entity

	textures  []*renderer.Texture
	materials []*renderer.Material
	meshes    []*renderer.Mesh
}

func newAsset(name string) *Asset {
	return &Asset{
		id:   uuid.New(),
		name: name,
	}
}

// ID returns the unique identifier assigned at load time.
func (a *Asset) ID() uuid.UUID { return a.id }

// Name returns the asset name, taken from the glTF scene.
func (a *Asset) Name() string { return a.name }

// Entities returns every entity of the asset, drawable and camera alike, in node order.
func (a *Asset) Entities() []*renderer.Entity { return a.entities }

// CameraEntities returns the entities that carry a camera.
func (a *Asset) CameraEntities() []*renderer.Entity { return a.cameraEntities }

// ResourceCounts returns the number of textures, materials and meshes the asset owns.
func (a *Asset) ResourceCounts() (textures, materials, meshes int) {
	return len(a.textures), len(a.materials), len(a.meshes)
}

// release destroys the asset's renderer resources. Materials go before the textures they sample.
// Every resource is attempted; the errors are joined.
func (a *Asset) release(r renderer.Renderer) error {
	var errs []error
	for _, m := range a.materials {
		if err := r.DestroyMaterial(m); err != nil {
			errs = append(errs, fmt.Errorf("material %q: %w", m.Label(), err))
		}
	}
	for _, m := range a.meshes {
		if err := r.DestroyMesh(m); err != nil {
			errs = append(errs, fmt.Errorf("mesh %q: %w", m.Label(), err))
		}
	}
	for _, t := range a.textures {
		if err := r.DestroyTexture(t); err != nil {
			errs = append(errs, fmt.Errorf("texture %q: %w", t.Label(), err))
		}
	}

	a.textures = nil
	a.materials = nil
	a.meshes = nil
	a.entities = nil
	a.cameraEntities = nil
	return errors.Join(errs...)
}
