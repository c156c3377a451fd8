package loader

import (
	"log/slog"

	"github.com/Carmen-Shannon/gltf2image/engine/model"
)

// gltfLoaderBackendImpl is the implementation of gltfLoaderBackend.
type gltfLoaderBackendImpl struct {
	importer gltfImporter
}

// gltfLoaderBackend is a loaderBackend implementation for glTF/GLB data.
// It delegates to the gltfImporter for parsing and extraction.
type gltfLoaderBackend interface {
	loaderBackend
}

var _ gltfLoaderBackend = &gltfLoaderBackendImpl{}

// newGLTFLoaderBackend creates a new glTF loader backend.
//
// Parameters:
//   - resourceDir: the directory external URIs are resolved against
//   - logger: the logger passed to the importer
//
// Returns:
//   - gltfLoaderBackend: the loader backend for glTF/GLB data
func newGLTFLoaderBackend(resourceDir string, logger *slog.Logger) gltfLoaderBackend {
	return &gltfLoaderBackendImpl{
		importer: newGLTFImporter(resourceDir, logger),
	}
}

func (b *gltfLoaderBackendImpl) Import(data []byte) (*model.ImportedAsset, error) {
	return b.importer.Import(data)
}
