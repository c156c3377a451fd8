package loader

import "github.com/Carmen-Shannon/gltf2image/engine/model"

// loaderBackend defines the generic interface for importing assets from encoded bytes.
// Concrete implementations (e.g., gltfLoaderBackend) handle format-specific details.
type loaderBackend interface {
	// Import decodes an asset into renderer-independent data.
	//
	// Parameters:
	//   - data: the encoded asset
	//
	// Returns:
	//   - *model.ImportedAsset: the imported asset data
	//   - error: error if the bytes are not a loadable asset
	Import(data []byte) (*model.ImportedAsset, error)
}
