package loader

import (
	"bytes"
	"fmt"
	"log/slog"
	"path"

	"github.com/Carmen-Shannon/gltf2image/common"

	"github.com/cogentcore/webgpu/wgpu"
)

// gltfDefaultAlphaCutoff is the glTF default for MASK materials without an explicit cutoff.
const gltfDefaultAlphaCutoff = 0.5

// gltfMaterialExtractorImpl is the implementation of the gltfMaterialExtractor interface.
type gltfMaterialExtractorImpl struct {
	parser gltfParser
	logger *slog.Logger

	// textures caches resolved textures by glTF texture index so shared textures are decoded once.
	textures map[int]*common.ImportedTexture
}

// gltfMaterialExtractor defines the interface for extracting material and texture data
// from a parsed glTF document into engine-ready ImportedMaterial structs.
type gltfMaterialExtractor interface {
	// ExtractMaterial extracts a single material by index, resolving its base color texture bytes.
	// Materials sharing a glTF texture share the same *common.ImportedTexture.
	//
	// Parameters:
	//   - materialIndex: the index of the material in the document
	//
	// Returns:
	//   - *common.ImportedMaterial: the extracted material with any texture bytes loaded (not decoded)
	//   - error: error if extraction fails
	ExtractMaterial(materialIndex int) (*common.ImportedMaterial, error)

	// ExtractAllMaterials extracts all materials from the document.
	//
	// Returns:
	//   - []common.ImportedMaterial: all extracted materials in document order
	//   - error: error if extraction fails
	ExtractAllMaterials() ([]common.ImportedMaterial, error)
}

var _ gltfMaterialExtractor = &gltfMaterialExtractorImpl{}

// newGLTFMaterialExtractor creates a new material extractor for a parsed document.
//
// Parameters:
//   - parser: the parser containing a loaded document
//   - logger: the logger for ignored material features
//
// Returns:
//   - gltfMaterialExtractor: the material extractor
func newGLTFMaterialExtractor(parser gltfParser, logger *slog.Logger) gltfMaterialExtractor {
	return &gltfMaterialExtractorImpl{
		parser:   parser,
		logger:   logger,
		textures: make(map[int]*common.ImportedTexture),
	}
}

func (e *gltfMaterialExtractorImpl) ExtractMaterial(materialIndex int) (*common.ImportedMaterial, error) {
	doc := e.parser.Document()
	if doc == nil {
		return nil, errNoDocument
	}
	if materialIndex < 0 || materialIndex >= len(doc.Materials) {
		return nil, fmt.Errorf("material %d: %w", materialIndex, errOutOfRange)
	}

	mat := &doc.Materials[materialIndex]

	result := &common.ImportedMaterial{
		Name:        mat.Name,
		BaseColor:   [4]float32{1, 1, 1, 1},
		AlphaMode:   common.AlphaModeOpaque,
		AlphaCutoff: gltfDefaultAlphaCutoff,
		DoubleSided: mat.DoubleSided,
	}

	switch mat.AlphaMode {
	case "", gltfAlphaModeOpaque:
	case gltfAlphaModeMask:
		result.AlphaMode = common.AlphaModeMask
	case gltfAlphaModeBlend:
		result.AlphaMode = common.AlphaModeBlend
	default:
		return nil, fmt.Errorf("material %q: unknown alphaMode %q", mat.Name, mat.AlphaMode)
	}
	if mat.AlphaCutoff != nil {
		result.AlphaCutoff = *mat.AlphaCutoff
	}

	if pbr := mat.PbrMetallicRoughness; pbr != nil {
		if pbr.BaseColorFactor != nil {
			result.BaseColor = *pbr.BaseColorFactor
		}

		if info := pbr.BaseColorTexture; info != nil {
			if info.TexCoord != 0 {
				e.logger.Warn("only TEXCOORD_0 is supported; sampling it instead",
					"material", mat.Name, "texCoord", info.TexCoord)
			}
			tex, err := e.loadTexture(info.Index)
			if err != nil {
				return nil, fmt.Errorf("material %q: base color texture: %w", mat.Name, err)
			}
			result.BaseColorTexture = tex
		}
	}

	return result, nil
}

func (e *gltfMaterialExtractorImpl) ExtractAllMaterials() ([]common.ImportedMaterial, error) {
	doc := e.parser.Document()
	if doc == nil {
		return nil, errNoDocument
	}

	materials := make([]common.ImportedMaterial, len(doc.Materials))
	for i := range doc.Materials {
		mat, err := e.ExtractMaterial(i)
		if err != nil {
			return nil, fmt.Errorf("material %d: %w", i, err)
		}
		materials[i] = *mat
	}

	return materials, nil
}

// loadTexture resolves a glTF texture index into an ImportedTexture holding the encoded image bytes.
// Returns nil for a texture without a source image.
func (e *gltfMaterialExtractorImpl) loadTexture(textureIndex int) (*common.ImportedTexture, error) {
	if cached, ok := e.textures[textureIndex]; ok {
		return cached, nil
	}

	doc := e.parser.Document()
	if textureIndex < 0 || textureIndex >= len(doc.Textures) {
		return nil, fmt.Errorf("texture %d: %w", textureIndex, errOutOfRange)
	}

	tex := &doc.Textures[textureIndex]
	if tex.Source == nil {
		e.textures[textureIndex] = nil
		return nil, nil
	}

	// Resolve glTF sampler parameters if this texture references one.
	var samplerData *common.SamplerStagingData
	if tex.Sampler != nil {
		samplerIdx := *tex.Sampler
		if samplerIdx < 0 || samplerIdx >= len(doc.Samplers) {
			return nil, fmt.Errorf("sampler %d: %w", samplerIdx, errOutOfRange)
		}
		samplerData = gltfSamplerToStagingData(&doc.Samplers[samplerIdx])
	}

	imageIndex := *tex.Source
	if imageIndex < 0 || imageIndex >= len(doc.Images) {
		return nil, fmt.Errorf("image %d: %w", imageIndex, errOutOfRange)
	}
	img := &doc.Images[imageIndex]

	result := &common.ImportedTexture{
		Name:        common.Coalesce(tex.Name, img.Name, fmt.Sprintf("texture_%d", textureIndex)),
		MimeType:    img.MimeType,
		SamplerData: samplerData,
	}

	switch {
	case img.BufferView != nil:
		// Image embedded in a buffer view (common in GLB)
		data, err := e.parser.BufferViewData(*img.BufferView)
		if err != nil {
			return nil, fmt.Errorf("failed to read image buffer view: %w", err)
		}
		result.Data = bytes.Clone(data)
	case img.URI != "":
		data, err := e.parser.ResolveURI(img.URI)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", imageIndex, err)
		}
		result.Data = data
		if result.MimeType == "" {
			result.MimeType = dataURIMimeType(img.URI)
		}
		if dataURIMimeType(img.URI) == "" {
			result.Path = path.Clean(img.URI)
		}
	default:
		return nil, fmt.Errorf("image %d has neither uri nor bufferView", imageIndex)
	}

	e.textures[textureIndex] = result
	return result, nil
}

// gltfSamplerToStagingData converts a glTF sampler definition into engine-ready SamplerStagingData.
// Any unset fields in the glTF sampler fall back to the glTF defaults (linear filtering, repeat wrapping).
// Reference: https://registry.khronos.org/glTF/specs/2.0/glTF-2.0.html#reference-sampler
//
// Parameters:
//   - s: the glTF sampler to convert
//
// Returns:
//   - *common.SamplerStagingData: the converted sampler staging data
func gltfSamplerToStagingData(s *gltfSampler) *common.SamplerStagingData {
	result := common.DefaultSamplerStagingData()

	if s.MagFilter != nil && *s.MagFilter == gltfFilterNearest {
		result.MagFilter = wgpu.FilterModeNearest
	}

	if s.MinFilter != nil {
		switch *s.MinFilter {
		case gltfFilterNearest, gltfFilterNearestMipmapNearest, gltfFilterNearestMipmapLinear:
			result.MinFilter = wgpu.FilterModeNearest
		}
		// Textures carry a single mip level, so only the variant matters.
		switch *s.MinFilter {
		case gltfFilterNearest, gltfFilterLinear, gltfFilterNearestMipmapNearest, gltfFilterLinearMipmapNearest:
			result.MipmapFilter = wgpu.MipmapFilterModeNearest
		}
	}

	if s.WrapS != nil {
		result.AddressModeU = gltfWrapToAddressMode(*s.WrapS)
	}
	if s.WrapT != nil {
		result.AddressModeV = gltfWrapToAddressMode(*s.WrapT)
	}

	return &result
}

// gltfWrapToAddressMode converts a glTF wrap mode constant to a wgpu AddressMode.
//
// Parameters:
//   - wrap: the glTF wrap mode constant
//
// Returns:
//   - wgpu.AddressMode: the corresponding wgpu address mode
func gltfWrapToAddressMode(wrap int) wgpu.AddressMode {
	switch wrap {
	case gltfWrapClampToEdge:
		return wgpu.AddressModeClampToEdge
	case gltfWrapMirroredRepeat:
		return wgpu.AddressModeMirrorRepeat
	default:
		return wgpu.AddressModeRepeat
	}
}
