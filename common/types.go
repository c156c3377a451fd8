// package common contains common types that are used throughout this module. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/cogentcore/webgpu/wgpu"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxTextureDimension is the largest width or height a decoded texture keeps.
// Larger images are scaled down to fit, preserving the aspect ratio.
const MaxTextureDimension = 4096

// TextureStagingData holds RGBA pixel data for a texture pending upload to a renderer backend.
type TextureStagingData struct {
	// Pixels is the byte slice representing the actual pixel data for the texture. It should be in RGBA format, with 4 bytes per pixel.
	Pixels []byte

	// Width is the width of the texture in pixels.
	Width uint32

	// Height is the height of the texture in pixels.
	Height uint32
}

// SamplerStagingData holds the configuration for a sampler pending creation on a renderer backend.
// The software backend only honours the address modes and always samples the nearest texel.
type SamplerStagingData struct {
	// AddressModeU, AddressModeV, AddressModeW specify the addressing mode for texture coordinates outside the [0, 1] range in each dimension (U, V, W).
	AddressModeU, AddressModeV, AddressModeW wgpu.AddressMode

	// MagFilter and MinFilter specify the filtering mode for magnification and minification.
	MagFilter, MinFilter wgpu.FilterMode

	// MipmapFilter specifies the filtering mode for mipmap level selection.
	MipmapFilter wgpu.MipmapFilterMode

	// LodMinClamp and LodMaxClamp specify the minimum and maximum level of detail (LOD) for mipmapping.
	LodMinClamp, LodMaxClamp float32

	// MaxAnisotropy specifies the maximum anisotropy level for anisotropic filtering.
	MaxAnisotropy uint16
}

// DefaultSamplerStagingData returns the glTF default sampler: linear filtering, repeat wrapping.
//
// Returns:
//   - SamplerStagingData: the default sampler configuration
func DefaultSamplerStagingData() SamplerStagingData {
	return SamplerStagingData{
		AddressModeU:  wgpu.AddressModeRepeat,
		AddressModeV:  wgpu.AddressModeRepeat,
		AddressModeW:  wgpu.AddressModeRepeat,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeLinear,
		LodMinClamp:   0,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	}
}

// AlphaMode mirrors the glTF material alphaMode property.
type AlphaMode int

const (
	// AlphaModeOpaque ignores the alpha channel; output alpha is forced to 1.
	AlphaModeOpaque AlphaMode = iota
	// AlphaModeMask discards fragments whose alpha is below the cutoff.
	AlphaModeMask
	// AlphaModeBlend keeps the alpha channel for blending.
	AlphaModeBlend
)

// ImportedMaterial represents the unlit material properties read from an imported model file.
type ImportedMaterial struct {
	// Name is the material identifier.
	Name string

	// BaseColor is the albedo color factor (RGBA, linear).
	BaseColor [4]float32

	// BaseColorTexture holds the base color image, if the material has one.
	BaseColorTexture *ImportedTexture

	// AlphaMode selects how the base color alpha is interpreted.
	AlphaMode AlphaMode

	// AlphaCutoff is the threshold used by AlphaModeMask.
	AlphaCutoff float32

	// DoubleSided reports whether back faces should be drawn.
	DoubleSided bool
}

// ImportedTexture represents texture data extracted from a model file.
// For embedded textures the Data field contains raw image bytes.
// For external textures the Path field contains the file path.
type ImportedTexture struct {
	// Name is an identifier for this texture.
	Name string

	// Path is the file path for external textures (empty for embedded).
	Path string

	// Data contains raw encoded image bytes (PNG, JPEG, BMP, TIFF or WebP).
	Data []byte

	// MimeType indicates the image format (e.g., "image/png").
	MimeType string

	// Width is the texture width in pixels (populated after Decode).
	Width int

	// Height is the texture height in pixels (populated after Decode).
	Height int

	// SamplerData holds the sampler parameters extracted from the model file.
	// When nil, DefaultSamplerStagingData applies.
	SamplerData *SamplerStagingData
}

// Decode decodes the texture to tightly packed RGBA pixel data.
// Uses either embedded Data bytes or loads from Path on disk.
// Images wider or taller than MaxTextureDimension are scaled down to fit.
//
// Returns:
//   - TextureStagingData: the decoded pixels and dimensions
//   - error: error if decoding fails
func (t *ImportedTexture) Decode() (TextureStagingData, error) {
	if t == nil {
		return TextureStagingData{}, fmt.Errorf("texture is nil")
	}

	var img image.Image
	var err error

	switch {
	case len(t.Data) > 0:
		img, _, err = image.Decode(bytes.NewReader(t.Data))
		if err != nil {
			return TextureStagingData{}, fmt.Errorf("failed to decode embedded image: %w", err)
		}
	case t.Path != "":
		file, fileErr := os.Open(t.Path)
		if fileErr != nil {
			return TextureStagingData{}, fmt.Errorf("failed to open texture file %s: %w", t.Path, fileErr)
		}
		defer file.Close()
		img, _, err = image.Decode(file)
		if err != nil {
			return TextureStagingData{}, fmt.Errorf("failed to decode texture file %s: %w", t.Path, err)
		}
	default:
		return TextureStagingData{}, fmt.Errorf("texture has neither data nor path")
	}

	src := img.Bounds()
	dstRect := image.Rect(0, 0, src.Dx(), src.Dy())
	if src.Dx() > MaxTextureDimension || src.Dy() > MaxTextureDimension {
		dstRect = fitWithin(src.Dx(), src.Dy(), MaxTextureDimension)
	}
	if dstRect.Empty() {
		return TextureStagingData{}, fmt.Errorf("texture %q has no pixels", t.Name)
	}

	rgba := image.NewRGBA(dstRect)
	if dstRect.Dx() == src.Dx() && dstRect.Dy() == src.Dy() {
		draw.Draw(rgba, dstRect, img, src.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(rgba, dstRect, img, src, draw.Src, nil)
	}

	t.Width = dstRect.Dx()
	t.Height = dstRect.Dy()

	return TextureStagingData{
		Pixels: rgba.Pix,
		Width:  uint32(t.Width),
		Height: uint32(t.Height),
	}, nil
}

// fitWithin returns a rectangle anchored at the origin that fits w×h inside limit×limit.
func fitWithin(w, h, limit int) image.Rectangle {
	if w >= h {
		return image.Rect(0, 0, limit, max(1, h*limit/w))
	}
	return image.Rect(0, 0, max(1, w*limit/h), limit)
}
