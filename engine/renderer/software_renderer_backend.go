package renderer

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Carmen-Shannon/gltf2image/common"
	"github.com/Carmen-Shannon/gltf2image/engine/model"
	"github.com/cogentcore/webgpu/wgpu"
)

// softwareTexture stores texels as linear, straight-alpha RGBA floats, row 0 at the top.
type softwareTexture struct {
	width, height int
	srgb          bool
	texels        []float32
	sampler       common.SamplerStagingData
}

type softwareMesh struct {
	vertices []model.Vertex
	indices  []uint32
}

// pendingReadback is a snapshot taken by ReadPixels, delivered on Flush.
type pendingReadback struct {
	staged []byte
	dst    []byte
	done   func(error)
}

// softwareRendererBackendImpl rasterizes on the CPU. Textures, meshes and materials live in maps keyed by handle id.
type softwareRendererBackendImpl struct {
	mu *sync.Mutex

	textures  map[uint64]*softwareTexture
	meshes    map[uint64]*softwareMesh
	materials map[uint64]MaterialDescriptor
	pending   []pendingReadback
	released  bool
}

var _ RendererBackend = &softwareRendererBackendImpl{}

func newSoftwareRendererBackend() *softwareRendererBackendImpl {
	return &softwareRendererBackendImpl{
		mu:        &sync.Mutex{},
		textures:  make(map[uint64]*softwareTexture),
		meshes:    make(map[uint64]*softwareMesh),
		materials: make(map[uint64]MaterialDescriptor),
	}
}

func (b *softwareRendererBackendImpl) CreateTexture(t *Texture, desc TextureDescriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := &softwareTexture{
		width:   int(desc.Width),
		height:  int(desc.Height),
		srgb:    desc.Format == wgpu.TextureFormatRGBA8UnormSrgb,
		texels:  make([]float32, int(desc.Width)*int(desc.Height)*4),
		sampler: t.sampler,
	}
	for i, p := range desc.Pixels {
		if st.srgb && i%4 != 3 {
			st.texels[i] = srgbToLinear[p]
		} else {
			st.texels[i] = float32(p) / 255
		}
	}
	b.textures[t.id] = st
	return nil
}

func (b *softwareRendererBackendImpl) DestroyTexture(t *Texture) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.textures, t.id)
}

func (b *softwareRendererBackendImpl) CreateMesh(m *Mesh, desc MeshDescriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.meshes[m.id] = &softwareMesh{
		vertices: append([]model.Vertex(nil), desc.Vertices...),
		indices:  append([]uint32(nil), desc.Indices...),
	}
	return nil
}

func (b *softwareRendererBackendImpl) DestroyMesh(m *Mesh) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.meshes, m.id)
}

func (b *softwareRendererBackendImpl) CreateMaterial(m *Material) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.materials[m.id] = m.desc
	return nil
}

func (b *softwareRendererBackendImpl) DestroyMaterial(m *Material) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.materials, m.id)
}

func (b *softwareRendererBackendImpl) Draw(pass RenderPass) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrReleased
	}

	target, ok := b.textures[pass.Target.color.id]
	if !ok {
		return fmt.Errorf("render target %q color texture: %w", pass.Target.label, ErrUnknownResource)
	}

	fb := &framebuffer{
		target:   target,
		viewport: pass.Viewport,
		depth:    make([]float32, int(pass.Viewport.Width)*int(pass.Viewport.Height)),
	}
	fb.clear(pass.ClearColor)

	for _, item := range pass.Items {
		mesh, ok := b.meshes[item.Mesh.id]
		if !ok {
			return fmt.Errorf("mesh %q: %w", item.Mesh.label, ErrUnknownResource)
		}
		shading := defaultShading()
		if item.Material != nil {
			desc, ok := b.materials[item.Material.id]
			if !ok {
				return fmt.Errorf("material %q: %w", item.Material.Label(), ErrUnknownResource)
			}
			shading = shadingFor(desc)
			if desc.BaseColorTexture != nil {
				tex, ok := b.textures[desc.BaseColorTexture.id]
				if !ok {
					return fmt.Errorf("material %q texture: %w", desc.Label, ErrUnknownResource)
				}
				shading.texture = tex
			}
		}
		shading.blended = item.Blended
		fb.drawMesh(mesh, item.MVP, shading)
	}

	if pass.BlendMode == BlendModeOpaque {
		fb.forceOpaque()
	}
	return nil
}

func (b *softwareRendererBackendImpl) ReadPixels(target *RenderTarget, region PixelRegion, dst []byte, done func(error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrReleased
	}

	tex, ok := b.textures[target.color.id]
	if !ok {
		return fmt.Errorf("render target %q color texture: %w", target.label, ErrUnknownResource)
	}

	staged := make([]byte, len(dst))
	for y := 0; y < int(region.Height); y++ {
		for x := 0; x < int(region.Width); x++ {
			src := ((int(region.Y)+y)*tex.width + int(region.X) + x) * 4
			out := (y*int(region.Width) + x) * 4
			for c := 0; c < 4; c++ {
				v := tex.texels[src+c]
				if tex.srgb && c != 3 {
					staged[out+c] = linearToSRGB8(v)
				} else {
					staged[out+c] = unorm8(v)
				}
			}
		}
	}

	b.pending = append(b.pending, pendingReadback{staged: staged, dst: dst, done: done})
	return nil
}

func (b *softwareRendererBackendImpl) Flush() error {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	// Callbacks run without the lock so they may call back into the renderer.
	for _, p := range pending {
		copy(p.dst, p.staged)
		p.done(nil)
	}
	return nil
}

func (b *softwareRendererBackendImpl) Release() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.released = true
	clear(b.textures)
	clear(b.meshes)
	clear(b.materials)
	b.mu.Unlock()

	for _, p := range pending {
		p.done(errors.New("renderer released before read-back completed"))
	}
}

// srgbToLinear decodes 8-bit sRGB values to linear intensity.
var srgbToLinear = func() (table [256]float32) {
	for i := range table {
		c := float64(i) / 255
		if c <= 0.04045 {
			table[i] = float32(c / 12.92)
		} else {
			table[i] = float32(math.Pow((c+0.055)/1.055, 2.4))
		}
	}
	return table
}()

// linearToSRGB8 encodes a linear intensity to 8-bit sRGB.
func linearToSRGB8(v float32) uint8 {
	c := float64(min(max(v, 0), 1))
	if c <= 0.0031308 {
		c *= 12.92
	} else {
		c = 1.055*math.Pow(c, 1/2.4) - 0.055
	}
	return uint8(math.Round(c * 255))
}

func unorm8(v float32) uint8 {
	return uint8(math.Round(float64(min(max(v, 0), 1)) * 255))
}
