package renderer

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Carmen-Shannon/gltf2image/common"
	"github.com/Carmen-Shannon/gltf2image/engine/model"
	"github.com/cogentcore/webgpu/wgpu"
)

//go:embed shaders/unlit.wgsl
var unlitShaderSource string

// drawUniforms mirrors the DrawUniforms block in shaders/unlit.wgsl.
type drawUniforms struct {
	MVP       [16]float32
	BaseColor [4]float32
	Params    [4]float32
}

// pipelineKey selects one of the cached render pipelines.
type pipelineKey struct {
	format      wgpu.TextureFormat
	blended     bool
	opaqueAlpha bool
}

type wgpuTexture struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
	sampler *wgpu.Sampler
	width   uint32
	height  uint32
	format  wgpu.TextureFormat
}

func (t *wgpuTexture) release() {
	if t.sampler != nil {
		t.sampler.Release()
	}
	t.view.Release()
	t.texture.Release()
}

type wgpuMesh struct {
	vertexBuffer *wgpu.Buffer
	indexBuffer  *wgpu.Buffer
	indexCount   uint32
}

func (m *wgpuMesh) release() {
	m.vertexBuffer.Release()
	m.indexBuffer.Release()
}

type wgpuMaterial struct {
	desc      MaterialDescriptor
	bindGroup *wgpu.BindGroup
}

// gpuReadback is a copy that has been submitted but not yet mapped.
type gpuReadback struct {
	buffer      *wgpu.Buffer
	bytesPerRow uint32
	region      PixelRegion
	dst         []byte
	done        func(error)
}

// wgpuRendererBackendImpl renders offscreen through a headless WebGPU device.
type wgpuRendererBackendImpl struct {
	mu *sync.Mutex

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	shader         *wgpu.ShaderModule
	drawLayout     *wgpu.BindGroupLayout
	materialLayout *wgpu.BindGroupLayout
	pipelineLayout *wgpu.PipelineLayout
	pipelines      map[pipelineKey]*wgpu.RenderPipeline

	// white is bound for materials without a base color texture.
	white *wgpuTexture

	textures  map[uint64]*wgpuTexture
	meshes    map[uint64]*wgpuMesh
	materials map[uint64]*wgpuMaterial
	pending   []gpuReadback
	released  bool

	logger *slog.Logger
}

var _ RendererBackend = &wgpuRendererBackendImpl{}

func newWGPURendererBackend(forceFallbackAdapter bool, logger *slog.Logger) (*wgpuRendererBackendImpl, error) {
	b := &wgpuRendererBackendImpl{
		mu:        &sync.Mutex{},
		instance:  wgpu.CreateInstance(nil),
		pipelines: make(map[pipelineKey]*wgpu.RenderPipeline),
		textures:  make(map[uint64]*wgpuTexture),
		meshes:    make(map[uint64]*wgpuMesh),
		materials: make(map[uint64]*wgpuMaterial),
		logger:    logger,
	}

	a, err := b.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		PowerPreference:      wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		b.instance.Release()
		return nil, fmt.Errorf("failed to request adapter: %w", err)
	}
	b.adapter = a

	limits := wgpu.DefaultLimits()
	limits.MaxTextureDimension2D = max(limits.MaxTextureDimension2D, common.MaxTextureDimension*2)

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Offscreen Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		b.adapter.Release()
		b.instance.Release()
		return nil, fmt.Errorf("failed to request device: %w", err)
	}
	b.device = d
	b.queue = d.GetQueue()

	if err := b.initPipelineState(); err != nil {
		b.Release()
		return nil, err
	}

	logger.Info("wgpu device ready", "fallback", forceFallbackAdapter)
	return b, nil
}

// initPipelineState builds the shader module, bind group layouts and the placeholder white texture.
func (b *wgpuRendererBackendImpl) initPipelineState() error {
	var err error
	b.shader, err = b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "unlit.wgsl",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: unlitShaderSource,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to compile unlit shader: %w", err)
	}

	b.drawLayout, err = b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Draw Bind Group Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: uint64(len(common.StructToBytes(&drawUniforms{}))),
				},
			},
		},
	})
	if err != nil {
		return err
	}

	b.materialLayout, err = b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Material Bind Group Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Sampler: wgpu.SamplerBindingLayout{
					Type: wgpu.SamplerBindingTypeFiltering,
				},
			},
		},
	})
	if err != nil {
		return err
	}

	b.pipelineLayout, err = b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "Unlit Pipeline Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{b.drawLayout, b.materialLayout},
	})
	if err != nil {
		return err
	}

	sampler := common.DefaultSamplerStagingData()
	b.white, err = b.createTexture("White", TextureDescriptor{
		Width:   1,
		Height:  1,
		Format:  wgpu.TextureFormatRGBA8Unorm,
		Usage:   TextureUsageSampled,
		Pixels:  []byte{255, 255, 255, 255},
		Sampler: &sampler,
	}, sampler)
	return err
}

// pipeline returns the cached pipeline for key, creating it on first use.
func (b *wgpuRendererBackendImpl) pipeline(key pipelineKey) (*wgpu.RenderPipeline, error) {
	if p, ok := b.pipelines[key]; ok {
		return p, nil
	}

	target := wgpu.ColorTargetState{
		Format:    key.format,
		WriteMask: wgpu.ColorWriteMaskAll,
	}
	if key.opaqueAlpha {
		target.WriteMask = wgpu.ColorWriteMaskRed | wgpu.ColorWriteMaskGreen | wgpu.ColorWriteMaskBlue
	}
	if key.blended {
		target.Blend = &wgpu.BlendState{
			Color: wgpu.BlendComponent{
				Operation: wgpu.BlendOperationAdd,
				SrcFactor: wgpu.BlendFactorSrcAlpha,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
			},
			Alpha: wgpu.BlendComponent{
				Operation: wgpu.BlendOperationAdd,
				SrcFactor: wgpu.BlendFactorOne,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
			},
		}
	}

	created, err := b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  fmt.Sprintf("Unlit Render Pipeline (%v, blended=%t)", key.format, key.blended),
		Layout: b.pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     b.shader,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{
				{
					ArrayStride: model.VertexStride,
					StepMode:    wgpu.VertexStepModeVertex,
					Attributes: []wgpu.VertexAttribute{
						{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
						{Format: wgpu.VertexFormatFloat32x2, Offset: 24, ShaderLocation: 1},
						{Format: wgpu.VertexFormatFloat32x4, Offset: 32, ShaderLocation: 2},
					},
				},
			},
		},
		Fragment: &wgpu.FragmentState{
			Module:     b.shader,
			EntryPoint: "fs_main",
			Targets:    []wgpu.ColorTargetState{target},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:            wgpu.TextureFormatDepth24Plus,
			DepthWriteEnabled: !key.blended,
			DepthCompare:      wgpu.CompareFunctionLess,
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	b.pipelines[key] = created
	return created, nil
}

func (b *wgpuRendererBackendImpl) createTexture(label string, desc TextureDescriptor, sampler common.SamplerStagingData) (*wgpuTexture, error) {
	usage := wgpu.TextureUsageCopyDst
	if desc.Usage&TextureUsageSampled != 0 {
		usage |= wgpu.TextureUsageTextureBinding
	}
	if desc.Usage&TextureUsageColorAttachment != 0 {
		usage |= wgpu.TextureUsageRenderAttachment
	}
	if desc.Usage&TextureUsageReadback != 0 {
		usage |= wgpu.TextureUsageCopySrc
	}

	size := wgpu.Extent3D{
		Width:              desc.Width,
		Height:             desc.Height,
		DepthOrArrayLayers: 1,
	}
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         label + " Texture",
		Usage:         usage,
		Dimension:     wgpu.TextureDimension2D,
		Size:          size,
		Format:        desc.Format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, err
	}

	if len(desc.Pixels) > 0 {
		b.queue.WriteTexture(
			&wgpu.ImageCopyTexture{
				Texture:  tex,
				MipLevel: 0,
				Origin:   wgpu.Origin3D{},
				Aspect:   wgpu.TextureAspectAll,
			},
			desc.Pixels,
			&wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  desc.Width * 4,
				RowsPerImage: desc.Height,
			},
			&size,
		)
	}

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, err
	}

	out := &wgpuTexture{texture: tex, view: view, width: desc.Width, height: desc.Height, format: desc.Format}
	if desc.Usage&TextureUsageSampled == 0 {
		return out, nil
	}

	out.sampler, err = b.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         label + " Sampler",
		AddressModeU:  common.Coalesce(sampler.AddressModeU, wgpu.AddressModeRepeat),
		AddressModeV:  common.Coalesce(sampler.AddressModeV, wgpu.AddressModeRepeat),
		AddressModeW:  common.Coalesce(sampler.AddressModeW, wgpu.AddressModeRepeat),
		MagFilter:     common.Coalesce(sampler.MagFilter, wgpu.FilterModeLinear),
		MinFilter:     common.Coalesce(sampler.MinFilter, wgpu.FilterModeLinear),
		MipmapFilter:  common.Coalesce(sampler.MipmapFilter, wgpu.MipmapFilterModeLinear),
		LodMinClamp:   common.Coalesce(sampler.LodMinClamp, 0.0),
		LodMaxClamp:   common.Coalesce(sampler.LodMaxClamp, 32.0),
		MaxAnisotropy: common.Coalesce(sampler.MaxAnisotropy, 1),
	})
	if err != nil {
		view.Release()
		tex.Release()
		return nil, err
	}
	return out, nil
}

func (b *wgpuRendererBackendImpl) CreateTexture(t *Texture, desc TextureDescriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	created, err := b.createTexture(t.label, desc, t.sampler)
	if err != nil {
		return err
	}
	b.textures[t.id] = created
	return nil
}

func (b *wgpuRendererBackendImpl) DestroyTexture(t *Texture) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tex, ok := b.textures[t.id]; ok {
		tex.release()
		delete(b.textures, t.id)
	}
}

func (b *wgpuRendererBackendImpl) CreateMesh(m *Mesh, desc MeshDescriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	vertexData := common.SliceToBytes(desc.Vertices)
	indexData := common.SliceToBytes(desc.Indices)

	vertexBuffer, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: m.label + " Vertex Buffer",
		Size:  uint64(max(len(vertexData), 4)),
		Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}
	indexBuffer, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: m.label + " Index Buffer",
		Size:  uint64(max(len(indexData), 4)),
		Usage: wgpu.BufferUsageIndex | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		vertexBuffer.Release()
		return err
	}

	if len(vertexData) > 0 {
		b.queue.WriteBuffer(vertexBuffer, 0, vertexData)
	}
	if len(indexData) > 0 {
		b.queue.WriteBuffer(indexBuffer, 0, indexData)
	}

	b.meshes[m.id] = &wgpuMesh{
		vertexBuffer: vertexBuffer,
		indexBuffer:  indexBuffer,
		indexCount:   uint32(len(desc.Indices)),
	}
	return nil
}

func (b *wgpuRendererBackendImpl) DestroyMesh(m *Mesh) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if mesh, ok := b.meshes[m.id]; ok {
		mesh.release()
		delete(b.meshes, m.id)
	}
}

func (b *wgpuRendererBackendImpl) CreateMaterial(m *Material) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tex := b.white
	if m.desc.BaseColorTexture != nil {
		t, ok := b.textures[m.desc.BaseColorTexture.id]
		if !ok {
			return fmt.Errorf("material %q texture: %w", m.Label(), ErrUnknownResource)
		}
		tex = t
	}

	bindGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  m.Label() + " Bind Group",
		Layout: b.materialLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: tex.view},
			{Binding: 1, Sampler: tex.sampler},
		},
	})
	if err != nil {
		return err
	}

	b.materials[m.id] = &wgpuMaterial{desc: m.desc, bindGroup: bindGroup}
	return nil
}

func (b *wgpuRendererBackendImpl) DestroyMaterial(m *Material) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if mat, ok := b.materials[m.id]; ok {
		mat.bindGroup.Release()
		delete(b.materials, m.id)
	}
}

// defaultMaterialBindGroup binds the white texture for items drawn without a material.
func (b *wgpuRendererBackendImpl) defaultMaterialBindGroup() (*wgpu.BindGroup, error) {
	return b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Default Material Bind Group",
		Layout: b.materialLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: b.white.view},
			{Binding: 1, Sampler: b.white.sampler},
		},
	})
}

func (b *wgpuRendererBackendImpl) Draw(pass RenderPass) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrReleased
	}

	target, ok := b.textures[pass.Target.color.id]
	if !ok {
		return fmt.Errorf("render target %q color texture: %w", pass.Target.label, ErrUnknownResource)
	}

	depth, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: pass.Target.label + " Depth Texture",
		Size: wgpu.Extent3D{
			Width:              target.width,
			Height:             target.height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth24Plus,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		return err
	}
	defer depth.Release()
	depthView, err := depth.CreateView(nil)
	if err != nil {
		return err
	}
	defer depthView.Release()

	// Per-draw resources stay alive until the command buffer is submitted.
	var transient []interface{ Release() }
	defer func() {
		for _, r := range transient {
			r.Release()
		}
	}()

	opaqueAlpha := pass.BlendMode == BlendModeOpaque
	clear := pass.ClearColor
	if opaqueAlpha {
		clear[3] = 1
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()

	rp := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:    target.view,
				LoadOp:  wgpu.LoadOpClear,
				StoreOp: wgpu.StoreOpStore,
				ClearValue: wgpu.Color{
					R: float64(clear[0]), G: float64(clear[1]), B: float64(clear[2]), A: float64(clear[3]),
				},
			},
		},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            depthView,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpDiscard,
			DepthClearValue: 1.0,
		},
	})
	vp := pass.Viewport
	rp.SetViewport(float32(vp.X), float32(vp.Y), float32(vp.Width), float32(vp.Height), 0, 1)

	encodeErr := func() error {
		for _, item := range pass.Items {
			mesh, ok := b.meshes[item.Mesh.id]
			if !ok {
				return fmt.Errorf("mesh %q: %w", item.Mesh.label, ErrUnknownResource)
			}

			uniforms := drawUniforms{MVP: item.MVP, BaseColor: [4]float32{1, 1, 1, 1}}
			var materialGroup *wgpu.BindGroup
			if item.Material != nil {
				mat, ok := b.materials[item.Material.id]
				if !ok {
					return fmt.Errorf("material %q: %w", item.Material.Label(), ErrUnknownResource)
				}
				uniforms.BaseColor = mat.desc.BaseColor
				uniforms.Params = [4]float32{float32(mat.desc.AlphaMode), mat.desc.AlphaCutoff}
				materialGroup = mat.bindGroup
			} else {
				bg, err := b.defaultMaterialBindGroup()
				if err != nil {
					return err
				}
				transient = append(transient, bg)
				materialGroup = bg
			}

			p, err := b.pipeline(pipelineKey{format: target.format, blended: item.Blended, opaqueAlpha: opaqueAlpha})
			if err != nil {
				return err
			}

			data := common.StructToBytes(&uniforms)
			ub, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
				Label: item.Mesh.label + " Draw Uniforms",
				Size:  uint64(len(data)),
				Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
			})
			if err != nil {
				return err
			}
			transient = append(transient, ub)
			b.queue.WriteBuffer(ub, 0, data)

			drawGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
				Label:   item.Mesh.label + " Draw Bind Group",
				Layout:  b.drawLayout,
				Entries: []wgpu.BindGroupEntry{{Binding: 0, Buffer: ub, Offset: 0, Size: wgpu.WholeSize}},
			})
			if err != nil {
				return err
			}
			transient = append(transient, drawGroup)

			rp.SetPipeline(p)
			rp.SetBindGroup(0, drawGroup, nil)
			rp.SetBindGroup(1, materialGroup, nil)
			rp.SetVertexBuffer(0, mesh.vertexBuffer, 0, wgpu.WholeSize)
			rp.SetIndexBuffer(mesh.indexBuffer, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
			rp.DrawIndexed(mesh.indexCount, 1, 0, 0, 0)
		}
		return nil
	}()
	rp.End()
	rp.Release()
	if encodeErr != nil {
		return encodeErr
	}

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	defer commandBuffer.Release()
	b.queue.Submit(commandBuffer)
	return nil
}

func (b *wgpuRendererBackendImpl) ReadPixels(target *RenderTarget, region PixelRegion, dst []byte, done func(error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrReleased
	}

	tex, ok := b.textures[target.color.id]
	if !ok {
		return fmt.Errorf("render target %q color texture: %w", target.label, ErrUnknownResource)
	}

	// Buffer copies need 256-byte aligned rows.
	bytesPerRow := (region.Width*4 + 255) &^ 255
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: target.label + " Readback Buffer",
		Size:  uint64(bytesPerRow) * uint64(region.Height),
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		buf.Release()
		return err
	}
	defer encoder.Release()

	encoder.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{
			Texture:  tex.texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{X: region.X, Y: region.Y},
			Aspect:   wgpu.TextureAspectAll,
		},
		&wgpu.ImageCopyBuffer{
			Buffer: buf,
			Layout: wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  bytesPerRow,
				RowsPerImage: region.Height,
			},
		},
		&wgpu.Extent3D{
			Width:              region.Width,
			Height:             region.Height,
			DepthOrArrayLayers: 1,
		},
	)

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		buf.Release()
		return err
	}
	defer commandBuffer.Release()
	b.queue.Submit(commandBuffer)

	b.pending = append(b.pending, gpuReadback{
		buffer:      buf,
		bytesPerRow: bytesPerRow,
		region:      region,
		dst:         dst,
		done:        done,
	})
	return nil
}

// Flush blocks until all submitted work has completed, then delivers pending read-backs in submission order.
func (b *wgpuRendererBackendImpl) Flush() error {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return ErrReleased
	}
	pending := b.pending
	b.pending = nil

	statuses := make([]wgpu.BufferMapAsyncStatus, len(pending))
	mapErrs := make([]error, len(pending))
	for i, p := range pending {
		size := uint64(p.bytesPerRow) * uint64(p.region.Height)
		mapErrs[i] = p.buffer.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
			statuses[i] = status
		})
	}
	b.device.Poll(true, nil)

	results := make([]error, len(pending))
	for i, p := range pending {
		switch {
		case mapErrs[i] != nil:
			results[i] = fmt.Errorf("failed to map read-back buffer: %w", mapErrs[i])
		case statuses[i] != wgpu.BufferMapAsyncStatusSuccess:
			results[i] = fmt.Errorf("failed to map read-back buffer: status %d", statuses[i])
		default:
			size := uint64(p.bytesPerRow) * uint64(p.region.Height)
			mapped := p.buffer.GetMappedRange(0, uint(size))
			rowBytes := int(p.region.Width) * 4
			for y := 0; y < int(p.region.Height); y++ {
				copy(p.dst[y*rowBytes:(y+1)*rowBytes], mapped[y*int(p.bytesPerRow):])
			}
			p.buffer.Unmap()
		}
		p.buffer.Release()
	}
	b.mu.Unlock()

	// Callbacks run without the lock so they may call back into the renderer.
	for i, p := range pending {
		if results[i] != nil {
			b.logger.Warn("read-back failed", "error", results[i])
		}
		p.done(results[i])
	}
	return nil
}

func (b *wgpuRendererBackendImpl) Release() {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return
	}
	b.released = true
	pending := b.pending
	b.pending = nil

	for _, p := range pending {
		p.buffer.Release()
	}
	for _, m := range b.materials {
		m.bindGroup.Release()
	}
	for _, m := range b.meshes {
		m.release()
	}
	for _, t := range b.textures {
		t.release()
	}
	clear(b.materials)
	clear(b.meshes)
	clear(b.textures)
	if b.white != nil {
		b.white.release()
	}
	for _, p := range b.pipelines {
		p.Release()
	}
	clear(b.pipelines)
	if b.pipelineLayout != nil {
		b.pipelineLayout.Release()
	}
	if b.materialLayout != nil {
		b.materialLayout.Release()
	}
	if b.drawLayout != nil {
		b.drawLayout.Release()
	}
	if b.shader != nil {
		b.shader.Release()
	}
	b.queue.Release()
	b.device.Release()
	b.adapter.Release()
	b.instance.Release()
	b.mu.Unlock()

	for _, p := range pending {
		p.done(errors.New("renderer released before read-back completed"))
	}
}
