package renderer

import (
	"math"

	"github.com/Carmen-Shannon/gltf2image/common"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

// minClipW keeps clipped vertices strictly in front of the eye.
const minClipW = 1e-6

// shading is the resolved per-draw material state.
type shading struct {
	baseColor [4]float32
	texture   *softwareTexture
	alphaMode common.AlphaMode
	cutoff    float32
	blended   bool
}

func defaultShading() shading {
	return shading{baseColor: [4]float32{1, 1, 1, 1}, alphaMode: common.AlphaModeOpaque}
}

func shadingFor(desc MaterialDescriptor) shading {
	return shading{
		baseColor: desc.BaseColor,
		alphaMode: desc.AlphaMode,
		cutoff:    desc.AlphaCutoff,
	}
}

// framebuffer is one render pass worth of state: the color target plus a transient depth buffer
// covering the viewport.
type framebuffer struct {
	target   *softwareTexture
	viewport Viewport
	depth    []float32
}

// clear resets the whole color target, like a load-op clear, and the viewport depth buffer.
func (fb *framebuffer) clear(color [4]float32) {
	for i := range fb.depth {
		fb.depth[i] = 1
	}
	for i := 0; i < len(fb.target.texels); i += 4 {
		copy(fb.target.texels[i:i+4], color[:])
	}
}

func (fb *framebuffer) forceOpaque() {
	for i := 3; i < len(fb.target.texels); i += 4 {
		fb.target.texels[i] = 1
	}
}

// clipVertex is a vertex in homogeneous clip space with the attributes the fragment stage needs.
type clipVertex struct {
	pos   mgl32.Vec4
	uv    [2]float32
	color [4]float32
}

func lerpClip(a, b clipVertex, t float32) clipVertex {
	out := clipVertex{pos: a.pos.Add(b.pos.Sub(a.pos).Mul(t))}
	for i := range out.uv {
		out.uv[i] = a.uv[i] + (b.uv[i]-a.uv[i])*t
	}
	for i := range out.color {
		out.color[i] = a.color[i] + (b.color[i]-a.color[i])*t
	}
	return out
}

// clipPolygon clips a convex polygon against the half space dist(v) >= 0 (Sutherland-Hodgman).
func clipPolygon(in []clipVertex, dist func(mgl32.Vec4) float32) []clipVertex {
	if len(in) == 0 {
		return nil
	}
	out := make([]clipVertex, 0, len(in)+2)
	prev := in[len(in)-1]
	prevDist := dist(prev.pos)
	for _, cur := range in {
		curDist := dist(cur.pos)
		if curDist >= 0 {
			if prevDist < 0 {
				out = append(out, lerpClip(prev, cur, prevDist/(prevDist-curDist)))
			}
			out = append(out, cur)
		} else if prevDist >= 0 {
			out = append(out, lerpClip(prev, cur, prevDist/(prevDist-curDist)))
		}
		prev, prevDist = cur, curDist
	}
	return out
}

// screenVertex is a clipped vertex after the perspective divide and viewport transform.
// Attributes are pre-divided by w for perspective-correct interpolation.
type screenVertex struct {
	x, y, z float64
	invW    float64
	uvW     [2]float64
	colorW  [4]float64
}

func (fb *framebuffer) toScreen(v clipVertex) screenVertex {
	invW := 1 / float64(v.pos.W())
	vp := fb.viewport
	sv := screenVertex{
		x:    float64(vp.X) + (float64(v.pos.X())*invW+1)*0.5*float64(vp.Width),
		y:    float64(vp.Y) + (1-float64(v.pos.Y())*invW)*0.5*float64(vp.Height),
		z:    float64(v.pos.Z()) * invW,
		invW: invW,
	}
	for i := range v.uv {
		sv.uvW[i] = float64(v.uv[i]) * invW
	}
	for i := range v.color {
		sv.colorW[i] = float64(v.color[i]) * invW
	}
	return sv
}

func (fb *framebuffer) drawMesh(mesh *softwareMesh, mvp mgl32.Mat4, s shading) {
	transformed := make([]clipVertex, len(mesh.vertices))
	for i, v := range mesh.vertices {
		transformed[i] = clipVertex{
			pos:   mvp.Mul4x1(mgl32.Vec3(v.Position).Vec4(1)),
			uv:    v.TexCoord,
			color: v.Color,
		}
	}

	for i := 0; i+2 < len(mesh.indices); i += 3 {
		poly := []clipVertex{
			transformed[mesh.indices[i]],
			transformed[mesh.indices[i+1]],
			transformed[mesh.indices[i+2]],
		}
		poly = clipPolygon(poly, func(p mgl32.Vec4) float32 { return p.W() - minClipW })
		poly = clipPolygon(poly, func(p mgl32.Vec4) float32 { return p.Z() })
		poly = clipPolygon(poly, func(p mgl32.Vec4) float32 { return p.W() - p.Z() })
		if len(poly) < 3 {
			continue
		}

		first := fb.toScreen(poly[0])
		for k := 1; k+1 < len(poly); k++ {
			fb.rasterize(first, fb.toScreen(poly[k]), fb.toScreen(poly[k+1]), s)
		}
	}
}

// edge is the signed area term of p relative to the directed edge a->b (y down).
func edge(ax, ay, bx, by, px, py float64) float64 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

// topLeft reports whether a->b is a top or left edge of a triangle with positive area,
// so pixels exactly on it are drawn by this triangle and not its neighbour.
func topLeft(a, b screenVertex) bool {
	dy := b.y - a.y
	dx := b.x - a.x
	return dy < 0 || (dy == 0 && dx > 0)
}

func (fb *framebuffer) rasterize(v0, v1, v2 screenVertex, s shading) {
	area := edge(v0.x, v0.y, v1.x, v1.y, v2.x, v2.y)
	if area == 0 {
		return
	}
	if area < 0 {
		v1, v2 = v2, v1
		area = -area
	}

	vp := fb.viewport
	minX := max(int(math.Floor(min(v0.x, v1.x, v2.x))), int(vp.X))
	maxX := min(int(math.Ceil(max(v0.x, v1.x, v2.x))), int(vp.X+vp.Width)-1)
	minY := max(int(math.Floor(min(v0.y, v1.y, v2.y))), int(vp.Y))
	maxY := min(int(math.Ceil(max(v0.y, v1.y, v2.y))), int(vp.Y+vp.Height)-1)

	tl0, tl1, tl2 := topLeft(v1, v2), topLeft(v2, v0), topLeft(v0, v1)
	inside := func(e float64, tl bool) bool { return e > 0 || (e == 0 && tl) }

	for y := minY; y <= maxY; y++ {
		py := float64(y) + 0.5
		for x := minX; x <= maxX; x++ {
			px := float64(x) + 0.5

			e0 := edge(v1.x, v1.y, v2.x, v2.y, px, py)
			e1 := edge(v2.x, v2.y, v0.x, v0.y, px, py)
			e2 := edge(v0.x, v0.y, v1.x, v1.y, px, py)
			if !inside(e0, tl0) || !inside(e1, tl1) || !inside(e2, tl2) {
				continue
			}

			b0, b1, b2 := e0/area, e1/area, e2/area
			z := b0*v0.z + b1*v1.z + b2*v2.z
			di := (y-int(vp.Y))*int(vp.Width) + (x - int(vp.X))
			if z < 0 || z > 1 || float32(z) >= fb.depth[di] {
				continue
			}

			invW := b0*v0.invW + b1*v1.invW + b2*v2.invW
			var uv [2]float32
			for i := range uv {
				uv[i] = float32((b0*v0.uvW[i] + b1*v1.uvW[i] + b2*v2.uvW[i]) / invW)
			}
			var color [4]float32
			for i := range color {
				color[i] = float32((b0*v0.colorW[i] + b1*v1.colorW[i] + b2*v2.colorW[i]) / invW)
			}

			if fb.shade(x, y, uv, color, s) && !s.blended {
				fb.depth[di] = float32(z)
			}
		}
	}
}

// shade computes and writes one fragment. It reports false when the fragment was discarded.
func (fb *framebuffer) shade(x, y int, uv [2]float32, vertexColor [4]float32, s shading) bool {
	var c [4]float32
	texel := [4]float32{1, 1, 1, 1}
	if s.texture != nil {
		texel = s.texture.sample(uv)
	}
	for i := range c {
		c[i] = s.baseColor[i] * vertexColor[i] * texel[i]
	}

	switch s.alphaMode {
	case common.AlphaModeMask:
		if c[3] < s.cutoff {
			return false
		}
		c[3] = 1
	case common.AlphaModeOpaque:
		c[3] = 1
	}

	dst := fb.target.texels[(y*fb.target.width+x)*4:][:4]
	if !s.blended {
		copy(dst, c[:])
		return true
	}

	a := min(max(c[3], 0), 1)
	for i := 0; i < 3; i++ {
		dst[i] = c[i]*a + dst[i]*(1-a)
	}
	dst[3] = a + dst[3]*(1-a)
	return true
}

// sample returns the nearest texel at uv, honouring the sampler's address modes.
func (t *softwareTexture) sample(uv [2]float32) [4]float32 {
	x := wrapCoord(uv[0], t.width, t.sampler.AddressModeU)
	y := wrapCoord(uv[1], t.height, t.sampler.AddressModeV)
	i := (y*t.width + x) * 4
	return [4]float32{t.texels[i], t.texels[i+1], t.texels[i+2], t.texels[i+3]}
}

func wrapCoord(u float32, size int, mode wgpu.AddressMode) int {
	f := float64(u)
	switch mode {
	case wgpu.AddressModeClampToEdge:
		f = min(max(f, 0), 1)
	case wgpu.AddressModeMirrorRepeat:
		period := math.Mod(math.Abs(f), 2)
		if period > 1 {
			period = 2 - period
		}
		f = period
	default:
		f -= math.Floor(f)
	}
	i := int(f * float64(size))
	return min(max(i, 0), size-1)
}
