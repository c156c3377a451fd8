package model

import (
	"unsafe"
)

// VertexStride is the byte size of one Vertex as uploaded to a vertex buffer.
const VertexStride = 48

// Vertex is the interleaved vertex layout shared by every renderer backend.
// Layout (48 bytes, tightly packed):
//
//	offset  0: Position vec3<f32>
//	offset 12: Normal   vec3<f32>
//	offset 24: TexCoord vec2<f32>
//	offset 32: Color    vec4<f32>
type Vertex struct {
	Position [3]float32
	Normal   [3]float32
	TexCoord [2]float32
	Color    [4]float32
}

var _ [VertexStride]byte = [unsafe.Sizeof(Vertex{})]byte{}

// Size returns the size of the Vertex struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (v *Vertex) Size() int {
	return int(unsafe.Sizeof(*v))
}

// ComputeBounds returns the axis-aligned bounds of the vertex positions.
// Both corners are zero for an empty slice.
//
// Parameters:
//   - vertices: the vertex data
//
// Returns:
//   - [3]float32: the minimum corner
//   - [3]float32: the maximum corner
func ComputeBounds(vertices []Vertex) (minCorner, maxCorner [3]float32) {
	if len(vertices) == 0 {
		return
	}
	minCorner, maxCorner = vertices[0].Position, vertices[0].Position
	for _, v := range vertices[1:] {
		for k := 0; k < 3; k++ {
			minCorner[k] = min(minCorner[k], v.Position[k])
			maxCorner[k] = max(maxCorner[k], v.Position[k])
		}
	}
	return
}
