package common

import (
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// clipSpaceCorrection remaps OpenGL clip-space depth ([-1, 1]) to the WebGPU range ([0, 1]).
var clipSpaceCorrection = mgl32.Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	totalBytes := int(size) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), totalBytes)
}

// StructToBytes reinterprets a pointer to a struct as a raw byte slice using unsafe.
// The returned slice has length equal to the struct's size in memory.
//
// Parameters:
//   - v: pointer to the struct to reinterpret
//
// Returns:
//   - []byte: byte slice view of the struct's memory
func StructToBytes[T any](v *T) []byte {
	size := unsafe.Sizeof(*v)
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), int(size))
}

// ComposeTRS builds a column-major model matrix from a glTF translation, rotation quaternion (x, y, z, w) and scale.
// The result is T * R * S.
//
// Parameters:
//   - t: translation
//   - r: rotation quaternion in glTF order (x, y, z, w)
//   - s: scale
//
// Returns:
//   - mgl32.Mat4: the composed matrix
func ComposeTRS(t [3]float32, r [4]float32, s [3]float32) mgl32.Mat4 {
	rotation := mgl32.Quat{W: r[3], V: mgl32.Vec3{r[0], r[1], r[2]}}.Normalize()
	return mgl32.Translate3D(t[0], t[1], t[2]).
		Mul4(rotation.Mat4()).
		Mul4(mgl32.Scale3D(s[0], s[1], s[2]))
}

// ToWebGPUClipSpace converts an OpenGL-style projection matrix (depth in [-1, 1]) into one that produces WebGPU depth ([0, 1]).
//
// Parameters:
//   - projection: the OpenGL-style projection matrix
//
// Returns:
//   - mgl32.Mat4: the corrected projection matrix
func ToWebGPUClipSpace(projection mgl32.Mat4) mgl32.Mat4 {
	return clipSpaceCorrection.Mul4(projection)
}
