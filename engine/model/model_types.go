// Package model holds the renderer-independent form of imported assets: vertices, node
// transforms and camera projections.
package model

import (
	"github.com/Carmen-Shannon/gltf2image/common"
	"github.com/go-gl/mathgl/mgl32"
)

// Transform is a decomposed node transform as stored in glTF.
type Transform struct {
	// Translation is the position offset.
	Translation [3]float32

	// Rotation is the orientation as a quaternion (x, y, z, w).
	Rotation [4]float32

	// Scale is the scale factor along each axis.
	Scale [3]float32
}

// IdentityTransform returns the transform glTF assumes when a node has neither matrix nor TRS.
func IdentityTransform() Transform {
	return Transform{
		Rotation: [4]float32{0, 0, 0, 1},
		Scale:    [3]float32{1, 1, 1},
	}
}

// Matrix composes the transform into a column-major matrix (T * R * S).
func (t Transform) Matrix() mgl32.Mat4 {
	return common.ComposeTRS(t.Translation, t.Rotation, t.Scale)
}

// ProjectionType selects between the two glTF camera projections.
type ProjectionType int

const (
	ProjectionPerspective ProjectionType = iota
	ProjectionOrthographic
)

// ImportedCamera holds camera projection values read from an imported file.
type ImportedCamera struct {
	// Name is the camera identifier.
	Name string

	// Type selects which of the remaining fields apply.
	Type ProjectionType

	// YFov is the vertical field of view in radians (perspective only).
	YFov float32

	// AspectRatio is width over height. Zero means the viewport aspect is used.
	AspectRatio float32

	// ZNear is the distance to the near clipping plane.
	ZNear float32

	// ZFar is the distance to the far clipping plane. Zero means infinite (perspective only).
	ZFar float32

	// XMag and YMag are the orthographic half extents.
	XMag, YMag float32
}

// ImportedMesh is one drawable primitive of an imported mesh.
type ImportedMesh struct {
	// Name is the mesh identifier.
	Name string

	// Vertices are the unlit vertex attributes.
	Vertices []Vertex

	// Indices are the triangle list indices.
	Indices []uint32

	// MaterialIndex references ImportedAsset.Materials, or -1 for the default material.
	MaterialIndex int

	// BoundingMin is the minimum corner of the axis-aligned bounding box.
	BoundingMin [3]float32

	// BoundingMax is the maximum corner of the axis-aligned bounding box.
	BoundingMax [3]float32
}

// ImportedNode is a node of the flattened scene graph that carries a mesh, a camera, or both.
type ImportedNode struct {
	// Name is the node identifier.
	Name string

	// MeshIndex references ImportedAsset.Meshes, or -1.
	MeshIndex int

	// CameraIndex references ImportedAsset.Cameras, or -1.
	CameraIndex int

	// World is the node's model-to-world matrix, parents applied.
	World mgl32.Mat4
}

// ImportedAsset is the universal output of an importer, independent of any renderer.
type ImportedAsset struct {
	// Name is the asset identifier.
	Name string

	// Meshes holds, per source mesh, its primitives.
	Meshes [][]ImportedMesh

	// Materials are shared by the primitives through MaterialIndex.
	Materials []common.ImportedMaterial

	// Cameras are referenced by nodes through CameraIndex.
	Cameras []ImportedCamera

	// Nodes are the instanced nodes of the selected scene in depth-first order.
	Nodes []ImportedNode
}
