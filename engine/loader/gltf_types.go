// gltf_types.go holds the subset of the glTF 2.0 JSON schema the loader reads.
// Fields the unlit renderer never consumes (skins, animations, morph targets) are not declared;
// encoding/json skips them.
// Reference: https://registry.khronos.org/glTF/specs/2.0/glTF-2.0.html
package loader

// gltfDocument is the root object of a glTF asset.
type gltfDocument struct {
	Asset       gltfAsset        `json:"asset"`
	Scene       *int             `json:"scene,omitempty"`
	Scenes      []gltfScene      `json:"scenes,omitempty"`
	Nodes       []gltfNode       `json:"nodes,omitempty"`
	Meshes      []gltfMesh       `json:"meshes,omitempty"`
	Cameras     []gltfCamera     `json:"cameras,omitempty"`
	Accessors   []gltfAccessor   `json:"accessors,omitempty"`
	BufferViews []gltfBufferView `json:"bufferViews,omitempty"`
	Buffers     []gltfBuffer     `json:"buffers,omitempty"`
	Materials   []gltfMaterial   `json:"materials,omitempty"`
	Textures    []gltfTexture    `json:"textures,omitempty"`
	Images      []gltfImage      `json:"images,omitempty"`
	Samplers    []gltfSampler    `json:"samplers,omitempty"`

	// ExtensionsRequired lists extensions a consumer must support to load the asset.
	ExtensionsRequired []string `json:"extensionsRequired,omitempty"`
}

// gltfAsset is the asset metadata block. Version must start with "2.".
type gltfAsset struct {
	Version    string `json:"version"`
	MinVersion string `json:"minVersion,omitempty"`
	Generator  string `json:"generator,omitempty"`
}

// gltfScene lists the root nodes of one scene.
type gltfScene struct {
	Name  string `json:"name,omitempty"`
	Nodes []int  `json:"nodes,omitempty"`
}

// gltfNode is one node of the transform hierarchy.
// Matrix and the TRS properties are mutually exclusive; Matrix is column-major.
type gltfNode struct {
	Name        string       `json:"name,omitempty"`
	Children    []int        `json:"children,omitempty"`
	Mesh        *int         `json:"mesh,omitempty"`
	Camera      *int         `json:"camera,omitempty"`
	Matrix      *[16]float32 `json:"matrix,omitempty"`
	Translation *[3]float32  `json:"translation,omitempty"`
	Rotation    *[4]float32  `json:"rotation,omitempty"` // x, y, z, w
	Scale       *[3]float32  `json:"scale,omitempty"`
}

// gltfCamera is a camera projection. Exactly one of Perspective and Orthographic is set, selected by Type.
type gltfCamera struct {
	Name         string                  `json:"name,omitempty"`
	Type         string                  `json:"type"`
	Perspective  *gltfCameraPerspective  `json:"perspective,omitempty"`
	Orthographic *gltfCameraOrthographic `json:"orthographic,omitempty"`
}

// gltfCameraPerspective holds perspective projection values. A missing Zfar means an infinite projection.
type gltfCameraPerspective struct {
	AspectRatio *float32 `json:"aspectRatio,omitempty"`
	Yfov        float32  `json:"yfov"`
	Zfar        *float32 `json:"zfar,omitempty"`
	Znear       float32  `json:"znear"`
}

// gltfCameraOrthographic holds orthographic projection values.
type gltfCameraOrthographic struct {
	Xmag  float32 `json:"xmag"`
	Ymag  float32 `json:"ymag"`
	Zfar  float32 `json:"zfar"`
	Znear float32 `json:"znear"`
}

const (
	gltfCameraTypePerspective  = "perspective"
	gltfCameraTypeOrthographic = "orthographic"
)

// gltfMesh is a set of primitives drawn with one node transform.
type gltfMesh struct {
	Name       string          `json:"name,omitempty"`
	Primitives []gltfPrimitive `json:"primitives"`
}

// gltfPrimitive is one draw: attribute accessors, optional indices, optional material.
type gltfPrimitive struct {
	Attributes map[string]int `json:"attributes"`
	Indices    *int           `json:"indices,omitempty"`
	Material   *int           `json:"material,omitempty"`
	Mode       *int           `json:"mode,omitempty"`
}

// Only triangle lists are rendered; other topologies are skipped with a warning.
const gltfPrimitiveModeTriangles = 4

// gltfAccessor describes typed elements inside a buffer view.
type gltfAccessor struct {
	Name          string              `json:"name,omitempty"`
	BufferView    *int                `json:"bufferView,omitempty"`
	ByteOffset    int                 `json:"byteOffset,omitempty"`
	ComponentType int                 `json:"componentType"`
	Normalized    bool                `json:"normalized,omitempty"`
	Count         int                 `json:"count"`
	Type          string              `json:"type"`
	Max           []float32           `json:"max,omitempty"`
	Min           []float32           `json:"min,omitempty"`
	Sparse        *gltfAccessorSparse `json:"sparse,omitempty"`
}

// gltfAccessorSparse is only decoded to detect and reject sparse accessors.
type gltfAccessorSparse struct {
	Count int `json:"count"`
}

const (
	gltfComponentTypeByte          = 5120
	gltfComponentTypeUnsignedByte  = 5121
	gltfComponentTypeShort         = 5122
	gltfComponentTypeUnsignedShort = 5123
	gltfComponentTypeUnsignedInt   = 5125
	gltfComponentTypeFloat         = 5126
)

const (
	gltfAccessorTypeScalar = "SCALAR"
	gltfAccessorTypeVec2   = "VEC2"
	gltfAccessorTypeVec3   = "VEC3"
	gltfAccessorTypeVec4   = "VEC4"
	gltfAccessorTypeMat2   = "MAT2"
	gltfAccessorTypeMat3   = "MAT3"
	gltfAccessorTypeMat4   = "MAT4"
)

// gltfBufferView is a byte range of a buffer, optionally strided.
type gltfBufferView struct {
	Name       string `json:"name,omitempty"`
	Buffer     int    `json:"buffer"`
	ByteOffset int    `json:"byteOffset,omitempty"`
	ByteLength int    `json:"byteLength"`
	ByteStride *int   `json:"byteStride,omitempty"`
}

// gltfBuffer is a blob of binary data. Data is filled in by the parser.
type gltfBuffer struct {
	Name       string `json:"name,omitempty"`
	URI        string `json:"uri,omitempty"`
	ByteLength int    `json:"byteLength"`
	Data       []byte `json:"-"`
}

// gltfMaterial keeps the properties an unlit renderer can honour.
type gltfMaterial struct {
	Name                 string                    `json:"name,omitempty"`
	PbrMetallicRoughness *gltfPbrMetallicRoughness `json:"pbrMetallicRoughness,omitempty"`
	AlphaMode            string                    `json:"alphaMode,omitempty"`
	AlphaCutoff          *float32                  `json:"alphaCutoff,omitempty"`
	DoubleSided          bool                      `json:"doubleSided,omitempty"`
}

const (
	gltfAlphaModeOpaque = "OPAQUE"
	gltfAlphaModeMask   = "MASK"
	gltfAlphaModeBlend  = "BLEND"
)

type gltfPbrMetallicRoughness struct {
	BaseColorFactor  *[4]float32      `json:"baseColorFactor,omitempty"`
	BaseColorTexture *gltfTextureInfo `json:"baseColorTexture,omitempty"`
}

type gltfTextureInfo struct {
	Index    int `json:"index"`
	TexCoord int `json:"texCoord,omitempty"`
}

type gltfTexture struct {
	Name    string `json:"name,omitempty"`
	Sampler *int   `json:"sampler,omitempty"`
	Source  *int   `json:"source,omitempty"`
}

// gltfImage is an image referenced by URI or stored in a buffer view.
type gltfImage struct {
	Name       string `json:"name,omitempty"`
	URI        string `json:"uri,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
	BufferView *int   `json:"bufferView,omitempty"`
}

type gltfSampler struct {
	Name      string `json:"name,omitempty"`
	MagFilter *int   `json:"magFilter,omitempty"`
	MinFilter *int   `json:"minFilter,omitempty"`
	WrapS     *int   `json:"wrapS,omitempty"`
	WrapT     *int   `json:"wrapT,omitempty"`
}

const (
	gltfFilterNearest              = 9728
	gltfFilterLinear               = 9729
	gltfFilterNearestMipmapNearest = 9984
	gltfFilterLinearMipmapNearest  = 9985
	gltfFilterNearestMipmapLinear  = 9986
	gltfFilterLinearMipmapLinear   = 9987
)

const (
	gltfWrapClampToEdge    = 33071
	gltfWrapMirroredRepeat = 33648
	gltfWrapRepeat         = 10497
)

// gltfGLBHeader is the 12-byte GLB file header.
type gltfGLBHeader struct {
	Magic   uint32
	Version uint32
	Length  uint32
}

// gltfGLBChunkHeader precedes every GLB chunk.
type gltfGLBChunkHeader struct {
	ChunkLength uint32
	ChunkType   uint32
}

const (
	gltfGLBMagic     = 0x46546C67 // "glTF"
	gltfGLBVersion   = 2
	gltfGLBChunkJSON = 0x4E4F534A // "JSON"
	gltfGLBChunkBIN  = 0x004E4942 // "BIN\0"
)
