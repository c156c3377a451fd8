package loader

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/Carmen-Shannon/gltf2image/engine/model"
)

// gltfMeshExtractorImpl is the implementation of the gltfMeshExtractor interface.
type gltfMeshExtractorImpl struct {
	parser gltfParser
	logger *slog.Logger
}

// gltfMeshExtractor converts glTF mesh primitives into renderer-ready ImportedMesh values.
type gltfMeshExtractor interface {
	// ExtractMesh extracts the triangle primitives of one mesh. Primitives with any other
	// topology are skipped with a warning, so the result may be shorter than the primitive list.
	//
	// Parameters:
	//   - meshIndex: the index of the mesh to extract
	//
	// Returns:
	//   - []model.ImportedMesh: one ImportedMesh per triangle primitive
	//   - error: error if an accessor is malformed or out of range
	ExtractMesh(meshIndex int) ([]model.ImportedMesh, error)

	// ExtractAllMeshes extracts every mesh of the document, keeping the document's mesh indices.
	//
	// Returns:
	//   - [][]model.ImportedMesh: the primitives of each mesh
	//   - error: error if any mesh fails to extract
	ExtractAllMeshes() ([][]model.ImportedMesh, error)
}

var _ gltfMeshExtractor = &gltfMeshExtractorImpl{}

// newGLTFMeshExtractor creates a new mesh extractor for a parsed document.
//
// Parameters:
//   - parser: the parser containing a loaded document
//   - logger: the logger for skipped primitives
//
// Returns:
//   - gltfMeshExtractor: the mesh extractor
func newGLTFMeshExtractor(parser gltfParser, logger *slog.Logger) gltfMeshExtractor {
	return &gltfMeshExtractorImpl{parser: parser, logger: logger}
}

func (e *gltfMeshExtractorImpl) ExtractMesh(meshIndex int) ([]model.ImportedMesh, error) {
	doc := e.parser.Document()
	if doc == nil {
		return nil, errNoDocument
	}
	if meshIndex < 0 || meshIndex >= len(doc.Meshes) {
		return nil, fmt.Errorf("mesh %d: %w", meshIndex, errOutOfRange)
	}

	mesh := &doc.Meshes[meshIndex]
	result := make([]model.ImportedMesh, 0, len(mesh.Primitives))

	for primIdx := range mesh.Primitives {
		prim := &mesh.Primitives[primIdx]
		if prim.Mode != nil && *prim.Mode != gltfPrimitiveModeTriangles {
			e.logger.Warn("skipping non-triangle primitive", "mesh", mesh.Name, "primitive", primIdx, "mode", *prim.Mode)
			continue
		}

		imported, err := e.extractPrimitive(prim, mesh.Name, primIdx)
		if err != nil {
			return nil, fmt.Errorf("mesh %d primitive %d: %w", meshIndex, primIdx, err)
		}
		result = append(result, *imported)
	}

	return result, nil
}

func (e *gltfMeshExtractorImpl) ExtractAllMeshes() ([][]model.ImportedMesh, error) {
	doc := e.parser.Document()
	if doc == nil {
		return nil, errNoDocument
	}

	all := make([][]model.ImportedMesh, len(doc.Meshes))
	for i := range doc.Meshes {
		meshes, err := e.ExtractMesh(i)
		if err != nil {
			return nil, err
		}
		all[i] = meshes
	}

	return all, nil
}

// extractPrimitive extracts a single triangle primitive as an ImportedMesh.
func (e *gltfMeshExtractorImpl) extractPrimitive(prim *gltfPrimitive, meshName string, primIndex int) (*model.ImportedMesh, error) {
	// Extract positions (required)
	posAccessor, ok := prim.Attributes["POSITION"]
	if !ok {
		return nil, fmt.Errorf("primitive has no POSITION attribute")
	}

	positions, err := e.parser.ReadVec3Accessor(posAccessor)
	if err != nil {
		return nil, fmt.Errorf("failed to read positions: %w", err)
	}

	vertexCount := len(positions)
	vertices := make([]model.Vertex, vertexCount)
	for i, pos := range positions {
		vertices[i].Position = pos
		vertices[i].Color = [4]float32{1, 1, 1, 1}
	}

	hasNormals := false
	if normalAccessor, ok := prim.Attributes["NORMAL"]; ok {
		normals, err := e.parser.ReadVec3Accessor(normalAccessor)
		if err != nil {
			return nil, fmt.Errorf("failed to read normals: %w", err)
		}
		if err := checkAttributeCount("NORMAL", len(normals), vertexCount); err != nil {
			return nil, err
		}
		for i := range normals {
			vertices[i].Normal = normals[i]
		}
		hasNormals = true
	}

	if texCoordAccessor, ok := prim.Attributes["TEXCOORD_0"]; ok {
		texCoords, err := e.parser.ReadVec2Accessor(texCoordAccessor)
		if err != nil {
			return nil, fmt.Errorf("failed to read texcoords: %w", err)
		}
		if err := checkAttributeCount("TEXCOORD_0", len(texCoords), vertexCount); err != nil {
			return nil, err
		}
		for i := range texCoords {
			vertices[i].TexCoord = texCoords[i]
		}
	}

	if colorAccessor, ok := prim.Attributes["COLOR_0"]; ok {
		colors, err := e.readColorAccessor(colorAccessor)
		if err != nil {
			return nil, fmt.Errorf("failed to read colors: %w", err)
		}
		if err := checkAttributeCount("COLOR_0", len(colors), vertexCount); err != nil {
			return nil, err
		}
		for i := range colors {
			vertices[i].Color = colors[i]
		}
	}

	var indices []uint32
	if prim.Indices != nil {
		indices, err = e.parser.ReadIndicesAccessor(*prim.Indices)
		if err != nil {
			return nil, fmt.Errorf("failed to read indices: %w", err)
		}
		for _, idx := range indices {
			if int(idx) >= vertexCount {
				return nil, fmt.Errorf("index %d exceeds %d vertices: %w", idx, vertexCount, errOutOfRange)
			}
		}
	} else {
		// Non-indexed primitives draw their vertices in order.
		indices = make([]uint32, vertexCount)
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	// Trailing indices that do not form a whole triangle are not drawn.
	indices = indices[:len(indices)-len(indices)%3]

	if !hasNormals && len(indices) >= 3 {
		generateNormals(vertices, indices)
	}

	bmin, bmax := model.ComputeBounds(vertices)

	materialIndex := -1
	if prim.Material != nil {
		materialIndex = *prim.Material
	}

	name := meshName
	if name == "" {
		name = "mesh"
	}
	if primIndex > 0 {
		name = fmt.Sprintf("%s_prim%d", name, primIndex)
	}

	return &model.ImportedMesh{
		Name:          name,
		Vertices:      vertices,
		Indices:       indices,
		MaterialIndex: materialIndex,
		BoundingMin:   bmin,
		BoundingMax:   bmax,
	}, nil
}

// readColorAccessor reads COLOR_0, which may be VEC3 (alpha 1) or VEC4, float or normalized integer.
func (e *gltfMeshExtractorImpl) readColorAccessor(accessorIndex int) ([][4]float32, error) {
	doc := e.parser.Document()
	if accessorIndex < 0 || accessorIndex >= len(doc.Accessors) {
		return nil, fmt.Errorf("accessor %d: %w", accessorIndex, errOutOfRange)
	}
	acc := &doc.Accessors[accessorIndex]

	// Integer colors are normalized by definition even when the flag is omitted.
	if acc.ComponentType != gltfComponentTypeFloat {
		acc.Normalized = true
	}

	switch acc.Type {
	case gltfAccessorTypeVec4:
		return e.parser.ReadVec4Accessor(accessorIndex)
	case gltfAccessorTypeVec3:
		vec3s, err := e.parser.ReadVec3Accessor(accessorIndex)
		if err != nil {
			return nil, err
		}
		result := make([][4]float32, len(vec3s))
		for i, v := range vec3s {
			result[i] = [4]float32{v[0], v[1], v[2], 1.0}
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported color accessor type %s", acc.Type)
	}
}

// checkAttributeCount rejects attributes that do not cover every vertex.
func checkAttributeCount(name string, got, want int) error {
	if got != want {
		return fmt.Errorf("%s has %d elements, POSITION has %d: %w", name, got, want, errOutOfRange)
	}
	return nil
}

// generateNormals computes smooth, area-weighted vertex normals when a primitive has no NORMAL attribute.
//
// Parameters:
//   - vertices: the vertex slice to write normal data into
//   - indices: the triangle index buffer (must be a multiple of 3)
func generateNormals(vertices []model.Vertex, indices []uint32) {
	n := len(vertices)
	accum := make([][3]float32, n)

	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]
		p0, p1, p2 := vertices[i0].Position, vertices[i1].Position, vertices[i2].Position

		edge1 := [3]float32{p1[0] - p0[0], p1[1] - p0[1], p1[2] - p0[2]}
		edge2 := [3]float32{p2[0] - p0[0], p2[1] - p0[1], p2[2] - p0[2]}

		// Cross product: face normal (length proportional to triangle area)
		faceNormal := [3]float32{
			edge1[1]*edge2[2] - edge1[2]*edge2[1],
			edge1[2]*edge2[0] - edge1[0]*edge2[2],
			edge1[0]*edge2[1] - edge1[1]*edge2[0],
		}

		for _, idx := range []uint32{i0, i1, i2} {
			accum[idx][0] += faceNormal[0]
			accum[idx][1] += faceNormal[1]
			accum[idx][2] += faceNormal[2]
		}
	}

	for i := range n {
		length := float32(math.Sqrt(float64(accum[i][0]*accum[i][0] + accum[i][1]*accum[i][1] + accum[i][2]*accum[i][2])))
		if length < 1e-6 {
			vertices[i].Normal = [3]float32{0, 1, 0}
			continue
		}
		invLen := 1.0 / length
		vertices[i].Normal = [3]float32{
			accum[i][0] * invLen,
			accum[i][1] * invLen,
			accum[i][2] * invLen,
		}
	}
}
