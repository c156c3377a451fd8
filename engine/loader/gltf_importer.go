package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Carmen-Shannon/gltf2image/engine/model"
	"github.com/go-gl/mathgl/mgl32"
)

var (
	errUnsupportedExtension = errors.New("required extension not supported")
	errNodeCycle            = errors.New("node hierarchy contains a cycle")
)

// gltfSupportedExtensions are the required extensions an asset may list and still load.
// KHR_materials_unlit only asks for what the renderer already does.
var gltfSupportedExtensions = []string{
	"KHR_materials_unlit",
}

// gltfImporterImpl is the implementation of the gltfImporter interface.
type gltfImporterImpl struct {
	resourceDir string
	logger      *slog.Logger
}

// gltfImporter defines the interface for orchestrating a full glTF/GLB import.
// It combines the parser and all extractors to produce a complete ImportedAsset.
type gltfImporter interface {
	// Import decodes glTF JSON or GLB bytes and extracts meshes, materials, cameras
	// and the flattened node instances of the default scene.
	//
	// Parameters:
	//   - data: the encoded asset
	//
	// Returns:
	//   - *model.ImportedAsset: the fully populated imported asset
	//   - error: error if import fails
	Import(data []byte) (*model.ImportedAsset, error)
}

var _ gltfImporter = &gltfImporterImpl{}

// newGLTFImporter creates a new glTF importer.
//
// Parameters:
//   - resourceDir: the directory external URIs are resolved against; empty disables external files
//   - logger: the logger for skipped content
//
// Returns:
//   - gltfImporter: the importer
func newGLTFImporter(resourceDir string, logger *slog.Logger) gltfImporter {
	return &gltfImporterImpl{
		resourceDir: resourceDir,
		logger:      logger,
	}
}

func (imp *gltfImporterImpl) Import(data []byte) (*model.ImportedAsset, error) {
	parser := newGLTFParser(imp.resourceDir)
	if err := parser.Parse(data); err != nil {
		return nil, fmt.Errorf("failed to parse asset: %w", err)
	}

	doc := parser.Document()
	if doc == nil {
		return nil, errNoDocument
	}

	for _, ext := range doc.ExtensionsRequired {
		if !slices.Contains(gltfSupportedExtensions, ext) {
			return nil, fmt.Errorf("%w: %s", errUnsupportedExtension, ext)
		}
	}

	meshes, err := newGLTFMeshExtractor(parser, imp.logger).ExtractAllMeshes()
	if err != nil {
		return nil, fmt.Errorf("mesh extraction failed: %w", err)
	}

	materials, err := newGLTFMaterialExtractor(parser, imp.logger).ExtractAllMaterials()
	if err != nil {
		return nil, fmt.Errorf("material extraction failed: %w", err)
	}

	cameras, err := newGLTFCameraExtractor(parser).ExtractAllCameras()
	if err != nil {
		return nil, fmt.Errorf("camera extraction failed: %w", err)
	}

	// Meshes are extracted without the material list, so their references are checked here.
	for i := range meshes {
		for j := range meshes[i] {
			if idx := meshes[i][j].MaterialIndex; idx < -1 || idx >= len(materials) {
				return nil, fmt.Errorf("mesh %q material %d: %w", meshes[i][j].Name, meshes[i][j].MaterialIndex, errOutOfRange)
			}
		}
	}

	roots, name, err := gltfSceneRoots(doc)
	if err != nil {
		return nil, err
	}

	nodes, err := gltfFlattenNodes(doc, roots)
	if err != nil {
		return nil, err
	}

	imp.logger.Debug("glTF asset imported",
		"name", name,
		"meshes", len(meshes),
		"materials", len(materials),
		"cameras", len(cameras),
		"nodes", len(nodes),
	)

	return &model.ImportedAsset{
		Name:      name,
		Meshes:    meshes,
		Materials: materials,
		Cameras:   cameras,
		Nodes:     nodes,
	}, nil
}

// --- Helper Functions ---

// gltfSceneRoots selects the root nodes to instance: the document's default scene, else scene 0,
// else every node that is nobody's child.
func gltfSceneRoots(doc *gltfDocument) ([]int, string, error) {
	if len(doc.Scenes) > 0 {
		index := 0
		if doc.Scene != nil {
			index = *doc.Scene
		}
		if index < 0 || index >= len(doc.Scenes) {
			return nil, "", fmt.Errorf("scene %d: %w", index, errOutOfRange)
		}
		scene := &doc.Scenes[index]
		return scene.Nodes, gltfAssetName(scene.Name), nil
	}

	isChild := make([]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			if c >= 0 && c < len(isChild) {
				isChild[c] = true
			}
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !isChild[i] {
			roots = append(roots, i)
		}
	}
	return roots, gltfAssetName(""), nil
}

func gltfAssetName(sceneName string) string {
	if sceneName != "" {
		return sceneName
	}
	return "unnamed_asset"
}

// gltfFlattenNodes walks the hierarchy depth-first from roots and returns every node that carries
// a mesh or a camera, with its world matrix.
func gltfFlattenNodes(doc *gltfDocument, roots []int) ([]model.ImportedNode, error) {
	var out []model.ImportedNode
	onPath := make([]bool, len(doc.Nodes))

	var visit func(index int, parent mgl32.Mat4) error
	visit = func(index int, parent mgl32.Mat4) error {
		if index < 0 || index >= len(doc.Nodes) {
			return fmt.Errorf("node %d: %w", index, errOutOfRange)
		}
		if onPath[index] {
			return fmt.Errorf("node %d: %w", index, errNodeCycle)
		}
		onPath[index] = true
		defer func() { onPath[index] = false }()

		node := &doc.Nodes[index]
		world := parent.Mul4(gltfNodeLocalMatrix(node))

		if node.Mesh != nil || node.Camera != nil {
			inst := model.ImportedNode{
				Name:        node.Name,
				MeshIndex:   -1,
				CameraIndex: -1,
				World:       world,
			}
			if node.Mesh != nil {
				if *node.Mesh < 0 || *node.Mesh >= len(doc.Meshes) {
					return fmt.Errorf("node %d mesh %d: %w", index, *node.Mesh, errOutOfRange)
				}
				inst.MeshIndex = *node.Mesh
			}
			if node.Camera != nil {
				if *node.Camera < 0 || *node.Camera >= len(doc.Cameras) {
					return fmt.Errorf("node %d camera %d: %w", index, *node.Camera, errOutOfRange)
				}
				inst.CameraIndex = *node.Camera
			}
			out = append(out, inst)
		}

		for _, child := range node.Children {
			if err := visit(child, world); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range roots {
		if err := visit(root, mgl32.Ident4()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// gltfNodeLocalMatrix returns the node's matrix, or composes it from TRS with glTF defaults.
func gltfNodeLocalMatrix(node *gltfNode) mgl32.Mat4 {
	if node.Matrix != nil {
		return mgl32.Mat4(*node.Matrix)
	}

	t := model.IdentityTransform()
	if node.Translation != nil {
		t.Translation = *node.Translation
	}
	if node.Rotation != nil {
		t.Rotation = *node.Rotation
	}
	if node.Scale != nil {
		t.Scale = *node.Scale
	}
	return t.Matrix()
}
