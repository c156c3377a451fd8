package loader

import (
	"fmt"

	"github.com/Carmen-Shannon/gltf2image/engine/model"
)

// gltfCameraExtractor reads camera projections from a parsed glTF document.
type gltfCameraExtractor interface {
	// ExtractAllCameras extracts every camera in document order.
	//
	// Returns:
	//   - []model.ImportedCamera: the cameras
	//   - error: error if a camera is malformed
	ExtractAllCameras() ([]model.ImportedCamera, error)
}

type gltfCameraExtractorImpl struct {
	parser gltfParser
}

var _ gltfCameraExtractor = &gltfCameraExtractorImpl{}

func newGLTFCameraExtractor(parser gltfParser) gltfCameraExtractor {
	return &gltfCameraExtractorImpl{parser: parser}
}

func (e *gltfCameraExtractorImpl) ExtractAllCameras() ([]model.ImportedCamera, error) {
	doc := e.parser.Document()
	if doc == nil {
		return nil, errNoDocument
	}

	cameras := make([]model.ImportedCamera, len(doc.Cameras))
	for i := range doc.Cameras {
		cam, err := gltfCameraToImported(&doc.Cameras[i])
		if err != nil {
			return nil, fmt.Errorf("camera %d: %w", i, err)
		}
		cameras[i] = cam
	}
	return cameras, nil
}

// gltfCameraToImported validates a glTF camera and converts it.
// A perspective camera without zfar becomes an infinite projection (ZFar 0).
func gltfCameraToImported(c *gltfCamera) (model.ImportedCamera, error) {
	switch c.Type {
	case gltfCameraTypePerspective:
		p := c.Perspective
		if p == nil {
			return model.ImportedCamera{}, fmt.Errorf("camera %q: missing perspective block", c.Name)
		}
		if p.Yfov <= 0 || p.Znear <= 0 {
			return model.ImportedCamera{}, fmt.Errorf("camera %q: yfov and znear must be positive", c.Name)
		}
		cam := model.ImportedCamera{
			Name:  c.Name,
			Type:  model.ProjectionPerspective,
			YFov:  p.Yfov,
			ZNear: p.Znear,
		}
		if p.AspectRatio != nil {
			cam.AspectRatio = *p.AspectRatio
		}
		if p.Zfar != nil {
			if *p.Zfar <= p.Znear {
				return model.ImportedCamera{}, fmt.Errorf("camera %q: zfar must exceed znear", c.Name)
			}
			cam.ZFar = *p.Zfar
		}
		return cam, nil

	case gltfCameraTypeOrthographic:
		o := c.Orthographic
		if o == nil {
			return model.ImportedCamera{}, fmt.Errorf("camera %q: missing orthographic block", c.Name)
		}
		if o.Xmag == 0 || o.Ymag == 0 || o.Zfar <= o.Znear || o.Znear < 0 {
			return model.ImportedCamera{}, fmt.Errorf("camera %q: invalid orthographic extents", c.Name)
		}
		return model.ImportedCamera{
			Name:  c.Name,
			Type:  model.ProjectionOrthographic,
			XMag:  o.Xmag,
			YMag:  o.Ymag,
			ZNear: o.Znear,
			ZFar:  o.Zfar,
		}, nil

	default:
		return model.ImportedCamera{}, fmt.Errorf("camera %q: unknown type %q", c.Name, c.Type)
	}
}
