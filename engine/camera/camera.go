// Package camera builds view and projection matrices for glTF cameras.
package camera

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/gltf2image/common"
	"github.com/go-gl/mathgl/mgl32"
)

// ProjectionType selects the camera projection.
type ProjectionType int

const (
	// ProjectionPerspective is a pinhole projection defined by a vertical field of view.
	ProjectionPerspective ProjectionType = iota
	// ProjectionOrthographic is a parallel projection defined by half extents.
	ProjectionOrthographic
)

type cameraImpl struct {
	mu *sync.Mutex

	name       string
	projection ProjectionType

	fov    float32
	aspect float32
	near   float32
	far    float32

	xmag float32
	ymag float32
}

// Camera holds projection settings. It has no position: the view matrix comes from the
// world transform of the entity the camera is attached to.
type Camera interface {
	// Name returns the camera identifier.
	//
	// Returns:
	//   - string: the camera name
	Name() string

	// Projection returns the projection type.
	//
	// Returns:
	//   - ProjectionType: perspective or orthographic
	Projection() ProjectionType

	// Fov returns the vertical field of view in radians (perspective only).
	//
	// Returns:
	//   - float32: field of view in radians
	Fov() float32

	// Aspect returns the fixed aspect ratio (width / height), or 0 when the viewport aspect is used.
	//
	// Returns:
	//   - float32: the aspect ratio
	Aspect() float32

	// Near returns the near clipping plane distance.
	//
	// Returns:
	//   - float32: near plane distance
	Near() float32

	// Far returns the far clipping plane distance, or 0 for an infinite perspective projection.
	//
	// Returns:
	//   - float32: far plane distance
	Far() float32

	// Magnification returns the orthographic half extents.
	//
	// Returns:
	//   - xmag, ymag: horizontal and vertical half extents
	Magnification() (xmag, ymag float32)

	// ProjectionMatrix builds the projection matrix for a viewport, with depth mapped to [0, 1].
	//
	// Parameters:
	//   - viewportAspect: the viewport width / height, used when the camera has no fixed aspect
	//
	// Returns:
	//   - mgl32.Mat4: the projection matrix (column-major)
	ProjectionMatrix(viewportAspect float32) mgl32.Mat4

	// SetAspect fixes the aspect ratio. Pass 0 to follow the viewport.
	//
	// Parameters:
	//   - aspect: the aspect ratio
	SetAspect(aspect float32)
}

var _ Camera = &cameraImpl{}

// NewCamera creates a Camera. The defaults are a 45 degree perspective camera
// with a near plane of 0.1 and an infinite far plane.
//
// Parameters:
//   - options: functional options to configure the camera
//
// Returns:
//   - Camera: the newly created camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		mu:         &sync.Mutex{},
		projection: ProjectionPerspective,
		fov:        45.0 * (math.Pi / 180.0),
		near:       0.1,
		xmag:       1,
		ymag:       1,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *cameraImpl) Name() string {
	return c.name
}

func (c *cameraImpl) Projection() ProjectionType {
	return c.projection
}

func (c *cameraImpl) Fov() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fov
}

func (c *cameraImpl) Aspect() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aspect
}

func (c *cameraImpl) Near() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.near
}

func (c *cameraImpl) Far() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.far
}

func (c *cameraImpl) Magnification() (xmag, ymag float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.xmag, c.ymag
}

func (c *cameraImpl) SetAspect(aspect float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aspect = aspect
}

func (c *cameraImpl) ProjectionMatrix(viewportAspect float32) mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.projection == ProjectionOrthographic {
		far := c.far
		if far <= c.near {
			far = c.near + 1
		}
		return common.ToWebGPUClipSpace(mgl32.Ortho(-c.xmag, c.xmag, -c.ymag, c.ymag, c.near, far))
	}

	aspect := common.Coalesce(c.aspect, viewportAspect, 1)
	if c.far <= 0 {
		return common.ToWebGPUClipSpace(infinitePerspective(c.fov, aspect, c.near))
	}
	return common.ToWebGPUClipSpace(mgl32.Perspective(c.fov, aspect, c.near, c.far))
}

// infinitePerspective is the limit of mgl32.Perspective as far goes to infinity.
func infinitePerspective(fovy, aspect, near float32) mgl32.Mat4 {
	f := float32(1 / math.Tan(float64(fovy)/2))
	return mgl32.Mat4{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, -1, -1,
		0, 0, -2 * near, 0,
	}
}
