package camera

// CameraBuilderOption is a functional option for configuring a Camera via NewCamera.
type CameraBuilderOption func(*cameraImpl)

// WithName sets the camera identifier.
//
// Parameters:
//   - name: the camera name
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithName(name string) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.name = name
	}
}

// WithPerspective configures a perspective projection.
//
// Parameters:
//   - fov: vertical field of view in radians
//   - aspect: width / height, or 0 to follow the viewport
//   - near: near plane distance
//   - far: far plane distance, or 0 for an infinite projection
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithPerspective(fov, aspect, near, far float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.projection = ProjectionPerspective
		c.fov = fov
		c.aspect = aspect
		c.near = near
		c.far = far
	}
}

// WithOrthographic configures an orthographic projection.
//
// Parameters:
//   - xmag, ymag: horizontal and vertical half extents
//   - near: near plane distance
//   - far: far plane distance
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithOrthographic(xmag, ymag, near, far float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.projection = ProjectionOrthographic
		c.xmag = xmag
		c.ymag = ymag
		c.near = near
		c.far = far
	}
}
