package camera

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

// project returns the normalized device coordinates of a view-space point.
func project(m mgl32.Mat4, p mgl32.Vec3) mgl32.Vec3 {
	clip := m.Mul4x1(p.Vec4(1))
	return clip.Vec3().Mul(1 / clip.W())
}

func TestOrthographicDepthRange(t *testing.T) {
	c := NewCamera(WithOrthographic(2, 1, 0.5, 10.5))
	m := c.ProjectionMatrix(4)

	near := project(m, mgl32.Vec3{2, 1, -0.5})
	far := project(m, mgl32.Vec3{-2, -1, -10.5})

	assert.InDelta(t, 0, near.Z(), 1e-5)
	assert.InDelta(t, 1, far.Z(), 1e-5)
	assert.InDelta(t, 1, near.X(), 1e-5)
	assert.InDelta(t, 1, near.Y(), 1e-5)
	assert.InDelta(t, -1, far.X(), 1e-5)
}

func TestPerspectiveUsesViewportAspect(t *testing.T) {
	c := NewCamera(WithPerspective(math.Pi/2, 0, 1, 100))
	assert.Zero(t, c.Aspect())

	// 90 degree fov: a point at 45 degrees up lands on the top edge.
	p := project(c.ProjectionMatrix(2), mgl32.Vec3{0, 5, -5})
	assert.InDelta(t, 1, p.Y(), 1e-5)

	// With aspect 2 the horizontal edge sits at x = 2 * |z|.
	p = project(c.ProjectionMatrix(2), mgl32.Vec3{10, 0, -5})
	assert.InDelta(t, 1, p.X(), 1e-5)

	c.SetAspect(1)
	p = project(c.ProjectionMatrix(2), mgl32.Vec3{5, 0, -5})
	assert.InDelta(t, 1, p.X(), 1e-5)
}

func TestPerspectiveDepth(t *testing.T) {
	finite := NewCamera(WithPerspective(1, 1, 0.5, 50))
	assert.InDelta(t, 0, project(finite.ProjectionMatrix(1), mgl32.Vec3{0, 0, -0.5}).Z(), 1e-5)
	assert.InDelta(t, 1, project(finite.ProjectionMatrix(1), mgl32.Vec3{0, 0, -50}).Z(), 1e-4)

	infinite := NewCamera(WithPerspective(1, 1, 0.5, 0))
	m := infinite.ProjectionMatrix(1)
	assert.InDelta(t, 0, project(m, mgl32.Vec3{0, 0, -0.5}).Z(), 1e-5)
	z := project(m, mgl32.Vec3{0, 0, -1e6}).Z()
	assert.Less(t, z, float32(1.0001))
	assert.Greater(t, z, float32(0.99))
}

func TestDefaults(t *testing.T) {
	c := NewCamera(WithName("main"))
	assert.Equal(t, "main", c.Name())
	assert.Equal(t, ProjectionPerspective, c.Projection())
	assert.Zero(t, c.Far())
	x, y := c.Magnification()
	assert.Equal(t, float32(1), x)
	assert.Equal(t, float32(1), y)
}
