package dagaz

import (
	"testing"

	"github.com/aukilabs/hagall-common/messages/dagazpb"
	"github.com/aukilabs/hagall-spatial/spatial"
	"github.com/chewxy/math32"
	"github.com/stretchr/testify/require"
)

func vec(x, y, z float32) spatial.Vec3 {
	return spatial.Vec3{X: x, Y: y, Z: z}
}

func TestEqualWithEpsilon(t *testing.T) {
	require.True(t, EqualWithEpsilon(0.1, 0.2, 0.11))
	require.False(t, EqualWithEpsilon(0.1, 0.3, 0.11))
}

func TestInRangeWithEpsilon(t *testing.T) {
	require.True(t, InRangeWithEpsilon(1.00001, 0, 1, 0.0001))
	require.False(t, InRangeWithEpsilon(1.1, 0, 1, 0.0001))
}

func TestIntersectQuad(t *testing.T) {
	quad := NewQuad(vec(0, 0, 0), vec(1, 0, 1))

	t.Run("hit", func(t *testing.T) {
		hit, ratio := IntersectQuad(Ray{From: vec(0, 10, 0), To: vec(0, -10, 0)}, quad)
		require.True(t, hit)
		require.Equal(t, float32(0.5), ratio)
	})

	t.Run("ray too short", func(t *testing.T) {
		hit, ratio := IntersectQuad(Ray{From: vec(0, 10, 0), To: vec(0, 1, 0)}, quad)
		require.False(t, hit)
		require.Equal(t, float32(-1), ratio)
	})

	t.Run("ray beside the quad", func(t *testing.T) {
		hit, _ := IntersectQuad(Ray{From: vec(3, 10, 0), To: vec(3, -10, 0)}, quad)
		require.False(t, hit)
	})

	t.Run("ray parallel to the quad", func(t *testing.T) {
		hit, _ := IntersectQuad(Ray{From: vec(-5, 0, 0), To: vec(5, 0, 0)}, quad)
		require.False(t, hit)
	})
}

func TestDoHorizontalPlanesOverlap(t *testing.T) {
	quad := NewQuad(vec(0, 0, 0), vec(1, 0, 1))
	require.True(t, doHorizontalPlanesOverlap(quad, quad))

	anotherQuad := NewQuad(vec(10, 0, 0), vec(1, 0, 1))
	require.False(t, doHorizontalPlanesOverlap(quad, anotherQuad))

	touchingQuad := NewQuad(vec(2, 0, 0), vec(1, 0, 1))
	require.False(t, doHorizontalPlanesOverlap(quad, touchingQuad))
}

func TestCanMerge(t *testing.T) {
	quad := NewQuad(vec(0, 0, 0), vec(1, 0, 1))

	require.True(t, canMerge(quad, NewQuad(vec(0.5, 0.5, 0), vec(1, 0, 1))))
	require.False(t, canMerge(quad, NewQuad(vec(0.5, 0.7, 0), vec(1, 0, 1))))
	require.False(t, canMerge(quad, NewQuad(vec(5, 0, 0), vec(1, 0, 1))))
}

func TestCalculateNormal(t *testing.T) {
	normal := calculateNormal(vec(0, 0, 0), vec(1, 0, 1))
	require.True(t, vec(0, 1, 0).EqualWithEpsilon(normal, 0.0001))
}

func TestQuadMergeFrom(t *testing.T) {
	quad := NewQuad(vec(0, 0, 0), vec(1, 0, 1))
	quad.mergeFrom(NewQuad(vec(1, 0.5, 0), vec(2, 0, 1)))

	require.True(t, vec(0.2, 0.1, 0).EqualWithEpsilon(quad.Center, 0.0001))
	require.True(t, vec(1.2, 0, 1).EqualWithEpsilon(quad.Extents, 0.0001))
	require.Equal(t, uint32(1), quad.MergeCount)
}

func TestQuadValid(t *testing.T) {
	quad := NewQuad(vec(0, 0, 0), vec(1, 0, 1))
	require.True(t, quad.Valid())

	quad = NewQuad(vec(math32.NaN(), 0, 0), vec(1, 0, 1))
	require.False(t, quad.Valid())

	quad = NewQuad(vec(0, 0, 0), vec(-1, 0, 1))
	require.False(t, quad.Valid())
}

func TestQuadProtobuf(t *testing.T) {
	quad := NewQuadFromProtobuf(&dagazpb.Quad{
		Center:     &dagazpb.Point{X: 1, Y: 2, Z: 3},
		Extents:    &dagazpb.Point{X: 4, Y: 0, Z: 5},
		MergeCount: 6,
	})
	require.Equal(t, vec(1, 2, 3), quad.Center)
	require.Equal(t, vec(4, 0, 5), quad.Extents)
	require.Equal(t, uint32(6), quad.MergeCount)
	require.Equal(t, spatial.NewBox(vec(-3, 2, -2), vec(5, 2, 8)), quad.Bounds())

	pq := quad.ToProtobuf()
	require.Equal(t, float32(1), pq.Center.X)
	require.Equal(t, float32(5), pq.Extents.Z)
	require.Equal(t, uint32(6), pq.MergeCount)
}

func TestRayBounds(t *testing.T) {
	r := Ray{From: vec(1, 5, -1), To: vec(-1, -5, 2)}
	require.Equal(t, spatial.NewBox(vec(-1, -5, -1), vec(1, 5, 2)), r.Bounds())
}
