package dagaz

import (
	"github.com/aukilabs/hagall-common/messages/dagazpb"
	"github.com/aukilabs/hagall-spatial/spatial"
	"github.com/chewxy/math32"
)

const (
	// The vertical distance under which two overlapping quads are merged.
	MergeEpsilon = float32(0.6)

	// The weight of a new sample when it is blended into an existing quad.
	mergeWeight = float32(0.2)

	hitEpsilon = float32(0.0001)
)

func EqualWithEpsilon(a, b, epsilon float32) bool {
	return math32.Abs(a-b) <= epsilon
}

func InRangeWithEpsilon(value, min, max, epsilon float32) bool {
	return value+epsilon >= min && value-epsilon <= max
}

func Vec3FromProtobuf(p *dagazpb.Point) spatial.Vec3 {
	if p == nil {
		return spatial.Vec3{}
	}

	return spatial.Vec3{
		X: p.X,
		Y: p.Y,
		Z: p.Z,
	}
}

func Vec3ToProtobuf(v spatial.Vec3) *dagazpb.Point {
	return &dagazpb.Point{
		X: v.X,
		Y: v.Y,
		Z: v.Z,
	}
}

// A Quad is a horizontal plane sampled by a participant device.
type Quad struct {
	Center  spatial.Vec3
	Extents spatial.Vec3 // Half-Extents!

	// implicit
	Normal spatial.Vec3

	MergeCount uint32
}

func NewQuad(center, extents spatial.Vec3) Quad {
	return Quad{
		Center:  center,
		Extents: extents,
		Normal:  calculateNormal(center, extents),
	}
}

func NewQuadFromProtobuf(protoQuad *dagazpb.Quad) Quad {
	q := NewQuad(
		Vec3FromProtobuf(protoQuad.GetCenter()),
		Vec3FromProtobuf(protoQuad.GetExtents()),
	)
	q.MergeCount = protoQuad.GetMergeCount()
	return q
}

func (q *Quad) ToProtobuf() *dagazpb.Quad {
	return &dagazpb.Quad{
		Center:     Vec3ToProtobuf(q.Center),
		Extents:    Vec3ToProtobuf(q.Extents),
		MergeCount: q.MergeCount,
	}
}

// Min returns the lowest corner of the quad.
func (q *Quad) Min() spatial.Vec3 {
	return q.Center.Sub(q.Extents)
}

// Max returns the highest corner of the quad.
func (q *Quad) Max() spatial.Vec3 {
	return q.Center.Add(q.Extents)
}

// Bounds returns the box covered by the quad.
func (q *Quad) Bounds() spatial.Box[spatial.Vec3] {
	return spatial.NewBox(q.Min(), q.Max())
}

// Valid reports whether the quad has finite coordinates and non-negative
// extents.
func (q *Quad) Valid() bool {
	for _, v := range [...]float32{
		q.Center.X, q.Center.Y, q.Center.Z,
		q.Extents.X, q.Extents.Y, q.Extents.Z,
	} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return q.Extents.X >= 0 && q.Extents.Y >= 0 && q.Extents.Z >= 0
}

// mergeFrom moves the quad toward the given sample.
func (q *Quad) mergeFrom(sample Quad) {
	q.Center = q.Center.Add(sample.Center.Sub(q.Center).Scale(mergeWeight))
	q.Extents = q.Extents.Add(sample.Extents.Sub(q.Extents).Scale(mergeWeight))
	q.Normal = calculateNormal(q.Center, q.Extents)
	q.MergeCount++
}

func doHorizontalPlanesOverlap(a, b Quad) bool {
	minA, maxA := a.Min(), a.Max()
	minB, maxB := b.Min(), b.Max()

	if minA.X >= maxB.X {
		return false
	}
	if maxA.X <= minB.X {
		return false
	}
	if minA.Z >= maxB.Z {
		return false
	}
	if maxA.Z <= minB.Z {
		return false
	}

	// overlap on both axes -> must overlap
	return true
}

// canMerge reports whether b is close enough to a to be blended into it.
func canMerge(a, b Quad) bool {
	return EqualWithEpsilon(a.Center.Y, b.Center.Y, MergeEpsilon) && doHorizontalPlanesOverlap(a, b)
}

func calculateNormal(c, e spatial.Vec3) spatial.Vec3 {
	pointA := c.Add(spatial.Vec3{X: e.X, Y: e.Y})
	pointB := c.Add(spatial.Vec3{Y: e.Y, Z: e.Z})
	vectorA := pointA.Sub(c)
	vectorB := pointB.Sub(c)
	return vectorB.Cross(vectorA).Normalized()
}

// A Ray is the segment between From and To.
type Ray struct {
	From spatial.Vec3
	To   spatial.Vec3
}

func NewRayFromProtobuf(protoRay *dagazpb.Ray) Ray {
	return Ray{
		From: Vec3FromProtobuf(protoRay.GetFrom()),
		To:   Vec3FromProtobuf(protoRay.GetTo()),
	}
}

// Bounds returns the box covered by the segment.
func (r Ray) Bounds() spatial.Box[spatial.Vec3] {
	b := spatial.NewBox(r.From, r.From)
	return b.Union(spatial.NewBox(r.To, r.To))
}

// IntersectQuad returns whether the ray hits the quad and the ratio of the
// segment where it does, or -1.
func IntersectQuad(r Ray, q Quad) (bool, float32) {
	rayDir := r.To.Sub(r.From)

	denominator := q.Normal.Dot(rayDir)
	if denominator != 0 {
		t := (q.Normal.Dot(q.Center) - q.Normal.Dot(r.From)) / denominator
		if t >= 0 && t <= 1 {
			hitPoint := r.From.Add(rayDir.Scale(t))

			// check hitPoint is in bounds:
			minPoint, maxPoint := q.Min(), q.Max()
			if InRangeWithEpsilon(hitPoint.X, minPoint.X, maxPoint.X, hitEpsilon) &&
				InRangeWithEpsilon(hitPoint.Y, minPoint.Y, maxPoint.Y, hitEpsilon) &&
				InRangeWithEpsilon(hitPoint.Z, minPoint.Z, maxPoint.Z, hitEpsilon) {
				return true, t
			}
		}
	}
	return false, -1
}
