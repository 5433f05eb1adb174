package spatial

import (
	"github.com/chewxy/math32"
)

// Vector is the constraint satisfied by the coordinate types a Tree can
// index. The number of dimensions decides the fan-out of the tree: 4 children
// per node for Vec2, 8 for Vec3.
type Vector[V any] interface {
	comparable

	// Returns the number of axes.
	Dims() int

	// Returns the coordinate on the given axis.
	At(axis int) float32

	// Returns a copy of the vector with the coordinate on the given axis
	// replaced.
	With(axis int, v float32) V
}

// Vec2 is a 2D coordinate.
type Vec2 struct {
	X float32
	Y float32
}

func (v Vec2) Dims() int {
	return 2
}

func (v Vec2) At(axis int) float32 {
	if axis == 0 {
		return v.X
	}
	return v.Y
}

func (v Vec2) With(axis int, f float32) Vec2 {
	if axis == 0 {
		v.X = f
	} else {
		v.Y = f
	}
	return v
}

func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{v.X + o.X, v.Y + o.Y}
}

func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{v.X - o.X, v.Y - o.Y}
}

func (v Vec2) Scale(s float32) Vec2 {
	return Vec2{v.X * s, v.Y * s}
}

// Vec3 is a 3D coordinate.
type Vec3 struct {
	X float32
	Y float32
	Z float32
}

func (v Vec3) Dims() int {
	return 3
}

func (v Vec3) At(axis int) float32 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

func (v Vec3) With(axis int, f float32) Vec3 {
	switch axis {
	case 0:
		v.X = f
	case 1:
		v.Y = f
	default:
		v.Z = f
	}
	return v
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

func (v Vec3) Dot(o Vec3) float32 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{v.Y*o.Z - v.Z*o.Y, v.Z*o.X - v.X*o.Z, v.X*o.Y - v.Y*o.X}
}

func (v Vec3) Length() float32 {
	return math32.Sqrt(v.Dot(v))
}

// Normalized returns the unit vector pointing in the same direction. The zero
// vector is returned as is.
func (v Vec3) Normalized() Vec3 {
	length := v.Length()
	if length == 0 {
		return v
	}
	return v.Scale(1 / length)
}

func (v Vec3) EqualWithEpsilon(o Vec3, epsilon float32) bool {
	return math32.Abs(v.X-o.X) <= epsilon &&
		math32.Abs(v.Y-o.Y) <= epsilon &&
		math32.Abs(v.Z-o.Z) <= epsilon
}
