package spatial

import (
	"github.com/chewxy/math32"
)

// Box is an axis-aligned bounding box. Both corners are part of the box.
type Box[V Vector[V]] struct {
	Min V
	Max V
}

func NewBox[V Vector[V]](min, max V) Box[V] {
	return Box[V]{Min: min, Max: max}
}

// BoxAround returns the box centered on c that extends by halfExtent on every
// axis. A zero half extent produces a point box.
func BoxAround[V Vector[V]](c V, halfExtent float32) Box[V] {
	min, max := c, c
	for axis := 0; axis < c.Dims(); axis++ {
		min = min.With(axis, c.At(axis)-halfExtent)
		max = max.With(axis, c.At(axis)+halfExtent)
	}
	return Box[V]{Min: min, Max: max}
}

// Valid reports whether the box has no NaN coordinate and its min corner is
// lesser or equal than its max corner on every axis.
func (b Box[V]) Valid() bool {
	for axis := 0; axis < b.Min.Dims(); axis++ {
		min, max := b.Min.At(axis), b.Max.At(axis)
		if math32.IsNaN(min) || math32.IsNaN(max) || min > max {
			return false
		}
	}
	return true
}

// Contains reports whether o lies entirely inside b. Touching faces count as
// inside.
func (b Box[V]) Contains(o Box[V]) bool {
	for axis := 0; axis < b.Min.Dims(); axis++ {
		if !(o.Min.At(axis) >= b.Min.At(axis) && o.Max.At(axis) <= b.Max.At(axis)) {
			return false
		}
	}
	return true
}

// ContainsInterior reports whether o lies inside b without touching any of
// its faces.
func (b Box[V]) ContainsInterior(o Box[V]) bool {
	for axis := 0; axis < b.Min.Dims(); axis++ {
		if !(o.Min.At(axis) > b.Min.At(axis) && o.Max.At(axis) < b.Max.At(axis)) {
			return false
		}
	}
	return true
}

func (b Box[V]) ContainsPoint(p V) bool {
	return b.Contains(Box[V]{Min: p, Max: p})
}

// Intersects reports whether b and o share at least one point.
func (b Box[V]) Intersects(o Box[V]) bool {
	for axis := 0; axis < b.Min.Dims(); axis++ {
		if b.Min.At(axis) > o.Max.At(axis) || b.Max.At(axis) < o.Min.At(axis) {
			return false
		}
	}
	return true
}

func (b Box[V]) Center() V {
	c := b.Min
	for axis := 0; axis < c.Dims(); axis++ {
		c = c.With(axis, midpoint(b.Min.At(axis), b.Max.At(axis)))
	}
	return c
}

func (b Box[V]) HalfExtents() V {
	e := b.Min
	for axis := 0; axis < e.Dims(); axis++ {
		e = e.With(axis, (b.Max.At(axis)-b.Min.At(axis))/2)
	}
	return e
}

// Expand returns the box grown by d on every side.
func (b Box[V]) Expand(d float32) Box[V] {
	min, max := b.Min, b.Max
	for axis := 0; axis < min.Dims(); axis++ {
		min = min.With(axis, min.At(axis)-d)
		max = max.With(axis, max.At(axis)+d)
	}
	return Box[V]{Min: min, Max: max}
}

// Union returns the smallest box that contains both b and o.
func (b Box[V]) Union(o Box[V]) Box[V] {
	min, max := b.Min, b.Max
	for axis := 0; axis < min.Dims(); axis++ {
		min = min.With(axis, math32.Min(min.At(axis), o.Min.At(axis)))
		max = max.With(axis, math32.Max(max.At(axis), o.Max.At(axis)))
	}
	return Box[V]{Min: min, Max: max}
}

// DistanceSquared returns the squared distance between p and the closest
// point of the box. It is 0 when p is inside.
func (b Box[V]) DistanceSquared(p V) float32 {
	var d float32
	for axis := 0; axis < p.Dims(); axis++ {
		v := p.At(axis)
		closest := math32.Max(b.Min.At(axis), math32.Min(v, b.Max.At(axis)))
		delta := v - closest
		d += delta * delta
	}
	return d
}

func (b Box[V]) IntersectsSphere(center V, radius float32) bool {
	return b.DistanceSquared(center) <= radius*radius
}

// orthant returns the i-th of the 2^dims equal cells that partition the box.
// Bit n of i selects the upper half on axis n.
func (b Box[V]) orthant(i int) Box[V] {
	min, max := b.Min, b.Max
	for axis := 0; axis < min.Dims(); axis++ {
		mid := midpoint(b.Min.At(axis), b.Max.At(axis))
		if i&(1<<axis) != 0 {
			min = min.With(axis, mid)
		} else {
			max = max.With(axis, mid)
		}
	}
	return Box[V]{Min: min, Max: max}
}

func midpoint(a, b float32) float32 {
	return a + (b-a)/2
}
