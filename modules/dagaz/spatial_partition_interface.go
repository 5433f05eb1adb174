package dagaz

import (
	"github.com/aukilabs/hagall-spatial/spatial"
)

type SpatialDebugInfo struct {
	// The width of the smallest cell.
	Resolution float32

	// The number of levels of cells.
	LevelCount uint32

	// The number of children of a subdivided cell.
	Fanout     uint32
	CellCount  uint32
	PlaneCount uint32
	MergeCount uint32
	MinPoint   spatial.Vec3
	MaxPoint   spatial.Vec3

	// The number of quads directly held by each cell, parents before
	// children.
	Occupancy []uint32
}

type SpatialPartition interface {
	// Inserts a quad sample. It reports whether the sample was merged into
	// an existing quad.
	InsertQuad(q Quad) (bool, error)

	// Returns the quad first hit by the given ray and the ratio of the ray
	// where the hit happens.
	IntersectQuad(r Ray) (*Quad, float32)

	// Returns the quads that overlap the box with the given corners.
	GetRegion(min, max spatial.Vec3) []Quad

	// debug stuff:
	GetDebugInfo() SpatialDebugInfo
}
