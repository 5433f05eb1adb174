package dagaz

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/hagall-spatial/spatial"
	"github.com/chewxy/math32"
)

// Octree Spatial Partition
//
// Quads are stored in an octree covering a fixed cube centered on the session
// origin. A new sample that overlaps an existing quad at nearly the same
// height is blended into it instead of being stored. A blended quad that
// reaches another quad gets absorbed by it in turn.

const (
	ErrTypeInvalidQuad = "dagaz_invalid_quad"
)

type OctreePartition struct {
	PlaneCount uint32
	MergeCount uint32

	tree    *spatial.Tree[spatial.Vec3, *Quad]
	handles map[*Quad]spatial.Handle
}

// NewOctreePartition creates a partition that accepts quads within
// universeExtent of the origin on every axis.
func NewOctreePartition(universeExtent, subdivisionThreshold float32) (*OctreePartition, error) {
	tree, err := spatial.NewOctree[*Quad](
		spatial.BoxAround(spatial.Vec3{}, universeExtent),
		subdivisionThreshold,
	)
	if err != nil {
		return nil, errors.New("creating quad octree failed").Wrap(err)
	}

	return &OctreePartition{
		tree:    tree,
		handles: make(map[*Quad]spatial.Handle),
	}, nil
}

func (p *OctreePartition) InsertQuad(q Quad) (bool, error) {
	if !q.Valid() {
		return false, errors.New("quad has invalid coordinates").
			WithType(ErrTypeInvalidQuad).
			WithTag("center", q.Center).
			WithTag("extents", q.Extents)
	}

	if universe := p.tree.Bounds(); !universe.Contains(q.Bounds()) {
		return false, errors.New("quad is out of the partition universe").
			WithType(spatial.ErrTypeOutOfUniverse).
			WithTag("center", q.Center).
			WithTag("extents", q.Extents).
			WithTag("universe", universe)
	}

	target := p.mergeCandidate(q, nil)
	if target == nil {
		quad := q
		h, err := p.tree.Insert(&quad)
		if err != nil {
			return false, errors.New("inserting quad failed").
				WithType(errors.Type(err)).
				Wrap(err)
		}

		p.handles[&quad] = h
		p.PlaneCount++
		return false, nil
	}

	if err := p.blend(target, q); err != nil {
		return false, err
	}

	for {
		other := p.mergeCandidate(*target, target)
		if other == nil {
			break
		}

		// Absorbing is skipped when it fails so both quads stay indexed as
		// they were.
		if err := p.blend(other, *target); err != nil {
			return true, err
		}
		if err := p.remove(target); err != nil {
			return true, err
		}
		target = other
	}

	return true, nil
}

func (p *OctreePartition) IntersectQuad(r Ray) (*Quad, float32) {
	tMin := math32.Inf(1)
	var resultQuad *Quad

	p.tree.Query(r.Bounds().Expand(hitEpsilon), func(q *Quad) bool {
		if hit, t := IntersectQuad(r, *q); hit && t < tMin {
			tMin = t
			resultQuad = q
		}
		return true
	})

	if resultQuad == nil {
		return nil, -1
	}
	return resultQuad, tMin
}

func (p *OctreePartition) GetRegion(min, max spatial.Vec3) []Quad {
	var quads []Quad
	p.tree.Query(spatial.NewBox(min, max), func(q *Quad) bool {
		quads = append(quads, *q)
		return true
	})
	return quads
}

func (p *OctreePartition) GetDebugInfo() SpatialDebugInfo {
	bounds := p.tree.Bounds()

	result := SpatialDebugInfo{
		Resolution: bounds.Max.X - bounds.Min.X,
		Fanout:     uint32(p.tree.Fanout()),
		PlaneCount: p.PlaneCount,
		MergeCount: p.MergeCount,
		MinPoint:   bounds.Min,
		MaxPoint:   bounds.Max,
	}

	p.tree.ForEachNode(func(n spatial.NodeInfo[spatial.Vec3]) bool {
		result.CellCount++
		result.Occupancy = append(result.Occupancy, uint32(n.Payloads))

		if levels := uint32(n.Depth + 1); levels > result.LevelCount {
			result.LevelCount = levels
		}
		if width := n.Bounds.Max.X - n.Bounds.Min.X; n.Leaf && width < result.Resolution {
			result.Resolution = width
		}
		return true
	})

	return result
}

// mergeCandidate returns the quad the given one should be blended into, or
// nil. The closest quad in height wins.
func (p *OctreePartition) mergeCandidate(q Quad, exclude *Quad) *Quad {
	min, max := q.Min(), q.Max()
	volume := spatial.NewBox(
		spatial.Vec3{X: min.X, Y: q.Center.Y - MergeEpsilon, Z: min.Z},
		spatial.Vec3{X: max.X, Y: q.Center.Y + MergeEpsilon, Z: max.Z},
	)

	var candidate *Quad
	distance := math32.Inf(1)

	p.tree.QueryFiltered(volume, func(c *Quad) bool {
		if d := math32.Abs(c.Center.Y - q.Center.Y); d < distance {
			distance = d
			candidate = c
		}
		return true
	}, func(c *Quad) bool {
		return c != exclude && canMerge(*c, q)
	})

	return candidate
}

// blend merges the sample into q and reindexes it. q is restored when the
// blended quad cannot be reindexed.
func (p *OctreePartition) blend(q *Quad, sample Quad) error {
	previous := *q
	q.mergeFrom(sample)

	if _, err := p.tree.Update(p.handles[q]); err != nil {
		*q = previous
		return errors.New("relocating merged quad failed").
			WithType(errors.Type(err)).
			Wrap(err)
	}

	p.MergeCount++
	return nil
}

func (p *OctreePartition) remove(q *Quad) error {
	if err := p.tree.Remove(p.handles[q]); err != nil {
		return errors.New("removing absorbed quad failed").Wrap(err)
	}

	delete(p.handles, q)
	p.PlaneCount--
	return nil
}
