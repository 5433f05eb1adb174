// Package spatial implements a dynamic octree and quadtree that index moving
// objects by their axis-aligned bounds.
//
// A leaf is only split when one of its would-be children fully contains the
// object being inserted. Objects straddling a split plane stay in the node
// whose bounds contain them, so no empty sibling groups are created for them.
package spatial

import (
	"fmt"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chewxy/math32"
)

// Boundable is implemented by the objects stored in a Tree.
type Boundable[V Vector[V]] interface {
	// Returns the current axis-aligned bounds of the object, in the same
	// coordinate space as the tree bounds.
	Bounds() Box[V]
}

// Handle references an object held by a Tree. It is returned by Insert and
// must be passed back to Update and Remove. The zero Handle never references
// an object.
type Handle struct {
	slot uint32
	gen  uint32
}

func (h Handle) IsZero() bool {
	return h.gen == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d:%d", h.slot, h.gen)
}

type slot[V Vector[V], T Boundable[V]] struct {
	value  T
	bounds Box[V]
	node   nodeID
	pos    int
	gen    uint32
	live   bool
}

// Tree is a dynamic spatial index over objects with axis-aligned bounds. It is
// an octree when V is Vec3 and a quadtree when V is Vec2.
//
// A node holds the objects it contains that none of its children fully
// contain. Children are created as a group when an inserted object fits in
// one of them, and released as a group when they all become empty leaves.
//
// A Tree is not safe for concurrent use.
type Tree[V Vector[V], T Boundable[V]] struct {
	bounds    Box[V]
	threshold float32
	dims      int
	fanout    int

	nodes      []node[V]
	freeGroups []nodeID

	slots     []slot[V, T]
	freeSlots []uint32
	count     int

	merges      uint64
	relocations uint64
}

// New creates a tree that indexes objects contained in bounds. Nodes are not
// split when their children would be smaller than threshold on any axis.
func New[V Vector[V], T Boundable[V]](bounds Box[V], threshold float32) (*Tree[V, T], error) {
	if !bounds.Valid() {
		return nil, errors.New("invalid tree bounds").
			WithType(ErrTypeInvalidConfig).
			WithTag("bounds", bounds)
	}

	if math32.IsNaN(threshold) || math32.IsInf(threshold, 0) || threshold <= 0 {
		return nil, errors.New("subdivision threshold must be a positive number").
			WithType(ErrTypeInvalidConfig).
			WithTag("threshold", threshold)
	}

	var zero V
	dims := zero.Dims()

	t := &Tree[V, T]{
		bounds:    bounds,
		threshold: threshold,
		dims:      dims,
		fanout:    1 << dims,
	}
	t.Clear()
	return t, nil
}

// NewOctree creates a 3D tree where nodes have 8 children.
func NewOctree[T Boundable[Vec3]](bounds Box[Vec3], threshold float32) (*Tree[Vec3, T], error) {
	return New[Vec3, T](bounds, threshold)
}

// NewQuadtree creates a 2D tree where nodes have 4 children.
func NewQuadtree[T Boundable[Vec2]](bounds Box[Vec2], threshold float32) (*Tree[Vec2, T], error) {
	return New[Vec2, T](bounds, threshold)
}

// Bounds returns the bounds of the root node.
func (t *Tree[V, T]) Bounds() Box[V] {
	return t.bounds
}

func (t *Tree[V, T]) Threshold() float32 {
	return t.threshold
}

// Fanout returns the number of children a subdivided node has.
func (t *Tree[V, T]) Fanout() int {
	return t.fanout
}

// Count returns the number of indexed objects.
func (t *Tree[V, T]) Count() int {
	return t.count
}

// Insert indexes v at the deepest node that fully contains its bounds.
func (t *Tree[V, T]) Insert(v T) (Handle, error) {
	bounds := v.Bounds()
	if !bounds.Valid() || !t.bounds.Contains(bounds) {
		return Handle{}, errOutOfUniverse(t.bounds, bounds)
	}

	h := t.allocSlot(v, bounds)
	t.insertAt(rootNode, h)
	t.count++
	return h, nil
}

// InsertAll inserts the given objects in order. It stops at the first object
// that cannot be inserted and returns the handles of those already inserted.
func (t *Tree[V, T]) InsertAll(values ...T) ([]Handle, error) {
	handles := make([]Handle, 0, len(values))
	for i, v := range values {
		h, err := t.Insert(v)
		if err != nil {
			return handles, errors.New("inserting object failed").
				WithType(errors.Type(err)).
				WithTag("index", i).
				Wrap(err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// Remove unlinks the object referenced by h. Sibling groups left empty by the
// removal are released. The handle is invalid afterwards.
func (t *Tree[V, T]) Remove(h Handle) error {
	if _, err := t.slot(h); err != nil {
		return err
	}

	t.unlink(h)
	t.freeSlot(h)
	t.count--
	return nil
}

// Update must be called after the bounds of the object referenced by h
// changed. The object stays where it is when its node still contains its new
// bounds. Otherwise it is removed and inserted again from the closest
// ancestor that contains it. Update reports whether the object moved to
// another node.
//
// When the new bounds leave the tree universe, an error is returned and the
// object is left where it was, with its previous bounds.
func (t *Tree[V, T]) Update(h Handle) (bool, error) {
	s, err := t.slot(h)
	if err != nil {
		return false, err
	}

	bounds := s.value.Bounds()
	if !bounds.Valid() || !t.bounds.Contains(bounds) {
		return false, errOutOfUniverse(t.bounds, bounds)
	}

	s.bounds = bounds
	if t.nodes[s.node].bounds.Contains(bounds) {
		return false, nil
	}

	anchor := t.unlink(h)
	for anchor != rootNode && !t.nodes[anchor].bounds.Contains(bounds) {
		anchor = t.nodes[anchor].parent
	}
	t.insertAt(anchor, h)

	t.relocations++
	return true, nil
}

// Contains reports whether h references an indexed object.
func (t *Tree[V, T]) Contains(h Handle) bool {
	_, err := t.slot(h)
	return err == nil
}

// Value returns the object referenced by h.
func (t *Tree[V, T]) Value(h Handle) (T, bool) {
	s, err := t.slot(h)
	if err != nil {
		var zero T
		return zero, false
	}
	return s.value, true
}

// BoundsOf returns the bounds the object referenced by h had when it was last
// inserted or updated.
func (t *Tree[V, T]) BoundsOf(h Handle) (Box[V], bool) {
	s, err := t.slot(h)
	if err != nil {
		return Box[V]{}, false
	}
	return s.bounds, true
}

// NodeBoundsOf returns the bounds of the node currently holding the object
// referenced by h.
func (t *Tree[V, T]) NodeBoundsOf(h Handle) (Box[V], bool) {
	s, err := t.slot(h)
	if err != nil {
		return Box[V]{}, false
	}
	return t.nodes[s.node].bounds, true
}

// Clear unlinks every object and turns the root back into a leaf. All the
// handles previously returned are invalid afterwards.
func (t *Tree[V, T]) Clear() {
	var zero T

	t.freeSlots = t.freeSlots[:0]
	for i := len(t.slots) - 1; i >= 0; i-- {
		s := &t.slots[i]
		if s.live {
			s.gen++
		}
		s.value = zero
		s.live = false
		s.node = noNode
		s.pos = -1
		t.freeSlots = append(t.freeSlots, uint32(i))
	}

	t.nodes = append(t.nodes[:0], node[V]{
		bounds:   t.bounds,
		parent:   noNode,
		children: noNode,
	})
	t.freeGroups = t.freeGroups[:0]
	t.count = 0
}

func (t *Tree[V, T]) slot(h Handle) (*slot[V, T], error) {
	if h.IsZero() || int(h.slot) >= len(t.slots) {
		return nil, errNotIndexed(h)
	}

	s := &t.slots[h.slot]
	if !s.live || s.gen != h.gen {
		return nil, errNotIndexed(h)
	}
	return s, nil
}

func (t *Tree[V, T]) allocSlot(v T, bounds Box[V]) Handle {
	var i uint32
	if l := len(t.freeSlots); l != 0 {
		i = t.freeSlots[l-1]
		t.freeSlots = t.freeSlots[:l-1]
	} else {
		i = uint32(len(t.slots))
		t.slots = append(t.slots, slot[V, T]{})
	}

	s := &t.slots[i]
	if s.gen == 0 {
		s.gen = 1
	}
	s.value = v
	s.bounds = bounds
	s.live = true
	s.node = noNode
	s.pos = -1
	return Handle{slot: i, gen: s.gen}
}

func (t *Tree[V, T]) freeSlot(h Handle) {
	var zero T

	s := &t.slots[h.slot]
	s.value = zero
	s.live = false
	s.gen++
	t.freeSlots = append(t.freeSlots, h.slot)
}

// unlink detaches the object from its node, releases the groups left empty
// and returns the deepest surviving node of the object's former path.
func (t *Tree[V, T]) unlink(h Handle) nodeID {
	return t.collapse(t.detach(h))
}
