package spatial

// nodeID addresses a node in the tree arena. Children of a node always occupy
// fanout consecutive slots starting at the id stored in node.children.
type nodeID int32

const (
	rootNode nodeID = 0
	noNode   nodeID = -1
)

type node[V Vector[V]] struct {
	bounds   Box[V]
	parent   nodeID
	children nodeID
	depth    int
	payloads []Handle
}

func (n *node[V]) isLeaf() bool {
	return n.children == noNode
}

// allocGroup returns the id of the first node of a sibling group, reusing a
// released group when one is available.
func (t *Tree[V, T]) allocGroup() nodeID {
	if l := len(t.freeGroups); l != 0 {
		first := t.freeGroups[l-1]
		t.freeGroups = t.freeGroups[:l-1]
		return first
	}

	first := nodeID(len(t.nodes))
	for i := 0; i < t.fanout; i++ {
		t.nodes = append(t.nodes, node[V]{parent: noNode, children: noNode})
	}
	return first
}

// releaseGroup destroys the children of id as a whole and turns id back into
// a leaf.
func (t *Tree[V, T]) releaseGroup(id nodeID) {
	first := t.nodes[id].children
	for i := 0; i < t.fanout; i++ {
		c := &t.nodes[first+nodeID(i)]
		c.parent = noNode
		c.children = noNode
		c.payloads = c.payloads[:0]
	}

	t.nodes[id].children = noNode
	t.freeGroups = append(t.freeGroups, first)
}

// canSubdivide reports whether the children of a node with the given bounds
// would be larger than the subdivision threshold on every axis.
func (t *Tree[V, T]) canSubdivide(b Box[V]) bool {
	for axis := 0; axis < t.dims; axis++ {
		if (b.Max.At(axis)-b.Min.At(axis))/2 <= t.threshold {
			return false
		}
	}
	return true
}

// subdivide creates the children of a leaf. It reports false when the leaf
// is too small to be split.
func (t *Tree[V, T]) subdivide(id nodeID) bool {
	if !t.nodes[id].isLeaf() {
		return true
	}

	bounds := t.nodes[id].bounds
	if !t.canSubdivide(bounds) {
		return false
	}

	depth := t.nodes[id].depth
	first := t.allocGroup()
	for i := 0; i < t.fanout; i++ {
		c := &t.nodes[first+nodeID(i)]
		c.bounds = bounds.orthant(i)
		c.parent = id
		c.children = noNode
		c.depth = depth + 1
		c.payloads = c.payloads[:0]
	}

	t.nodes[id].children = first
	return true
}

// orthantFor returns the index of the would-be child of b that contains
// bounds, or -1 when bounds straddle a split plane.
func (t *Tree[V, T]) orthantFor(b, bounds Box[V]) int {
	for i := 0; i < t.fanout; i++ {
		if b.orthant(i).Contains(bounds) {
			return i
		}
	}
	return -1
}

// insertAt descends from id to the deepest node that contains the object
// referenced by h and links it there.
func (t *Tree[V, T]) insertAt(id nodeID, h Handle) {
	bounds := t.slots[h.slot].bounds

	for {
		if t.nodes[id].isLeaf() {
			i := t.orthantFor(t.nodes[id].bounds, bounds)
			if i < 0 || !t.subdivide(id) {
				break
			}
			id = t.nodes[id].children + nodeID(i)
			continue
		}

		next := noNode
		first := t.nodes[id].children
		for i := 0; i < t.fanout; i++ {
			if c := first + nodeID(i); t.nodes[c].bounds.Contains(bounds) {
				next = c
				break
			}
		}
		if next == noNode {
			break
		}
		id = next
	}

	t.attach(id, h)
}

func (t *Tree[V, T]) attach(id nodeID, h Handle) {
	s := &t.slots[h.slot]
	s.node = id
	s.pos = len(t.nodes[id].payloads)
	t.nodes[id].payloads = append(t.nodes[id].payloads, h)
}

func (t *Tree[V, T]) detach(h Handle) nodeID {
	s := &t.slots[h.slot]
	id := s.node
	payloads := t.nodes[id].payloads

	last := len(payloads) - 1
	if s.pos != last {
		moved := payloads[last]
		payloads[s.pos] = moved
		t.slots[moved.slot].pos = s.pos
	}
	payloads[last] = Handle{}
	t.nodes[id].payloads = payloads[:last]

	s.node = noNode
	s.pos = -1
	return id
}

// mergeable reports whether every child of id is an empty leaf.
func (t *Tree[V, T]) mergeable(id nodeID) bool {
	first := t.nodes[id].children
	if first == noNode {
		return false
	}

	for i := 0; i < t.fanout; i++ {
		c := &t.nodes[first+nodeID(i)]
		if !c.isLeaf() || len(c.payloads) != 0 {
			return false
		}
	}
	return true
}

// collapse releases every sibling group made of empty leaves on the path from
// id to the root. It returns the deepest node of that path that still exists.
func (t *Tree[V, T]) collapse(id nodeID) nodeID {
	anchor := id

	for cur := id; cur != noNode; cur = t.nodes[cur].parent {
		if t.mergeable(cur) {
			t.releaseGroup(cur)
			t.merges++
			anchor = cur
			continue
		}

		if !t.nodes[cur].isLeaf() {
			// A surviving group keeps every ancestor subdivided.
			break
		}
	}
	return anchor
}
