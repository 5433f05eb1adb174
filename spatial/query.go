package spatial

// View is the read-only side of a Tree.
type View[V Vector[V], T Boundable[V]] interface {
	// Calls visit for every object whose bounds intersect volume. The walk
	// stops as soon as visit returns false. The tree must not be modified
	// during the walk.
	Query(volume Box[V], visit func(T) bool)

	// Same as Query but only calls visit for the intersecting objects that
	// satisfy filter.
	QueryFiltered(volume Box[V], visit func(T) bool, filter func(T) bool)

	// Returns the objects whose bounds intersect volume.
	QueryAll(volume Box[V]) []T

	// Calls fn for every indexed object, in no particular order.
	ForEach(fn func(Handle, T) bool)

	// Calls fn for every node, parents before children.
	ForEachNode(fn func(NodeInfo[V]) bool)

	Count() int
	Bounds() Box[V]
	Stats() Stats
}

// NodeInfo describes a node of a Tree.
type NodeInfo[V Vector[V]] struct {
	Bounds   Box[V]
	Depth    int
	Leaf     bool
	Payloads int
}

// Stats describes the shape of a Tree.
type Stats struct {
	Objects     int    `json:"objects"`
	Nodes       int    `json:"nodes"`
	Leaves      int    `json:"leaves"`
	MaxDepth    int    `json:"max_depth"`
	RootObjects int    `json:"root_objects"`
	FreeGroups  int    `json:"free_groups"`
	Merges      uint64 `json:"merges"`
	Relocations uint64 `json:"relocations"`
}

func (t *Tree[V, T]) Query(volume Box[V], visit func(T) bool) {
	t.QueryFiltered(volume, visit, nil)
}

func (t *Tree[V, T]) QueryFiltered(volume Box[V], visit func(T) bool, filter func(T) bool) {
	if !volume.Valid() || !t.bounds.Intersects(volume) {
		return
	}

	q := query[V, T]{
		tree:   t,
		volume: volume,
		visit:  visit,
		filter: filter,
	}
	q.node(rootNode)
}

func (t *Tree[V, T]) QueryAll(volume Box[V]) []T {
	var res []T
	t.Query(volume, func(v T) bool {
		res = append(res, v)
		return true
	})
	return res
}

func (t *Tree[V, T]) ForEach(fn func(Handle, T) bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		if !fn(Handle{slot: uint32(i), gen: s.gen}, s.value) {
			return
		}
	}
}

func (t *Tree[V, T]) ForEachNode(fn func(NodeInfo[V]) bool) {
	stack := []nodeID{rootNode}

	for len(stack) != 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &t.nodes[id]
		if !fn(NodeInfo[V]{
			Bounds:   n.bounds,
			Depth:    n.depth,
			Leaf:     n.isLeaf(),
			Payloads: len(n.payloads),
		}) {
			return
		}

		if n.isLeaf() {
			continue
		}
		for i := t.fanout - 1; i >= 0; i-- {
			stack = append(stack, n.children+nodeID(i))
		}
	}
}

func (t *Tree[V, T]) Stats() Stats {
	stats := Stats{
		Objects:     t.count,
		RootObjects: len(t.nodes[rootNode].payloads),
		FreeGroups:  len(t.freeGroups),
		Merges:      t.merges,
		Relocations: t.relocations,
	}

	t.ForEachNode(func(n NodeInfo[V]) bool {
		stats.Nodes++
		if n.Leaf {
			stats.Leaves++
		}
		if n.Depth > stats.MaxDepth {
			stats.MaxDepth = n.Depth
		}
		return true
	})
	return stats
}

type query[V Vector[V], T Boundable[V]] struct {
	tree   *Tree[V, T]
	volume Box[V]
	visit  func(T) bool
	filter func(T) bool
}

func (q *query[V, T]) emit(h Handle) bool {
	v := q.tree.slots[h.slot].value
	if q.filter != nil && !q.filter(v) {
		return true
	}
	return q.visit(v)
}

// node visits the matching objects of the subtree rooted at id. It returns
// false once the walk was stopped by the caller.
func (q *query[V, T]) node(id nodeID) bool {
	t := q.tree

	for {
		n := &t.nodes[id]
		for _, h := range n.payloads {
			if t.slots[h.slot].bounds.Intersects(q.volume) && !q.emit(h) {
				return false
			}
		}

		if n.isLeaf() {
			return true
		}

		first := n.children
		next := noNode

		for i := 0; i < t.fanout; i++ {
			c := first + nodeID(i)
			cb := t.nodes[c].bounds

			switch {
			case cb.ContainsInterior(q.volume):
				// Siblings only share faces with c and the volume touches none
				// of them.
				next = c

			case q.volume.Contains(cb):
				if !q.collect(c) {
					return false
				}

			case cb.Intersects(q.volume):
				if !q.node(c) {
					return false
				}
			}

			if next != noNode {
				break
			}
		}

		if next == noNode {
			return true
		}
		id = next
	}
}

// collect visits every object of the subtree rooted at id.
func (q *query[V, T]) collect(id nodeID) bool {
	t := q.tree
	n := &t.nodes[id]

	for _, h := range n.payloads {
		if !q.emit(h) {
			return false
		}
	}

	if n.isLeaf() {
		return true
	}
	for i := 0; i < t.fanout; i++ {
		if !q.collect(n.children + nodeID(i)) {
			return false
		}
	}
	return true
}
