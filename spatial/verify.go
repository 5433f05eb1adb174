package spatial

import (
	"fmt"
)

// Verify walks the whole tree and returns an error typed
// ErrTypeInvariantViolation when its structure is inconsistent. It is meant
// for tests and debugging.
func (t *Tree[V, T]) Verify() error {
	if n := &t.nodes[rootNode]; n.parent != noNode || n.bounds != t.bounds {
		return errInvariant("root node was altered", rootNode)
	}

	seen := make(map[uint32]struct{}, t.count)
	freed := make(map[nodeID]struct{}, len(t.freeGroups))
	for _, g := range t.freeGroups {
		freed[g] = struct{}{}
	}

	stack := []nodeID{rootNode}
	for len(stack) != 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[id]

		for pos, h := range n.payloads {
			s, err := t.slot(h)
			if err != nil {
				return errInvariant("node holds a released object", id).
					WithTag("handle", h.String())
			}
			if _, ok := seen[h.slot]; ok {
				return errInvariant("object is held by more than one node", id).
					WithTag("handle", h.String())
			}
			seen[h.slot] = struct{}{}

			if s.node != id || s.pos != pos {
				return errInvariant("object does not reference its node", id).
					WithTag("handle", h.String()).
					WithTag("object_node", s.node).
					WithTag("object_pos", s.pos)
			}
			if !n.bounds.Contains(s.bounds) {
				return errInvariant("node does not contain its object", id).
					WithTag("handle", h.String()).
					WithTag("bounds", fmt.Sprint(s.bounds))
			}
		}

		if n.isLeaf() {
			continue
		}

		if _, ok := freed[n.children]; ok {
			return errInvariant("node references a released group", id)
		}
		if int(n.children)+t.fanout > len(t.nodes) {
			return errInvariant("node has a partial group of children", id)
		}
		if t.mergeable(id) {
			return errInvariant("node has only empty leaf children", id)
		}

		for i := 0; i < t.fanout; i++ {
			c := n.children + nodeID(i)
			cn := &t.nodes[c]

			if cn.parent != id {
				return errInvariant("child does not reference its parent", c).
					WithTag("parent", id)
			}
			if cn.depth != n.depth+1 {
				return errInvariant("child depth is inconsistent", c)
			}
			if cn.bounds != n.bounds.orthant(i) {
				return errInvariant("child bounds do not partition its parent", c)
			}
			stack = append(stack, c)
		}
	}

	if len(seen) != t.count {
		return errInvariant(fmt.Sprintf("%d objects are reachable out of %d", len(seen), t.count), rootNode)
	}
	return nil
}
