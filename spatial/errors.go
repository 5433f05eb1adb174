package spatial

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	// The bounds of an object are not contained in the bounds of the tree
	// root, or are not a valid box.
	ErrTypeOutOfUniverse = "spatial_out_of_universe"

	// The handle does not reference an object currently held by the tree.
	ErrTypeNotIndexed = "spatial_not_indexed"

	// The tree structure is inconsistent. Only reported by Verify.
	ErrTypeInvariantViolation = "spatial_invariant_violation"

	// The tree was created with unusable bounds or subdivision threshold.
	ErrTypeInvalidConfig = "spatial_invalid_config"
)

func errOutOfUniverse[V Vector[V]](universe, bounds Box[V]) error {
	return errors.New("bounds are outside of the indexed universe").
		WithType(ErrTypeOutOfUniverse).
		WithTag("universe", universe).
		WithTag("bounds", bounds)
}

func errNotIndexed(h Handle) error {
	return errors.New("object is not indexed").
		WithType(ErrTypeNotIndexed).
		WithTag("handle", h.String())
}

func errInvariant(msg string, node nodeID) errors.Error {
	return errors.New(msg).
		WithType(ErrTypeInvariantViolation).
		WithTag("node", node)
}
