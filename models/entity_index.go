package models

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/hagall-spatial/spatial"
	"github.com/chewxy/math32"
)

// EntityIndexConfig describes the octree that indexes the entities of a
// session.
type EntityIndexConfig struct {
	// The half extent of the cube centered on the origin where entities can
	// be positioned.
	UniverseExtent float32

	// The half extent under which octree cells are not split anymore.
	SubdivisionThreshold float32

	// The half extent of the box around an entity position.
	EntityExtent float32
}

// DefaultEntityIndexConfig returns the config used when none is given.
func DefaultEntityIndexConfig() EntityIndexConfig {
	return EntityIndexConfig{
		UniverseExtent:       1000,
		SubdivisionThreshold: 1,
		EntityExtent:         0.1,
	}
}

func (c EntityIndexConfig) Validate() error {
	if !isPositive(c.UniverseExtent) {
		return errors.New("entity universe extent must be positive").
			WithType(spatial.ErrTypeInvalidConfig).
			WithTag("universe_extent", c.UniverseExtent)
	}

	if !isPositive(c.SubdivisionThreshold) || c.SubdivisionThreshold >= c.UniverseExtent {
		return errors.New("entity subdivision threshold must be positive and lesser than the universe extent").
			WithType(spatial.ErrTypeInvalidConfig).
			WithTag("subdivision_threshold", c.SubdivisionThreshold).
			WithTag("universe_extent", c.UniverseExtent)
	}

	if c.EntityExtent < 0 || math32.IsNaN(c.EntityExtent) || c.EntityExtent >= c.UniverseExtent {
		return errors.New("entity extent must be positive and lesser than the universe extent").
			WithType(spatial.ErrTypeInvalidConfig).
			WithTag("entity_extent", c.EntityExtent).
			WithTag("universe_extent", c.UniverseExtent)
	}
	return nil
}

func (c EntityIndexConfig) universe() spatial.Box[spatial.Vec3] {
	return spatial.BoxAround(spatial.Vec3{}, c.UniverseExtent)
}

func isPositive(v float32) bool {
	return v > 0 && !math32.IsInf(v, 1)
}

// EntitiesInRadius returns the entities whose bounds intersect the sphere of
// the given center and radius.
func (s *Session) EntitiesInRadius(center spatial.Vec3, radius float32) []*Entity {
	defer instrumentQueryLatency(s.AppKey, time.Now())

	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	var entities []*Entity
	s.entityIndex.QueryFiltered(
		spatial.BoxAround(center, radius),
		func(e *Entity) bool {
			entities = append(entities, e)
			return true
		},
		func(e *Entity) bool {
			b, _ := s.entityIndex.BoundsOf(e.handle)
			return b.IntersectsSphere(center, radius)
		},
	)
	return entities
}

// ParticipantsNear returns the ids of the participants that own at least one
// entity within radius of the given entity. The owner of the given entity is
// not returned, unless it owns another entity within the radius.
func (s *Session) ParticipantsNear(e *Entity, radius float32) map[uint32]struct{} {
	return s.ParticipantsAround(e, radius, e.Position())
}

// ParticipantsAround is like ParticipantsNear but looks around each of the
// given positions instead of the entity current one. It is used to reach the
// participants an entity just moved away from.
func (s *Session) ParticipantsAround(e *Entity, radius float32, positions ...spatial.Vec3) map[uint32]struct{} {
	participantIDs := make(map[uint32]struct{})
	for _, p := range positions {
		for _, near := range s.EntitiesInRadius(p, radius) {
			if near == e {
				continue
			}
			participantIDs[near.ParticipantID] = struct{}{}
		}
	}
	return participantIDs
}

// ReadEntityIndex calls fn with a read-only view of the session entity index.
// The view must not be retained after fn returns.
func (s *Session) ReadEntityIndex(fn func(spatial.View[spatial.Vec3, *Entity])) {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	fn(s.entityIndex)
}

// EntityIndexStats returns the shape of the session entity index.
func (s *Session) EntityIndexStats() spatial.Stats {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	return s.entityIndex.Stats()
}
