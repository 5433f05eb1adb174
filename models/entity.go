package models

import (
	"sync"

	"github.com/aukilabs/hagall-common/messages/hagallpb"
	"github.com/aukilabs/hagall-spatial/spatial"
)

type Entity struct {
	ID            uint32
	ParticipantID uint32
	Persist       bool
	Flag          hagallpb.EntityFlag

	mutex  sync.RWMutex
	pose   Pose
	extent float32

	// Protected by the mutex of the session the entity belongs to.
	handle spatial.Handle
}

func (e *Entity) SetPose(v Pose) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.pose = v
}

func (e *Entity) Pose() Pose {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.pose
}

// Position returns the position of the entity pose.
func (e *Entity) Position() spatial.Vec3 {
	return e.Pose().Position()
}

// Bounds returns the box centered on the entity position that extends by the
// entity extent of its session.
func (e *Entity) Bounds() spatial.Box[spatial.Vec3] {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return spatial.BoxAround(e.pose.Position(), e.extent)
}

func (e *Entity) setExtent(v float32) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.extent = v
}

func (e *Entity) ToProtobuf() *hagallpb.Entity {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return &hagallpb.Entity{
		Id:            e.ID,
		ParticipantId: e.ParticipantID,
		Pose:          e.pose.ToProtobuf(),
		Flag:          e.Flag,
	}
}

func EntitiesToProtobuf(entities []*Entity) []*hagallpb.Entity {
	pEntitites := make([]*hagallpb.Entity, len(entities))
	for i, e := range entities {
		pEntitites[i] = e.ToProtobuf()
	}
	return pEntitites
}

type Pose struct {
	PX float32
	PY float32
	PZ float32
	RX float32
	RY float32
	RZ float32
	RW float32
}

// PoseFromProtobuf converts a pose received from a client. A nil pose is the
// zero pose.
func PoseFromProtobuf(p *hagallpb.Pose) Pose {
	if p == nil {
		return Pose{}
	}

	return Pose{
		PX: p.Px,
		PY: p.Py,
		PZ: p.Pz,
		RX: p.Rx,
		RY: p.Ry,
		RZ: p.Rz,
		RW: p.Rw,
	}
}

func (p Pose) Position() spatial.Vec3 {
	return spatial.Vec3{X: p.PX, Y: p.PY, Z: p.PZ}
}

func (p Pose) ToProtobuf() *hagallpb.Pose {
	return &hagallpb.Pose{
		Px: p.PX,
		Py: p.PY,
		Pz: p.PZ,
		Rx: p.RX,
		Ry: p.RY,
		Rz: p.RZ,
		Rw: p.RW,
	}
}
