package models

import (
	"sync"

	"github.com/aukilabs/hagall-common/messages/hagallpb"
	hwebsocket "github.com/aukilabs/hagall-common/websocket"
)

// A session participant.
type Participant struct {
	ID        uint32
	Responder hwebsocket.ResponseSender

	mutex     sync.RWMutex
	entityIDs map[uint32]struct{}
}

func (p *Participant) AddEntity(e *Entity) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.entityIDs == nil {
		p.entityIDs = make(map[uint32]struct{})
	}
	p.entityIDs[e.ID] = struct{}{}
}

func (p *Participant) RemoveEntity(e *Entity) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	delete(p.entityIDs, e.ID)
}

// EntityIDs returns the ids of the entities owned by the participant.
func (p *Participant) EntityIDs() []uint32 {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	ids := make([]uint32, 0, len(p.entityIDs))
	for id := range p.entityIDs {
		ids = append(ids, id)
	}
	return ids
}

// EntityCount returns the number of entities owned by the participant.
func (p *Participant) EntityCount() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return len(p.entityIDs)
}

func (p *Participant) ToProtobuf() *hagallpb.Participant {
	return &hagallpb.Participant{
		Id: p.ID,
	}
}

func ParticipantsToProtobuf(participants []*Participant) []*hagallpb.Participant {
	res := make([]*hagallpb.Participant, len(participants))
	for i, p := range participants {
		res[i] = p.ToProtobuf()
	}
	return res
}
