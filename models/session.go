package models

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	hwebsocket "github.com/aukilabs/hagall-common/websocket"
	"github.com/aukilabs/hagall-spatial/spatial"
	"github.com/google/uuid"
)

// Session represents a session that contains entities and participants who can
// communicate between each other.
type Session struct {
	ID          uint32
	SessionUUID string

	AppKey string

	participantIDs   SequentialIDGenerator
	participantMutex sync.RWMutex
	participants     map[uint32]*Participant

	entityIDs    SequentialIDGenerator
	entityMutex  sync.RWMutex
	entities     map[uint32]*Entity
	entityIndex  *spatial.Tree[spatial.Vec3, *Entity]
	entityExtent float32

	moduleStates map[string]any
	moduleMutex  sync.RWMutex

	startFrameOnce  sync.Once
	closeFrameChan  chan struct{}
	frameTicker     *time.Ticker
	frameHandlerIDs SequentialIDGenerator
	frameHandlers   map[uint32]func()
	frameMutex      sync.RWMutex

	closeOnce sync.Once
}

// NewSession creates a session whose entities are indexed in an octree shaped
// by the given config.
func NewSession(id uint32, frameDuration time.Duration, cfg EntityIndexConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	index, err := spatial.NewOctree[*Entity](cfg.universe(), cfg.SubdivisionThreshold)
	if err != nil {
		return nil, errors.New("creating entity index failed").Wrap(err)
	}

	return &Session{
		ID:             id,
		SessionUUID:    uuid.New().String(),
		closeFrameChan: make(chan struct{}, 1),
		frameTicker:    time.NewTicker(frameDuration),
		participants:   make(map[uint32]*Participant),
		entities:       make(map[uint32]*Entity),
		entityIndex:    index,
		entityExtent:   cfg.EntityExtent,
		moduleStates:   make(map[string]any),
		frameHandlers:  make(map[uint32]func()),
	}, nil
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.frameTicker.Stop()
		s.closeFrameChan <- struct{}{}

		s.entityMutex.Lock()
		s.entityIndex.Clear()
		s.entityMutex.Unlock()
	})
}

func (s *Session) NewParticipantID() uint32 {
	return s.participantIDs.New()
}

func (s *Session) AddParticipant(p *Participant) {
	s.participantMutex.Lock()
	defer s.participantMutex.Unlock()

	s.participants[p.ID] = p
}

func (s *Session) RemoveParticipant(p *Participant) {
	s.participantMutex.Lock()
	defer s.participantMutex.Unlock()

	delete(s.participants, p.ID)
}

func (s *Session) GetParticipants() []*Participant {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	participants := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		participants = append(participants, p)
	}
	return participants
}

func (s *Session) GetParticipantsByIDs(ids ...uint32) []*Participant {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	participants := make([]*Participant, 0, len(ids))
	for _, id := range ids {
		p, ok := s.participants[id]
		if ok {
			participants = append(participants, p)
		}
	}
	return participants
}

func (s *Session) ParticipantCount() int {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	return len(s.participants)
}

func (s *Session) NewEntityID() uint32 {
	return s.entityIDs.New()
}

// AddEntity adds the entity to the session and indexes it at its current
// pose. An entity whose pose is outside of the session universe is not added.
func (s *Session) AddEntity(e *Entity) error {
	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	e.setExtent(s.entityExtent)

	h, err := s.entityIndex.Insert(e)
	if err != nil {
		if errors.IsType(err, spatial.ErrTypeOutOfUniverse) {
			instrumentEntityOutOfUniverse(s.AppKey)
		}
		return errors.New("indexing entity failed").
			WithType(errors.Type(err)).
			WithTag("entity_id", e.ID).
			Wrap(err)
	}

	e.handle = h
	s.entities[e.ID] = e
	return nil
}

// UpdateEntityPose sets the entity pose and relocates the entity in the
// session index. A pose outside of the session universe is refused and the
// entity keeps its previous pose.
func (s *Session) UpdateEntityPose(e *Entity, pose Pose) error {
	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	prev := e.Pose()
	e.SetPose(pose)

	moved, err := s.entityIndex.Update(e.handle)
	if err != nil {
		e.SetPose(prev)

		if errors.IsType(err, spatial.ErrTypeOutOfUniverse) {
			instrumentEntityOutOfUniverse(s.AppKey)
		}
		return errors.New("updating entity pose failed").
			WithType(errors.Type(err)).
			WithTag("entity_id", e.ID).
			Wrap(err)
	}

	if moved {
		instrumentEntityRelocation(s.AppKey)
	}
	return nil
}

func (s *Session) RemoveEntity(e *Entity) {
	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	if _, ok := s.entities[e.ID]; !ok {
		return
	}

	if err := s.entityIndex.Remove(e.handle); err != nil {
		logs.WithTag("entity_id", e.ID).
			WithTag("session_id", s.ID).
			Error(errors.New("removing entity from index failed").Wrap(err))
	}
	e.handle = spatial.Handle{}
	delete(s.entities, e.ID)
}

func (s *Session) EntityByID(id uint32) (*Entity, bool) {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	e, ok := s.entities[id]
	return e, ok
}

func (s *Session) Entities() []*Entity {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	entities := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		entities = append(entities, e)
	}
	return entities
}

func (s *Session) Broadcast(sender *Participant, protoMsg hwebsocket.ProtoMsg) {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	msg, err := hwebsocket.MsgFromProto(protoMsg)
	if err != nil {
		logs.WithTag("message", protoMsg).Debug(err)
		return
	}

	for _, p := range s.participants {
		if p == sender {
			continue
		}
		p.Responder.SendMsg(msg)
	}
}

func (s *Session) BroadcastTo(sender *Participant, protoMsg hwebsocket.ProtoMsg, participantIds ...uint32) {
	participants := s.GetParticipantsByIDs(participantIds...)
	isParticipantHandled := make(map[uint32]struct{}, len(participantIds))

	msg, err := hwebsocket.MsgFromProto(protoMsg)
	if err != nil {
		logs.WithTag("message", protoMsg).Debug(err)
		return
	}

	for _, p := range participants {
		if p == sender {
			continue
		}

		if _, ok := isParticipantHandled[p.ID]; ok {
			continue
		}
		isParticipantHandled[p.ID] = struct{}{}

		p.Responder.SendMsg(msg)
	}
}

func (s *Session) SetModuleState(moduleName string, state any) {
	s.moduleMutex.Lock()
	defer s.moduleMutex.Unlock()

	s.moduleStates[moduleName] = state
}

func (s *Session) ModuleState(moduleName string) (any, bool) {
	s.moduleMutex.RLock()
	defer s.moduleMutex.RUnlock()

	state, ok := s.moduleStates[moduleName]
	return state, ok
}

func (s *Session) HandleFrame(h func()) (cancel func()) {
	s.frameMutex.Lock()
	defer s.frameMutex.Unlock()

	id := s.frameHandlerIDs.New()
	s.frameHandlers[id] = h

	return func() {
		s.frameMutex.Lock()
		defer s.frameMutex.Unlock()

		delete(s.frameHandlers, id)
		s.frameHandlerIDs.Reuse(id)
	}
}

func (s *Session) StartDispatchFrames() {
	s.startFrameOnce.Do(func() {
		for {
			select {
			case <-s.closeFrameChan:
				return

			case <-s.frameTicker.C:
				s.frameMutex.RLock()
				for _, h := range s.frameHandlers {
					h()
				}
				s.frameMutex.RUnlock()
			}
		}
	})
}

type SessionStore struct {
	// The session discovery service where sessions are registered.
	DiscoveryService SessionDiscoveryService

	initOnce sync.Once
	mutex    sync.RWMutex
	sessions map[string]*Session
	ids      SequentialIDGenerator
}

func (s *SessionStore) init() {
	s.sessions = map[string]*Session{}

	if s.DiscoveryService == nil {
		s.DiscoveryService = defaultSessionDiscoveryService{}
	}
}

func (s *SessionStore) NewID() uint32 {
	return s.ids.New()
}

func (s *SessionStore) Add(ctx context.Context, session *Session) error {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sessions[s.GlobalSessionID(session.ID)] = session

	instrumentIncreaseSessionGauge(session.AppKey)
	instrumentCountSession(session.AppKey)
	return nil
}

func (s *SessionStore) Remove(ctx context.Context, session *Session) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.sessions, s.GlobalSessionID(session.ID))
	session.Close()

	s.ids.Reuse(session.ID)

	instrumentDecreaseSessionGauge(session.AppKey)
}

// List returns all the sessions.
func (s *SessionStore) List() []*Session {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

func (s *SessionStore) GetByGlobalID(v string) (*Session, bool) {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	session, ok := s.sessions[v]
	return session, ok
}

func (s *SessionStore) GlobalSessionID(sessionID uint32) string {
	return fmt.Sprintf("%sx%x", s.DiscoveryService.ServerID(), sessionID)
}

// SessionDiscoveryService provides the identity of the server that is used to
// build global session ids.
type SessionDiscoveryService interface {
	// Returns the id attributed to the current Hagall server.
	ServerID() string
}

type defaultSessionDiscoveryService struct{}

func (s defaultSessionDiscoveryService) ServerID() string {
	return "ted"
}

// StaticServerID is a session discovery service that always returns the same
// server id.
type StaticServerID string

func (id StaticServerID) ServerID() string {
	return string(id)
}
