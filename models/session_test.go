package models

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/hagall-common/messages/hagallpb"
	"github.com/aukilabs/go-tooling/pkg/errors"
	hwebsocket "github.com/aukilabs/hagall-common/websocket"
	"github.com/aukilabs/hagall-spatial/spatial"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, id uint32, frameDuration time.Duration) *Session {
	session, err := NewSession(id, frameDuration, EntityIndexConfig{
		UniverseExtent:       100,
		SubdivisionThreshold: 1,
		EntityExtent:         0.5,
	})
	require.NoError(t, err)
	return session
}

func TestNewSessionInvalidEntityIndexConfig(t *testing.T) {
	_, err := NewSession(42, time.Second, EntityIndexConfig{
		UniverseExtent:       10,
		SubdivisionThreshold: 20,
	})
	require.Error(t, err)
	require.True(t, errors.IsType(err, spatial.ErrTypeInvalidConfig))
}

func TestSessionNewParticipantID(t *testing.T) {
	session := newTestSession(t, 42, time.Second)
	require.NotZero(t, session.NewParticipantID())
}

func TestSessionAddParticipant(t *testing.T) {
	participant := &Participant{ID: 777}
	session := newTestSession(t, 42, time.Second)

	session.AddParticipant(participant)
	require.Len(t, session.participants, 1)
	require.Equal(t, participant, session.participants[777])
}

func TestSessionRemoveParticipant(t *testing.T) {
	participant := &Participant{ID: 777}
	session := newTestSession(t, 42, time.Second)

	session.AddParticipant(participant)
	require.Len(t, session.participants, 1)

	session.RemoveParticipant(participant)
	require.Empty(t, session.participants)
}

func TestSessionGetParticipants(t *testing.T) {
	participant := &Participant{ID: 777}
	session := newTestSession(t, 42, time.Second)

	session.AddParticipant(participant)

	participants := session.GetParticipants()
	require.Len(t, participants, 1)
	require.Equal(t, participant, participants[0])
}

func TestSessionGetParticipantsByIDs(t *testing.T) {
	session := newTestSession(t, 42, time.Second)

	for i := 1; i <= 10; i++ {
		session.AddParticipant(&Participant{ID: uint32(i)})
	}

	participants := session.GetParticipantsByIDs(3, 7)
	require.Len(t, participants, 2)

	sort.Slice(participants, func(i, j int) bool {
		return participants[i].ID < participants[j].ID
	})

	require.Equal(t, uint32(3), participants[0].ID)
	require.Equal(t, uint32(7), participants[1].ID)
}

func TestSessionNewEntityID(t *testing.T) {
	session := Session{}
	require.NotZero(t, session.NewEntityID())
}

func TestSessionAddEntity(t *testing.T) {
	entity := &Entity{ID: 11}
	session := newTestSession(t, 42, time.Second)

	require.NoError(t, session.AddEntity(entity))
	require.Len(t, session.entities, 1)
	require.Equal(t, entity, session.entities[11])
}

func TestSessionRemoveEntity(t *testing.T) {
	t.Run("remove entity", func(t *testing.T) {
		entity := &Entity{ID: 11}
		session := newTestSession(t, 42, time.Second)

		require.NoError(t, session.AddEntity(entity))
		require.Len(t, session.entities, 1)

		session.RemoveEntity(entity)
		require.Empty(t, session.entities)
	})
}

func TestSessionAddEntityOutOfUniverse(t *testing.T) {
	entity := &Entity{ID: 11}
	entity.SetPose(Pose{PX: 200})
	session := newTestSession(t, 42, time.Second)

	err := session.AddEntity(entity)
	require.Error(t, err)
	require.True(t, errors.IsType(err, spatial.ErrTypeOutOfUniverse))
	require.Empty(t, session.entities)
	require.Zero(t, session.EntityIndexStats().Objects)
}

func TestSessionUpdateEntityPose(t *testing.T) {
	t.Run("entity is moved", func(t *testing.T) {
		entity := &Entity{ID: 11}
		session := newTestSession(t, 42, time.Second)
		require.NoError(t, session.AddEntity(entity))

		err := session.UpdateEntityPose(entity, Pose{PX: 50, PY: 10, PZ: -20})
		require.NoError(t, err)
		require.Equal(t, Pose{PX: 50, PY: 10, PZ: -20}, entity.Pose())

		require.Empty(t, session.EntitiesInRadius(spatial.Vec3{}, 5))
		require.Equal(t, []*Entity{entity}, session.EntitiesInRadius(spatial.Vec3{X: 50, Y: 10, Z: -19}, 2))
	})

	t.Run("pose outside of the universe is refused", func(t *testing.T) {
		entity := &Entity{ID: 11}
		entity.SetPose(Pose{PX: 1})
		session := newTestSession(t, 42, time.Second)
		require.NoError(t, session.AddEntity(entity))

		err := session.UpdateEntityPose(entity, Pose{PX: 1000})
		require.Error(t, err)
		require.True(t, errors.IsType(err, spatial.ErrTypeOutOfUniverse))
		require.Equal(t, Pose{PX: 1}, entity.Pose())
		require.Equal(t, []*Entity{entity}, session.EntitiesInRadius(spatial.Vec3{X: 1}, 1))
	})

	t.Run("removed entity is not updated", func(t *testing.T) {
		entity := &Entity{ID: 11}
		session := newTestSession(t, 42, time.Second)
		require.NoError(t, session.AddEntity(entity))
		session.RemoveEntity(entity)

		err := session.UpdateEntityPose(entity, Pose{PX: 2})
		require.Error(t, err)
		require.True(t, errors.IsType(err, spatial.ErrTypeNotIndexed))
	})
}

func TestSessionEntitiesInRadius(t *testing.T) {
	session := newTestSession(t, 42, time.Second)

	var entities []*Entity
	for i := 0; i < 10; i++ {
		e := &Entity{ID: uint32(i + 1), ParticipantID: uint32(i%3 + 1)}
		e.SetPose(Pose{PX: float32(i * 2)})
		require.NoError(t, session.AddEntity(e))
		entities = append(entities, e)
	}

	// Entity boxes extend by 0.5 so the one at x=6 touches the sphere.
	require.ElementsMatch(t, entities[:4], session.EntitiesInRadius(spatial.Vec3{}, 5.5))
	require.ElementsMatch(t, entities[:3], session.EntitiesInRadius(spatial.Vec3{}, 5))

	// Entities at x=2, x=4 and x=6 touch the query box but not the sphere.
	require.Empty(t, session.EntitiesInRadius(spatial.Vec3{X: 5, Y: 3}, 2.5))

	near := session.ParticipantsNear(entities[0], 2.5)
	require.Equal(t, map[uint32]struct{}{2: {}}, near)

	near = session.ParticipantsNear(entities[4], 4.5)
	require.Equal(t, map[uint32]struct{}{1: {}, 3: {}}, near)

	// Around the far end only, then around both ends of the row.
	near = session.ParticipantsAround(entities[0], 1, spatial.Vec3{X: 18})
	require.Equal(t, map[uint32]struct{}{1: {}}, near)

	near = session.ParticipantsAround(entities[0], 1, spatial.Vec3{X: 18}, spatial.Vec3{X: 2})
	require.Equal(t, map[uint32]struct{}{1: {}, 2: {}}, near)
}

func TestSessionReadEntityIndex(t *testing.T) {
	session := newTestSession(t, 42, time.Second)
	require.NoError(t, session.AddEntity(&Entity{ID: 1}))
	require.NoError(t, session.AddEntity(&Entity{ID: 2}))

	session.ReadEntityIndex(func(v spatial.View[spatial.Vec3, *Entity]) {
		require.Equal(t, 2, v.Count())
		require.Len(t, v.QueryAll(v.Bounds()), 2)
	})

	session.Close()
	require.Zero(t, session.EntityIndexStats().Objects)
	require.Equal(t, 1, session.EntityIndexStats().Nodes)
}

func TestSessionEntityByID(t *testing.T) {
	session := newTestSession(t, 42, time.Second)

	t.Run("entity is returned", func(t *testing.T) {
		entity := &Entity{ID: 1}
		require.NoError(t, session.AddEntity(entity))

		rEntity, ok := session.EntityByID(entity.ID)
		require.True(t, ok)
		require.Equal(t, entity, rEntity)
	})

	t.Run("entity is not returned", func(t *testing.T) {
		rEntity, ok := session.EntityByID(2)
		require.False(t, ok)
		require.Nil(t, rEntity)
	})
}

func TestSessionEntities(t *testing.T) {
	entity := &Entity{ID: 1}
	session := newTestSession(t, 42, time.Second)

	require.NoError(t, session.AddEntity(entity))

	entities := session.Entities()
	require.Len(t, entities, 1)
	require.Equal(t, entity, entities[0])
}

func TestSessionModuleState(t *testing.T) {
	t.Run("module state is found", func(t *testing.T) {
		s := newTestSession(t, 42, time.Second)

		stateA := 42
		s.SetModuleState("testModule", stateA)

		stateB, ok := s.ModuleState("testModule")
		require.True(t, ok)
		require.Equal(t, stateA, stateB)
	})

	t.Run("module state is not found", func(t *testing.T) {
		s := newTestSession(t, 42, time.Second)

		state, ok := s.ModuleState("testModule")
		require.False(t, ok)
		require.Nil(t, state)
	})
}

func TestSessionBroadcast(t *testing.T) {
	t.Run("msg from participant A is broadcasted to participant B", func(t *testing.T) {
		var sendACalled bool
		participantA := &Participant{
			ID: 1,
			Responder: testResponseSender{
				sendMsg: func(_ hwebsocket.Msg) {
					sendACalled = true
				},
				send: func(_ hwebsocket.ProtoMsg) {},
			},
		}

		var sendBCalled bool
		participantB := &Participant{
			ID: 2,
			Responder: testResponseSender{
				sendMsg: func(_ hwebsocket.Msg) {
					sendBCalled = true
				},
				send: func(_ hwebsocket.ProtoMsg) {},
			},
		}

		session := newTestSession(t, 42, time.Second)
		session.AddParticipant(participantA)
		session.AddParticipant(participantB)

		session.Broadcast(participantA, &hagallpb.Msg{})
		require.False(t, sendACalled)
		require.True(t, sendBCalled)
	})
}

func TestBroadcastTo(t *testing.T) {
	t.Run("message is not broadcasted to sender", func(t *testing.T) {
		var sendACalled bool
		participantA := &Participant{
			ID: 1,
			Responder: testResponseSender{
				sendMsg: func(_ hwebsocket.Msg) {
					sendACalled = true
				},
				send: func(_ hwebsocket.ProtoMsg) {},
			},
		}

		session := newTestSession(t, 42, time.Second)
		session.AddParticipant(participantA)

		session.BroadcastTo(participantA, &hagallpb.Msg{}, participantA.ID)
		require.False(t, sendACalled)
	})

	t.Run("message is broadcasted to participant B", func(t *testing.T) {
		var sendACalled bool
		participantA := &Participant{
			ID: 1,
			Responder: testResponseSender{
				sendMsg: func(_ hwebsocket.Msg) {
					sendACalled = true
				},
				send: func(_ hwebsocket.ProtoMsg) {},
			},
		}

		var sendBCalled bool
		participantB := &Participant{
			ID: 2,
			Responder: testResponseSender{
				sendMsg: func(_ hwebsocket.Msg) {
					sendBCalled = true
				},
				send: func(_ hwebsocket.ProtoMsg) {},
			},
		}

		session := newTestSession(t, 42, time.Second)
		session.AddParticipant(participantA)
		session.AddParticipant(participantB)

		session.BroadcastTo(participantA, &hagallpb.Msg{}, participantB.ID)
		require.False(t, sendACalled)
		require.True(t, sendBCalled)
	})

	t.Run("message is broadcasted to participant B once", func(t *testing.T) {
		var sendACalled bool
		participantA := &Participant{
			ID: 1,
			Responder: testResponseSender{
				sendMsg: func(_ hwebsocket.Msg) {
					sendACalled = true
				},
				send: func(_ hwebsocket.ProtoMsg) {},
			},
		}

		var sendBCalls int
		participantB := &Participant{
			ID: 2,
			Responder: testResponseSender{
				sendMsg: func(_ hwebsocket.Msg) {
					sendBCalls++
				},
				send: func(_ hwebsocket.ProtoMsg) {},
			},
		}

		session := newTestSession(t, 42, time.Second)
		session.AddParticipant(participantA)
		session.AddParticipant(participantB)

		session.BroadcastTo(participantA, &hagallpb.Msg{},
			participantB.ID,
			participantB.ID,
			participantB.ID,
			participantB.ID,
		)
		require.False(t, sendACalled)
		require.Equal(t, 1, sendBCalls)
	})

	t.Run("message to unknown participant is skipped", func(t *testing.T) {
		var sendACalled bool
		participantA := &Participant{
			ID: 1,
			Responder: testResponseSender{
				sendMsg: func(_ hwebsocket.Msg) {
					sendACalled = true
				},
				send: func(_ hwebsocket.ProtoMsg) {},
			},
		}

		session := newTestSession(t, 42, time.Second)
		session.AddParticipant(participantA)

		session.BroadcastTo(participantA, &hagallpb.Msg{}, 42)
		require.False(t, sendACalled)
	})
}

func TestSessionStoreNewID(t *testing.T) {
	sessions := SessionStore{}
	require.NotZero(t, sessions.NewID())
}

func TestSessionStoreAdd(t *testing.T) {
	t.Run("session is successfully added", func(t *testing.T) {
		var sessions SessionStore

		session := newTestSession(t, 42, time.Second)

		err := sessions.Add(context.Background(), session)
		require.NoError(t, err)
		require.Equal(t, session, sessions.sessions[sessions.GlobalSessionID(session.ID)])
	})
}

func TestSessionStoreRemove(t *testing.T) {

	t.Run("session is successfully removed", func(t *testing.T) {
		var sessions SessionStore

		ctx := context.Background()

		session := newTestSession(t, 42, time.Second)
		err := sessions.Add(ctx, session)
		require.NoError(t, err)
		require.Len(t, sessions.sessions, 1)

		sessions.Remove(ctx, session)
		require.Empty(t, sessions.sessions)
	})

	t.Run("session id is reused", func(t *testing.T) {
		var sessions SessionStore

		ctx := context.Background()

		sessionID := sessions.NewID()
		session := newTestSession(t, sessionID, time.Second)
		err := sessions.Add(ctx, session)
		require.NoError(t, err)
		require.Len(t, sessions.sessions, 1)

		sessions.Remove(ctx, session)
		require.Empty(t, sessions.sessions)

		nextSessionID := sessions.NewID()
		require.Equal(t, sessionID, nextSessionID)
	})
}

func TestSessionStoreList(t *testing.T) {
	var sessions SessionStore
	require.Empty(t, sessions.List())

	session := newTestSession(t, 42, time.Second)
	require.NoError(t, sessions.Add(context.Background(), session))
	require.Equal(t, []*Session{session}, sessions.List())
}

func TestSessionStoreGlobalSessionID(t *testing.T) {
	sessions := SessionStore{DiscoveryService: StaticServerID("bob")}
	require.Equal(t, "bobx2a", sessions.GlobalSessionID(42))
}

func TestSessionStoreGetByGlobalID(t *testing.T) {
	var sessions SessionStore
	ctx := context.Background()

	t.Run("session is retrieved", func(t *testing.T) {
		session := newTestSession(t, 42, time.Second)
		err := sessions.Add(ctx, session)
		require.NoError(t, err)

		res, ok := sessions.GetByGlobalID(sessions.GlobalSessionID(session.ID))
		require.True(t, ok)
		require.Equal(t, session, res)
	})

	t.Run("session is not retrieved", func(t *testing.T) {
		session := &Session{ID: 84}
		res, ok := sessions.GetByGlobalID(sessions.GlobalSessionID(session.ID))
		require.False(t, ok)
		require.Nil(t, res)
	})
}

func TestSessionHandleFrame(t *testing.T) {
	session := newTestSession(t, 42, time.Millisecond*5)

	cancel := session.HandleFrame(func() {})
	require.Len(t, session.frameHandlers, 1)
	defer cancel()

	cancel()
	require.Empty(t, session.frameHandlers)

}

func TestSessionStartDispatchFrame(t *testing.T) {
	session := newTestSession(t, 42, time.Millisecond*5)

	var wg sync.WaitGroup
	wg.Add(1)

	go session.StartDispatchFrames()

	session.HandleFrame(func() {
		wg.Done()
	})

	wg.Wait()
	session.Close()
}

type testResponseSender struct {
	send    func(hwebsocket.ProtoMsg)
	sendMsg func(hwebsocket.Msg)
}

func (r testResponseSender) Send(protoMsg hwebsocket.ProtoMsg) {
	r.send(protoMsg)
}

func (r testResponseSender) SendMsg(msg hwebsocket.Msg) {
	r.sendMsg(msg)
}
