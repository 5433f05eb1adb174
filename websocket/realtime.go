package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	httpcmn "github.com/aukilabs/hagall-common/http"
	"github.com/aukilabs/hagall-common/messages/hagallpb"
	hwebsocket "github.com/aukilabs/hagall-common/websocket"
	"github.com/aukilabs/hagall-spatial/featureflag"
	"github.com/aukilabs/hagall-spatial/models"
	"github.com/aukilabs/hagall-spatial/modules"
	"github.com/aukilabs/hagall-spatial/spatial"
	"golang.org/x/net/websocket"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const customMessageMaxSize = 10240

// RealtimeHandler represents a service that manages multiple client connections
// and relays their actions in realtime.
type RealtimeHandler struct {
	// The interval between each sync clock message sent to the connected
	// client.
	ClientSyncClockInterval time.Duration

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The duration of a frame.
	FrameDuration time.Duration

	// The configuration of the entity octree created with each new session.
	EntityIndex models.EntityIndexConfig

	// The radius around a moved entity within which participants receive its
	// pose updates. Participants that own no entity always receive them. Zero
	// disables the filtering.
	InterestRadius float32

	// The store that contains all the server sessions.
	Sessions *models.SessionStore

	// The module that expand the server features.
	Modules []modules.Module

	FeatureFlags featureflag.FeatureFlag

	conn               *websocket.Conn
	currentSession     *models.Session
	currentParticipant *models.Participant

	stopFrameHandling func()

	clientID string
	appKey   string
}

func (h *RealtimeHandler) HandleConnect(conn *websocket.Conn) {
	req := conn.Request()
	h.clientID = req.Header.Get(httpcmn.HeaderPosemeshClientID)
	h.appKey = httpcmn.GetAppKeyFromHagallUserToken(httpcmn.GetUserTokenFromHTTPRequest(req))

	h.conn = conn
}

func (h *RealtimeHandler) HandlePing(ctx context.Context, respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error {
	var req hagallpb.Request
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	respond.Send(&hagallpb.Response{
		Type:      hagallpb.MsgType_MSG_TYPE_PING_RESPONSE,
		Timestamp: timestamppb.Now(),
		RequestId: req.RequestId,
	})
	return nil
}

func (h *RealtimeHandler) HandleParticipantJoin(ctx context.Context, handleFrame func(), respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error {
	var req hagallpb.ParticipantJoinRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	if h.currentSession != nil && h.Sessions.GlobalSessionID(h.currentSession.ID) == req.SessionId {
		sendError(respond, req.RequestId, hagallpb.ErrorCode_ERROR_CODE_SESSION_ALREADY_JOINED)
		return nil
	}

	if h.currentParticipant != nil {
		h.leaveSession()
	}

	session, ok := h.Sessions.GetByGlobalID(req.SessionId)
	if !ok && req.SessionId != "" {
		sendError(respond, req.RequestId, hagallpb.ErrorCode_ERROR_CODE_NOT_FOUND)
		return nil
	}

	if !ok {
		var err error
		if session, err = h.newSession(ctx); err != nil {
			logs.WithClientID(h.clientID).
				WithTag(logs.AppKeyTag, h.appKey).
				Error(err)
			sendError(respond, req.RequestId, hagallpb.ErrorCode_ERROR_CODE_INTERNAL_SERVER_ERROR)
			return nil
		}
		go session.StartDispatchFrames()
	}

	participant := &models.Participant{
		ID:        session.NewParticipantID(),
		Responder: respond,
	}

	session.AddParticipant(participant)
	h.stopFrameHandling = session.HandleFrame(handleFrame)

	respond.Send(&hagallpb.ParticipantJoinResponse{
		Type:          hagallpb.MsgType_MSG_TYPE_PARTICIPANT_JOIN_RESPONSE,
		Timestamp:     timestamppb.Now(),
		RequestId:     req.RequestId,
		SessionId:     h.Sessions.GlobalSessionID(session.ID),
		SessionUuid:   session.SessionUUID,
		ParticipantId: participant.ID,
	})

	h.currentSession = session
	h.currentParticipant = participant

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableSessionState, func() {
		respond.Send(&hagallpb.SessionState{
			Type:         hagallpb.MsgType_MSG_TYPE_SESSION_STATE,
			Timestamp:    timestamppb.Now(),
			Participants: models.ParticipantsToProtobuf(session.GetParticipants()),
			Entities:     models.EntitiesToProtobuf(session.Entities()),
		})
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableParticipantJoinBroadcast, func() {
		session.Broadcast(participant, &hagallpb.ParticipantJoinBroadcast{
			Type:            hagallpb.MsgType_MSG_TYPE_PARTICIPANT_JOIN_BROADCAST,
			Timestamp:       timestamppb.Now(),
			OriginTimestamp: req.Timestamp,
			ParticipantId:   participant.ID,
		})
	})

	for _, m := range h.Modules {
		m.Init(session, participant)
	}

	return nil
}

func (h *RealtimeHandler) newSession(ctx context.Context) (*models.Session, error) {
	session, err := models.NewSession(h.Sessions.NewID(), h.FrameDuration, h.EntityIndex)
	if err != nil {
		return nil, errors.New("creating session failed").Wrap(err)
	}
	session.AppKey = h.appKey

	if err := h.Sessions.Add(ctx, session); err != nil {
		session.Close()
		return nil, errors.New("adding session failed").Wrap(err)
	}
	return session, nil
}

func (h *RealtimeHandler) HandleDisconnect(_ error) {
	if h.currentParticipant != nil {
		h.leaveSession()
	}
}

func (h *RealtimeHandler) HandleEntityAdd(ctx context.Context, respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error {
	var req hagallpb.EntityAddRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	participant := h.currentParticipant
	session := h.currentSession
	if participant == nil || session == nil {
		return errSessionNotJoined(msg)
	}

	entity := &models.Entity{
		ID:            session.NewEntityID(),
		ParticipantID: participant.ID,
		Persist:       req.Persist,
		Flag:          req.Flag,
	}
	entity.SetPose(models.PoseFromProtobuf(req.Pose))

	if err := session.AddEntity(entity); err != nil {
		logs.WithClientID(h.clientID).
			WithTag(logs.SessionIDTag, h.Sessions.GlobalSessionID(session.ID)).
			WithTag(logs.ParticipantIDTag, participant.ID).
			Debug(err)
		sendError(respond, req.RequestId, hagallpb.ErrorCode_ERROR_CODE_BAD_REQUEST)
		return nil
	}
	participant.AddEntity(entity)

	now := timestamppb.Now()

	respond.Send(&hagallpb.EntityAddResponse{
		Type:      hagallpb.MsgType_MSG_TYPE_ENTITY_ADD_RESPONSE,
		Timestamp: now,
		RequestId: req.RequestId,
		EntityId:  entity.ID,
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableEntityAddBroadcast, func() {
		session.Broadcast(participant, &hagallpb.EntityAddBroadcast{
			Type:            hagallpb.MsgType_MSG_TYPE_ENTITY_ADD_BROADCAST,
			Timestamp:       now,
			OriginTimestamp: req.Timestamp,
			Entity:          entity.ToProtobuf(),
		})
	})

	return nil
}

func (h *RealtimeHandler) HandleEntityDelete(ctx context.Context, respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error {
	var req hagallpb.EntityDeleteRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	participant := h.currentParticipant
	session := h.currentSession
	if participant == nil || session == nil {
		return errSessionNotJoined(msg)
	}

	entity, ok := session.EntityByID(req.EntityId)
	if !ok {
		sendError(respond, req.RequestId, hagallpb.ErrorCode_ERROR_CODE_NOT_FOUND)
		return nil
	}

	if entity.ParticipantID != participant.ID {
		sendError(respond, req.RequestId, hagallpb.ErrorCode_ERROR_CODE_UNAUTHORIZED)
		return nil
	}

	now := timestamppb.Now()

	session.RemoveEntity(entity)
	participant.RemoveEntity(entity)

	respond.Send(&hagallpb.EntityDeleteResponse{
		Type:      hagallpb.MsgType_MSG_TYPE_ENTITY_DELETE_RESPONSE,
		Timestamp: now,
		RequestId: req.RequestId,
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableEntityDeleteBroadcast, func() {
		session.Broadcast(participant, &hagallpb.EntityDeleteBroadcast{
			Type:            hagallpb.MsgType_MSG_TYPE_ENTITY_DELETE_BROADCAST,
			Timestamp:       now,
			OriginTimestamp: req.Timestamp,
			EntityId:        entity.ID,
		})
	})

	return nil
}

// HandleEntityUpdatePose moves an entity owned by the current participant and
// relays its new pose. Poses outside of the session universe are dropped
// without disconnecting the client.
func (h *RealtimeHandler) HandleEntityUpdatePose(ctx context.Context, msg hwebsocket.Msg) error {
	var update hagallpb.EntityUpdatePose
	if err := msg.DataTo(&update); err != nil {
		return err
	}

	participant := h.currentParticipant
	session := h.currentSession
	if participant == nil || session == nil {
		return errSessionNotJoined(msg)
	}

	entity, ok := session.EntityByID(update.EntityId)
	if !ok {
		return nil
	}

	if entity.ParticipantID != participant.ID {
		return nil
	}

	previous := entity.Position()
	if err := session.UpdateEntityPose(entity, models.PoseFromProtobuf(update.Pose)); err != nil {
		logs.WithClientID(h.clientID).
			WithTag(logs.SessionIDTag, h.Sessions.GlobalSessionID(session.ID)).
			WithTag(logs.ParticipantIDTag, participant.ID).
			Debug(err)
		return nil
	}

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableEntityUpdatePoseBroadcast, func() {
		broadcast := &hagallpb.EntityUpdatePoseBroadcast{
			Type:            hagallpb.MsgType_MSG_TYPE_ENTITY_UPDATE_POSE_BROADCAST,
			Timestamp:       timestamppb.Now(),
			OriginTimestamp: update.Timestamp,
			EntityId:        entity.ID,
			Pose:            entity.Pose().ToProtobuf(),
		}

		recipients, filtered := h.interestedParticipants(session, participant, entity, previous)
		if !filtered {
			session.Broadcast(participant, broadcast)
			return
		}
		if len(recipients) != 0 {
			session.BroadcastTo(participant, broadcast, recipients...)
		}
	})

	return nil
}

// interestedParticipants returns the participants that own an entity within
// the interest radius of the given entity, at its previous or current
// position, and the ones that own no entity. Looking at the previous position
// delivers a last update to the participants the entity moved away from.
// The returned bool is false when interest filtering is disabled.
func (h *RealtimeHandler) interestedParticipants(session *models.Session, sender *models.Participant, entity *models.Entity, previous spatial.Vec3) ([]uint32, bool) {
	if h.InterestRadius <= 0 {
		return nil, false
	}

	enabled := true
	h.FeatureFlags.IfSet(featureflag.FlagDisableInterestFiltering, func() {
		enabled = false
	})
	if !enabled {
		return nil, false
	}

	near := session.ParticipantsAround(entity, h.InterestRadius, previous, entity.Position())

	var ids []uint32
	for _, p := range session.GetParticipants() {
		if p == sender {
			continue
		}
		if _, ok := near[p.ID]; ok || p.EntityCount() == 0 {
			ids = append(ids, p.ID)
		}
	}
	instrumentInterestFiltering(h.appKey, session.ParticipantCount()-1-len(ids))
	return ids, true
}

func (h *RealtimeHandler) HandleCustomMessage(ctx context.Context, respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error {
	var customMessage hagallpb.CustomMessage
	if err := msg.DataTo(&customMessage); err != nil {
		return err
	}

	participant := h.currentParticipant
	session := h.currentSession
	if participant == nil || session == nil {
		return errSessionNotJoined(msg)
	}

	if len(customMessage.Body) > customMessageMaxSize {
		sendError(respond, 0, hagallpb.ErrorCode_ERROR_CODE_TOO_LARGE)
		return nil
	}

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableCustomMessageBroadcast, func() {
		customMessageBroadcast := hagallpb.CustomMessageBroadcast{
			Type:            hagallpb.MsgType_MSG_TYPE_CUSTOM_MESSAGE_BROADCAST,
			Timestamp:       timestamppb.Now(),
			OriginTimestamp: customMessage.Timestamp,
			ParticipantId:   participant.ID,
			Body:            customMessage.Body,
		}

		if len(customMessage.ParticipantIds) != 0 {
			session.BroadcastTo(participant, &customMessageBroadcast, customMessage.ParticipantIds...)
			return
		}

		session.Broadcast(participant, &customMessageBroadcast)
	})
	return nil
}

func (h *RealtimeHandler) HandleWithModule(ctx context.Context, m modules.Module, respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error {
	if h.CurrentParticipant() == nil || h.CurrentSession() == nil {
		return nil
	}

	err := m.HandleMsg(ctx, respond, msg)
	if errors.IsType(err, hwebsocket.ErrTypeMsgSkip) {
		return nil
	}
	if err != nil {
		return errors.New("handling message with module failed").
			WithTag("module", m.Name()).
			Wrap(err)
	}
	return nil
}

func (h *RealtimeHandler) SendSyncClock(ctx context.Context, respond hwebsocket.ResponseSender) error {
	respond.Send(&hagallpb.SyncClock{
		Type:      hagallpb.MsgType_MSG_TYPE_SYNC_CLOCK,
		Timestamp: timestamppb.Now(),
	})
	return nil
}

func (h *RealtimeHandler) Receiver() hwebsocket.Receiver {
	return func() (hwebsocket.Msg, int, error) {
		return hwebsocket.Receive(h.conn)
	}
}

func (h *RealtimeHandler) Sender() hwebsocket.Sender {
	return func(msg hwebsocket.Msg) (int, error) {
		return hwebsocket.Send(h.conn, msg)
	}
}

func (h *RealtimeHandler) Close() {
}

func (h *RealtimeHandler) SyncClockInterval() time.Duration {
	return h.ClientSyncClockInterval
}

func (h *RealtimeHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *RealtimeHandler) GetSessions() *models.SessionStore {
	return h.Sessions
}

func (h *RealtimeHandler) GetModules() []modules.Module {
	return h.Modules
}

func (h *RealtimeHandler) CurrentSession() *models.Session {
	return h.currentSession
}

func (h *RealtimeHandler) CurrentParticipant() *models.Participant {
	return h.currentParticipant
}

func (h *RealtimeHandler) GetClientID() string {
	return h.clientID
}

func (h *RealtimeHandler) leaveSession() {
	session := h.currentSession
	participant := h.currentParticipant

	if participant == nil || session == nil {
		return
	}

	for _, m := range h.Modules {
		m.HandleDisconnect()
	}

	now := timestamppb.Now()

	for _, id := range participant.EntityIDs() {
		entity, ok := session.EntityByID(id)
		if !ok || entity.Persist {
			continue
		}

		session.RemoveEntity(entity)

		h.FeatureFlags.IfNotSet(featureflag.FlagDisableEntityDeleteBroadcast, func() {
			session.Broadcast(participant, &hagallpb.EntityDeleteBroadcast{
				Type:            hagallpb.MsgType_MSG_TYPE_ENTITY_DELETE_BROADCAST,
				Timestamp:       now,
				OriginTimestamp: now,
				EntityId:        entity.ID,
			})
		})
	}

	if h.stopFrameHandling != nil {
		h.stopFrameHandling()
	}
	session.RemoveParticipant(participant)

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableParticipantLeaveBroadcast, func() {
		session.Broadcast(participant, &hagallpb.ParticipantLeaveBroadcast{
			Type:            hagallpb.MsgType_MSG_TYPE_PARTICIPANT_LEAVE_BROADCAST,
			Timestamp:       now,
			OriginTimestamp: now,
			ParticipantId:   participant.ID,
		})
	})

	if session.ParticipantCount() == 0 {
		// A background context makes sure the session is also removed from
		// the discovery service when the client context is already done.
		h.Sessions.Remove(context.Background(), session)
		session.Close()
	}

	h.currentParticipant = nil
	h.currentSession = nil
}

func sendError(respond hwebsocket.ResponseSender, requestID uint32, code hagallpb.ErrorCode) {
	respond.Send(&hagallpb.ErrorResponse{
		Type:      hagallpb.MsgType_MSG_TYPE_ERROR_RESPONSE,
		Timestamp: timestamppb.Now(),
		RequestId: requestID,
		Code:      code,
	})
}

func errSessionNotJoined(msg hwebsocket.Msg) error {
	return errors.New("session not joined").
		WithType(hwebsocket.ErrTypeSessionNotJoined).
		WithTag("msg_type", msg.Type)
}
