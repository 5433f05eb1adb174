package dagaz

import (
	"context"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/hagall-common/messages/dagazpb"
	hwebsocket "github.com/aukilabs/hagall-common/websocket"
	"github.com/aukilabs/hagall-spatial/models"
	"github.com/chewxy/math32"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	defaultUniverseExtent       = 1024
	defaultSubdivisionThreshold = 1
)

// State is the dagaz state shared by the participants of a session.
type State struct {
	mutex            sync.Mutex
	SpatialPartition SpatialPartition
}

// DebugInfo returns the shape of the ground plane partition.
func (s *State) DebugInfo() SpatialDebugInfo {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.SpatialPartition.GetDebugInfo()
}

type Module struct {
	// The half extent of the cube centered on the session origin where quads
	// can be sampled.
	UniverseExtent float32

	// The half extent under which octree cells are not split anymore.
	SubdivisionThreshold float32

	currentSession     *models.Session
	currentParticipant *models.Participant
	state              *State
}

func (m *Module) Name() string {
	return "dagaz"
}

func (m *Module) Init(s *models.Session, p *models.Participant) {
	m.currentSession = s
	m.currentParticipant = p

	state, ok := s.ModuleState(m.Name())
	if !ok {
		state = &State{SpatialPartition: m.newSpatialPartition()}
		s.SetModuleState(m.Name(), state)
	}
	m.state = state.(*State)
}

func (m *Module) newSpatialPartition() SpatialPartition {
	universeExtent := m.UniverseExtent
	if universeExtent == 0 {
		universeExtent = defaultUniverseExtent
	}

	threshold := m.SubdivisionThreshold
	if threshold == 0 {
		threshold = defaultSubdivisionThreshold
	}

	partition, err := NewOctreePartition(universeExtent, threshold)
	if err != nil {
		logs.WithTag("universe_extent", universeExtent).
			WithTag("subdivision_threshold", threshold).
			Warn(errors.New("using default dagaz octree").Wrap(err))

		partition, err = NewOctreePartition(defaultUniverseExtent, defaultSubdivisionThreshold)
		if err != nil {
			logs.WithTag("universe_extent", defaultUniverseExtent).
				WithTag("subdivision_threshold", defaultSubdivisionThreshold).
				Error(errors.New("creating default dagaz octree failed").Wrap(err))
		}
	}
	return partition
}

func (m *Module) HandleMsg(ctx context.Context, respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error {
	var err error

	switch dagazpb.MsgType(msg.Type.Number()) {
	case dagazpb.MsgType_MSG_TYPE_DAGAZ_QUAD_SAMPLE:
		err = m.HandleDagazQuadSample(ctx, msg)

	case dagazpb.MsgType_MSG_TYPE_DAGAZ_GET_GROUND_PLANE_REQUEST:
		err = m.HandleDagazGetGroundPlane(ctx, respond, msg)

	case dagazpb.MsgType_MSG_TYPE_DAGAZ_GET_REGION_REQUEST:
		err = m.HandleDagazGetRegion(ctx, respond, msg)

	case dagazpb.MsgType_MSG_TYPE_DAGAZ_GET_DEBUG_INFO_REQUEST:
		err = m.HandleDagazGetDebugInfo(ctx, respond, msg)
	}

	return err
}

func (m *Module) HandleDisconnect() {
}

func (m *Module) HandleDagazQuadSample(ctx context.Context, msg hwebsocket.Msg) error {
	var newQuadSample dagazpb.DagazQuadSample
	if err := msg.DataTo(&newQuadSample); err != nil {
		return err
	}

	session := m.currentSession
	if session == nil {
		return errors.New("session not joined").
			WithType(hwebsocket.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	m.state.mutex.Lock()
	defer m.state.mutex.Unlock()

	for _, newQuad := range newQuadSample.Samples {
		quad := NewQuadFromProtobuf(newQuad)

		merged, err := m.state.SpatialPartition.InsertQuad(quad)
		if err != nil {
			// A bad sample is dropped without disconnecting the client.
			logs.WithTag(logs.SessionIDTag, session.ID).
				WithTag(logs.ParticipantIDTag, m.currentParticipant.ID).
				WithTag("center", quad.Center).
				WithTag("extents", quad.Extents).
				Warn(errors.New("rejecting dagaz quad").Wrap(err))
			instrumentRejectedQuad(session.AppKey, err)
			continue
		}

		instrumentQuad(session.AppKey, merged)
	}

	return nil
}

func (m *Module) HandleDagazGetGroundPlane(ctx context.Context, respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error {
	var req dagazpb.DagazGetGroundPlaneRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session := m.currentSession
	if session == nil {
		return errors.New("session not joined").
			WithType(hwebsocket.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	ray := NewRayFromProtobuf(req.Ray)

	m.state.mutex.Lock()
	var ground Quad
	if quadHit, _ := m.state.SpatialPartition.IntersectQuad(ray); quadHit != nil {
		ground = *quadHit
	}
	m.state.mutex.Unlock()

	// A zero quad is sent when nothing is hit.
	respond.Send(&dagazpb.DagazGetGroundPlaneResponse{
		Type:      dagazpb.MsgType_MSG_TYPE_DAGAZ_GET_GROUND_PLANE_RESPONSE,
		Timestamp: timestamppb.Now(),
		RequestId: req.RequestId,
		Ground:    ground.ToProtobuf(),
	})
	return nil
}

func (m *Module) HandleDagazGetRegion(ctx context.Context, respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error {
	var req dagazpb.DagazGetRegionRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session := m.currentSession
	if session == nil {
		return errors.New("session not joined").
			WithType(hwebsocket.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	m.state.mutex.Lock()
	regionQuads := m.state.SpatialPartition.GetRegion(Vec3FromProtobuf(req.Min), Vec3FromProtobuf(req.Max))
	m.state.mutex.Unlock()

	regionQuadsProtobuf := make([]*dagazpb.Quad, len(regionQuads))
	for i := range regionQuads {
		regionQuadsProtobuf[i] = regionQuads[i].ToProtobuf()
	}

	respond.Send(&dagazpb.DagazGetRegionResponse{
		Type:      dagazpb.MsgType_MSG_TYPE_DAGAZ_GET_REGION_RESPONSE,
		Timestamp: timestamppb.Now(),
		RequestId: req.RequestId,
		Quads:     regionQuadsProtobuf,
	})
	return nil
}

func (m *Module) HandleDagazGetDebugInfo(ctx context.Context, respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error {
	var req dagazpb.DagazGetDebugInfoRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session := m.currentSession
	if session == nil {
		return errors.New("session not joined").
			WithType(hwebsocket.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	debugInfo := m.state.DebugInfo()

	// Grid fields describe the octree: rows are tree levels and columns are
	// the children of a cell.
	respond.Send(&dagazpb.DagazGetDebugInfoResponse{
		Type:           dagazpb.MsgType_MSG_TYPE_DAGAZ_GET_DEBUG_INFO_RESPONSE,
		Timestamp:      timestamppb.Now(),
		RequestId:      req.RequestId,
		GridResolution: uint32(math32.Ceil(debugInfo.Resolution)),
		GridRowCount:   debugInfo.LevelCount,
		GridColCount:   debugInfo.Fanout,
		GridPlaneCount: debugInfo.PlaneCount,
		GridMergeCount: debugInfo.MergeCount,
		GridMinPoint:   Vec3ToProtobuf(debugInfo.MinPoint),
		GridMaxPoint:   Vec3ToProtobuf(debugInfo.MaxPoint),
		Occupancy:      debugInfo.Occupancy,
	})
	return nil
}
