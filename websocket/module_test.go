package websocket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/hagall-common/messages/hagallpb"
	"github.com/aukilabs/hagall-common/scenario"
	hwebsocket "github.com/aukilabs/hagall-common/websocket"
	"github.com/aukilabs/hagall-spatial/models"
	"github.com/aukilabs/hagall-spatial/modules"
	"github.com/aukilabs/hagall-spatial/spatial"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// recordingModule skips entity additions and, on custom messages, records
// what the session entity octree holds around the origin.
type recordingModule struct {
	session      *models.Session
	participant  *models.Participant
	handled      []protoreflect.Enum
	skipped      []protoreflect.Enum
	indexed      int
	nearOrigin   int
	onDisconnect func()
}

func (m *recordingModule) Name() string {
	return "recording"
}

func (m *recordingModule) Init(s *models.Session, p *models.Participant) {
	m.session = s
	m.participant = p
}

func (m *recordingModule) HandleMsg(ctx context.Context, sender hwebsocket.ResponseSender, msg hwebsocket.Msg) error {
	switch msg.Type {
	case hagallpb.MsgType_MSG_TYPE_ENTITY_ADD_REQUEST:
		m.skipped = append(m.skipped, msg.Type)
		return hwebsocket.ErrModuleMsgSkip

	case hagallpb.MsgType_MSG_TYPE_CUSTOM_MESSAGE:
		m.session.ReadEntityIndex(func(v spatial.View[spatial.Vec3, *models.Entity]) {
			m.indexed = v.Count()
		})
		m.nearOrigin = len(m.session.EntitiesInRadius(spatial.Vec3{}, 2))
	}

	m.handled = append(m.handled, msg.Type)
	return nil
}

func (m *recordingModule) HandleDisconnect() {
	if m.onDisconnect != nil {
		m.onDisconnect()
	}
}

func TestModule(t *testing.T) {
	var wg sync.WaitGroup
	var mod *recordingModule

	clientA, _, close := NewTestingEnv(t, newTestHandler(func() modules.Module {
		if mod == nil {
			wg.Add(1)
			mod = &recordingModule{
				onDisconnect: wg.Done,
			}
		}
		return mod
	}))
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	joinSession(t, ctx, clientA, 1, "")
	addEntity(t, ctx, clientA, 2, models.Pose{PX: 1})
	addEntity(t, ctx, clientA, 3, models.Pose{PX: 30})

	err := scenario.NewScenario(clientA).
		Send(customMessage("index")).
		Send(func() hwebsocket.ProtoMsg {
			return &hagallpb.Request{
				Type:      hagallpb.MsgType_MSG_TYPE_PING_REQUEST,
				Timestamp: timestamppb.Now(),
				RequestId: 4,
			}
		}).
		Receive(
			scenario.FilterByType(hagallpb.MsgType_MSG_TYPE_PING_RESPONSE),
			scenario.FilterByRequestID(4),
		).
		Run(ctx)
	require.NoError(t, err)

	clientA.Close()

	wg.Wait()
	require.NotNil(t, mod.session)
	require.NotNil(t, mod.participant)
	require.Equal(t, []protoreflect.Enum{
		hagallpb.MsgType_MSG_TYPE_PARTICIPANT_JOIN_REQUEST,
		hagallpb.MsgType_MSG_TYPE_CUSTOM_MESSAGE,
		hagallpb.MsgType_MSG_TYPE_PING_REQUEST,
	}, mod.handled)
	require.Len(t, mod.skipped, 2)
	require.Equal(t, hagallpb.MsgType_MSG_TYPE_ENTITY_ADD_REQUEST, mod.skipped[0])

	// Entities are indexed by the realtime handler before modules see the
	// request.
	require.Equal(t, 2, mod.indexed)
	require.Equal(t, 1, mod.nearOrigin)
}
