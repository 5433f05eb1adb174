package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/hagall-common/messages/hagallpb"
	hwebsocket "github.com/aukilabs/hagall-common/websocket"
	"github.com/aukilabs/hagall-spatial/models"
	"github.com/aukilabs/hagall-spatial/modules"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize = 512
)

// Handler represents a realtime spatial handler.
type Handler interface {
	// Handles a ping request.
	HandlePing(ctx context.Context, respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error

	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a request to join a session.
	HandleParticipantJoin(ctx context.Context, handleFrame func(), sender hwebsocket.ResponseSender, msg hwebsocket.Msg) error

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Handles a request to create an entity. The entity is indexed in the
	// session octree at its initial pose.
	HandleEntityAdd(ctx context.Context, respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error

	// Handles a request to delete an entity.
	HandleEntityDelete(ctx context.Context, respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error

	// Handles an entity pose update.
	HandleEntityUpdatePose(ctx context.Context, msg hwebsocket.Msg) error

	// Handles a custom message.
	HandleCustomMessage(ctx context.Context, respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error

	// Handle a message with a module.
	HandleWithModule(ctx context.Context, module modules.Module, respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error

	// Sends a sync clock message to the client.
	SendSyncClock(ctx context.Context, send hwebsocket.ResponseSender) error

	// Creates a message receiver used to receive incoming messages.
	Receiver() hwebsocket.Receiver

	// Creates a message sender passed in service methods in order to send
	// messages.
	Sender() hwebsocket.Sender

	// Closes the service and releases its allocated resources.
	Close()

	// The interval between each sync clock message sent to the connected
	// client.
	SyncClockInterval() time.Duration

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// Returns the session store.
	GetSessions() *models.SessionStore

	// Returns the modules.
	GetModules() []modules.Module

	// The currently joined session.
	CurrentSession() *models.Session

	// The current participant.
	CurrentParticipant() *models.Participant

	// Get ClientID
	GetClientID() string
}

// Handle runs the connection loop of the given handler until the client
// disconnects or ctx is canceled.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	c := connection{
		conn:    conn,
		handler: h,
	}
	c.run(ctx)
}

type connection struct {
	conn    *websocket.Conn
	handler Handler

	outbox     chan hwebsocket.Msg
	dispatcher hwebsocket.Dispatcher
	consumer   hwebsocket.Consumer
	disconnect chan error
}

func (c *connection) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.handler.HandleConnect(c.conn)

	c.disconnect = make(chan error, 8)
	defer drain(c.disconnect)

	c.outbox = make(chan hwebsocket.Msg, sendChanSize)

	scheduler := hwebsocket.NewScheduler()
	c.dispatcher = scheduler
	c.consumer = scheduler
	defer scheduler.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.sendLoop(ctx, c.handler.Sender())
	}()
	go func() {
		defer wg.Done()
		c.receiveLoop(ctx, c.handler.Receiver())
	}()

	idleTimeout := c.handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	syncClockTicker := time.NewTicker(c.handler.SyncClockInterval())
	defer syncClockTicker.Stop()

	respond := responseSender{conn: c}

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			c.close(ctx.Err())

		case <-idleTimer.C:
			c.close(errors.New("idle connection").WithTag("duration", idleTimeout))

		case <-syncClockTicker.C:
			if err := c.handler.SendSyncClock(ctx, respond); err != nil {
				c.close(errors.New("sending sync clock failed").Wrap(err))
			}

		case msg := <-c.consumer.Messages():
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := c.handleMessage(ctx, respond, msg); err != nil {
				c.close(errors.New("handling message failed").Wrap(err))
			}

		case err := <-c.disconnect:
			c.conn.Close()
			c.handler.HandleDisconnect(err)
			cancel()
		}
	}

	wg.Wait()
}

func (c *connection) sendLoop(ctx context.Context, send hwebsocket.Sender) {
	defer drain(c.outbox)

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-c.outbox:
			if _, err := send(msg); err != nil {
				c.close(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (c *connection) receiveLoop(ctx context.Context, receive hwebsocket.Receiver) {
	for ctx.Err() == nil {
		msg, _, err := receive()
		if err != nil {
			c.close(errors.New("receiving message failed").Wrap(err))
			return
		}

		if err = c.dispatcher.Dispatch(ctx, msg); err != nil {
			c.close(errors.New("dispatching message failed").Wrap(err))
			return
		}
	}
}

func (c *connection) handleMessage(ctx context.Context, respond hwebsocket.ResponseSender, msg hwebsocket.Msg) error {
	var err error

	switch msg.Type {
	case hagallpb.MsgType_MSG_TYPE_PING_REQUEST:
		err = c.handler.HandlePing(ctx, respond, msg)

	case hagallpb.MsgType_MSG_TYPE_PARTICIPANT_JOIN_REQUEST:
		err = c.handler.HandleParticipantJoin(ctx, c.dispatcher.HandleFrame, respond, msg)

	case hagallpb.MsgType_MSG_TYPE_ENTITY_ADD_REQUEST:
		err = c.handler.HandleEntityAdd(ctx, respond, msg)

	case hagallpb.MsgType_MSG_TYPE_ENTITY_DELETE_REQUEST:
		err = c.handler.HandleEntityDelete(ctx, respond, msg)

	case hagallpb.MsgType_MSG_TYPE_ENTITY_UPDATE_POSE:
		err = c.handler.HandleEntityUpdatePose(ctx, msg)

	case hagallpb.MsgType_MSG_TYPE_CUSTOM_MESSAGE:
		err = c.handler.HandleCustomMessage(ctx, respond, msg)
	}
	if err != nil {
		return err
	}

	if c.handler.CurrentParticipant() == nil || c.handler.CurrentSession() == nil {
		return nil
	}

	for _, m := range c.handler.GetModules() {
		if err = c.handler.HandleWithModule(ctx, m, respond, msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *connection) close(err error) {
	c.disconnect <- err
}

func drain[T any](ch chan T) {
	for len(ch) != 0 {
		<-ch
	}
}

// responseSender queues messages on the connection outbox.
type responseSender struct {
	conn *connection
}

func (r responseSender) Send(protoMsg hwebsocket.ProtoMsg) {
	msg, err := hwebsocket.MsgFromProto(protoMsg)
	if err != nil {
		logs.WithTag("message", protoMsg).
			WithClientID(r.conn.handler.GetClientID()).
			Debug(err)
		return
	}
	r.conn.outbox <- msg
}

func (r responseSender) SendMsg(msg hwebsocket.Msg) {
	r.conn.outbox <- msg
}
