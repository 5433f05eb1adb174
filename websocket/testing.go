package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	httpcmn "github.com/aukilabs/hagall-common/http"
	hwebsocket "github.com/aukilabs/hagall-common/websocket"
	"github.com/aukilabs/hagall-spatial/models"
	"github.com/aukilabs/hagall-spatial/modules"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// NewTestingEnv creates a testing environment with two connected clients to
// unit test handlers and modules.
func NewTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, *websocket.Conn, func()) {
	clients, close := NewTestingEnvN(t, 2, newHandler)
	return clients[0], clients[1], close
}

// NewTestingEnvN creates a testing environment with n connected clients.
func NewTestingEnvN(t *testing.T, n int, newHandler func() Handler) ([]*websocket.Conn, func()) {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	clients, close := newTestingEnv(t, n, newHandler)
	return clients, func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
		close()
	}
}

func newTestingEnv(t *testing.T, n int, newHandler func() Handler) ([]*websocket.Conn, func()) {
	server := httptest.NewServer(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			handler := newHandler()
			defer handler.Close()

			Handle(context.Background(), conn, handler)
		},
	})

	newConn := func() *websocket.Conn {
		config, err := websocket.NewConfig(
			strings.ReplaceAll(server.URL, "http://", "ws://"),
			"http://localhost",
		)
		if err != nil {
			t.Fatalf("error initializing web socket: %s", err)
		}

		config.Header.Set("User-Agent", "ted")
		config.Header.Set("X-Forwarded-for", "192.0.0.0")
		config.Header.Set(httpcmn.HeaderPosemeshClientID, uuid.NewString())

		conn, err := websocket.DialConfig(config)
		if err != nil {
			t.Fatalf("error dialing web socket: %s", err)
		}
		return conn
	}

	clients := make([]*websocket.Conn, n)
	for i := range clients {
		clients[i] = newConn()
	}

	return clients, func() {
		for _, c := range clients {
			c.Close()
		}
		server.Close()
	}
}

type TestResponseSender struct {
	send    func(hwebsocket.ProtoMsg)
	sendMsg func(hwebsocket.Msg)
}

func (s TestResponseSender) Send(msg hwebsocket.ProtoMsg) {
	if s.send != nil {
		s.send(msg)
	}
}

func (s TestResponseSender) SendMsg(msg hwebsocket.Msg) {
	if s.sendMsg != nil {
		s.sendMsg(msg)
	}
}

// Entity index used by the test handlers: a 200m cube with 0.5m entities.
var testEntityIndex = models.EntityIndexConfig{
	UniverseExtent:       100,
	SubdivisionThreshold: 1,
	EntityExtent:         0.5,
}

func newTestHandler(newModule ...func() modules.Module) func() Handler {
	return newTestHandlerWith(nil, newModule...)
}

// newTestHandlerWith creates handlers sharing a session store. configure, when
// not nil, is called on each realtime handler before it is decorated.
func newTestHandlerWith(configure func(*RealtimeHandler), newModule ...func() modules.Module) func() Handler {
	sessionStore := &models.SessionStore{
		DiscoveryService: models.StaticServerID("ted"),
	}

	return func() Handler {
		modules := make([]modules.Module, len(newModule))
		for i, nm := range newModule {
			modules[i] = nm()
		}

		rh := &RealtimeHandler{
			ClientSyncClockInterval: time.Millisecond * 250,
			ClientIdleTimeout:       time.Minute,
			FrameDuration:           time.Millisecond * 50,
			EntityIndex:             testEntityIndex,
			Sessions:                sessionStore,
			Modules:                 modules,
		}
		if configure != nil {
			configure(rh)
		}

		var h Handler = rh
		h = HandlerWithLogs(h, time.Millisecond*100)
		h = HandlerWithMetrics(h, "https://auki-test.com")
		return h
	}
}
