package handlers

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/charlesng35/parlor/internal/auth"
	"github.com/charlesng35/parlor/internal/command"
	"github.com/charlesng35/parlor/internal/idgen"
	"github.com/charlesng35/parlor/internal/models"
	"github.com/charlesng35/parlor/internal/ratelimit"
	"github.com/charlesng35/parlor/internal/services"
	"github.com/charlesng35/parlor/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type wsEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func newGatewayServer(t *testing.T) *httptest.Server {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	userSvc, err := services.NewUserService(db)
	require.NoError(t, err)

	tokenSvc, err := auth.NewTokenService(auth.TokenConfig{Secret: "test-secret"})
	require.NoError(t, err)

	ids, err := idgen.New(0)
	require.NoError(t, err)

	mgr, err := session.NewManager(session.Config{
		Store:    userSvc,
		Avatars:  services.NewAvatarService(nil),
		Tokens:   tokenSvc,
		Limiter:  ratelimit.New(100, time.Second),
		Commands: command.NewDispatcher(command.Builtin()),
		IDs:      ids,
	})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/ws", NewGatewayHandler(mgr, tokenSvc).Serve)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dialGateway(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wsEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// expectEvent reads until an event of the wanted type arrives, skipping
// interleaved presence traffic from concurrent clients.
func expectEvent(t *testing.T, conn *websocket.Conn, eventType string) wsEvent {
	t.Helper()

	for i := 0; i < 10; i++ {
		ev := readEvent(t, conn)
		if ev.Type == eventType {
			return ev
		}
	}
	t.Fatalf("event %q never arrived", eventType)
	return wsEvent{}
}

func sendFrame(t *testing.T, conn *websocket.Conn, frameType string, data any) {
	t.Helper()

	frame := map[string]any{"type": frameType}
	if data != nil {
		frame["data"] = data
	}
	require.NoError(t, conn.WriteJSON(frame))
}

func login(t *testing.T, conn *websocket.Conn, data any) session.ReadyData {
	t.Helper()

	sendFrame(t, conn, "login", data)
	ev := expectEvent(t, conn, session.EventReady)

	var ready session.ReadyData
	require.NoError(t, json.Unmarshal(ev.Data, &ready))
	return ready
}

func TestGatewayAnnouncesCommands(t *testing.T) {
	srv := newGatewayServer(t)
	conn := dialGateway(t, srv)

	ev := readEvent(t, conn)
	require.Equal(t, session.EventCommands, ev.Type)

	var commands []command.Description
	require.NoError(t, json.Unmarshal(ev.Data, &commands))
	require.Len(t, commands, 3)
	require.Equal(t, "/nick", commands[0].Trigger)
}

func TestGatewayLoginHandshake(t *testing.T) {
	srv := newGatewayServer(t)
	conn := dialGateway(t, srv)
	expectEvent(t, conn, session.EventCommands)

	sendFrame(t, conn, "login", map[string]any{})

	// A connection sees its own join before the ready reply.
	join := expectEvent(t, conn, session.EventJoin)
	var joined session.Profile
	require.NoError(t, json.Unmarshal(join.Data, &joined))
	require.Regexp(t, `^guest-[0-9a-f]{4}$`, joined.Name)

	ev := expectEvent(t, conn, session.EventReady)
	var ready session.ReadyData
	require.NoError(t, json.Unmarshal(ev.Data, &ready))
	require.Equal(t, joined.ID, ready.User.ID)
	require.NotEmpty(t, ready.Token)
	require.NotEmpty(t, ready.User.AvatarURL)
	require.Len(t, ready.Members, 1)
}

func TestGatewayPresenceAndMessageFanout(t *testing.T) {
	srv := newGatewayServer(t)

	conn1 := dialGateway(t, srv)
	expectEvent(t, conn1, session.EventCommands)
	login(t, conn1, map[string]any{"name": "Alice"})

	conn2 := dialGateway(t, srv)
	expectEvent(t, conn2, session.EventCommands)
	ready2 := login(t, conn2, map[string]any{"name": "Bob"})
	require.Len(t, ready2.Members, 2)

	// The first client observes the second joining.
	join := expectEvent(t, conn1, session.EventJoin)
	var joined session.Profile
	require.NoError(t, json.Unmarshal(join.Data, &joined))
	require.Equal(t, "Bob", joined.Name)

	sendFrame(t, conn2, "message", map[string]any{"message": "hi <Alice> & co"})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		ev := expectEvent(t, conn, session.EventMessage)
		var msg session.MessageData
		require.NoError(t, json.Unmarshal(ev.Data, &msg))
		require.Equal(t, ready2.User.ID, msg.User)
		require.Equal(t, "hi &lt;Alice&gt; &amp; co", msg.Content)
		require.Equal(t, []string{}, msg.Mentions)
	}
}

func TestGatewayMentionsInFanout(t *testing.T) {
	srv := newGatewayServer(t)

	conn1 := dialGateway(t, srv)
	expectEvent(t, conn1, session.EventCommands)
	ready1 := login(t, conn1, map[string]any{"name": "Alice"})

	conn2 := dialGateway(t, srv)
	expectEvent(t, conn2, session.EventCommands)
	login(t, conn2, map[string]any{"name": "Bob"})

	sendFrame(t, conn2, "message", map[string]any{"message": "ping @Alice"})

	ev := expectEvent(t, conn1, session.EventMessage)
	var msg session.MessageData
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	require.Equal(t, []string{ready1.User.ID}, msg.Mentions)
}

func TestGatewayTypingFanout(t *testing.T) {
	srv := newGatewayServer(t)

	conn1 := dialGateway(t, srv)
	expectEvent(t, conn1, session.EventCommands)
	login(t, conn1, map[string]any{"name": "Alice"})

	conn2 := dialGateway(t, srv)
	expectEvent(t, conn2, session.EventCommands)
	ready2 := login(t, conn2, map[string]any{"name": "Bob"})

	sendFrame(t, conn2, "typing", nil)

	ev := expectEvent(t, conn1, session.EventTyping)
	var typing session.TypingData
	require.NoError(t, json.Unmarshal(ev.Data, &typing))
	require.Equal(t, ready2.User.ID, typing.ID)
	require.Equal(t, "Bob", typing.Name)
}

func TestGatewayLeaveOnDisconnect(t *testing.T) {
	srv := newGatewayServer(t)

	conn1 := dialGateway(t, srv)
	expectEvent(t, conn1, session.EventCommands)
	login(t, conn1, map[string]any{"name": "Alice"})

	conn2 := dialGateway(t, srv)
	expectEvent(t, conn2, session.EventCommands)
	ready2 := login(t, conn2, map[string]any{"name": "Bob"})

	expectEvent(t, conn1, session.EventJoin)
	require.NoError(t, conn2.Close())

	leave := expectEvent(t, conn1, session.EventLeave)
	var left session.Profile
	require.NoError(t, json.Unmarshal(leave.Data, &left))
	require.Equal(t, ready2.User.ID, left.ID)
}

func TestGatewayResumeWithToken(t *testing.T) {
	srv := newGatewayServer(t)

	conn1 := dialGateway(t, srv)
	expectEvent(t, conn1, session.EventCommands)
	ready1 := login(t, conn1, map[string]any{"name": "Alice"})
	require.NoError(t, conn1.Close())

	// Reconnecting with the issued token resumes the same identity with its
	// persisted name.
	conn2 := dialGateway(t, srv)
	expectEvent(t, conn2, session.EventCommands)
	ready2 := login(t, conn2, map[string]any{"token": ready1.Token})

	require.Equal(t, ready1.User.ID, ready2.User.ID)
	require.Equal(t, "Alice", ready2.User.Name)
}

func TestGatewayCommandNotBroadcast(t *testing.T) {
	srv := newGatewayServer(t)

	conn := dialGateway(t, srv)
	expectEvent(t, conn, session.EventCommands)
	ready := login(t, conn, map[string]any{"name": "Alice"})

	sendFrame(t, conn, "message", map[string]any{"message": "/me waves"})

	ev := expectEvent(t, conn, session.EventMessage)
	var msg session.MessageData
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	require.Equal(t, ready.User.ID, msg.User)
	require.Equal(t, "* Alice waves", msg.Content)
}

func TestGatewayIgnoresMalformedFrames(t *testing.T) {
	srv := newGatewayServer(t)

	conn := dialGateway(t, srv)
	expectEvent(t, conn, session.EventCommands)
	login(t, conn, map[string]any{"name": "Alice"})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	sendFrame(t, conn, "bogus-type", map[string]any{"x": 1})

	// The connection is still serviced afterwards.
	sendFrame(t, conn, "message", map[string]any{"message": "still alive"})
	ev := expectEvent(t, conn, session.EventMessage)
	var msg session.MessageData
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	require.Equal(t, "still alive", msg.Content)
}
