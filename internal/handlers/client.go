package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/parlor/internal/auth"
	"github.com/charlesng35/parlor/internal/session"
	"github.com/charlesng35/parlor/pkg/metrics"
	"github.com/charlesng35/parlor/pkg/validator"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 64 << 10 // 64 KiB

	sendBufferSize = 64
)

// Inbound frame names accepted from clients.
const (
	frameLogin   = "login"
	frameTyping  = "typing"
	frameMessage = "message"
)

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type messagePayload struct {
	Message string `json:"message"`
}

// client is one websocket connection. It satisfies session.Conn: the manager
// addresses it by Key and pushes events through Send, while the read and
// write pumps shuttle frames to and from the socket.
type client struct {
	key    string
	socket *websocket.Conn
	mgr    *session.Manager
	tokens *auth.TokenService
	send   chan session.Event
	done   chan struct{}
	once   sync.Once
	log    *zap.Logger

	loggedIn bool // only touched from the read pump
}

func newClient(socket *websocket.Conn, mgr *session.Manager, tokens *auth.TokenService, log *zap.Logger) *client {
	key := uuid.NewString()
	return &client{
		key:    key,
		socket: socket,
		mgr:    mgr,
		tokens: tokens,
		send:   make(chan session.Event, sendBufferSize),
		done:   make(chan struct{}),
		log:    log.With(zap.String("conn", key)),
	}
}

// Key returns the stable opaque key for this connection.
func (c *client) Key() string { return c.key }

// Send enqueues an event for delivery. Delivery to a connection that is
// already closing is skipped, and a connection whose buffer is full is
// dropped rather than allowed to stall broadcast fan-out for everyone else.
func (c *client) Send(ev session.Event) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- ev:
	default:
		c.log.Warn("dropping backpressured connection")
		c.close()
	}
}

func (c *client) readLoop(ctx context.Context) {
	defer c.close()

	c.socket.SetReadLimit(maxFrameSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Debug("unexpected close", zap.Error(err))
			}
			return
		}

		if len(payload) == 0 {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.log.Debug("discarding malformed frame", zap.Error(err))
			continue
		}

		switch frame.Type {
		case frameLogin:
			if err := c.handleLogin(ctx, frame.Data); err != nil {
				// A usable identity could not be constructed; the
				// connection stays unpromoted and is dropped.
				c.log.Warn("login failed", zap.Error(err))
				return
			}
		case frameTyping:
			c.mgr.OnTyping(c)
		case frameMessage:
			var msg messagePayload
			if err := json.Unmarshal(frame.Data, &msg); err != nil {
				c.log.Debug("discarding malformed message payload", zap.Error(err))
				continue
			}
			c.mgr.OnMessage(ctx, c, msg.Message)
		default:
			c.log.Debug("unsupported frame", zap.String("type", frame.Type))
		}
	}
}

// handleLogin drives the authentication handshake and replies with the
// unicast ready event. Malformed login payloads degrade to an anonymous
// request; only collaborator failures propagate.
func (c *client) handleLogin(ctx context.Context, data json.RawMessage) error {
	if c.loggedIn {
		return nil
	}

	var req session.AuthRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			c.log.Debug("malformed login payload, continuing as anonymous", zap.Error(err))
			req = session.AuthRequest{}
		}
	}
	if err := validator.ValidateStruct(&req); err != nil {
		// Oversized name override; drop it and keep the rest of the request.
		c.log.Debug("invalid login payload fields ignored", zap.Error(err))
		req.Name = ""
	}

	ident, _, err := c.mgr.RegisterConnection(ctx, c, req)
	if err != nil {
		return err
	}

	// Teardown can win the race while registration awaits the store; once
	// close has run, this connection must never stay registered.
	select {
	case <-c.done:
		c.mgr.UnregisterConnection(c)
		return nil
	default:
	}
	c.loggedIn = true

	token, err := c.tokens.Issue(ident.ID)
	if err != nil {
		// The session is live either way; the client just cannot resume it.
		c.log.Warn("failed to issue session token", zap.Error(err))
	}

	c.Send(session.Event{Type: session.EventReady, Data: session.ReadyData{
		User:    ident.Profile(),
		Members: c.mgr.Members(),
		Token:   token,
	}})
	return nil
}

func (c *client) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		c.mgr.UnregisterConnection(c)
		close(c.done)
		_ = c.socket.Close()
		metrics.ConnectionsActive.Dec()
	})
}
