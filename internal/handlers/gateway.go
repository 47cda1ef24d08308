package handlers

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/parlor/internal/auth"
	"github.com/charlesng35/parlor/internal/session"
	"github.com/charlesng35/parlor/pkg/logger"
	"github.com/charlesng35/parlor/pkg/metrics"
)

// GatewayHandler upgrades HTTP requests into chat gateway connections.
// Authentication happens in-band: a fresh socket is anonymous until it sends
// a login frame, and it occupies no registry state before then.
type GatewayHandler struct {
	mgr      *session.Manager
	tokens   *auth.TokenService
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewGatewayHandler constructs the websocket entry point.
func NewGatewayHandler(mgr *session.Manager, tokens *auth.TokenService) *GatewayHandler {
	return &GatewayHandler{
		mgr:    mgr,
		tokens: tokens,
		log:    logger.WithModule("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// Serve upgrades the request and runs the connection pumps. The available
// command table is announced immediately so clients can discover it before
// logging in.
func (h *GatewayHandler) Serve(c *gin.Context) {
	socket, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	metrics.ConnectionsActive.Inc()

	client := newClient(socket, h.mgr, h.tokens, h.log)
	client.Send(session.Event{Type: session.EventCommands, Data: h.mgr.CommandList()})

	go client.writeLoop()
	client.readLoop(c.Request.Context())
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
