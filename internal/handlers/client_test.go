package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/parlor/internal/auth"
	"github.com/charlesng35/parlor/internal/idgen"
	"github.com/charlesng35/parlor/internal/models"
	"github.com/charlesng35/parlor/internal/ratelimit"
	"github.com/charlesng35/parlor/internal/session"
	apperrors "github.com/charlesng35/parlor/pkg/errors"
	"github.com/charlesng35/parlor/pkg/logger"
)

// blockingStore parks FindByID until released so tests can interleave
// teardown with an in-flight registration.
type blockingStore struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) FindByID(_ context.Context, _ string) (*models.User, error) {
	close(s.entered)
	<-s.release
	return nil, apperrors.ErrNotFound.WithInternal(errors.New("record not found"))
}

func (s *blockingStore) Save(_ context.Context, _ *models.User) error { return nil }

type staticAvatars struct{}

func (staticAvatars) Assign() string { return "/avatars/test.png" }

// newServerSocket returns the server side of a live websocket pair.
func newServerSocket(t *testing.T) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			conns <- nil
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })

	conn := <-conns
	require.NotNil(t, conn)
	return conn
}

func TestLoginRacingTeardownDoesNotLeakPresence(t *testing.T) {
	store := &blockingStore{entered: make(chan struct{}), release: make(chan struct{})}

	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: "test-secret"})
	require.NoError(t, err)
	ids, err := idgen.New(0)
	require.NoError(t, err)

	mgr, err := session.NewManager(session.Config{
		Store:   store,
		Avatars: staticAvatars{},
		Tokens:  tokens,
		Limiter: ratelimit.New(5, time.Second),
		IDs:     ids,
	})
	require.NoError(t, err)

	c := newClient(newServerSocket(t), mgr, tokens, logger.WithModule("test"))

	// Tear the connection down while registration is parked on the store,
	// then let registration finish against an already-dead connection.
	torn := make(chan struct{})
	go func() {
		defer close(torn)
		<-store.entered
		c.close()
		close(store.release)
	}()

	require.NoError(t, c.handleLogin(context.Background(), nil))
	<-torn

	// The late registration must not leave a ghost identity behind.
	require.Empty(t, mgr.Members())
	require.NotPanics(t, c.close)
}
