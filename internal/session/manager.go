package session

import (
	"context"
	"errors"
	"html"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/charlesng35/parlor/internal/command"
	"github.com/charlesng35/parlor/internal/embed"
	"github.com/charlesng35/parlor/internal/idgen"
	"github.com/charlesng35/parlor/internal/mention"
	"github.com/charlesng35/parlor/internal/models"
	"github.com/charlesng35/parlor/internal/ratelimit"
	apperrors "github.com/charlesng35/parlor/pkg/errors"
	"github.com/charlesng35/parlor/pkg/logger"
	"github.com/charlesng35/parlor/pkg/metrics"
)

// MaxMessageLength bounds broadcast message content in runes. Longer input is
// truncated without error.
const MaxMessageLength = 256

// Conn is one live physical transport stream. Send must never block; a
// connection that cannot keep up drops itself rather than stalling fan-out.
type Conn interface {
	// Key returns a stable opaque key for this connection, used for rate
	// limiting and guest-name derivation.
	Key() string
	Send(Event)
}

// Store is the keyed record store backing identities. Lookup misses report
// apperrors.ErrNotFound.
type Store interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	Save(ctx context.Context, user *models.User) error
}

// AvatarSource assigns avatar references to fresh identities.
type AvatarSource interface {
	Assign() string
}

// TokenVerifier resolves a prior identity id from a presented token.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// AuthRequest is the login payload presented on a new connection.
type AuthRequest struct {
	Token string `json:"token,omitempty"`
	Name  string `json:"name,omitempty" validate:"omitempty,max=64"`
	Bot   bool   `json:"bot,omitempty"`
}

// Config bundles the collaborators a Manager needs. All services are passed
// explicitly; the manager holds no ambient state.
type Config struct {
	Store    Store
	Avatars  AvatarSource
	Tokens   TokenVerifier
	Limiter  *ratelimit.Limiter
	Commands *command.Dispatcher
	IDs      *idgen.Generator
	Clock    func() time.Time
}

// Manager owns the authoritative registry of connected identities and drives
// the login handshake, presence fan-out, and the message pipeline.
//
// Two mappings are kept consistent under one mutex: identity id to Identity
// (the present set) and connection to Identity (reverse lookup for
// teardown). The "last connection removed means leave" decision is taken
// while still holding the lock so two racing disconnects cannot both observe
// "not last".
type Manager struct {
	mu         sync.Mutex
	identities map[string]*Identity
	conns      map[Conn]*Identity

	store    Store
	avatars  AvatarSource
	tokens   TokenVerifier
	limiter  *ratelimit.Limiter
	commands *command.Dispatcher
	ids      *idgen.Generator
	now      func() time.Time
	log      *zap.Logger
}

// NewManager constructs a Manager once all collaborators are supplied.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if cfg.Avatars == nil {
		return nil, errors.New("session: avatar source is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("session: token verifier is required")
	}
	if cfg.Limiter == nil {
		return nil, errors.New("session: rate limiter is required")
	}
	if cfg.IDs == nil {
		return nil, errors.New("session: id generator is required")
	}

	commands := cfg.Commands
	if commands == nil {
		commands = command.NewDispatcher(nil)
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Manager{
		identities: make(map[string]*Identity),
		conns:      make(map[Conn]*Identity),
		store:      cfg.Store,
		avatars:    cfg.Avatars,
		tokens:     cfg.Tokens,
		limiter:    cfg.Limiter,
		commands:   commands,
		ids:        cfg.IDs,
		now:        now,
		log:        logger.WithModule("session"),
	}, nil
}

// RegisterConnection authenticates a connection and attaches it to its
// identity, creating the identity if this is its first live connection.
//
// Token verification failure is a named fallback, not an error: the caller
// proceeds as a fresh anonymous identity. The only hard failures are store
// and avatar collaborator failures, in which case the connection stays
// unpromoted. When the identity is new this session, a join event is
// broadcast to every registered connection.
func (m *Manager) RegisterConnection(ctx context.Context, conn Conn, req AuthRequest) (*Identity, bool, error) {
	id := ""
	if req.Token != "" {
		verified, err := m.tokens.Verify(req.Token)
		if err != nil {
			m.log.Debug("token rejected, continuing as anonymous",
				zap.String("conn", conn.Key()), zap.Error(err))
		} else {
			id = verified
		}
	}
	if id == "" {
		id = m.ids.Next()
	}

	// Fast path: identity already present, just attach the connection.
	m.mu.Lock()
	if existing, ok := m.conns[conn]; ok {
		m.mu.Unlock()
		return existing, false, nil
	}
	if ident, ok := m.identities[id]; ok {
		m.attachLocked(conn, ident)
		m.mu.Unlock()
		metrics.Logins.WithLabelValues("resumed").Inc()
		return ident, false, nil
	}
	m.mu.Unlock()

	// Collaborator round trips happen outside the lock so a slow store does
	// not exclude unrelated connections.
	record, err := m.loadOrCreate(ctx, conn, id, req)
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	// Another connection for the same identity may have finished while we
	// were waiting on the store.
	if ident, ok := m.identities[id]; ok {
		m.attachLocked(conn, ident)
		m.mu.Unlock()
		metrics.Logins.WithLabelValues("resumed").Inc()
		return ident, false, nil
	}

	ident := &Identity{
		ID:     record.ID,
		Name:   record.Nick,
		Avatar: record.Avatar,
		IsBot:  record.IsBot,
		conns:  make(map[Conn]struct{}),
	}
	if record.LastLoginAt != nil {
		ident.LastLoginAt = *record.LastLoginAt
	}
	m.identities[id] = ident
	m.attachLocked(conn, ident)

	targets := m.connSnapshotLocked()
	profile := ident.Profile()
	m.mu.Unlock()

	metrics.Logins.WithLabelValues("new").Inc()
	m.log.Info("identity joined",
		zap.String("identity_id", ident.ID),
		zap.String("name", ident.Name),
		zap.Bool("bot", ident.IsBot),
	)
	m.fanout(targets, Event{Type: EventJoin, Data: profile})

	return ident, true, nil
}

// loadOrCreate fetches the persisted record for id, minting one for unknown
// ids, applies the name override, stamps the login, and saves.
func (m *Manager) loadOrCreate(ctx context.Context, conn Conn, id string, req AuthRequest) (*models.User, error) {
	record, err := m.store.FindByID(ctx, id)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		record = &models.User{
			ID:     id,
			Nick:   placeholderName(conn.Key()),
			Avatar: m.avatars.Assign(),
		}
	case err != nil:
		return nil, err
	}

	if req.Name != "" {
		if name, nerr := NormalizeName(req.Name); nerr == nil {
			record.Nick = name
		} else {
			m.log.Debug("ignoring invalid name override",
				zap.String("identity_id", id), zap.Error(nerr))
		}
	}

	now := m.now()
	record.LastLoginAt = &now
	record.IsBot = req.Bot

	if err := m.store.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// UnregisterConnection detaches the connection from its identity. When the
// identity's last connection goes, the identity leaves the registry and a
// leave event is broadcast. Unknown connections are a no-op; late disconnect
// events about vanished connections must never fail.
func (m *Manager) UnregisterConnection(conn Conn) {
	m.mu.Lock()
	ident, ok := m.conns[conn]
	if !ok {
		m.mu.Unlock()
		return
	}

	delete(m.conns, conn)
	delete(ident.conns, conn)
	m.limiter.Forget(conn.Key())

	last := len(ident.conns) == 0
	if last {
		delete(m.identities, ident.ID)
	}

	var targets []Conn
	var profile Profile
	if last {
		targets = m.connSnapshotLocked()
		profile = ident.Profile()
	}
	m.updateGaugesLocked()
	m.mu.Unlock()

	if last {
		m.log.Info("identity left", zap.String("identity_id", profile.ID))
		m.fanout(targets, Event{Type: EventLeave, Data: profile})
	}
}

// OnTyping broadcasts a typing indicator for the connection's identity.
// Unknown connections (a race with disconnect) are a no-op.
func (m *Manager) OnTyping(conn Conn) {
	m.mu.Lock()
	ident, ok := m.conns[conn]
	if !ok {
		m.mu.Unlock()
		return
	}
	data := TypingData{ID: ident.ID, Name: ident.Name}
	targets := m.connSnapshotLocked()
	m.mu.Unlock()

	m.fanout(targets, Event{Type: EventTyping, Data: data})
}

// OnMessage runs the inbound message pipeline: command dispatch first, then
// the per-connection rate limit, then truncation and broadcast. Disallowed
// messages are dropped silently; the sender gets no feedback.
func (m *Manager) OnMessage(ctx context.Context, conn Conn, text string) {
	m.mu.Lock()
	ident, ok := m.conns[conn]
	m.mu.Unlock()
	if !ok {
		metrics.MessagesDropped.WithLabelValues("unknown_connection").Inc()
		return
	}

	sender := command.Sender{ID: ident.ID, Name: ident.Name, IsBot: ident.IsBot}
	if m.commands.Dispatch(ctx, m, sender, text) {
		return
	}

	if !m.limiter.Allow(conn.Key()) {
		metrics.MessagesDropped.WithLabelValues("rate_limited").Inc()
		m.log.Debug("message rate limited", zap.String("identity_id", ident.ID))
		return
	}

	if utf8.RuneCountInString(text) > MaxMessageLength {
		runes := []rune(text)
		text = string(runes[:MaxMessageLength])
	}

	m.BroadcastMessage(ident.ID, text, nil)
}

// BroadcastMessage escapes unsafe markup, validates the optional embed,
// resolves mentions against the live registry, and emits one message event
// to every connection. Command handlers re-enter here on behalf of their
// issuer.
func (m *Manager) BroadcastMessage(identityID, text string, em *embed.Embed) {
	messageID := m.ids.Next()
	content := html.EscapeString(text)
	validated := embed.Validate(em)

	m.mu.Lock()
	byName := make(map[string][]string, len(m.identities))
	for _, ident := range m.identities {
		byName[ident.Name] = append(byName[ident.Name], ident.ID)
	}
	targets := m.connSnapshotLocked()
	m.mu.Unlock()

	// Registry iteration order is not stable; keep id lists for shared
	// names deterministic.
	for _, ids := range byName {
		sort.Strings(ids)
	}

	mentions := mention.Resolve(text, byName)
	if mentions == nil {
		mentions = []string{}
	}

	metrics.MessagesBroadcast.Inc()
	m.fanout(targets, Event{Type: EventMessage, Data: MessageData{
		ID:       messageID,
		User:     identityID,
		Content:  content,
		Embed:    validated,
		Mentions: mentions,
	}})
}

// Rename normalizes and applies a display-name change, persists it, and
// broadcasts a user-edit event. It implements command.Gateway.
func (m *Manager) Rename(ctx context.Context, identityID, name string) error {
	normalized, err := NormalizeName(name)
	if err != nil {
		return apperrors.ErrBadRequest.WithInternal(err)
	}

	m.mu.Lock()
	ident, ok := m.identities[identityID]
	if !ok {
		m.mu.Unlock()
		return apperrors.ErrNotFound
	}
	ident.Name = normalized
	profile := ident.Profile()
	targets := m.connSnapshotLocked()
	m.mu.Unlock()

	// Profile edits are best effort against the store; presence already
	// reflects the new name. The persisted record is re-read so only the
	// name changes and fields like created_at survive the save.
	if record, err := m.store.FindByID(ctx, identityID); err != nil {
		m.log.Warn("failed to load record for rename",
			zap.String("identity_id", identityID), zap.Error(err))
	} else {
		record.Nick = normalized
		if err := m.store.Save(ctx, record); err != nil {
			m.log.Warn("failed to persist rename",
				zap.String("identity_id", identityID), zap.Error(err))
		}
	}

	m.fanout(targets, Event{Type: EventUserEdit, Data: profile})
	return nil
}

// Members returns a snapshot of all present identities, ordered by id.
func (m *Manager) Members() []Profile {
	m.mu.Lock()
	profiles := make([]Profile, 0, len(m.identities))
	for _, ident := range m.identities {
		profiles = append(profiles, ident.Profile())
	}
	m.mu.Unlock()

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	return profiles
}

// CommandList describes the registered commands for connection discovery.
func (m *Manager) CommandList() []command.Description {
	return m.commands.Describe()
}

// Present reports whether the identity currently owns any live connection.
func (m *Manager) Present(identityID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.identities[identityID]
	return ok
}

func (m *Manager) attachLocked(conn Conn, ident *Identity) {
	ident.conns[conn] = struct{}{}
	m.conns[conn] = ident
	m.updateGaugesLocked()
}

func (m *Manager) connSnapshotLocked() []Conn {
	targets := make([]Conn, 0, len(m.conns))
	for conn := range m.conns {
		targets = append(targets, conn)
	}
	return targets
}

// updateGaugesLocked tracks the present set. The raw connection gauge is
// owned by the transport handler, which also sees unauthenticated sockets.
func (m *Manager) updateGaugesLocked() {
	metrics.IdentitiesPresent.Set(float64(len(m.identities)))
}

// fanout delivers the event to a point-in-time snapshot of connections.
// Send never blocks; a connection that died mid-broadcast simply drops the
// event.
func (m *Manager) fanout(targets []Conn, ev Event) {
	for _, conn := range targets {
		conn.Send(ev)
	}
}
