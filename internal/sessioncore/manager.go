package sessioncore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/climber-engine/mcp-server-go/directory"
	"github.com/climber-engine/mcp-server-go/mcp"
	"github.com/climber-engine/mcp-server-go/sessions"
	"github.com/google/uuid"
)

// ErrInvalidOwner is returned by Initialize and ResolveOwner when the owner
// reference is empty or does not resolve through the directory.
var ErrInvalidOwner = errors.New("invalid owner")

// MetricsSink allows optional instrumentation without hard dependency.
type MetricsSink interface {
	IncCounter(name string, tags map[string]string)
	ObserveHistogram(name string, value float64, tags map[string]string)
}

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// Server is the capability set the server can offer. Negotiated session
	// capabilities are always a subset of it.
	Server mcp.Capabilities
	// TouchDebounce suppresses activity writes for a session that was
	// written less than this long ago. Zero writes on every touch. Messages
	// seen inside the window are carried into the next write.
	TouchDebounce time.Duration
	Metrics       MetricsSink
	Logger        *slog.Logger
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// applyDefaults populates zero values with conservative defaults.
func (c *ManagerConfig) applyDefaults() {
	if c.TouchDebounce < 0 {
		c.TouchDebounce = 0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// InitializeParams carries what a client supplies when opening a session.
type InitializeParams struct {
	OwnerRef        string
	AgentID         string
	Client          sessions.ClientInfo
	ProtocolVersion string
	Requested       *mcp.RequestedCapabilities
}

// Manager owns the session lifecycle on top of a sessions.Store. It is safe
// for concurrent use and holds no lock while callers run their handlers.
type Manager struct {
	store sessions.Store
	dir   directory.Directory
	cfg   ManagerConfig
	log   *slog.Logger

	lastTouchMu sync.Mutex
	lastTouch   map[string]*touchState
}

// touchState is the last activity write for a session and the messages
// recorded since then.
type touchState struct {
	at      time.Time
	pending int
}

// NewManager constructs a Manager over store, resolving owners through dir.
func NewManager(store sessions.Store, dir directory.Directory, cfg ManagerConfig) *Manager {
	cfg.applyDefaults()
	return &Manager{
		store:     store,
		dir:       dir,
		cfg:       cfg,
		log:       cfg.Logger.With(slog.String("component", "sessioncore")),
		lastTouch: make(map[string]*touchState),
	}
}

// ServerCapabilities returns the capability set sessions are negotiated against.
func (m *Manager) ServerCapabilities() mcp.Capabilities { return m.cfg.Server }

// Initialize resolves the owner, negotiates capabilities and stores a new
// active session.
func (m *Manager) Initialize(ctx context.Context, p InitializeParams) (*sessions.Session, error) {
	if p.OwnerRef == "" {
		m.recordMetric("sessions_initialize_rejected", map[string]string{"reason": "empty_owner"})
		return nil, ErrInvalidOwner
	}
	ownerID, err := m.ResolveOwner(ctx, p.OwnerRef)
	if err != nil {
		if errors.Is(err, ErrInvalidOwner) {
			m.recordMetric("sessions_initialize_rejected", map[string]string{"reason": "unknown_owner"})
		}
		return nil, err
	}

	proto := p.ProtocolVersion
	if proto == "" {
		proto = mcp.ProtocolVersion
	}
	now := m.cfg.Now().UTC()
	sess := &sessions.Session{
		MetaVersion:     1,
		ID:              uuid.NewString(),
		OwnerRef:        ownerID,
		AgentID:         p.AgentID,
		Status:          sessions.StatusActive,
		ProtocolVersion: proto,
		Client:          p.Client,
		Capabilities:    m.cfg.Server.Intersect(p.Requested),
		CreatedAt:       now,
		LastActivityAt:  now,
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.markTouched(sess.ID, now)
	m.recordMetric("sessions_created", nil)
	m.log.InfoContext(ctx, "sessioncore.initialize.ok",
		slog.String("session_id", sess.ID),
		slog.String("owner", sess.OwnerRef),
		slog.String("client", p.Client.Name),
	)
	return sess, nil
}

// ResolveOwner maps an owner reference, id or username, onto the directory
// id that sessions are stored under.
func (m *Manager) ResolveOwner(ctx context.Context, ref string) (string, error) {
	owner, err := m.dir.LookupOwner(ctx, ref)
	if err != nil {
		if errors.Is(err, directory.ErrOwnerNotFound) {
			return "", fmt.Errorf("%w: %q", ErrInvalidOwner, ref)
		}
		return "", fmt.Errorf("lookup owner: %w", err)
	}
	return owner.ID, nil
}

// Get returns the session in any status.
func (m *Manager) Get(ctx context.Context, id string) (*sessions.Session, error) {
	return m.store.Get(ctx, id)
}

// Touch verifies that the session is active and records one message of
// activity. Inside the debounce window the write is skipped but the status
// check still runs, and the returned session counts the deferred messages.
func (m *Manager) Touch(ctx context.Context, id string) (*sessions.Session, error) {
	now := m.cfg.Now().UTC()
	n, skip := m.debounce(id, now)
	if skip {
		sess, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !sess.Active() {
			return nil, sessions.ErrSessionInvalid
		}
		sess.MessageCount += n
		m.recordMetric("sessions_touch_debounced", nil)
		return sess, nil
	}
	sess, err := m.store.Touch(ctx, id, now, n)
	if err != nil {
		m.requeue(id, n)
		return nil, err
	}
	m.markTouched(id, now)
	return sess, nil
}

// Close transitions the session to closed. It reports true only for the
// caller that performed the transition.
func (m *Manager) Close(ctx context.Context, id string) (bool, error) {
	closed, err := m.store.Close(ctx, id, m.cfg.Now().UTC())
	if err != nil {
		m.log.ErrorContext(ctx, "sessioncore.close.fail", slog.String("session_id", id), slog.String("err", err.Error()))
		return false, err
	}
	if closed {
		m.lastTouchMu.Lock()
		delete(m.lastTouch, id)
		m.lastTouchMu.Unlock()
		m.recordMetric("sessions_closed", nil)
		m.log.InfoContext(ctx, "sessioncore.close.ok", slog.String("session_id", id))
	}
	return closed, nil
}

// List pages through sessions in creation order.
func (m *Manager) List(ctx context.Context, skip, limit int) (sessions.Page, error) {
	return m.store.List(ctx, skip, limit)
}

// ListOwned pages through the sessions stored under ownerID. Stores do not
// index by owner, so every session is scanned and Total counts only the
// owner's sessions.
func (m *Manager) ListOwned(ctx context.Context, ownerID string, skip, limit int) (sessions.Page, error) {
	skip, limit = sessions.ClampPage(skip, limit)
	var owned []*sessions.Session
	for off := 0; ; {
		page, err := m.store.List(ctx, off, sessions.MaxListLimit)
		if err != nil {
			return sessions.Page{}, err
		}
		for _, s := range page.Items {
			if s.OwnerRef == ownerID {
				owned = append(owned, s)
			}
		}
		off += len(page.Items)
		if len(page.Items) == 0 || off >= page.Total {
			break
		}
	}
	out := sessions.Page{Items: []*sessions.Session{}, Total: len(owned)}
	if skip < len(owned) {
		out.Items = owned[skip:min(skip+limit, len(owned))]
	}
	return out, nil
}

// Stats reports session counts.
func (m *Manager) Stats(ctx context.Context) (sessions.Stats, error) {
	return m.store.Stats(ctx)
}

// Ping checks the underlying store.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// debounce records one message for id and reports how many messages are
// unwritten, this one included, and whether the store write can be skipped.
func (m *Manager) debounce(id string, now time.Time) (int, bool) {
	if m.cfg.TouchDebounce <= 0 {
		return 1, false
	}
	m.lastTouchMu.Lock()
	defer m.lastTouchMu.Unlock()
	st, ok := m.lastTouch[id]
	if !ok {
		return 1, false
	}
	st.pending++
	if now.Sub(st.at) < m.cfg.TouchDebounce {
		return st.pending, true
	}
	n := st.pending
	st.pending = 0
	return n, false
}

// requeue puts back messages whose write failed.
func (m *Manager) requeue(id string, n int) {
	if m.cfg.TouchDebounce <= 0 {
		return
	}
	m.lastTouchMu.Lock()
	if st, ok := m.lastTouch[id]; ok {
		st.pending += n
	}
	m.lastTouchMu.Unlock()
}

func (m *Manager) markTouched(id string, now time.Time) {
	if m.cfg.TouchDebounce <= 0 {
		return
	}
	m.lastTouchMu.Lock()
	if st, ok := m.lastTouch[id]; ok {
		st.at = now
	} else {
		m.lastTouch[id] = &touchState{at: now}
	}
	m.lastTouchMu.Unlock()
}

func (m *Manager) recordMetric(name string, tags map[string]string) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.IncCounter(name, tags)
	}
}
