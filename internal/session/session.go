package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "loanops-console/internal/common/errors"
	"loanops-console/internal/common/logger"
	"loanops-console/internal/common/metrics"
)

// Context identifies one loan conversation. It is created once per session
// and passed explicitly to whatever needs it.
type Context struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	StartedAt time.Time `json:"started_at"`
}

// NewID returns an id in the LOAN-XXXXXXXX form.
func NewID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "LOAN-" + strings.ToUpper(hex[:8])
}

// Manager owns the current session context.
type Manager struct {
	store       Store
	ttl         time.Duration
	staticToken string
	logger      logger.Logger
	now         func() time.Time

	mu      sync.RWMutex
	current *Context
}

// NewManager builds a manager. A non-empty token is used for every session;
// otherwise each session gets a fresh opaque one.
func NewManager(store Store, ttl time.Duration, token string, log logger.Logger) *Manager {
	return &Manager{
		store:       store,
		ttl:         ttl,
		staticToken: token,
		logger: log.WithFields(map[string]interface{}{
			"component": "session",
		}),
		now: time.Now,
	}
}

// Start resumes a stored, unexpired session or creates a new one.
func (m *Manager) Start(ctx context.Context) (Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return *m.current, nil
	}

	stored, err := m.store.Load(ctx)
	switch {
	case err == nil && !m.expired(stored):
		m.current = stored
		metrics.ActiveSessions.Inc()
		m.logger.Info("session resumed", map[string]interface{}{"sessionId": stored.ID})
		return *stored, nil
	case err != nil && !apperrors.Is(err, apperrors.ErrSessionNotFound):
		m.logger.Warn("session store unavailable, starting fresh", map[string]interface{}{
			"error": err.Error(),
		})
	}

	c := m.create()
	if err := m.store.Save(ctx, c); err != nil {
		return Context{}, err
	}
	m.current = c
	metrics.ActiveSessions.Inc()
	m.logger.Info("session started", map[string]interface{}{"sessionId": c.ID})
	return *c, nil
}

// Current returns the active context, if any.
func (m *Manager) Current() (Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Context{}, false
	}
	return *m.current, true
}

// Token is the bearer token of the active session, or "".
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.Token
}

// Logout forgets the active session locally and in the store. It returns the
// context that was cleared.
func (m *Manager) Logout(ctx context.Context) (Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Context{}, apperrors.ErrSessionNotFound
	}
	old := *m.current
	m.current = nil
	metrics.ActiveSessions.Dec()

	if err := m.store.Clear(ctx); err != nil {
		return old, err
	}
	m.logger.Info("session cleared", map[string]interface{}{"sessionId": old.ID})
	return old, nil
}

func (m *Manager) create() *Context {
	token := m.staticToken
	if token == "" {
		token = uuid.NewString()
	}
	return &Context{
		ID:        NewID(),
		Token:     token,
		StartedAt: m.now().UTC(),
	}
}

func (m *Manager) expired(c *Context) bool {
	if c == nil || c.ID == "" {
		return true
	}
	if m.ttl <= 0 {
		return false
	}
	return m.now().After(c.StartedAt.Add(m.ttl))
}
