package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"homora/internal/chat"
	"homora/internal/metrics"
	"homora/internal/notify"
	"homora/internal/storage"
	"homora/internal/trash"
)

const (
	defaultIdle     = 30 * time.Minute
	DefaultSweepGap = time.Minute
)

// Backend is the slice of the backend client a client session drives.
type Backend interface {
	chat.Transport
	chat.Store
	trash.Backend
}

// Invalidator is shared by the chat controller and the trash view of every session.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

type Deps struct {
	Backend     Backend
	Invalidator Invalidator
	Sessions    *storage.SessionStore
	Notices     *storage.NoticeStore
}

// State is everything the service holds for one client session in its current project.
type State struct {
	SessionID string
	ProjectID string
	Chat      *chat.Controller
	Trash     *trash.View
	Documents *chat.DocumentSet
	Notifier  notify.Notifier

	lastSeen time.Time
}

// Manager keeps per-session state in memory and evicts sessions that went idle.
type Manager struct {
	deps    Deps
	logger  *zap.Logger
	metrics *metrics.Metrics
	idle    time.Duration
	now     func() time.Time

	mu     sync.Mutex
	states map[string]*State
}

type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idle = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(deps Deps, opts ...Option) (*Manager, error) {
	if deps.Backend == nil || deps.Sessions == nil {
		return nil, errors.New("backend and session store are required")
	}
	m := &Manager{
		deps:   deps,
		logger: zap.NewNop(),
		idle:   defaultIdle,
		now:    time.Now,
		states: make(map[string]*State),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Ensure returns the state of sessionID for projectID, creating it on first use. Moving
// a session to another project abandons any turn still streaming in the old one.
func (m *Manager) Ensure(ctx context.Context, sessionID, projectID string) (*State, error) {
	if sessionID == "" || projectID == "" {
		return nil, errors.New("session and project id required")
	}
	m.mu.Lock()
	st, ok := m.states[sessionID]
	if ok && st.ProjectID == projectID {
		st.lastSeen = m.now()
		m.mu.Unlock()
		return st, nil
	}
	m.mu.Unlock()

	fresh, err := m.newState(sessionID, projectID)
	if err != nil {
		return nil, err
	}
	if err := m.deps.Sessions.Touch(ctx, sessionID, projectID); err != nil {
		return nil, fmt.Errorf("touch client session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.states[sessionID]; ok {
		if cur.ProjectID == projectID {
			// lost a race with a concurrent Ensure
			cur.lastSeen = m.now()
			return cur, nil
		}
		cur.Chat.StartNewConversation()
	}
	m.states[sessionID] = fresh
	m.logger.Debug("client session attached",
		zap.String("session", sessionID),
		zap.String("project", projectID))
	return fresh, nil
}

func (m *Manager) newState(sessionID, projectID string) (*State, error) {
	var notifier notify.Notifier = notify.NewLog(m.logger.With(zap.String("session", sessionID)))
	if m.deps.Notices != nil {
		notifier = notify.Multi{notifier, notify.NewStore(m.deps.Notices, sessionID, m.logger)}
	}
	docs := &chat.DocumentSet{}
	controller, err := chat.NewController(projectID, chat.Deps{
		Transport:   m.deps.Backend,
		Store:       m.deps.Backend,
		Notifier:    notifier,
		Invalidator: m.deps.Invalidator,
		Documents:   docs,
	},
		chat.WithLogger(m.logger),
		chat.WithMetrics(m.metrics),
		chat.WithClock(m.now),
		chat.OnConversationAdopted(func(conversationID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.deps.Sessions.SetConversation(ctx, sessionID, conversationID); err != nil {
				m.logger.Warn("record conversation failed", zap.String("session", sessionID), zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	view, err := trash.NewView(projectID, trash.Deps{
		Backend:     m.deps.Backend,
		Invalidator: m.deps.Invalidator,
		Notifier:    notifier,
	}, trash.WithLogger(m.logger), trash.WithMetrics(m.metrics))
	if err != nil {
		return nil, err
	}
	return &State{
		SessionID: sessionID,
		ProjectID: projectID,
		Chat:      controller,
		Trash:     view,
		Documents: docs,
		Notifier:  notifier,
		lastSeen:  m.now(),
	}, nil
}

// Get returns the in-memory state of a session without creating it.
func (m *Manager) Get(sessionID string) (*State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[sessionID]
	if ok {
		st.lastSeen = m.now()
	}
	return st, ok
}

// Purge drops the in-memory state of a session, abandoning its stream.
func (m *Manager) Purge(sessionID string) {
	m.mu.Lock()
	st, ok := m.states[sessionID]
	delete(m.states, sessionID)
	m.mu.Unlock()
	if ok {
		st.Chat.StartNewConversation()
	}
}

// Reset drops every session.
func (m *Manager) Reset() {
	m.mu.Lock()
	states := m.states
	m.states = make(map[string]*State)
	m.mu.Unlock()
	for _, st := range states {
		st.Chat.StartNewConversation()
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// Sweep evicts in-memory sessions idle for longer than the idle timeout, unless a turn
// is still streaming, and deletes stale client sessions from the store.
func (m *Manager) Sweep(ctx context.Context) error {
	cutoff := m.now().Add(-m.idle)

	var evicted []string
	m.mu.Lock()
	for id, st := range m.states {
		if st.lastSeen.Before(cutoff) && !st.Chat.Streaming() {
			delete(m.states, id)
			evicted = append(evicted, id)
		}
	}
	m.mu.Unlock()

	stale, err := m.deps.Sessions.DeleteIdle(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete idle sessions: %w", err)
	}
	for _, id := range stale {
		m.Purge(id)
	}
	if len(evicted) > 0 || len(stale) > 0 {
		m.logger.Info("idle sessions swept", zap.Int("evicted", len(evicted)), zap.Int("deleted", len(stale)))
	}
	return nil
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepGap
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.logger.Warn("session sweep failed", zap.Error(err))
			}
		}
	}
}
