// Package session binds caller-visible session identifiers to execution
// environments and keeps the per-session pipeline run between requests.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"repoanalyzer/internal/pipeline"
	"repoanalyzer/internal/sandbox"
)

// ErrBusy is returned by Acquire when ctx ends while another request holds
// the session.
var ErrBusy = errors.New("session: busy")

// Session is one caller-correlated execution environment plus the pipeline
// run memoized for it.
type Session struct {
	ID        string
	Env       sandbox.Environment
	CreatedAt time.Time

	turn chan struct{}

	mu  sync.Mutex
	run pipeline.Run
}

func newSession(id string, env sandbox.Environment, now time.Time) *Session {
	return &Session{
		ID:        id,
		Env:       env,
		CreatedAt: now,
		turn:      make(chan struct{}, 1),
		run:       pipeline.NewRun(),
	}
}

// Acquire serializes requests on one session. The returned func releases it.
func (s *Session) Acquire(ctx context.Context) (func(), error) {
	select {
	case s.turn <- struct{}{}:
		return func() { <-s.turn }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrBusy, s.ID, ctx.Err())
	}
}

// Run returns a copy of the memoized pipeline run.
func (s *Session) Run() pipeline.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.Clone()
}

// SetRun replaces the memoized pipeline run.
func (s *Session) SetRun(r pipeline.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = r.Clone()
}

type Config struct {
	// Prefix starts every generated identifier.
	Prefix string
	// MaxSessions bounds the in-process handle map. Evicting a handle does not
	// destroy its environment; reopening the id addresses the same one.
	MaxSessions int
}

func DefaultConfig() Config {
	return Config{Prefix: "m2", MaxSessions: 256}
}

type Manager struct {
	cfg      Config
	provider sandbox.Provider
	sessions *lru.Cache[string, *Session]
	group    singleflight.Group
	logger   *zap.Logger
	now      func() time.Time
}

func NewManager(cfg Config, provider sandbox.Provider, logger *zap.Logger) (*Manager, error) {
	if provider == nil {
		return nil, errors.New("session: provider is required")
	}
	def := DefaultConfig()
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = def.MaxSessions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{cfg: cfg, provider: provider, logger: logger, now: time.Now}
	cache, err := lru.NewWithEvict[string, *Session](cfg.MaxSessions, func(id string, _ *Session) {
		m.logger.Debug("session handle evicted", zap.String("session_id", id))
	})
	if err != nil {
		return nil, fmt.Errorf("session: cache: %w", err)
	}
	m.sessions = cache
	return m, nil
}

// NewID returns a fresh identifier: prefix, creation time in milliseconds and
// a random suffix so two submissions in the same millisecond never collide.
func (m *Manager) NewID() string {
	return fmt.Sprintf("%s-%d-%s", m.cfg.Prefix, m.now().UnixMilli(), uuid.NewString()[:8])
}

// Activate returns the session for id, opening its environment on first use.
// An empty id creates a new session. Concurrent first activations of one id
// open a single environment.
func (m *Manager) Activate(ctx context.Context, id string) (*Session, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = m.NewID()
	}
	if s, ok := m.sessions.Get(id); ok {
		return s, false, nil
	}

	created := false
	v, err, _ := m.group.Do(id, func() (any, error) {
		if s, ok := m.sessions.Get(id); ok {
			return s, nil
		}
		env, err := m.provider.Open(ctx, id)
		if err != nil {
			return nil, err
		}
		s := newSession(id, env, m.now())
		m.sessions.Add(id, s)
		created = true
		m.logger.Info("session opened", zap.String("session_id", id), zap.String("provider", m.provider.Name()))
		return s, nil
	})
	if err != nil {
		if errors.Is(err, sandbox.ErrUnavailable) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: %s: %v", sandbox.ErrUnavailable, id, err)
	}
	return v.(*Session), created, nil
}

// Lookup returns a session already held in memory.
func (m *Manager) Lookup(id string) (*Session, bool) {
	return m.sessions.Get(id)
}

func (m *Manager) Len() int { return m.sessions.Len() }
