package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/agentkit/transcript"
)

// DefaultSweepInterval is how often the manager scans for idle sessions.
const DefaultSweepInterval = 5 * time.Minute

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultOptions sets the per-session option defaults. Options passed
// to Create are applied on top of these.
func WithDefaultOptions(opts ...Option) ManagerOption {
	return func(m *Manager) { m.defaults = m.defaults.apply(opts...) }
}

// WithSweepInterval sets how often idle sessions are evicted.
func WithSweepInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithTranscriptDir enables per-session JSONL transcripts under dir.
func WithTranscriptDir(dir string) ManagerOption {
	return func(m *Manager) { m.transcriptDir = dir }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager owns a registry of concurrent sessions. It hands out opaque
// session ids, evicts sessions that exceed their idle timeout, and tears
// everything down on Shutdown.
//
// All methods are safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	defaults      Options
	sweepInterval time.Duration
	transcriptDir string
	logger        *slog.Logger

	closed    atomic.Bool
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewManager creates a manager and starts its background sweep.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:      make(map[string]*Session),
		defaults:      DefaultOptions(),
		sweepInterval: DefaultSweepInterval,
		logger:        slog.Default(),
		stopSweep:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.sweepLoop()
	return m
}

// NewManagerFromConfig creates a manager from a parsed config file.
func NewManagerFromConfig(cfg *FileConfig, opts ...ManagerOption) *Manager {
	all := append(cfg.ToManagerOptions(), opts...)
	return NewManager(all...)
}

// Create spawns a new session and registers it. Options are applied on
// top of the manager defaults. The returned session's id is the handle
// for the id-based methods below.
func (m *Manager) Create(ctx context.Context, opts ...Option) (*Session, error) {
	if m.closed.Load() {
		return nil, newError("create", "", ErrManagerClosed)
	}

	o := m.defaults.apply(opts...)
	if err := o.Validate(); err != nil {
		return nil, newError("create", "", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}

	id := uuid.NewString()

	var rec *transcript.Writer
	if m.transcriptDir != "" {
		var err error
		rec, err = transcript.NewWriter(filepath.Join(m.transcriptDir, id+".jsonl"))
		if err != nil {
			// Transcripts are best-effort; the session still runs.
			m.logger.Warn("transcript writer unavailable",
				slog.String("session_id", id),
				slog.Any("error", err))
		}
	}

	s, err := newSession(ctx, id, o, rec, m.logger)
	if err != nil {
		if rec != nil {
			_ = rec.Close()
		}
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	// Shutdown may have raced the insert; it must not leak the process.
	if m.closed.Load() {
		m.remove(id)
		_ = s.Close()
		return nil, newError("create", id, ErrManagerClosed)
	}

	return s, nil
}

// Get returns the session for id. Unknown, expired, and dead sessions are
// observably identical: all return ErrSessionNotFound. After Shutdown
// every id is unknown. Dead sessions found here are evicted on the spot.
func (m *Manager) Get(id string) (*Session, error) {
	if m.closed.Load() {
		return nil, newError("get", id, ErrSessionNotFound)
	}

	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, newError("get", id, ErrSessionNotFound)
	}
	if !s.Active() {
		m.remove(id)
		_ = s.Close()
		return nil, newError("get", id, ErrSessionNotFound)
	}
	return s, nil
}

// SendMessage routes one message to the session for id. Sessions that die
// during the exchange (timeout, cancellation, process failure) are
// evicted from the registry before the error is returned.
func (m *Manager) SendMessage(ctx context.Context, id, text string) (string, error) {
	s, err := m.Get(id)
	if err != nil {
		return "", err
	}

	resp, err := s.SendMessage(ctx, text)
	if err != nil && !errors.Is(err, ErrInvalidInput) {
		// Any exchange failure leaves the session closed.
		m.remove(id)
	}
	return resp, err
}

// IsActive reports whether id names a live session.
func (m *Manager) IsActive(id string) bool {
	_, err := m.Get(id)
	return err == nil
}

// CloseSession terminates and deregisters the session for id. Closing an
// unknown or already-closed session is a no-op.
func (m *Manager) CloseSession(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Close()
}

// List returns the ids of all registered sessions.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Stats is a point-in-time snapshot of the manager.
type Stats struct {
	ActiveSessions int
	IdleTimeout    time.Duration
	AvgSessionAge  time.Duration
}

// Stats returns a snapshot of the registry. Ages are measured from
// session creation and are never negative.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{
		ActiveSessions: len(m.sessions),
		IdleTimeout:    m.defaults.WithDefaults().IdleTimeout,
	}
	if len(m.sessions) == 0 {
		return st
	}

	now := time.Now()
	var total time.Duration
	for _, s := range m.sessions {
		age := now.Sub(s.CreatedAt())
		if age < 0 {
			age = 0
		}
		total += age
	}
	st.AvgSessionAge = total / time.Duration(len(m.sessions))
	return st
}

// Shutdown stops the sweep and closes every session. The manager is
// terminal afterwards: all methods fail with ErrManagerClosed. Safe to
// call more than once.
func (m *Manager) Shutdown() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(m.stopSweep)
	<-m.sweepDone

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var firstErr error
	for id, s := range sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %s: %w", id, err)
		}
	}

	m.logger.Debug("manager shut down", slog.Int("sessions_closed", len(sessions)))
	return firstErr
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// sweepLoop evicts idle and dead sessions until Shutdown.
func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep closes sessions whose idle time exceeds their idle timeout, and
// reaps sessions whose subprocess already exited. Closing happens outside
// the registry lock so a slow kill cannot stall other callers.
func (m *Manager) sweep() {
	m.mu.RLock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !s.Active() || s.IdleFor() >= s.opts.IdleTimeout {
			candidates = append(candidates, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range candidates {
		m.remove(s.ID())
		if err := s.Close(); err != nil {
			m.logger.Warn("sweep close failed",
				slog.String("session_id", s.ID()),
				slog.Any("error", err))
			continue
		}
		m.logger.Debug("session evicted",
			slog.String("session_id", s.ID()),
			slog.Duration("idle", s.IdleFor()))
	}
}
