package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultIdleTimeout is how long an idle training session is kept
	DefaultIdleTimeout = 10 * time.Minute

	cleanupInterval = 30 * time.Second
)

// Manager tracks listening and training sessions by id
type Manager struct {
	sessions map[string]Session
	mu       sync.RWMutex
	logger   *slog.Logger
	timeout  time.Duration

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
	stopped bool
}

// NewManager creates a session manager. Idle training sessions are removed
// once they have been inactive for longer than timeout.
func NewManager(logger *slog.Logger, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[string]Session),
		logger:   logger,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// Add registers a session
func (m *Manager) Add(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.ID()] = s

	summary := s.Summary()
	m.logger.Info("Session registered",
		slog.String("session_id", summary.ID),
		slog.String("kind", summary.Kind),
	)
}

// Get retrieves a session by id
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[id]
	return s, exists
}

// Trainer retrieves a training session by id
func (m *Manager) Trainer(id string) (*Trainer, bool) {
	s, exists := m.Get(id)
	if !exists {
		return nil, false
	}
	t, ok := s.(*Trainer)
	return t, ok
}

// Count returns the number of registered sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sessions returns summaries of all sessions, oldest first
func (m *Manager) Sessions() []Summary {
	m.mu.RLock()
	summaries := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		summaries = append(summaries, s.Summary())
	}
	m.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// Remove stops a session and forgets it. Background uploads of the removed
// session keep running until they finish.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	s, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		m.logger.Warn("Error stopping session",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	}

	m.logger.Info("Session removed", slog.String("session_id", id))
	return true
}

// Shutdown stops every session and waits for their background uploads
// until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	sessions := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	m.logger.Info("Stopping session manager...", slog.Int("sessions", len(sessions)))

	// Cancel context to stop cleanup routine
	m.cancel()
	<-m.cleanup

	var errs []error
	for _, s := range sessions {
		if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
			errs = append(errs, fmt.Errorf("stop session %s: %w", s.ID(), err))
		}
	}

	for _, s := range sessions {
		if err := s.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for session %s: %w", s.ID(), err))
			break
		}
	}

	m.logger.Info("Session manager stopped", slog.Int("remaining_sessions", m.Count()))

	return errors.Join(errs...)
}

// startCleanupRoutine runs in a separate goroutine to clean up expired sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return

		case now := <-ticker.C:
			m.cleanupExpiredSessions(now)
		}
	}
}

// cleanupExpiredSessions removes idle training sessions that have been
// inactive for too long. Listening sessions are never expired.
func (m *Manager) cleanupExpiredSessions(now time.Time) int {
	expired := make([]string, 0)

	m.mu.RLock()
	for id, s := range m.sessions {
		t, ok := s.(*Trainer)
		if !ok {
			continue
		}
		if t.Summary().State != StateIdle {
			continue
		}
		if now.Sub(t.LastActivity()) > m.timeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) > 0 {
		m.logger.Info("Cleaning up expired sessions", slog.Int("expired_count", len(expired)))

		for _, id := range expired {
			m.Remove(id)
		}
	}

	return len(expired)
}
