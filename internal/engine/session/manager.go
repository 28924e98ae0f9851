package session

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/termpilot/termpilot/internal/config"
	"github.com/termpilot/termpilot/internal/infrastructure/monitoring"
	"github.com/termpilot/termpilot/internal/logging"
	sharederrors "github.com/termpilot/termpilot/internal/shared/errors"
	"github.com/termpilot/termpilot/internal/types"
)

// Manager is the registry and lifecycle authority for all sessions. It is
// the only engine structure mutated by multiple external callers
// concurrently.
type Manager struct {
	cfg     config.EngineConfig
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
	pending  int // reserved slots for spawns in progress

	stop     chan struct{}
	stopOnce sync.Once
	reaperWG sync.WaitGroup
}

// CreateOptions overrides engine defaults for one session.
type CreateOptions struct {
	Shell      string
	WorkingDir string
	Dimensions types.Dimensions
	Env        map[string]string
}

// NewManager creates the registry and starts the idle reaper.
func NewManager(cfg config.EngineConfig, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewNop()
	}

	m := &Manager{
		cfg:      cfg,
		log:      log.Component("session"),
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}

	if cfg.ReapInterval > 0 && cfg.IdleTimeout > 0 {
		m.reaperWG.Add(1)
		go m.reapLoop()
	}

	return m
}

// WithMetrics attaches a metrics collector. Sessions created afterwards
// report command outcomes and output throughput through it.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Create spawns a new shell session and registers it. The session is
// removed from the registry automatically once it fully closes.
func (m *Manager) Create(opts CreateOptions) (*Session, error) {
	if err := m.reserve(); err != nil {
		return nil, err
	}

	cfg := Config{
		Shell:            opts.Shell,
		WorkingDir:       opts.WorkingDir,
		Dimensions:       opts.Dimensions,
		Env:              opts.Env,
		DetectTimeout:    m.cfg.DetectTimeout,
		CaptureLimit:     m.cfg.CaptureLimit,
		RingCapacity:     m.cfg.RingCapacity,
		SubscriberBuffer: m.cfg.SubscriberBuffer,
		TerminateGrace:   m.cfg.TerminateGrace,
		StartupGrace:     m.cfg.StartupGrace,
		Metrics:          m.metrics,
	}
	if cfg.Shell == "" {
		cfg.Shell = m.cfg.Shell
	}
	if cfg.Dimensions.Rows == 0 {
		cfg.Dimensions.Rows = m.cfg.Rows
	}
	if cfg.Dimensions.Cols == 0 {
		cfg.Dimensions.Cols = m.cfg.Cols
	}

	sess, err := New(cfg, m.log, m.unregister)
	if err != nil {
		m.release()
		return nil, err
	}

	m.mu.Lock()
	m.pending--
	m.sessions[sess.ID.String()] = sess
	active := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionsCreated.Inc()
		m.metrics.SetSessionsActive(active)
	}

	return sess, nil
}

// reserve claims a session slot before the spawn starts. Counting pending
// spawns alongside registered sessions keeps concurrent Creates from
// exceeding the limit.
func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessions > 0 && len(m.sessions)+m.pending >= m.cfg.MaxSessions {
		return fmt.Errorf("maximum session limit reached (%d)", m.cfg.MaxSessions)
	}
	m.pending++
	return nil
}

// release returns a reserved slot after a failed spawn.
func (m *Manager) release() {
	m.mu.Lock()
	m.pending--
	m.mu.Unlock()
}

// Get returns a registered session or ErrNotFound.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, sharederrors.ErrNotFound)
	}
	return sess, nil
}

// List returns summaries of all registered sessions.
func (m *Manager) List() []types.SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]types.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Close terminates a session. Closing an id that is unknown (including one
// already closed and unregistered) is a no-op so repeated closes converge
// on the same terminal state.
func (m *Manager) Close(sessionID string, force bool) error {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()

	if !ok {
		return nil
	}
	return sess.Close(force)
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats summarizes registry state for health reporting.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byState := make(map[types.SessionState]int)
	for _, s := range m.sessions {
		byState[s.State()]++
	}

	return map[string]interface{}{
		"total":    len(m.sessions),
		"ready":    byState[types.StateReady],
		"busy":     byState[types.StateBusy],
		"starting": byState[types.StateStarting],
		"closing":  byState[types.StateClosing],
	}
}

// Shutdown stops the reaper and force-closes every session.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.reaperWG.Wait()

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_ = s.Close(true)
		}(s)
	}
	wg.Wait()
}

// unregister removes a fully closed session from the registry.
func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID.String())
	active := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetSessionsActive(active)
	}
}

// reapLoop closes sessions idle past the configured threshold. A session
// with a command in flight gets the non-forced close, which waits for the
// current result or its timeout before terminating.
func (m *Manager) reapLoop() {
	defer m.reaperWG.Done()

	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-m.cfg.IdleTimeout)

		m.mu.RLock()
		var idle []*Session
		for _, s := range m.sessions {
			if s.LastActivity().Before(cutoff) && !s.State().Terminal() {
				idle = append(idle, s)
			}
		}
		m.mu.RUnlock()

		for _, s := range idle {
			m.log.Info("reaping idle session",
				zap.String("session_id", s.ID.String()),
				zap.Time("last_activity", s.LastActivity()))
			if m.metrics != nil {
				m.metrics.SessionsReaped.Inc()
			}
			go func(s *Session) {
				_ = s.Close(false)
			}(s)
		}
	}
}
