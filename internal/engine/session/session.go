// Package session aggregates one pty-backed shell, its completion detector,
// output broadcaster, and command queue into a single unit of ownership, and
// provides the registry that manages all live sessions.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/termpilot/termpilot/internal/engine/broadcast"
	"github.com/termpilot/termpilot/internal/engine/detect"
	"github.com/termpilot/termpilot/internal/engine/pty"
	"github.com/termpilot/termpilot/internal/engine/queue"
	"github.com/termpilot/termpilot/internal/infrastructure/monitoring"
	"github.com/termpilot/termpilot/internal/logging"
	"github.com/termpilot/termpilot/internal/shared/id"
	"github.com/termpilot/termpilot/internal/types"
)

// Config carries per-session engine settings.
type Config struct {
	Shell            string
	WorkingDir       string
	Dimensions       types.Dimensions
	Env              map[string]string
	DetectTimeout    time.Duration
	CaptureLimit     int
	RingCapacity     int
	SubscriberBuffer int
	TerminateGrace   time.Duration
	StartupGrace     time.Duration
	Metrics          *monitoring.Metrics
}

func (c *Config) applyDefaults() {
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = 30 * time.Second
	}
	if c.TerminateGrace <= 0 {
		c.TerminateGrace = 5 * time.Second
	}
	if c.StartupGrace <= 0 {
		c.StartupGrace = 500 * time.Millisecond
	}
}

// Session owns exactly one live shell process while in states ready/busy.
// Two goroutines service it: the reader drains the pty and publishes every
// chunk, and the queue loop drives commands through the detector. They
// share only the detector's capture state.
type Session struct {
	ID  id.SessionID
	cfg Config
	log *logging.Logger

	proc *pty.Process
	det  *detect.Detector
	bc   *broadcast.Broadcaster
	cmdq *queue.Queue

	mu           sync.Mutex
	cond         *sync.Cond
	state        types.SessionState
	dims         types.Dimensions
	createdAt    time.Time
	lastActivity time.Time
	inFlight     bool

	ctx    context.Context
	cancel context.CancelFunc

	firstOutput  chan struct{}
	firstOutOnce sync.Once

	closedCh     chan struct{}
	finalizeOnce sync.Once
	onClosed     func(*Session)
}

// New spawns the shell and starts the session's reader and queue-loop
// goroutines. onClosed, if non-nil, is invoked once after the session has
// fully closed and its process has been reaped.
func New(cfg Config, log *logging.Logger, onClosed func(*Session)) (*Session, error) {
	cfg.applyDefaults()

	proc, err := pty.Spawn(pty.SpawnOptions{
		Shell:      cfg.Shell,
		WorkingDir: cfg.WorkingDir,
		Dimensions: cfg.Dimensions,
		Env:        cfg.Env,
	})
	if err != nil {
		return nil, err
	}

	sessionID := id.NewSessionID()
	if log == nil {
		log = logging.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	s := &Session{
		ID:           sessionID,
		cfg:          cfg,
		log:          log.With(zap.String("session_id", sessionID.String())),
		proc:         proc,
		det:          detect.New(cfg.CaptureLimit),
		bc:           broadcast.New(sessionID.String(), cfg.RingCapacity, cfg.SubscriberBuffer),
		cmdq:         queue.New(),
		state:        types.StateStarting,
		dims:         cfg.Dimensions,
		createdAt:    now,
		lastActivity: now,
		ctx:          ctx,
		cancel:       cancel,
		firstOutput:  make(chan struct{}),
		closedCh:     make(chan struct{}),
		onClosed:     onClosed,
	}
	s.cond = sync.NewCond(&s.mu)

	go s.readLoop()
	go s.runLoop()
	go s.watchStartup()

	s.log.Info("session started",
		zap.String("shell", proc.Shell()),
		zap.Int("pid", proc.Pid()))

	return s, nil
}

// readLoop continuously drains the pty and publishes to the broadcaster.
// It suspends only on the blocking read, so output delivery is never
// stalled by command processing.
func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.proc.Read(buf)
		if n > 0 {
			s.det.Feed(buf[:n])
			s.bc.Publish(buf[:n])
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.RecordChunk(n)
			}
			s.firstOutOnce.Do(func() { close(s.firstOutput) })
			s.touch()
		}
		if err != nil {
			break
		}
	}

	s.bc.PublishEOF()

	s.mu.Lock()
	unexpected := s.state != types.StateClosing && s.state != types.StateClosed
	s.mu.Unlock()

	if unexpected {
		s.log.Warn("shell exited unexpectedly",
			zap.Int("exit_code", s.proc.ExitCode()))
	}

	s.finalize()
}

// runLoop dequeues one command at a time and drives it through the
// completion detector.
func (s *Session) runLoop() {
	for {
		p, ok := s.cmdq.Dequeue(s.ctx)
		if !ok {
			return
		}

		s.setBusy(true)
		start := time.Now()

		wrapped := s.det.Begin(p.Req.Text)
		if err := s.proc.Write(wrapped); err != nil {
			s.det.End()
			s.log.Warn("command write failed", zap.Error(err))
			p.Resolve(types.CommandResult{
				CorrelationID: p.Req.CorrelationID,
				Status:        types.StatusSessionTerminated,
			})
			s.setBusy(false)
			continue
		}

		res := s.det.Wait(s.ctx, s.cfg.DetectTimeout)
		s.det.End()

		status := types.StatusCompleted
		switch {
		case s.ctx.Err() != nil:
			status = types.StatusSessionTerminated
		case res.TimedOut:
			status = types.StatusTimeout
		}

		p.Resolve(types.CommandResult{
			CorrelationID: p.Req.CorrelationID,
			Output:        res.Output,
			ExitCode:      res.ExitCode,
			DurationMs:    time.Since(start).Milliseconds(),
			Truncated:     res.Truncated,
			Status:        status,
		})
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordCommand(string(status), time.Since(start))
		}

		s.setBusy(false)
		s.touch()
	}
}

// watchStartup flips starting to ready once the shell prompt produces its
// first output, or after a fixed grace period.
func (s *Session) watchStartup() {
	select {
	case <-s.firstOutput:
	case <-time.After(s.cfg.StartupGrace):
	case <-s.ctx.Done():
		return
	}

	s.mu.Lock()
	if s.state == types.StateStarting {
		s.state = types.StateReady
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// Enqueue submits a command for serialized execution. A missing correlation
// ID is filled in. Critical-risk commands without the confirmed flag are
// parked and reported via ErrConfirmationRequired.
func (s *Session) Enqueue(req types.CommandRequest) (*queue.Pending, error) {
	if req.Risk != "" && !req.Risk.Valid() {
		return nil, fmt.Errorf("invalid risk level %q", req.Risk)
	}
	if req.Risk == "" {
		req.Risk = types.RiskSafe
	}
	if req.CorrelationID == "" {
		req.CorrelationID = id.NewCommandID().String()
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}
	req.SessionID = s.ID.String()

	s.touch()
	return s.cmdq.Enqueue(req)
}

// Confirm admits a parked critical-risk command to the queue.
func (s *Session) Confirm(correlationID string) (*queue.Pending, error) {
	s.touch()
	return s.cmdq.Confirm(correlationID)
}

// Execute enqueues the request and blocks until its result arrives or ctx
// is canceled.
func (s *Session) Execute(ctx context.Context, req types.CommandRequest) (types.CommandResult, error) {
	p, err := s.Enqueue(req)
	if err != nil {
		return types.CommandResult{}, err
	}

	select {
	case res := <-p.Result():
		return res, nil
	case <-ctx.Done():
		return types.CommandResult{}, ctx.Err()
	}
}

// Control writes raw control bytes straight to the pty, bypassing the
// queue. Interrupts must reach a command that is currently executing.
func (s *Session) Control(data []byte) error {
	s.touch()
	return s.proc.Write(data)
}

// ControlChar sends a named control character: 'C' (SIGINT), 'D' (EOF),
// or 'Z' (suspend).
func (s *Session) ControlChar(char byte) error {
	var b byte
	switch char {
	case 'c', 'C':
		b = 0x03
	case 'd', 'D':
		b = 0x04
	case 'z', 'Z':
		b = 0x1a
	default:
		return fmt.Errorf("unsupported control character %q", char)
	}
	return s.Control([]byte{b})
}

// Resize changes the pty window size.
func (s *Session) Resize(dims types.Dimensions) error {
	if err := s.proc.Resize(dims); err != nil {
		return err
	}

	s.mu.Lock()
	s.dims = dims
	s.mu.Unlock()
	s.touch()
	return nil
}

// Subscribe registers an output consumer and returns it with the replay
// snapshot of retained chunks.
func (s *Session) Subscribe() (*broadcast.Subscriber, []types.OutputChunk) {
	return s.bc.Subscribe()
}

// Unsubscribe removes an output consumer. Idempotent.
func (s *Session) Unsubscribe(subID id.SubscriberID) {
	s.bc.Unsubscribe(subID)
}

// ReplayFrom returns retained chunks with sequence numbers >= seq.
func (s *Session) ReplayFrom(seq uint64) []types.OutputChunk {
	return s.bc.ReplayFrom(seq)
}

// State returns the current lifecycle state.
func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns the public summary of the session.
func (s *Session) Info() types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.SessionInfo{
		ID:             s.ID.String(),
		State:          s.state,
		Shell:          s.proc.Shell(),
		WorkingDir:     s.cfg.WorkingDir,
		Dimensions:     s.dims,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivity,
	}
}

// LastActivity returns the time of the most recent output or submission.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Close transitions the session to closing, terminates the shell with the
// configured grace period, and blocks until the process has been reaped.
// Without force it first waits for the in-flight command's result (or its
// detection timeout). Idempotent.
func (s *Session) Close(force bool) error {
	s.mu.Lock()
	switch s.state {
	case types.StateClosed:
		s.mu.Unlock()
		return nil
	case types.StateClosing:
		s.mu.Unlock()
		<-s.closedCh
		return nil
	}
	s.state = types.StateClosing
	s.mu.Unlock()

	// Closing the queue first rejects new submissions and resolves queued
	// entries with SessionTerminated; the in-flight command, if any, is
	// past the queue and is waited on below.
	s.cmdq.Close()

	if !force {
		s.waitIdle(s.cfg.DetectTimeout + s.cfg.TerminateGrace)
	}

	if err := s.proc.Terminate(s.cfg.TerminateGrace); err != nil {
		s.log.Error("terminate failed", zap.Error(err))
	}

	<-s.closedCh
	s.log.Info("session closed")
	return nil
}

// Closed returns a channel closed once the session has fully shut down.
func (s *Session) Closed() <-chan struct{} {
	return s.closedCh
}

// waitIdle blocks until no command is in flight, bounded by timeout.
func (s *Session) waitIdle(timeout time.Duration) {
	deadline := time.AfterFunc(timeout, func() {
		s.cond.Broadcast()
	})
	defer deadline.Stop()

	start := time.Now()
	s.mu.Lock()
	for s.inFlight && time.Since(start) < timeout {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

func (s *Session) setBusy(busy bool) {
	s.mu.Lock()
	s.inFlight = busy
	switch {
	case busy && (s.state == types.StateReady || s.state == types.StateStarting):
		s.state = types.StateBusy
	case !busy && s.state == types.StateBusy:
		s.state = types.StateReady
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// finalize runs exactly once, after the pty has drained. It resolves any
// still-pending queue entries, releases subscribers, and notifies the
// registry.
func (s *Session) finalize() {
	s.finalizeOnce.Do(func() {
		s.mu.Lock()
		s.state = types.StateClosed
		s.inFlight = false
		s.cond.Broadcast()
		s.mu.Unlock()

		s.cancel()
		s.cmdq.Close()
		s.bc.Close()
		// Drop totals only settle once the fanout stops, so they are
		// flushed to the counter here.
		if s.cfg.Metrics != nil && s.bc.Dropped() > 0 {
			s.cfg.Metrics.ChunksDropped.Add(float64(s.bc.Dropped()))
		}
		close(s.closedCh)

		if s.onClosed != nil {
			s.onClosed(s)
		}
	})
}
