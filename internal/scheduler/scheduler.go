package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fleamkt/watchdog/internal/events"
	"github.com/fleamkt/watchdog/internal/store"
)

// ErrAlreadyRunning is returned by Start when the user already has a live
// polling loop.
var ErrAlreadyRunning = fmt.Errorf("already running")

// ErrNotRunning is returned by control operations on users without a live
// session.
var ErrNotRunning = fmt.Errorf("not running")

// Scheduler owns the per-user sessions and dispatches their loops onto the
// worker pool. Exactly one loop exists per running user id.
type Scheduler struct {
	pool   *Pool
	runner *Runner
	bus    *events.Bus
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[int64]*UserSession
}

func NewScheduler(pool *Pool, runner *Runner, bus *events.Bus, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		pool:     pool,
		runner:   runner,
		bus:      bus,
		log:      logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[int64]*UserSession),
	}
}

// Start creates a session for the user and submits its loop. A second Start
// for the same user is refused with ErrAlreadyRunning.
func (s *Scheduler) Start(userID int64, queries []string, settings store.UserSettings) error {
	s.mu.Lock()
	if existing, ok := s.sessions[userID]; ok && existing.State() != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	sess := NewUserSession(userID, queries, settings)
	s.sessions[userID] = sess
	s.mu.Unlock()

	s.bus.Publish(events.Event{
		Type:    events.EventLoopStart,
		UserID:  userID,
		Message: fmt.Sprintf("queries=%d interval=%ds", len(queries), settings.CheckIntervalS),
	})

	inPool := s.pool.Submit(func() {
		s.runner.Run(s.ctx, sess)
		s.mu.Lock()
		if s.sessions[userID] == sess {
			delete(s.sessions, userID)
		}
		s.mu.Unlock()
	})
	if !inPool {
		// Caller-runs fallback already executed the whole loop synchronously.
		s.log.Warn("pool saturated, loop ran on caller", "user_id", userID)
	}
	return nil
}

func (s *Scheduler) session(userID int64) (*UserSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// Stop requests a cooperative stop. The loop exits at its next check-point.
func (s *Scheduler) Stop(userID int64) error {
	sess, ok := s.session(userID)
	if !ok {
		return ErrNotRunning
	}
	if !sess.RequestStop() {
		return ErrNotRunning
	}
	return nil
}

// Pause suspends requests without releasing the session.
func (s *Scheduler) Pause(userID int64) error {
	sess, ok := s.session(userID)
	if !ok {
		return ErrNotRunning
	}
	if !sess.Pause() {
		return fmt.Errorf("user %d is %s, cannot pause", userID, sess.State())
	}
	return nil
}

// Resume returns a paused session to RUNNING.
func (s *Scheduler) Resume(userID int64) error {
	sess, ok := s.session(userID)
	if !ok {
		return ErrNotRunning
	}
	if !sess.Resume() {
		return fmt.Errorf("user %d is %s, cannot resume", userID, sess.State())
	}
	return nil
}

// Status reports one user's session snapshot.
func (s *Scheduler) Status(userID int64) (Status, bool) {
	sess, ok := s.session(userID)
	if !ok {
		return Status{}, false
	}
	return sess.Snapshot(), true
}

// Statuses snapshots every live session.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	sessions := make([]*UserSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Snapshot())
	}
	return out
}

// ActiveCount is the number of live sessions, paused included.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Workers reports the pool's current worker count.
func (s *Scheduler) Workers() int { return s.pool.Workers() }

// Shutdown stops all loops, waits up to grace for natural exit, then
// force-cancels the remaining ones.
func (s *Scheduler) Shutdown(grace time.Duration) {
	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.RequestStop()
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := s.pool.Shutdown(ctx); err != nil {
		s.log.Warn("grace period elapsed, cancelling remaining loops")
		s.cancel()
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer waitCancel()
		_ = s.pool.Shutdown(waitCtx)
		return
	}
	s.cancel()
}
