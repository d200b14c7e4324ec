// Package supervisor wires the stores, scheduler and session manager
// together and exposes the control operations.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleamkt/watchdog/internal/events"
	"github.com/fleamkt/watchdog/internal/notify"
	"github.com/fleamkt/watchdog/internal/scheduler"
	"github.com/fleamkt/watchdog/internal/session"
	"github.com/fleamkt/watchdog/internal/store"
)

// ErrNotAllowed is returned for users missing from the allow-list.
var ErrNotAllowed = fmt.Errorf("user not in allow-list")

// ErrNoQueries is returned when a user has no stored search queries.
var ErrNoQueries = fmt.Errorf("user has no queries")

type Options struct {
	StatsInterval time.Duration
	ShutdownGrace time.Duration
	BackupEnabled bool
}

type Supervisor struct {
	allow    *store.AllowList
	queries  *store.QueryStore
	settings *store.SettingsStore
	sched    *scheduler.Scheduler
	tokens   *session.Manager
	notifier notify.Notifier
	bus      *events.Bus
	backup   *store.BackupManager
	log      *slog.Logger
	opts     Options

	cancelRun context.CancelFunc
	group     *errgroup.Group
}

func New(
	allow *store.AllowList,
	queries *store.QueryStore,
	settings *store.SettingsStore,
	sched *scheduler.Scheduler,
	tokens *session.Manager,
	notifier notify.Notifier,
	bus *events.Bus,
	backup *store.BackupManager,
	logger *slog.Logger,
	opts Options,
) *Supervisor {
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = 30 * time.Minute
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		allow:    allow,
		queries:  queries,
		settings: settings,
		sched:    sched,
		tokens:   tokens,
		notifier: notifier,
		bus:      bus,
		backup:   backup,
		log:      logger,
		opts:     opts,
	}
}

// StartUser begins polling for the user. Refused when the user is not
// allow-listed or has no stored queries.
func (s *Supervisor) StartUser(userID int64) error {
	if !s.allow.Contains(userID) {
		return fmt.Errorf("user %d: %w", userID, ErrNotAllowed)
	}

	queries, err := s.queries.Get(userID)
	if err != nil {
		return fmt.Errorf("load queries: %w", err)
	}
	if len(queries) == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNoQueries)
	}

	settings, err := s.settings.Get(userID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if err := s.sched.Start(userID, queries, settings); err != nil {
		return err
	}
	s.log.Info("user started", "user_id", userID, "queries", len(queries))
	return nil
}

func (s *Supervisor) StopUser(userID int64) error   { return s.sched.Stop(userID) }
func (s *Supervisor) PauseUser(userID int64) error  { return s.sched.Pause(userID) }
func (s *Supervisor) ResumeUser(userID int64) error { return s.sched.Resume(userID) }

// UserStatus reports one user's session snapshot.
func (s *Supervisor) UserStatus(userID int64) (scheduler.Status, bool) {
	return s.sched.Status(userID)
}

// Statuses snapshots all live sessions.
func (s *Supervisor) Statuses() []scheduler.Status {
	return s.sched.Statuses()
}

// GlobalStats aggregates the counters across all live sessions.
type GlobalStats struct {
	ActiveUsers int
	Requests    int64
	ItemsFound  int64
	Errors      int64
	Workers     int
}

func (s *Supervisor) GlobalStats() GlobalStats {
	statuses := s.sched.Statuses()
	stats := GlobalStats{
		ActiveUsers: len(statuses),
		Workers:     s.sched.Workers(),
	}
	for _, st := range statuses {
		stats.Requests += st.Requests
		stats.ItemsFound += st.ItemsFound
		stats.Errors += st.Errors
	}
	return stats
}

// ResumeAll restarts polling for every allow-listed user with stored
// queries, used after a process restart.
func (s *Supervisor) ResumeAll() int {
	ids, err := s.queries.Users()
	if err != nil {
		s.log.Warn("cannot enumerate stored query lists", "error", err)
		return 0
	}
	started := 0
	for _, id := range ids {
		if err := s.StartUser(id); err != nil {
			s.log.Warn("resume skipped", "user_id", id, "error", err)
			continue
		}
		started++
	}
	return started
}

// Start launches the background tasks: proactive token refresh, periodic
// stats reporting and backups.
func (s *Supervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelRun = cancel
	s.group, ctx = errgroup.WithContext(ctx)

	s.tokens.Start()

	s.group.Go(func() error {
		s.runStats(ctx)
		return nil
	})
	s.group.Go(func() error {
		s.runAlerts(ctx)
		return nil
	})
	if s.opts.BackupEnabled && s.backup != nil {
		s.group.Go(func() error {
			s.backup.Run(ctx)
			return nil
		})
	}
}

func (s *Supervisor) runStats(ctx context.Context) {
	ticker := time.NewTicker(s.opts.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.GlobalStats()
			msg := fmt.Sprintf("users=%d requests=%d items=%d errors=%d workers=%d",
				stats.ActiveUsers, stats.Requests, stats.ItemsFound, stats.Errors, stats.Workers)
			s.bus.Publish(events.Event{Type: events.EventStats, Message: msg})
			s.log.Info("periodic stats", "active_users", stats.ActiveUsers,
				"requests", stats.Requests, "items", stats.ItemsFound,
				"errors", stats.Errors, "workers", stats.Workers)
			if err := s.notifier.SendAdmin(ctx, "Stats: "+msg); err != nil {
				s.log.Warn("admin stats delivery failed", "error", err)
			}
		}
	}
}

// runAlerts forwards failure events to the admin chat.
func (s *Supervisor) runAlerts(ctx context.Context) {
	id, ch, _ := s.bus.Subscribe()
	defer s.bus.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Type != events.EventRefreshFailed && e.Type != events.EventFatal {
				continue
			}
			if err := s.notifier.SendAdmin(ctx, "Alert: "+e.Message); err != nil {
				s.log.Warn("admin alert delivery failed", "error", err)
			}
		}
	}
}

// Shutdown stops all loops and background tasks. Loops get the configured
// grace period to exit cooperatively before cancellation.
func (s *Supervisor) Shutdown() {
	s.log.Info("shutting down", "grace", s.opts.ShutdownGrace)

	s.sched.Shutdown(s.opts.ShutdownGrace)
	s.tokens.Shutdown()

	if s.cancelRun != nil {
		s.cancelRun()
		_ = s.group.Wait()
	}

	if s.backup != nil && s.opts.BackupEnabled {
		s.backup.BackupAll()
	}
	s.log.Info("shutdown complete")
}
