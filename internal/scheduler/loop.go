package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fleamkt/watchdog/internal/events"
	"github.com/fleamkt/watchdog/internal/market"
	"github.com/fleamkt/watchdog/internal/notify"
	"github.com/fleamkt/watchdog/internal/session"
	"github.com/fleamkt/watchdog/internal/store"
)

const (
	stateCheckEvery  = time.Second
	blockBackoff     = 5 * time.Second
	transientBackoff = 5 * time.Second
)

// RunnerOptions carries the loop's timing knobs.
type RunnerOptions struct {
	MaxRetries  int
	RetryDelay  time.Duration
	NotifyDelay time.Duration

	// Cooldown, when set, is the shared site-wide block window. Nil
	// disables it.
	Cooldown *market.Cooldown
}

// Runner executes polling iterations for user sessions. One Runner is shared
// by all loops; per-user state lives in the UserSession.
type Runner struct {
	adapter  market.Adapter
	tokens   TokenSource
	history  *store.History
	items    *store.ItemStore
	notifier notify.Notifier
	bus      *events.Bus
	reqLog   *store.LogDB
	log      *slog.Logger
	opts     RunnerOptions
}

// TokenSource is the slice of the session manager the loop needs.
type TokenSource interface {
	Current() session.Token
	Refresh(ctx context.Context, reason string) (session.Token, error)
}

func NewRunner(
	adapter market.Adapter,
	tokens TokenSource,
	history *store.History,
	items *store.ItemStore,
	notifier notify.Notifier,
	bus *events.Bus,
	reqLog *store.LogDB,
	logger *slog.Logger,
	opts RunnerOptions,
) *Runner {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.NotifyDelay <= 0 {
		opts.NotifyDelay = 800 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		adapter:  adapter,
		tokens:   tokens,
		history:  history,
		items:    items,
		notifier: notifier,
		bus:      bus,
		reqLog:   reqLog,
		log:      logger,
		opts:     opts,
	}
}

// Run executes the polling loop for one session until the session is asked
// to stop or the context is cancelled. It always leaves the session in
// STOPPED state.
func (r *Runner) Run(ctx context.Context, sess *UserSession) {
	log := r.log.With("user_id", sess.UserID)
	log.Info("polling loop started", "queries", len(sess.Queries))

	defer func() {
		sess.markStopped()
		snap := sess.Snapshot()
		r.bus.Publish(events.Event{
			Type:   events.EventLoopStop,
			UserID: sess.UserID,
			Message: fmt.Sprintf("requests=%d items=%d errors=%d",
				snap.Requests, snap.ItemsFound, snap.Errors),
		})
		r.sendSummary(sess, snap)
		log.Info("polling loop stopped",
			"requests", snap.Requests, "items", snap.ItemsFound, "errors", snap.Errors)
	}()

	for {
		switch sess.State() {
		case StateStopping, StateStopped:
			return
		case StatePaused:
			if !r.sleep(ctx, sess, stateCheckEvery) {
				return
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}

		r.iterate(ctx, sess, log)
		sess.markIteration()

		interval := time.Duration(sess.Settings.CheckIntervalS) * time.Second
		if !r.sleep(ctx, sess, interval) {
			return
		}
	}
}

// iterate runs one pass over the user's queries.
func (r *Runner) iterate(ctx context.Context, sess *UserSession, log *slog.Logger) {
	for i, query := range sess.Queries {
		if sess.State() != StateRunning || ctx.Err() != nil {
			return
		}

		found, blocked := r.pollQuery(ctx, sess, query, log)
		if len(found) > 0 {
			r.deliver(ctx, sess, query, found, log)
		}
		if blocked {
			if !r.sleep(ctx, sess, blockBackoff) {
				return
			}
		}

		if i < len(sess.Queries)-1 {
			if !r.sleep(ctx, sess, r.adapter.RequestDelay()) {
				return
			}
		}
	}
}

// pollQuery walks result pages for one query and returns the age-filtered
// items, plus whether the walk ended on a block signal.
func (r *Runner) pollQuery(ctx context.Context, sess *UserSession, query string, log *slog.Logger) (found []market.Item, blocked bool) {
	rows := sess.Settings.RowsPerPage
	maxAge := sess.Settings.MaxAgeMin

	for page := 1; page <= sess.Settings.MaxPages; page++ {
		if sess.State() != StateRunning || ctx.Err() != nil {
			return found, false
		}

		items, err := r.searchPage(ctx, sess, query, page, rows)
		if err != nil {
			switch market.Kind(err) {
			case market.KindEmptyPage:
				return found, false
			case market.KindBlocked:
				sess.recordError(err)
				r.bus.Publish(events.Event{
					Type:    events.EventBlocked,
					UserID:  sess.UserID,
					Query:   query,
					Message: err.Error(),
				})
				log.Warn("blocked by marketplace", "query", query, "error", err)
				return found, true
			case market.KindAuth:
				// Retries exhausted inside searchPage.
				sess.recordError(err)
				log.Warn("auth retries exhausted", "query", query, "error", err)
				return found, false
			default:
				sess.recordError(err)
				log.Warn("transient search failure", "query", query, "page", page, "error", err)
				if !r.sleep(ctx, sess, transientBackoff) {
					return found, false
				}
				continue
			}
		}

		fresh := market.FilterByAge(items, maxAge, time.Now())
		found = append(found, fresh...)

		// A short page after age filtering means older results from here on.
		if len(fresh) < rows {
			return found, false
		}

		if page < sess.Settings.MaxPages {
			if !r.sleep(ctx, sess, r.adapter.RequestDelay()) {
				return found, false
			}
		}
	}
	return found, false
}

// searchPage performs one page request, reactively refreshing the session
// token on auth errors and retrying with backoff scaled by attempt count.
func (r *Runner) searchPage(ctx context.Context, sess *UserSession, query string, page, rows int) ([]market.Item, error) {
	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if !r.sleep(ctx, sess, r.opts.RetryDelay*time.Duration(attempt)) {
				return nil, lastErr
			}
		}

		if cd := r.opts.Cooldown; cd != nil {
			if d := cd.Remaining(time.Now()); d > 0 {
				return nil, market.NewSearchError(market.KindBlocked, 0,
					fmt.Sprintf("site cooling down for %s", d.Round(time.Second)), nil)
			}
		}

		tok := r.tokens.Current()
		start := time.Now()
		items, err := r.adapter.Search(ctx, query, page, rows, tok)
		sess.addRequests(1)
		r.logRequest(ctx, sess.UserID, query, page, items, err, time.Since(start))

		if err == nil {
			if cd := r.opts.Cooldown; cd != nil {
				cd.Clear()
			}
			return items, nil
		}
		lastErr = err

		if kind := market.Kind(err); kind != market.KindAuth {
			if kind == market.KindBlocked && r.opts.Cooldown != nil {
				r.opts.Cooldown.Trip(time.Now())
			}
			return nil, err
		}
		if _, rerr := r.tokens.Refresh(ctx, "auth-error"); rerr != nil {
			return nil, fmt.Errorf("token refresh after auth error: %w", rerr)
		}
		r.bus.Publish(events.Event{
			Type:    events.EventRefresh,
			UserID:  sess.UserID,
			Message: "reactive refresh after auth error",
		})
	}
	return nil, lastErr
}

// deliver filters the batch against history and pushes notifications. Items
// are marked sent before delivery so a crash mid-batch never repeats a
// notification.
func (r *Runner) deliver(ctx context.Context, sess *UserSession, query string, found []market.Item, log *slog.Logger) {
	ids := make([]string, len(found))
	for i, it := range found {
		ids[i] = it.ID
	}

	newIDs := ids
	if sess.Settings.NotifyNewOnly {
		var err error
		newIDs, err = r.history.FilterNew(sess.UserID, ids)
		if err != nil {
			sess.recordError(err)
			log.Error("history filter failed, skipping batch", "query", query, "error", err)
			return
		}
	}
	if len(newIDs) == 0 {
		return
	}

	if err := r.history.MarkSent(sess.UserID, newIDs); err != nil {
		sess.recordError(err)
		log.Error("history persist failed, skipping batch", "query", query, "error", err)
		return
	}

	if err := r.items.Append(sess.UserID, found); err != nil {
		log.Warn("item audit persist failed", "error", err)
	}

	keep := make(map[string]bool, len(newIDs))
	for _, id := range newIDs {
		keep[id] = true
	}

	delivered := 0
	for _, it := range found {
		if !keep[it.ID] {
			continue
		}
		keep[it.ID] = false

		if delivered > 0 {
			if !r.sleep(ctx, sess, r.opts.NotifyDelay) {
				break
			}
		}

		caption := notify.FormatItem(it, query)
		photo := ""
		if len(it.Images) > 0 {
			photo = it.Images[0]
		}
		if err := r.notifier.SendPhoto(ctx, sess.UserID, photo, caption); err != nil {
			sess.recordError(err)
			log.Warn("notification failed", "item_id", it.ID, "error", err)
		}
		delivered++
	}
	sess.addItemsFound(int64(delivered))
	log.Info("notified", "query", query, "items", delivered)
}

func (r *Runner) sendSummary(sess *UserSession, snap Status) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	text := fmt.Sprintf(
		"Monitoring stopped.\nRequests: %d\nItems found: %d\nErrors: %d",
		snap.Requests, snap.ItemsFound, snap.Errors)
	if err := r.notifier.SendText(ctx, sess.UserID, text); err != nil {
		r.log.Warn("summary delivery failed", "user_id", sess.UserID, "error", err)
	}
}

func (r *Runner) logRequest(ctx context.Context, userID int64, query string, page int, items []market.Item, err error, dur time.Duration) {
	if r.reqLog == nil {
		return
	}
	status := "ok"
	if err != nil {
		switch market.Kind(err) {
		case market.KindAuth:
			status = "auth"
		case market.KindBlocked:
			status = "blocked"
		case market.KindTransient:
			status = "transient"
		case market.KindEmptyPage:
			status = "empty_page"
		default:
			status = "error"
		}
	}
	rec := &store.RequestLog{
		RequestID:  uuid.New().String(),
		UserID:     userID,
		Site:       r.adapter.Site(),
		Query:      query,
		Page:       page,
		Status:     status,
		Items:      len(items),
		DurationMs: dur.Milliseconds(),
	}
	if ierr := r.reqLog.Insert(ctx, rec); ierr != nil {
		r.log.Warn("request log insert failed", "error", ierr)
	}
}

// sleep waits for d, waking at least once per second to observe stop
// requests and context cancellation. Returns false when the loop should
// exit.
func (r *Runner) sleep(ctx context.Context, sess *UserSession, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		switch sess.State() {
		case StateStopping, StateStopped:
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		step := stateCheckEvery
		if remaining < step {
			step = remaining
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
