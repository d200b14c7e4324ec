package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/fleamkt/watchdog/internal/events"
)

// ManagerOptions tune the refresh lifecycle.
type ManagerOptions struct {
	Domain         string        // cookie file key, e.g. "goofish"
	MinRefreshGap  time.Duration // throttle window after a successful refresh
	ProactiveEvery time.Duration // proactive refresh tick, 0 disables
	Dynamic        bool          // false = static cookies only, Refresh is a no-op
	Bus            *events.Bus   // nil = no failure events published
}

// Manager owns the single current session token. Reads are lock-free
// snapshots; refreshes are coalesced so the external provider runs at most
// once for any burst of concurrent callers.
type Manager struct {
	opts     ManagerOptions
	provider Provider
	file     *CookieFile // nil = no persistence

	cur atomic.Pointer[Token]
	sf  singleflight.Group

	mu          sync.Mutex
	lastSuccess time.Time

	cancelRun context.CancelFunc
	done      chan struct{}
}

func NewManager(opts ManagerOptions, provider Provider, file *CookieFile) *Manager {
	m := &Manager{opts: opts, provider: provider, file: file, done: make(chan struct{})}
	empty := NewToken(map[string]string{}, time.Time{})
	m.cur.Store(&empty)
	return m
}

// Bootstrap installs the persisted cookie jar as the initial token. It does
// not call the provider.
func (m *Manager) Bootstrap() error {
	if m.file == nil {
		return nil
	}
	cookies, err := m.file.Load(m.opts.Domain)
	if err != nil {
		return fmt.Errorf("load persisted cookies: %w", err)
	}
	if len(cookies) == 0 {
		return nil
	}
	tok := NewToken(cookies, time.Now())
	m.cur.Store(&tok)
	slog.Info("session bootstrapped from cookie file", "domain", m.opts.Domain, "cookies", len(cookies), "hasSeed", tok.Seed != "")
	return nil
}

// Current returns the latest installed token snapshot. Never blocks. Before
// any successful install it returns an empty, invalid token.
func (m *Manager) Current() Token {
	return *m.cur.Load()
}

// Refresh obtains a fresh token and installs it. Concurrent callers are
// coalesced onto one provider call. Within the throttle window after a
// success, Refresh returns the current token without contacting the
// provider; callers then retry their request once against it.
func (m *Manager) Refresh(ctx context.Context, reason string) (Token, error) {
	if !m.opts.Dynamic {
		return m.Current(), nil
	}

	m.mu.Lock()
	throttled := !m.lastSuccess.IsZero() && time.Since(m.lastSuccess) < m.opts.MinRefreshGap
	m.mu.Unlock()
	if throttled {
		slog.Debug("refresh throttled, using current token", "reason", reason)
		return m.Current(), nil
	}

	v, err, shared := m.sf.Do("refresh", func() (any, error) {
		return m.doRefresh(ctx, reason)
	})
	if err != nil {
		return m.Current(), err
	}
	tok := v.(Token)
	if shared {
		slog.Debug("refresh coalesced", "reason", reason)
	}
	return tok, nil
}

func (m *Manager) doRefresh(ctx context.Context, reason string) (Token, error) {
	attempt := uuid.New().String()[:8]
	slog.Info("refreshing session token", "reason", reason, "attempt", attempt)

	cookies, err := m.provider.Fetch(ctx)
	if err != nil {
		slog.Error("token provider failed", "reason", reason, "attempt", attempt, "error", err)
		m.publishFailure(reason, err)
		return Token{}, fmt.Errorf("fetch cookies: %w", err)
	}
	if len(cookies) == 0 {
		err := fmt.Errorf("token provider returned no cookies")
		m.publishFailure(reason, err)
		return Token{}, err
	}

	tok := NewToken(cookies, time.Now())
	m.cur.Store(&tok)

	m.mu.Lock()
	m.lastSuccess = tok.ObtainedAt
	m.mu.Unlock()

	if m.file != nil {
		if err := m.file.Save(m.opts.Domain, cookies); err != nil {
			// The in-memory token is installed either way; persistence is
			// best-effort and retried on the next refresh.
			slog.Warn("persist cookies failed", "error", err)
		}
	}

	slog.Info("session token refreshed", "reason", reason, "attempt", attempt, "cookies", len(cookies), "hasSeed", tok.Seed != "")
	return tok, nil
}

func (m *Manager) publishFailure(reason string, err error) {
	if m.opts.Bus == nil {
		return
	}
	m.opts.Bus.Publish(events.Event{
		Type:    events.EventRefreshFailed,
		Message: fmt.Sprintf("token refresh failed (%s): %v", reason, err),
	})
}

// Test reports whether the current token looks usable: it has cookies and a
// signing seed. A passing Test does not guarantee the site accepts it.
func (m *Manager) Test(ctx context.Context) bool {
	tok := m.Current()
	return tok.Valid() && tok.Seed != ""
}

// Run drives proactive refresh until ctx is canceled. Failures keep the
// current token and are retried on the next tick.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	if !m.opts.Dynamic || m.opts.ProactiveEvery <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(m.opts.ProactiveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Refresh(ctx, "periodic"); err != nil {
				slog.Warn("proactive refresh failed", "error", err)
			}
		}
	}
}

// Start launches Run on its own goroutine. Shutdown stops it.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelRun = cancel
	go m.Run(ctx)
}

// Shutdown stops the proactive refresh goroutine, waiting for it to exit.
func (m *Manager) Shutdown() {
	if m.cancelRun == nil {
		return
	}
	m.cancelRun()
	<-m.done
}
