package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/fleamkt/watchdog/internal/events"
	"github.com/fleamkt/watchdog/internal/market"
	"github.com/fleamkt/watchdog/internal/session"
	"github.com/fleamkt/watchdog/internal/store"
)

// fakeAdapter replays a scripted sequence of page responses.
type fakeAdapter struct {
	mu      sync.Mutex
	script  []fakePage
	calls   int
	delay   time.Duration
	gotToks []session.Token
}

type fakePage struct {
	items []market.Item
	err   error
}

func (f *fakeAdapter) Search(_ context.Context, _ string, _, _ int, tok session.Token) ([]market.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotToks = append(f.gotToks, tok)
	if f.calls >= len(f.script) {
		return nil, market.NewSearchError(market.KindEmptyPage, 200, "no more results", nil)
	}
	page := f.script[f.calls]
	f.calls++
	return page.items, page.err
}

func (f *fakeAdapter) RequestDelay() time.Duration { return f.delay }
func (f *fakeAdapter) Site() string                { return "fake" }

// fakeTokens hands out a current token and counts refreshes.
type fakeTokens struct {
	mu        sync.Mutex
	current   session.Token
	next      session.Token
	refreshes int
}

func (f *fakeTokens) Current() session.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeTokens) Refresh(context.Context, string) (session.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.next.Seed != "" {
		f.current = f.next
	}
	return f.current, nil
}

// fakeNotifier records deliveries.
type fakeNotifier struct {
	mu     sync.Mutex
	photos []string // captions
	texts  []string
	err    error
}

func (f *fakeNotifier) SendText(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.err
}

func (f *fakeNotifier) SendPhoto(_ context.Context, _ int64, _ string, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, caption)
	return f.err
}

func (f *fakeNotifier) SendAdmin(context.Context, string) error { return nil }

func (f *fakeNotifier) photoCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.photos)
}

func freshItem(id, title string) market.Item {
	return market.Item{
		ID:          id,
		Title:       title,
		URL:         "https://www.goofish.com/item?id=" + id,
		PublishTime: time.Now().Add(-time.Minute),
	}
}

func testSettings() store.UserSettings {
	return store.UserSettings{
		CheckIntervalS: 3600,
		MaxAgeMin:      60,
		MaxPages:       3,
		RowsPerPage:    5,
		NotifyNewOnly:  true,
	}
}

func newTestRunner(t *testing.T, adapter *fakeAdapter, tokens TokenSource, notifier *fakeNotifier) (*Runner, *store.History) {
	t.Helper()
	dir := t.TempDir()
	history := store.NewHistory(dir, 0)
	items := store.NewItemStore(dir, 0)
	r := NewRunner(adapter, tokens, history, items, notifier, events.NewBus(16), nil,
		slog.New(slog.DiscardHandler), RunnerOptions{
			MaxRetries:  3,
			RetryDelay:  time.Millisecond,
			NotifyDelay: time.Millisecond,
		})
	return r, history
}

func TestIterateDeliversNewItems(t *testing.T) {
	adapter := &fakeAdapter{script: []fakePage{
		{items: []market.Item{freshItem("1", "one"), freshItem("2", "two")}},
	}}
	tokens := &fakeTokens{current: session.Token{Seed: "s1"}}
	notifier := &fakeNotifier{}
	r, history := newTestRunner(t, adapter, tokens, notifier)

	sess := NewUserSession(42, []string{"camera"}, testSettings())
	r.iterate(context.Background(), sess, r.log)

	if got := notifier.photoCount(); got != 2 {
		t.Fatalf("deliveries = %d, want 2", got)
	}
	if n, _ := history.Size(42); n != 2 {
		t.Fatalf("history size = %d, want 2", n)
	}
	snap := sess.Snapshot()
	if snap.ItemsFound != 2 {
		t.Fatalf("items found = %d", snap.ItemsFound)
	}
}

func TestIterateSuppressesDuplicates(t *testing.T) {
	items := []market.Item{freshItem("1", "one"), freshItem("2", "two")}
	adapter := &fakeAdapter{script: []fakePage{{items: items}, {items: items}}}
	tokens := &fakeTokens{current: session.Token{Seed: "s1"}}
	notifier := &fakeNotifier{}
	r, _ := newTestRunner(t, adapter, tokens, notifier)

	sess := NewUserSession(42, []string{"camera"}, testSettings())
	r.iterate(context.Background(), sess, r.log)
	r.iterate(context.Background(), sess, r.log)

	if got := notifier.photoCount(); got != 2 {
		t.Fatalf("deliveries = %d, want 2 (second iteration all duplicates)", got)
	}
}

func TestSearchPageReactiveRefresh(t *testing.T) {
	authErr := market.NewSearchError(market.KindAuth, 200, "FAIL_SYS_TOKEN_EXOIRED", nil)
	adapter := &fakeAdapter{script: []fakePage{
		{err: authErr},
		{items: []market.Item{freshItem("1", "one")}},
	}}
	tokens := &fakeTokens{
		current: session.Token{Seed: "old"},
		next:    session.Token{Seed: "new"},
	}
	notifier := &fakeNotifier{}
	r, _ := newTestRunner(t, adapter, tokens, notifier)

	sess := NewUserSession(42, []string{"camera"}, testSettings())
	items, err := r.searchPage(context.Background(), sess, "camera", 1, 5)
	if err != nil {
		t.Fatalf("searchPage: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d", len(items))
	}
	if tokens.refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", tokens.refreshes)
	}
	// The retry must have seen the refreshed token.
	if got := adapter.gotToks[1].Seed; got != "new" {
		t.Fatalf("retry token seed = %q, want new", got)
	}
}

func TestSearchPageAuthRetriesExhausted(t *testing.T) {
	authErr := market.NewSearchError(market.KindAuth, 200, "FAIL_SYS_TOKEN_EMPTY", nil)
	adapter := &fakeAdapter{script: []fakePage{
		{err: authErr}, {err: authErr}, {err: authErr}, {err: authErr}, {err: authErr},
	}}
	tokens := &fakeTokens{current: session.Token{Seed: "old"}}
	notifier := &fakeNotifier{}
	r, _ := newTestRunner(t, adapter, tokens, notifier)

	sess := NewUserSession(42, []string{"camera"}, testSettings())
	_, err := r.searchPage(context.Background(), sess, "camera", 1, 5)
	if market.Kind(err) != market.KindAuth {
		t.Fatalf("err = %v, want auth kind", err)
	}
	// Initial attempt plus MaxRetries retries.
	if adapter.calls != 4 {
		t.Fatalf("calls = %d, want 4", adapter.calls)
	}
}

func TestPollQueryStopsOnBlocked(t *testing.T) {
	adapter := &fakeAdapter{script: []fakePage{
		{err: market.NewSearchError(market.KindBlocked, 429, "RGV587_ERROR", nil)},
	}}
	tokens := &fakeTokens{current: session.Token{Seed: "s1"}}
	notifier := &fakeNotifier{}
	r, _ := newTestRunner(t, adapter, tokens, notifier)

	sess := NewUserSession(42, []string{"camera"}, testSettings())
	found, blocked := r.pollQuery(context.Background(), sess, "camera", r.log)
	if !blocked {
		t.Fatal("expected blocked signal")
	}
	if len(found) != 0 {
		t.Fatalf("found = %d", len(found))
	}
	if sess.Snapshot().Errors != 1 {
		t.Fatalf("errors = %d", sess.Snapshot().Errors)
	}
}

func TestPollQueryAgeFilterShortPageStops(t *testing.T) {
	old := market.Item{ID: "old", Title: "stale", PublishTime: time.Now().Add(-3 * time.Hour)}
	adapter := &fakeAdapter{script: []fakePage{
		// Full page pre-filter, but only one fresh item post-filter.
		{items: []market.Item{freshItem("1", "one"), old, old, old, old}},
		{items: []market.Item{freshItem("2", "two")}},
	}}
	tokens := &fakeTokens{current: session.Token{Seed: "s1"}}
	notifier := &fakeNotifier{}
	r, _ := newTestRunner(t, adapter, tokens, notifier)

	sess := NewUserSession(42, []string{"camera"}, testSettings())
	found, _ := r.pollQuery(context.Background(), sess, "camera", r.log)

	// Post-filter short page ends the walk: page 2 never requested.
	if adapter.calls != 1 {
		t.Fatalf("calls = %d, want 1", adapter.calls)
	}
	if len(found) != 1 || found[0].ID != "1" {
		t.Fatalf("found = %v", found)
	}
}

func TestRunStopsWithinASecond(t *testing.T) {
	adapter := &fakeAdapter{}
	tokens := &fakeTokens{current: session.Token{Seed: "s1"}}
	notifier := &fakeNotifier{}
	r, _ := newTestRunner(t, adapter, tokens, notifier)

	sess := NewUserSession(42, []string{"camera"}, testSettings())
	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), sess)
		close(done)
	}()

	// Let the loop reach its inter-iteration sleep (3600 s interval).
	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	sess.RequestStop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	if elapsed := time.Since(start); elapsed > 1100*time.Millisecond {
		t.Fatalf("stop latency = %v, want <= 1.1s", elapsed)
	}
	if sess.State() != StateStopped {
		t.Fatalf("state = %v", sess.State())
	}
	// Loop exit sends the summary message.
	if len(notifier.texts) == 0 {
		t.Fatal("no summary message sent")
	}
}

func TestRunPausedPerformsNoRequests(t *testing.T) {
	adapter := &fakeAdapter{script: []fakePage{
		{items: []market.Item{freshItem("1", "one")}},
	}}
	tokens := &fakeTokens{current: session.Token{Seed: "s1"}}
	notifier := &fakeNotifier{}
	r, _ := newTestRunner(t, adapter, tokens, notifier)

	sess := NewUserSession(42, []string{"camera"}, testSettings())
	sess.Pause()

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), sess)
		close(done)
	}()

	time.Sleep(80 * time.Millisecond)
	if adapter.calls != 0 {
		t.Fatalf("paused loop made %d requests", adapter.calls)
	}
	sess.RequestStop()
	<-done
}

func TestDeliverSkipsBatchOnHistoryFailure(t *testing.T) {
	adapter := &fakeAdapter{}
	tokens := &fakeTokens{current: session.Token{Seed: "s1"}}
	notifier := &fakeNotifier{}

	dir := t.TempDir()
	// A plain file where the history directory should be makes every
	// history write fail.
	if err := writeFile(dir+"/sent_products", "not a dir"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	history := store.NewHistory(dir, 0)
	items := store.NewItemStore(dir, 0)
	r := NewRunner(adapter, tokens, history, items, notifier, events.NewBus(16), nil,
		slog.New(slog.DiscardHandler), RunnerOptions{NotifyDelay: time.Millisecond})

	sess := NewUserSession(42, []string{"camera"}, testSettings())
	r.deliver(context.Background(), sess, "camera", []market.Item{freshItem("1", "one")}, r.log)

	if notifier.photoCount() != 0 {
		t.Fatal("batch must not be delivered when history fails")
	}
	if sess.Snapshot().Errors != 1 {
		t.Fatalf("errors = %d", sess.Snapshot().Errors)
	}
}

func TestNotifierFailureDoesNotStopDelivery(t *testing.T) {
	adapter := &fakeAdapter{script: []fakePage{
		{items: []market.Item{freshItem("1", "one"), freshItem("2", "two")}},
	}}
	tokens := &fakeTokens{current: session.Token{Seed: "s1"}}
	notifier := &fakeNotifier{err: context.DeadlineExceeded}
	r, history := newTestRunner(t, adapter, tokens, notifier)

	sess := NewUserSession(42, []string{"camera"}, testSettings())
	r.iterate(context.Background(), sess, r.log)

	// Both deliveries attempted despite failures; items stay marked sent.
	if got := notifier.photoCount(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	if n, _ := history.Size(42); n != 2 {
		t.Fatalf("history size = %d, want 2 (at-most-once)", n)
	}
	if sess.Snapshot().Errors != 2 {
		t.Fatalf("errors = %d", sess.Snapshot().Errors)
	}
}

func TestSchedulerSingleLoopPerUser(t *testing.T) {
	adapter := &fakeAdapter{}
	tokens := &fakeTokens{current: session.Token{Seed: "s1"}}
	notifier := &fakeNotifier{}
	r, _ := newTestRunner(t, adapter, tokens, notifier)

	pool := NewPool(2, 4, 8, time.Second)
	sched := NewScheduler(pool, r, events.NewBus(16), slog.New(slog.DiscardHandler))

	if err := sched.Start(42, []string{"camera"}, testSettings()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sched.Start(42, []string{"camera"}, testSettings()); err != ErrAlreadyRunning {
		t.Fatalf("second start err = %v, want ErrAlreadyRunning", err)
	}
	if sched.ActiveCount() != 1 {
		t.Fatalf("active = %d", sched.ActiveCount())
	}

	if err := sched.Pause(42); err != nil {
		t.Fatalf("pause: %v", err)
	}
	st, ok := sched.Status(42)
	if !ok || st.State != StatePaused {
		t.Fatalf("status = %+v ok=%v", st, ok)
	}
	if err := sched.Resume(42); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if err := sched.Stop(42); err != nil {
		t.Fatalf("stop: %v", err)
	}
	sched.Shutdown(2 * time.Second)

	if err := sched.Stop(42); err != ErrNotRunning {
		t.Fatalf("stop after exit err = %v, want ErrNotRunning", err)
	}
}

func TestSchedulerShutdownStopsAllLoops(t *testing.T) {
	adapter := &fakeAdapter{}
	tokens := &fakeTokens{current: session.Token{Seed: "s1"}}
	notifier := &fakeNotifier{}
	r, _ := newTestRunner(t, adapter, tokens, notifier)

	pool := NewPool(2, 4, 8, time.Second)
	sched := NewScheduler(pool, r, events.NewBus(16), slog.New(slog.DiscardHandler))

	for _, id := range []int64{1, 2, 3} {
		if err := sched.Start(id, []string{"q"}, testSettings()); err != nil {
			t.Fatalf("start %d: %v", id, err)
		}
	}

	start := time.Now()
	sched.Shutdown(3 * time.Second)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("shutdown took %v", elapsed)
	}
	if sched.ActiveCount() != 0 {
		t.Fatalf("active = %d after shutdown", sched.ActiveCount())
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
