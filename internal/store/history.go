package store

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// DefaultHistoryCap bounds per-user history growth (FIFO eviction).
const DefaultHistoryCap = 50000

// History is the per-user set of already-delivered item ids, one line per id
// in sent_products/user_<id>.txt. It is the single source of truth for
// duplicate suppression; the in-memory maps are just a cache over the files.
type History struct {
	dir string
	cap int

	mu    sync.Mutex
	users map[int64]*userHistory
}

type userHistory struct {
	mu     sync.Mutex
	loaded bool
	ids    map[string]struct{}
	order  []string // insertion order, for FIFO eviction
}

func NewHistory(dataDir string, capPerUser int) *History {
	if capPerUser <= 0 {
		capPerUser = DefaultHistoryCap
	}
	return &History{
		dir:   filepath.Join(dataDir, "sent_products"),
		cap:   capPerUser,
		users: make(map[int64]*userHistory),
	}
}

func (h *History) path(userID int64) string {
	return filepath.Join(h.dir, "user_"+strconv.FormatInt(userID, 10)+".txt")
}

// user returns the cached state for userID, loading the backing file on
// first access. Callers take u.mu themselves for their own operation.
func (h *History) user(userID int64) (*userHistory, error) {
	h.mu.Lock()
	u, ok := h.users[userID]
	if !ok {
		u = &userHistory{ids: make(map[string]struct{})}
		h.users[userID] = u
	}
	h.mu.Unlock()

	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.loaded {
		if err := h.loadLocked(userID, u); err != nil {
			return nil, err
		}
		u.loaded = true
	}
	return u, nil
}

func (h *History) loadLocked(userID int64, u *userHistory) error {
	f, err := os.Open(h.path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id == "" {
			continue
		}
		if _, dup := u.ids[id]; dup {
			continue
		}
		u.ids[id] = struct{}{}
		u.order = append(u.order, id)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan history: %w", err)
	}
	return nil
}

// FilterNew returns the candidate ids not yet delivered to the user,
// preserving candidate order.
func (h *History) FilterNew(userID int64, candidates []string) ([]string, error) {
	u, err := h.user(userID)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, id := range candidates {
		if _, dup := u.ids[id]; dup {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// MarkSent durably records the ids as delivered before returning. Already
// recorded ids are ignored (idempotent union).
func (h *History) MarkSent(userID int64, ids []string) error {
	u, err := h.user(userID)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := u.ids[id]; dup {
			continue
		}
		fresh = append(fresh, id)
	}
	if len(fresh) == 0 {
		return nil
	}

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	if len(u.order)+len(fresh) > h.cap {
		return h.rewriteLocked(userID, u, fresh)
	}
	return h.appendLocked(userID, u, fresh)
}

func (h *History) appendLocked(userID int64, u *userHistory, fresh []string) error {
	f, err := os.OpenFile(h.path(userID), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	for _, id := range fresh {
		if _, err := f.WriteString(id + "\n"); err != nil {
			f.Close()
			return fmt.Errorf("append history: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync history: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close history: %w", err)
	}

	for _, id := range fresh {
		u.ids[id] = struct{}{}
		u.order = append(u.order, id)
	}
	return nil
}

// rewriteLocked applies FIFO eviction: keep the newest cap entries.
func (h *History) rewriteLocked(userID int64, u *userHistory, fresh []string) error {
	merged := append(append([]string{}, u.order...), fresh...)
	if len(merged) > h.cap {
		evicted := merged[:len(merged)-h.cap]
		merged = merged[len(merged)-h.cap:]
		for _, id := range evicted {
			delete(u.ids, id)
		}
	}

	var b strings.Builder
	for _, id := range merged {
		b.WriteString(id)
		b.WriteString("\n")
	}
	if err := atomicWrite(h.path(userID), []byte(b.String())); err != nil {
		return fmt.Errorf("rewrite history: %w", err)
	}

	for _, id := range fresh {
		u.ids[id] = struct{}{}
	}
	u.order = merged
	return nil
}

// Clear removes the user's history (file and cache).
func (h *History) Clear(userID int64) error {
	h.mu.Lock()
	delete(h.users, userID)
	h.mu.Unlock()

	err := os.Remove(h.path(userID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove history: %w", err)
	}
	return nil
}

// Size reports how many ids are recorded for the user.
func (h *History) Size(userID int64) (int, error) {
	u, err := h.user(userID)
	if err != nil {
		return 0, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.ids), nil
}
