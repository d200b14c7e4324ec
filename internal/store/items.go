package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fleamkt/watchdog/internal/market"
)

// ItemStore keeps per-user item snapshots under user_products/<id>.json for
// audit and resumption. Best-effort from the loop's point of view.
type ItemStore struct {
	dir string
	mu  sync.Mutex
	cap int
}

// NewItemStore creates the store; capPerUser bounds the stored snapshot
// count (newest kept).
func NewItemStore(dataDir string, capPerUser int) *ItemStore {
	if capPerUser <= 0 {
		capPerUser = 1000
	}
	return &ItemStore{dir: filepath.Join(dataDir, "user_products"), cap: capPerUser}
}

func (st *ItemStore) path(userID int64) string {
	return filepath.Join(st.dir, strconv.FormatInt(userID, 10)+".json")
}

// Append merges the snapshots into the user's file, newest last,
// deduplicated by item id.
func (st *ItemStore) Append(userID int64, items []market.Item) error {
	if len(items) == 0 {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	existing, err := st.loadLocked(userID)
	if err != nil {
		return err
	}

	seen := make(map[string]int, len(existing))
	for i, it := range existing {
		seen[it.ID] = i
	}
	for _, it := range items {
		if i, ok := seen[it.ID]; ok {
			existing[i] = it
			continue
		}
		seen[it.ID] = len(existing)
		existing = append(existing, it)
	}

	if len(existing) > st.cap {
		existing = existing[len(existing)-st.cap:]
	}

	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	raw, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	return atomicWrite(st.path(userID), raw)
}

// Load returns the user's stored snapshots.
func (st *ItemStore) Load(userID int64) ([]market.Item, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.loadLocked(userID)
}

func (st *ItemStore) loadLocked(userID int64) ([]market.Item, error) {
	raw, err := os.ReadFile(st.path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	var items []market.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse items for user %d: %w", userID, err)
	}
	return items, nil
}
