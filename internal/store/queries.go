package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// QueryStore persists each user's search query list so polling loops can be
// resumed after a restart. One query per line under user_queries/.
type QueryStore struct {
	dir string

	mu sync.Mutex
}

func NewQueryStore(dataDir string) *QueryStore {
	return &QueryStore{dir: filepath.Join(dataDir, "user_queries")}
}

func (st *QueryStore) path(userID int64) string {
	return filepath.Join(st.dir, fmt.Sprintf("%d.txt", userID))
}

// Get returns the user's queries, or nil if none are stored.
func (st *QueryStore) Get(userID int64) ([]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	raw, err := os.ReadFile(st.path(userID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queries for user %d: %w", userID, err)
	}

	var queries []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		queries = append(queries, line)
	}
	return queries, nil
}

// Put replaces the user's query list.
func (st *QueryStore) Put(userID int64, queries []string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return fmt.Errorf("create queries dir: %w", err)
	}

	var b strings.Builder
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		b.WriteString(q)
		b.WriteByte('\n')
	}
	if err := atomicWrite(st.path(userID), []byte(b.String())); err != nil {
		return fmt.Errorf("persist queries for user %d: %w", userID, err)
	}
	return nil
}

// Users lists ids that have a stored query list.
func (st *QueryStore) Users() ([]int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	entries, err := os.ReadDir(st.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queries dir: %w", err)
	}

	var ids []int64
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".txt")
		if name == e.Name() {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(name, "%d", &id); err == nil && id > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
