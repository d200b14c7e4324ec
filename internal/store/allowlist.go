package store

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// AllowList is the persistent set of user ids permitted to start polling
// loops, backed by whitelist.txt (one decimal id per line; '#' comments and
// blank lines are ignored on load). Mutations persist before returning.
type AllowList struct {
	path string

	mu  sync.RWMutex
	ids map[int64]struct{}
}

// LoadAllowList reads whitelist.txt from the data dir. A missing file
// yields an empty list.
func LoadAllowList(dataDir string) (*AllowList, error) {
	al := &AllowList{
		path: filepath.Join(dataDir, "whitelist.txt"),
		ids:  make(map[int64]struct{}),
	}

	f, err := os.Open(al.path)
	if errors.Is(err, fs.ErrNotExist) {
		return al, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open whitelist: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("whitelist line %d: invalid user id %q", lineNo, line)
		}
		al.ids[id] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan whitelist: %w", err)
	}
	return al, nil
}

// Contains reports whether the user may start loops.
func (al *AllowList) Contains(userID int64) bool {
	al.mu.RLock()
	defer al.mu.RUnlock()
	_, ok := al.ids[userID]
	return ok
}

// Add inserts the id and persists. Adding an existing id is a no-op.
func (al *AllowList) Add(userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("invalid user id %d", userID)
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	if _, ok := al.ids[userID]; ok {
		return nil
	}
	al.ids[userID] = struct{}{}
	if err := al.persistLocked(); err != nil {
		delete(al.ids, userID)
		return err
	}
	return nil
}

// Remove deletes the id and persists.
func (al *AllowList) Remove(userID int64) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if _, ok := al.ids[userID]; !ok {
		return nil
	}
	delete(al.ids, userID)
	if err := al.persistLocked(); err != nil {
		al.ids[userID] = struct{}{}
		return err
	}
	return nil
}

// List returns the ids in ascending order.
func (al *AllowList) List() []int64 {
	al.mu.RLock()
	defer al.mu.RUnlock()

	out := make([]int64, 0, len(al.ids))
	for id := range al.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (al *AllowList) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(al.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	ids := make([]int64, 0, len(al.ids))
	for id := range al.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	b.WriteString("# authorized user ids, one per line\n")
	for _, id := range ids {
		b.WriteString(strconv.FormatInt(id, 10))
		b.WriteString("\n")
	}
	return atomicWrite(al.path, []byte(b.String()))
}
