// Package store persists watchdog state: per-user notification history,
// the allow-list, user settings, item snapshots and the request log.
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
)

// UserSettings are the per-user polling tunables. Out-of-range values are
// clamped on read.
type UserSettings struct {
	CheckIntervalS int  `json:"check_interval_s"`
	MaxAgeMin      int  `json:"max_age_min"`
	MaxPages       int  `json:"max_pages"`
	RowsPerPage    int  `json:"rows_per_page"`
	NotifyNewOnly  bool `json:"notify_new_only"`
}

// Clamp forces every field into its valid range. Idempotent.
func (s UserSettings) Clamp() UserSettings {
	s.CheckIntervalS = clampInt(s.CheckIntervalS, 10, 3600)
	s.MaxAgeMin = clampInt(s.MaxAgeMin, 1, 10080)
	s.MaxPages = clampInt(s.MaxPages, 1, 50)
	s.RowsPerPage = clampInt(s.RowsPerPage, 10, 1000)
	return s
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SettingsStore keeps one JSON file per user under user_settings/.
type SettingsStore struct {
	dir      string
	defaults UserSettings
	mu       sync.Mutex
}

func NewSettingsStore(dataDir string, defaults UserSettings) *SettingsStore {
	return &SettingsStore{
		dir:      filepath.Join(dataDir, "user_settings"),
		defaults: defaults.Clamp(),
	}
}

func (st *SettingsStore) path(userID int64) string {
	return filepath.Join(st.dir, strconv.FormatInt(userID, 10)+".json")
}

// Get loads a user's settings, clamped. A missing file yields the defaults.
func (st *SettingsStore) Get(userID int64) (UserSettings, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	raw, err := os.ReadFile(st.path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return st.defaults, nil
	}
	if err != nil {
		return st.defaults, fmt.Errorf("read settings: %w", err)
	}

	s := st.defaults
	if err := json.Unmarshal(raw, &s); err != nil {
		return st.defaults, fmt.Errorf("parse settings for user %d: %w", userID, err)
	}
	return s.Clamp(), nil
}

// Put stores a user's settings, clamped, durably.
func (st *SettingsStore) Put(userID int64, s UserSettings) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	raw, err := json.MarshalIndent(s.Clamp(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return atomicWrite(st.path(userID), raw)
}

// atomicWrite writes via a temp file, syncs and renames into place.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
