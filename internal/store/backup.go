package store

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const backupsPerSource = 10

// BackupManager takes compressed timestamped copies of the data dir's files
// into backups/. Best-effort: failures are logged, never propagated.
type BackupManager struct {
	dataDir string
	dir     string
	every   time.Duration
}

func NewBackupManager(dataDir string, every time.Duration) *BackupManager {
	return &BackupManager{
		dataDir: dataDir,
		dir:     filepath.Join(dataDir, "backups"),
		every:   every,
	}
}

// Run takes a backup on each tick until ctx is canceled.
func (b *BackupManager) Run(ctx context.Context) {
	ticker := time.NewTicker(b.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.BackupAll()
		}
	}
}

// BackupAll snapshots every regular file under the data dir except the
// backups themselves and sqlite side files.
func (b *BackupManager) BackupAll() {
	count := 0
	err := filepath.Walk(b.dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if path == b.dir {
				return filepath.SkipDir
			}
			return nil
		}
		name := info.Name()
		if strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, "-wal") || strings.HasSuffix(name, "-shm") {
			return nil
		}
		if err := b.backupFile(path); err != nil {
			slog.Warn("backup failed", "file", path, "error", err)
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		slog.Warn("backup walk failed", "error", err)
	}
	slog.Debug("backup pass complete", "files", count)
}

func (b *BackupManager) backupFile(path string) error {
	rel, err := filepath.Rel(b.dataDir, path)
	if err != nil {
		return err
	}
	flat := strings.ReplaceAll(rel, string(filepath.Separator), "__")
	stamp := time.Now().UTC().Format("20060102T150405")
	dst := filepath.Join(b.dir, fmt.Sprintf("%s.%s.gz", flat, stamp))

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("flush gzip: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close backup: %w", err)
	}

	b.prune(flat)
	return nil
}

// prune keeps only the newest backupsPerSource copies of one source file.
func (b *BackupManager) prune(flat string) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return
	}

	var matches []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), flat+".") && strings.HasSuffix(e.Name(), ".gz") {
			matches = append(matches, e.Name())
		}
	}
	if len(matches) <= backupsPerSource {
		return
	}

	// Timestamped names sort chronologically.
	sort.Strings(matches)
	for _, name := range matches[:len(matches)-backupsPerSource] {
		_ = os.Remove(filepath.Join(b.dir, name))
	}
}
