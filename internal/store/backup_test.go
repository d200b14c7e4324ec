package store

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBackupAllCompressesFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "whitelist.txt"), []byte("42\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sub := filepath.Join(dir, "sent_products")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "user_42.txt"), []byte("a\nb\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	b := NewBackupManager(dir, time.Hour)
	b.BackupAll()

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	if err != nil {
		t.Fatalf("read backups: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("backups = %d, want 2", len(entries))
	}

	// The whitelist backup decompresses to the original content.
	var name string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "whitelist.txt.") {
			name = e.Name()
		}
	}
	if name == "" {
		t.Fatal("no whitelist backup found")
	}
	f, err := os.Open(filepath.Join(dir, "backups", name))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != "42\n" {
		t.Fatalf("content = %q", raw)
	}
}

func TestBackupPruneKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	backups := filepath.Join(dir, "backups")
	if err := os.MkdirAll(backups, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	// Seed 13 fake timestamped backups of one source.
	for i := range 13 {
		name := filepath.Join(backups, "whitelist.txt.20250101T0000"+string(rune('0'+i/10))+string(rune('0'+i%10))+".gz")
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	b := NewBackupManager(dir, time.Hour)
	b.prune("whitelist.txt")

	entries, err := os.ReadDir(backups)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != backupsPerSource {
		t.Fatalf("remaining = %d, want %d", len(entries), backupsPerSource)
	}
	// Oldest removed.
	for _, e := range entries {
		if strings.Contains(e.Name(), "T000000") || strings.Contains(e.Name(), "T000001") || strings.Contains(e.Name(), "T000002") {
			t.Fatalf("old backup %s should be pruned", e.Name())
		}
	}
}

func TestBackupSkipsTempAndSqliteSideFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"watchdog.db-wal", "watchdog.db-shm", "settings.json.tmp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	b := NewBackupManager(dir, time.Hour)
	b.BackupAll()

	if entries, err := os.ReadDir(filepath.Join(dir, "backups")); err == nil && len(entries) != 0 {
		t.Fatalf("backups = %v, want none", entries)
	}
}
