package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CookieFile persists cookie jars to cookies.properties. Each line is
// "<domain>.cookies = <RFC-style cookie string>". Values may optionally be
// encrypted at rest.
type CookieFile struct {
	path   string
	cipher *Cipher // nil = plaintext
}

func NewCookieFile(path string, cipher *Cipher) *CookieFile {
	return &CookieFile{path: path, cipher: cipher}
}

// Load reads the cookie jar for one domain. A missing file or missing
// domain entry yields an empty jar, not an error.
func (f *CookieFile) Load(domain string) (map[string]string, error) {
	if _, err := os.Stat(f.path); err != nil {
		return map[string]string{}, nil
	}

	props, err := godotenv.Read(f.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	raw, ok := props[domain+".cookies"]
	if !ok || raw == "" {
		return map[string]string{}, nil
	}

	if f.cipher != nil && strings.Contains(raw, ":") && !strings.Contains(raw, "=") {
		dec, err := f.cipher.Decrypt(raw)
		if err != nil {
			return nil, fmt.Errorf("decrypt cookies for %s: %w", domain, err)
		}
		raw = dec
	}

	return ParseCookieHeader(raw), nil
}

// Save writes the jar for one domain, preserving other domains' entries.
// The write is atomic (temp file + rename).
func (f *CookieFile) Save(domain string, cookies map[string]string) error {
	props := map[string]string{}
	if _, err := os.Stat(f.path); err == nil {
		if m, err := godotenv.Read(f.path); err == nil {
			props = m
		}
	}

	value := NewToken(cookies, time.Time{}).CookieHeader()
	if f.cipher != nil {
		enc, err := f.cipher.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypt cookies for %s: %w", domain, err)
		}
		value = enc
	}
	props[domain+".cookies"] = value

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(props[k])
		b.WriteString("\n")
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
