// Package session owns the marketplace session token: the cookie jar, the
// signing seed derived from it, and the refresh lifecycle.
package session

import (
	"sort"
	"strings"
	"time"
)

// TokenCookie is the cookie the signing seed is derived from.
const TokenCookie = "_m_h5_tk"

// Token is an immutable snapshot of the current session. Workers borrow it
// read-only; replacement happens atomically inside the Manager.
type Token struct {
	Cookies    map[string]string
	Seed       string
	ObtainedAt time.Time
}

// NewToken builds a token from a cookie jar, deriving the signing seed once.
// The seed is the part of the token cookie before its first underscore; a
// missing or malformed cookie leaves the seed empty, which the site will
// reject as an auth failure on first use.
func NewToken(cookies map[string]string, obtainedAt time.Time) Token {
	seed := ""
	if v, ok := cookies[TokenCookie]; ok {
		if i := strings.Index(v, "_"); i > 0 {
			seed = v[:i]
		}
	}
	return Token{Cookies: cookies, Seed: seed, ObtainedAt: obtainedAt}
}

// Valid reports whether the token carries any cookies at all. A token may be
// Valid yet still rejected by the site; that surfaces as an auth error.
func (t Token) Valid() bool { return len(t.Cookies) > 0 }

// CookieHeader renders the jar as an RFC 6265 Cookie header value. Cookies
// are sorted by name for a stable rendering.
func (t Token) CookieHeader() string {
	names := make([]string, 0, len(t.Cookies))
	for name := range t.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(t.Cookies[name])
	}
	return b.String()
}

// ParseCookieHeader parses an RFC-style cookie string ("a=1; b=2") into a
// jar. Malformed fragments are skipped.
func ParseCookieHeader(s string) map[string]string {
	jar := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		jar[name] = strings.TrimSpace(value)
	}
	return jar
}
