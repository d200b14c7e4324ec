package session

import (
	"testing"
	"time"
)

func TestSeedDerivation(t *testing.T) {
	tok := NewToken(map[string]string{
		TokenCookie: "5c3f2a1b9e8d7c6f_1718000000123",
		"cookie2":   "x",
	}, time.Now())

	if tok.Seed != "5c3f2a1b9e8d7c6f" {
		t.Fatalf("seed = %q", tok.Seed)
	}
}

func TestSeedMissingCookie(t *testing.T) {
	tok := NewToken(map[string]string{"other": "v"}, time.Now())
	if tok.Seed != "" {
		t.Fatalf("seed = %q, want empty", tok.Seed)
	}
}

func TestSeedMalformedCookie(t *testing.T) {
	for _, v := range []string{"nodelimiter", "_leadingunderscore", ""} {
		tok := NewToken(map[string]string{TokenCookie: v}, time.Now())
		if tok.Seed != "" {
			t.Fatalf("seed for %q = %q, want empty", v, tok.Seed)
		}
	}
}

func TestCookieHeaderRoundTrip(t *testing.T) {
	jar := map[string]string{"a": "1", "b": "2", TokenCookie: "seed_123"}
	header := NewToken(jar, time.Time{}).CookieHeader()

	parsed := ParseCookieHeader(header)
	if len(parsed) != len(jar) {
		t.Fatalf("parsed %d cookies, want %d", len(parsed), len(jar))
	}
	for k, v := range jar {
		if parsed[k] != v {
			t.Fatalf("cookie %s = %q, want %q", k, parsed[k], v)
		}
	}
}

func TestParseCookieHeaderSkipsMalformed(t *testing.T) {
	jar := ParseCookieHeader("a=1; ; =empty; justtext; b=2")
	if len(jar) != 2 {
		t.Fatalf("jar = %v", jar)
	}
	if jar["a"] != "1" || jar["b"] != "2" {
		t.Fatalf("jar = %v", jar)
	}
}

func TestValid(t *testing.T) {
	if NewToken(map[string]string{}, time.Now()).Valid() {
		t.Fatal("empty token should not be valid")
	}
	if !NewToken(map[string]string{"a": "1"}, time.Now()).Valid() {
		t.Fatal("non-empty token should be valid")
	}
}
