package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleamkt/watchdog/internal/market"
)

func newTestTelegram(t *testing.T, handler http.HandlerFunc) (*Telegram, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tg := NewTelegram(TelegramOptions{
		Token:   "test-token",
		AdminID: 99,
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
	}, slog.New(slog.DiscardHandler))
	return tg, srv
}

func TestSendTextPostsToChatID(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	tg, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"ok":true}`))
	})

	if err := tg.SendText(context.Background(), 42, "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if gotPath != "/bottest-token/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody["chat_id"].(float64) != 42 || gotBody["text"] != "hello" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestSendAdminUsesAdminID(t *testing.T) {
	var gotBody map[string]any
	tg, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"ok":true}`))
	})

	if err := tg.SendAdmin(context.Background(), "stats"); err != nil {
		t.Fatalf("SendAdmin: %v", err)
	}
	if gotBody["chat_id"].(float64) != 99 {
		t.Fatalf("chat_id = %v", gotBody["chat_id"])
	}
}

func TestSendPhotoFallsBackToText(t *testing.T) {
	var calls atomic.Int64
	var methods []string
	tg, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		methods = append(methods, r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "sendPhoto") {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"ok":false,"description":"wrong file identifier"}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})

	if err := tg.SendPhoto(context.Background(), 42, "https://example.com/p.jpg", "caption"); err != nil {
		t.Fatalf("SendPhoto: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2 (photo then text)", calls.Load())
	}
	if !strings.HasSuffix(methods[1], "sendMessage") {
		t.Fatalf("fallback method = %q", methods[1])
	}
}

func TestSendPhotoEmptyURLSendsText(t *testing.T) {
	var gotPath string
	tg, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"ok":true}`))
	})

	if err := tg.SendPhoto(context.Background(), 42, "", "caption"); err != nil {
		t.Fatalf("SendPhoto: %v", err)
	}
	if !strings.HasSuffix(gotPath, "sendMessage") {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestCallReportsAPIError(t *testing.T) {
	tg, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"ok":false,"description":"bot was blocked by the user"}`))
	})

	err := tg.SendText(context.Background(), 42, "hello")
	if err == nil || !strings.Contains(err.Error(), "blocked by the user") {
		t.Fatalf("err = %v", err)
	}
}

func TestFormatItemIncludesFields(t *testing.T) {
	it := market.Item{
		ID:          "123",
		Title:       "Vintage camera",
		Price:       450,
		Location:    "Hangzhou",
		Seller:      "nick",
		URL:         "https://www.goofish.com/item?id=123",
		PublishTime: time.Date(2026, 8, 20, 12, 30, 0, 0, time.UTC),
	}
	text := FormatItem(it, "camera")
	for _, want := range []string{"Vintage camera", "Price: 450.00", "Location: Hangzhou", "Query: camera", it.URL} {
		if !strings.Contains(text, want) {
			t.Fatalf("formatted text missing %q:\n%s", want, text)
		}
	}
}

func TestFormatItemOmitsZeroPrice(t *testing.T) {
	it := market.Item{ID: "9", Title: "Freebie", URL: "https://www.goofish.com/item?id=9"}
	if text := FormatItem(it, "free"); strings.Contains(text, "Price:") {
		t.Fatalf("zero price should be omitted:\n%s", text)
	}
}
