package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram delivers messages through the Bot API. Delivery errors are
// returned to the caller for counting but callers are expected not to abort
// on them.
type Telegram struct {
	token   string
	adminID int64
	base    string
	http    *http.Client
	log     *slog.Logger
}

type TelegramOptions struct {
	Token   string
	AdminID int64
	BaseURL string
	Timeout time.Duration
}

func NewTelegram(opts TelegramOptions, logger *slog.Logger) *Telegram {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultAPIBase
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		token:   opts.Token,
		adminID: opts.AdminID,
		base:    opts.BaseURL,
		http:    &http.Client{Timeout: opts.Timeout},
		log:     logger,
	}
}

func (t *Telegram) SendText(ctx context.Context, userID int64, text string) error {
	return t.call(ctx, "sendMessage", map[string]any{
		"chat_id": userID,
		"text":    text,
	})
}

func (t *Telegram) SendPhoto(ctx context.Context, userID int64, photoURL, caption string) error {
	if photoURL == "" {
		return t.SendText(ctx, userID, caption)
	}
	err := t.call(ctx, "sendPhoto", map[string]any{
		"chat_id": userID,
		"photo":   photoURL,
		"caption": caption,
	})
	if err != nil {
		// Photo URLs go stale quickly on the marketplace CDN. Fall back to
		// text so the user still sees the item.
		t.log.Warn("photo delivery failed, falling back to text",
			"user_id", userID, "error", err)
		return t.SendText(ctx, userID, caption)
	}
	return nil
}

func (t *Telegram) SendAdmin(ctx context.Context, text string) error {
	if t.adminID == 0 {
		return nil
	}
	return t.call(ctx, "sendMessage", map[string]any{
		"chat_id": t.adminID,
		"text":    text,
	})
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) call(ctx context.Context, method string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.base, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	var api apiResponse
	if err := json.Unmarshal(raw, &api); err != nil {
		return fmt.Errorf("%s: status %d, unparseable response", method, resp.StatusCode)
	}
	if !api.OK {
		return fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, api.Description)
	}
	return nil
}
