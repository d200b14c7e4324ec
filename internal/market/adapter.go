package market

import (
	"context"
	"time"

	"github.com/fleamkt/watchdog/internal/session"
)

// Adapter encapsulates one marketplace: request construction, signing,
// response parsing and error classification. Implementations never refresh
// the session token themselves; an invalid token surfaces as KindAuth.
type Adapter interface {
	// Search fetches one result page. page starts at 1. The token snapshot
	// is borrowed read-only for this call.
	Search(ctx context.Context, query string, page, rows int, tok session.Token) ([]Item, error)

	// RequestDelay is the pacing hint between consecutive requests.
	RequestDelay() time.Duration

	// Site names the marketplace (stable, used in item records and logs).
	Site() string
}
