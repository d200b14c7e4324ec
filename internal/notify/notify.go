// Package notify delivers found items to users over a chat push channel.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/fleamkt/watchdog/internal/market"
)

// Notifier pushes messages to a user. Implementations must absorb upstream
// failures: a failed delivery is logged and counted, never propagated into
// the polling loop.
type Notifier interface {
	SendText(ctx context.Context, userID int64, text string) error
	SendPhoto(ctx context.Context, userID int64, photoURL, caption string) error
	SendAdmin(ctx context.Context, text string) error
}

// FormatItem renders one item as a chat caption.
func FormatItem(it market.Item, query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", it.Title)
	if it.Price > 0 {
		fmt.Fprintf(&b, "Price: %.2f\n", it.Price)
	}
	if it.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", it.Location)
	}
	if it.Seller != "" {
		fmt.Fprintf(&b, "Seller: %s\n", it.Seller)
	}
	if !it.PublishTime.IsZero() {
		fmt.Fprintf(&b, "Published: %s\n", it.PublishTime.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "Query: %s\n", query)
	b.WriteString(it.URL)
	return b.String()
}
