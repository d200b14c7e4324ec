// Package market defines the item model and the site adapter contract.
package market

import "time"

// Item is an immutable snapshot of one search result.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Price       float64   `json:"price"`
	URL         string    `json:"url"`
	Location    string    `json:"location"`
	PublishTime time.Time `json:"publish_time,omitzero"`
	AgeMinutes  int       `json:"age_minutes"`
	Images      []string  `json:"images,omitempty"`
	Seller      string    `json:"seller"`
	Category    string    `json:"category"`
	Query       string    `json:"query"`
	Site        string    `json:"site"`
}

// Age returns the item age in whole minutes at the given instant. Items with
// an unknown publish time keep their parsed AgeMinutes; a future publish
// time clamps to zero.
func (it Item) Age(now time.Time) int {
	if it.PublishTime.IsZero() {
		if it.AgeMinutes < 0 {
			return 0
		}
		return it.AgeMinutes
	}
	age := int(now.Sub(it.PublishTime) / time.Minute)
	if age < 0 {
		return 0
	}
	return age
}

// FilterByAge returns the items no older than maxAge minutes, preserving
// order. For any a <= b, FilterByAge(L, a) is a subset of FilterByAge(L, b).
func FilterByAge(items []Item, maxAge int, now time.Time) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Age(now) <= maxAge {
			out = append(out, it)
		}
	}
	return out
}
