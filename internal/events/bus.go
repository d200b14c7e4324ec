// Package events carries lifecycle notifications between the polling engine
// and interested listeners (admin notices, stats, dashboards).
package events

import (
	"sync"
	"time"
)

type EventType string

const (
	EventLoopStart     EventType = "loop_start"
	EventLoopStop      EventType = "loop_stop"
	EventRefresh       EventType = "refresh"
	EventRefreshFailed EventType = "refresh_failed"
	EventBlocked       EventType = "blocked"
	EventFatal         EventType = "fatal"
	EventStats         EventType = "stats"
)

type Event struct {
	Type      EventType `json:"type"`
	UserID    int64     `json:"user_id,omitempty"`
	Query     string    `json:"query,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"ts"`
}

// Bus is a ring buffer of recent events with non-blocking subscriber
// fanout. Slow subscribers drop events rather than stalling publishers.
type Bus struct {
	mu          sync.RWMutex
	ring        []Event
	ringSize    int
	ringPos     int
	ringCount   int
	subscribers map[int]chan Event
	nextID      int
}

func NewBus(ringSize int) *Bus {
	if ringSize <= 0 {
		ringSize = 200
	}
	return &Bus{
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
		subscribers: make(map[int]chan Event),
	}
}

func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring[b.ringPos] = e
	b.ringPos = (b.ringPos + 1) % b.ringSize
	if b.ringCount < b.ringSize {
		b.ringCount++
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a listener and returns the recent backlog.
func (b *Bus) Subscribe() (id int, ch <-chan Event, recent []Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := make(chan Event, 64)
	id = b.nextID
	b.nextID++
	b.subscribers[id] = c

	recent = b.recentLocked()
	return id, c, recent
}

func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Recent returns the buffered events, oldest first.
func (b *Bus) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.recentLocked()
}

func (b *Bus) recentLocked() []Event {
	if b.ringCount == 0 {
		return nil
	}
	result := make([]Event, b.ringCount)
	start := (b.ringPos - b.ringCount + b.ringSize) % b.ringSize
	for i := range b.ringCount {
		result[i] = b.ring[(start+i)%b.ringSize]
	}
	return result
}
