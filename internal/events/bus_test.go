package events

import (
	"fmt"
	"testing"
)

func TestBusRingKeepsRecent(t *testing.T) {
	b := NewBus(3)
	for i := range 5 {
		b.Publish(Event{Type: EventStats, Message: fmt.Sprintf("m%d", i)})
	}

	recent := b.Recent()
	if len(recent) != 3 {
		t.Fatalf("recent = %d, want 3", len(recent))
	}
	if recent[0].Message != "m2" || recent[2].Message != "m4" {
		t.Fatalf("recent = %v", recent)
	}
}

func TestBusSubscriberReceivesEvents(t *testing.T) {
	b := NewBus(8)
	b.Publish(Event{Type: EventLoopStart, UserID: 42, Message: "backlog"})

	id, ch, backlog := b.Subscribe()
	defer b.Unsubscribe(id)
	if len(backlog) != 1 || backlog[0].UserID != 42 {
		t.Fatalf("backlog = %v", backlog)
	}

	b.Publish(Event{Type: EventBlocked, Message: "live"})
	e := <-ch
	if e.Type != EventBlocked {
		t.Fatalf("event = %v", e)
	}
}

func TestBusSlowSubscriberDropsNotBlocks(t *testing.T) {
	b := NewBus(8)
	id, _, _ := b.Subscribe()
	defer b.Unsubscribe(id)

	// Channel capacity is 64; publishing more must not block.
	for i := range 200 {
		b.Publish(Event{Type: EventStats, Message: fmt.Sprintf("m%d", i)})
	}
}

func TestBusPublishSetsTimestamp(t *testing.T) {
	b := NewBus(4)
	b.Publish(Event{Type: EventFatal, Message: "x"})
	if b.Recent()[0].Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
}
