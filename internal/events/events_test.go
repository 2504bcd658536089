package events

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testLog(t *testing.T) *Log {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&LogEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewLog(db)
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()

	ch, unsub := bus.Subscribe(EventOrderCompleted, 1)
	defer unsub()

	bus.Publish(EventOrderCompleted, "order-1")

	select {
	case got := <-ch:
		if got.(string) != "order-1" {
			t.Fatalf("received %v, expected order-1", got)
		}
	default:
		t.Fatal("no event delivered")
	}
}

func TestBusSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()

	_, unsub := bus.Subscribe(EventFundingRequired, 1)
	defer unsub()

	// Buffer of 1; the second publish must not block.
	bus.Publish(EventFundingRequired, 1)
	bus.Publish(EventFundingRequired, 2)
}

func TestLogAppendAndMarkProcessed(t *testing.T) {
	l := testLog(t)

	if err := l.Append("evt-1", string(EventPaymentReceived), map[string]string{"payment_id": "p1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := l.GetUnprocessed(string(EventPaymentReceived), 10)
	if err != nil {
		t.Fatalf("GetUnprocessed: %v", err)
	}
	if len(entries) != 1 || entries[0].EventID != "evt-1" {
		t.Fatalf("entries=%+v, expected one evt-1", entries)
	}

	if err := l.MarkProcessed("evt-1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	entries, _ = l.GetUnprocessed(string(EventPaymentReceived), 10)
	if len(entries) != 0 {
		t.Fatalf("processed event still returned: %+v", entries)
	}

	entry, err := l.GetByID("evt-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if entry.Status != LogStatusProcessed || entry.ProcessedAt == nil {
		t.Fatalf("entry=%+v, expected processed with timestamp", entry)
	}
}

func TestLogAppendDuplicateIsNoop(t *testing.T) {
	l := testLog(t)

	if err := l.Append("evt-1", "t", nil); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if err := l.Append("evt-1", "t", nil); err != nil {
		t.Fatalf("duplicate Append should be a no-op, got %v", err)
	}

	entries, _ := l.GetUnprocessed("t", 10)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, expected 1", len(entries))
	}
}

func TestLogMarkFailedStaysEligible(t *testing.T) {
	l := testLog(t)

	_ = l.Append("evt-2", "t", nil)
	if err := l.MarkFailed("evt-2", "all allocations failed"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	// Failed events remain in the unprocessed scan so they can be retried.
	entries, _ := l.GetUnprocessed("t", 10)
	if len(entries) != 1 {
		t.Fatalf("failed event dropped from scan: %+v", entries)
	}
	if entries[0].Status != LogStatusFailed || entries[0].Error == "" {
		t.Fatalf("entry=%+v, expected failed with reason", entries[0])
	}
}

func TestLogMarkUnknownEvent(t *testing.T) {
	l := testLog(t)

	if err := l.MarkProcessed("missing"); err != ErrEventNotFound {
		t.Fatalf("MarkProcessed(missing)=%v, expected ErrEventNotFound", err)
	}
}
