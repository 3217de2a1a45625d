package audit

import (
	"context"
	"testing"
)

func TestMemoryRecorderRecord(t *testing.T) {
	rec := NewMemoryRecorder()
	ctx := context.Background()

	entry := NewEntry(TypeInfo, "book created", "alice@example.com")
	if entry.ID == "" || entry.Timestamp.IsZero() {
		t.Fatalf("entry not stamped: %+v", entry)
	}
	if err := rec.Record(ctx, entry); err != nil {
		t.Fatalf("record: %v", err)
	}

	entries := rec.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Message != "book created" || entries[0].Type != TypeInfo {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestMemoryRecorderSubscribe(t *testing.T) {
	rec := NewMemoryRecorder()
	ctx := context.Background()
	_ = rec.Record(ctx, NewEntry(TypeInfo, "first", ""))

	var calls [][]Entry
	cancel := rec.Subscribe(func(entries []Entry) {
		calls = append(calls, entries)
	})

	// Immediate notification with the current log.
	if len(calls) != 1 || len(calls[0]) != 1 {
		t.Fatalf("expected immediate callback with 1 entry, got %+v", calls)
	}

	_ = rec.Record(ctx, NewEntry(TypeError, "second", ""))
	if len(calls) != 2 || len(calls[1]) != 2 {
		t.Fatalf("expected callback with 2 entries, got %+v", calls)
	}

	cancel()
	_ = rec.Record(ctx, NewEntry(TypeInfo, "third", ""))
	if len(calls) != 2 {
		t.Fatalf("callback fired after cancel")
	}
}
