package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EntryType classifies audit entries.
type EntryType string

const (
	TypeInfo  EntryType = "INFO"
	TypeError EntryType = "ERROR"
	TypeBug   EntryType = "BUG"
)

// Entry is one audit record. UserEmail is empty for system events.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EntryType `json:"type"`
	Message   string    `json:"message"`
	UserEmail string    `json:"userEmail,omitempty"`
}

// Recorder accepts audit entries. Record must not block request handling
// on slow transports; implementations either buffer or fail fast.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// NewEntry stamps a fresh entry with an ID and the current time.
func NewEntry(entryType EntryType, message, userEmail string) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      entryType,
		Message:   message,
		UserEmail: userEmail,
	}
}
