package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gundeshapur/pkg/domain"
)

// Source is the library data to be snapshotted. *sheetdb.Store satisfies it.
type Source interface {
	ListBooks(ctx context.Context) ([]domain.Book, error)
	ListMembers(ctx context.Context) ([]domain.Member, error)
	ListLoans(ctx context.Context) ([]domain.Loan, error)
}

// Snapshot is a full JSON export of one library.
type Snapshot struct {
	SpreadsheetID string          `json:"spreadsheetId"`
	TakenAt       time.Time       `json:"takenAt"`
	Books         []domain.Book   `json:"books"`
	Members       []domain.Member `json:"members"`
	Loans         []domain.Loan   `json:"loans"`
}

// DownloadExpiry is how long a snapshot download link stays valid.
const DownloadExpiry = 24 * time.Hour

// Exporter reads a library and stores snapshots as objects.
type Exporter struct {
	objects ObjectStore
	now     func() time.Time
}

func NewExporter(objects ObjectStore) *Exporter {
	return &Exporter{objects: objects, now: time.Now}
}

// WithClock overrides the timestamp source, for tests.
func (e *Exporter) WithClock(now func() time.Time) *Exporter {
	e.now = now
	return e
}

// Run exports all three tables of one library and returns a pre-signed
// download URL for the stored snapshot.
func (e *Exporter) Run(ctx context.Context, spreadsheetID string, src Source) (string, error) {
	books, err := src.ListBooks(ctx)
	if err != nil {
		return "", fmt.Errorf("export books: %w", err)
	}
	members, err := src.ListMembers(ctx)
	if err != nil {
		return "", fmt.Errorf("export members: %w", err)
	}
	loans, err := src.ListLoans(ctx)
	if err != nil {
		return "", fmt.Errorf("export loans: %w", err)
	}

	snap := Snapshot{
		SpreadsheetID: spreadsheetID,
		TakenAt:       e.now().UTC(),
		Books:         books,
		Members:       members,
		Loans:         loans,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	key := SnapshotKey(spreadsheetID, snap.TakenAt)
	if err := e.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return "", fmt.Errorf("store snapshot: %w", err)
	}
	return e.objects.PresignGet(ctx, key, DownloadExpiry)
}

// SnapshotKey names a snapshot object by library and time.
func SnapshotKey(spreadsheetID string, at time.Time) string {
	return fmt.Sprintf("backups/%s/%s.json", spreadsheetID, at.UTC().Format("20060102T150405Z"))
}
