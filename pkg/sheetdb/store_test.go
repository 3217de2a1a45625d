package sheetdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"gundeshapur/pkg/domain"
)

var testClock = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// newTestStore bootstraps a library on the in-memory backend with a
// pinned clock and sequential record IDs.
func newTestStore(t *testing.T) (*Store, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	id, err := CreateLibrary(context.Background(), backend, "Test Library")
	if err != nil {
		t.Fatalf("create library: %v", err)
	}
	seq := 0
	store := New(backend, id,
		WithLogger(slog.Default()),
		WithClock(func() time.Time { return testClock }),
		WithIDFunc(func(prefix string) string {
			seq++
			return fmt.Sprintf("%s_%d", prefix, seq)
		}),
	)
	return store, backend
}

func mustCreateBook(t *testing.T, s *Store, b domain.Book) domain.Book {
	t.Helper()
	created, err := s.CreateBook(context.Background(), b)
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	return created
}

func mustCreateMember(t *testing.T, s *Store, m domain.Member) domain.Member {
	t.Helper()
	created, err := s.CreateMember(context.Background(), m)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	return created
}

func strPtr(s string) *string { return &s }

func TestCreateAndListBooks(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	b := mustCreateBook(t, s, domain.Book{
		Title: "Dune", Author: "Frank Herbert", Year: 1965,
		Tags: []string{"Sci-Fi"}, TotalCopies: 2, AvailableCopies: 2,
	})
	if b.ID == "" {
		t.Fatalf("create should assign an id")
	}

	books, err := s.ListBooks(ctx)
	if err != nil {
		t.Fatalf("list books: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("expected 1 book, got %d", len(books))
	}
	if books[0].Title != "Dune" || books[0].AvailableCopies != 2 {
		t.Fatalf("unexpected book: %+v", books[0])
	}
}

func TestUpdateBookChangesOnlyPatchedFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	b := mustCreateBook(t, s, domain.Book{
		Title: "Dune", Author: "Frank Herbert", Year: 1965,
		ISBN: "9780441013593", TotalCopies: 2, AvailableCopies: 1,
	})

	updated, err := s.UpdateBook(ctx, b.ID, domain.BookPatch{Title: strPtr("Dune Messiah")})
	if err != nil {
		t.Fatalf("update book: %v", err)
	}
	if updated.Title != "Dune Messiah" {
		t.Fatalf("title not updated: %+v", updated)
	}
	if updated.Author != "Frank Herbert" || updated.Year != 1965 ||
		updated.ISBN != "9780441013593" || updated.AvailableCopies != 1 {
		t.Fatalf("patch touched unpatched fields: %+v", updated)
	}
	if updated.ID != b.ID {
		t.Fatalf("id must never change, got %q", updated.ID)
	}

	got, ok, err := s.GetBook(ctx, b.ID)
	if err != nil || !ok {
		t.Fatalf("get book after update: ok=%v err=%v", ok, err)
	}
	if got.Title != "Dune Messiah" || got.AvailableCopies != 1 {
		t.Fatalf("persisted row mismatch: %+v", got)
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.UpdateBook(context.Background(), "nope", domain.BookPatch{Title: strPtr("x")})
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestDeleteBook(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	b := mustCreateBook(t, s, domain.Book{Title: "Dune", TotalCopies: 1, AvailableCopies: 1})
	if err := s.DeleteBook(ctx, b.ID); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if _, ok, err := s.GetBook(ctx, b.ID); err != nil || ok {
		t.Fatalf("deleted book still found: ok=%v err=%v", ok, err)
	}
	if err := s.DeleteBook(ctx, b.ID); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("double delete should be ErrRecordNotFound, got %v", err)
	}
}

func TestListSkipsBlankRows(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	mustCreateBook(t, s, domain.Book{Title: "Dune", TotalCopies: 1, AvailableCopies: 1})
	// A hand-added blank row below the data.
	if err := backend.AppendRow(ctx, s.SpreadsheetID(), SheetBooks, emptyRow(len(bookFields))); err != nil {
		t.Fatalf("append blank row: %v", err)
	}
	books, err := s.ListBooks(ctx)
	if err != nil {
		t.Fatalf("list books: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("blank row should be dropped, got %d books", len(books))
	}
}

func TestListWithMissingColumnDefaults(t *testing.T) {
	// A spreadsheet whose Books sheet only has ID, Title, Author:
	// list succeeds and the numeric fields default to zero.
	backend := NewMemoryBackend()
	ctx := context.Background()
	id, err := backend.CreateSpreadsheet(ctx, "Sparse", []string{SheetBooks, SheetMembers, SheetLoans})
	if err != nil {
		t.Fatalf("create spreadsheet: %v", err)
	}
	header := [][]Cell{{StringCell("ID"), StringCell("Title"), StringCell("Author")}}
	if err := backend.WriteRange(ctx, id, RowSpan(SheetBooks, 1, 3), header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if err := backend.AppendRow(ctx, id, SheetBooks, []Cell{
		StringCell("b1"), StringCell("Dune"), StringCell("Herbert"),
	}); err != nil {
		t.Fatalf("append row: %v", err)
	}

	s := New(backend, id)
	books, err := s.ListBooks(ctx)
	if err != nil {
		t.Fatalf("list books: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("expected 1 book, got %d", len(books))
	}
	if books[0].AvailableCopies != 0 || books[0].TotalCopies != 0 {
		t.Fatalf("missing columns should default to 0: %+v", books[0])
	}
	if books[0].Author != "Herbert" {
		t.Fatalf("mapped column should decode: %+v", books[0])
	}
}

func TestMemberCRUD(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	m := mustCreateMember(t, s, domain.Member{
		Name: "Alice", Email: "alice@email.com",
		Role: domain.RoleMember, Status: domain.MemberActive,
	})

	inactive := domain.MemberInactive
	updated, err := s.UpdateMember(ctx, m.ID, domain.MemberPatch{Status: &inactive})
	if err != nil {
		t.Fatalf("update member: %v", err)
	}
	if updated.Status != domain.MemberInactive || updated.Name != "Alice" {
		t.Fatalf("unexpected member after update: %+v", updated)
	}

	if err := s.DeleteMember(ctx, m.ID); err != nil {
		t.Fatalf("delete member: %v", err)
	}
	members, err := s.ListMembers(ctx)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected no members, got %+v", members)
	}
}
