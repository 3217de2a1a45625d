package sheetdb

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gundeshapur/pkg/domain"
)

// Store is the record facade over one library spreadsheet. It owns the
// header and row-location caches for that spreadsheet: build one Store
// per connected sheet and share it between requests. There is no TTL on
// the caches; they are invalidated only by the structural changes the
// Store itself performs.
//
// The backing service offers no multi-operation atomicity and no version
// tokens on write, so two concurrent CreateLoan calls racing for the last
// copy of a book can both pass the availability check. Known gap, see
// DESIGN.md.
type Store struct {
	backend       Backend
	spreadsheetID string
	logger        *slog.Logger
	now           func() time.Time
	newID         func(prefix string) string

	schemas *schemaCache
	rows    *rowLocator

	metaMu sync.Mutex
	meta   []SheetInfo
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger used for schema warnings and inconsistency
// reports.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock injects the time source. Tests pin it.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDFunc injects the record ID generator. Tests pin it.
func WithIDFunc(f func(prefix string) string) Option {
	return func(s *Store) {
		if f != nil {
			s.newID = f
		}
	}
}

// New builds a Store for one spreadsheet.
func New(backend Backend, spreadsheetID string, opts ...Option) *Store {
	s := &Store{
		backend:       backend,
		spreadsheetID: spreadsheetID,
		logger:        slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         newRecordID,
		schemas:       newSchemaCache(),
		rows:          newRowLocator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SpreadsheetID returns the handle of the backing spreadsheet.
func (s *Store) SpreadsheetID() string { return s.spreadsheetID }

// newRecordID generates a time-based ID with a random suffix, e.g.
// "book_1718035200000_a3f9". Collisions are treated as negligible.
func newRecordID(prefix string) string {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixMilli())
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), hex.EncodeToString(b[:]))
}

// tableDef binds one entity type to its sheet, schema and codec.
type tableDef[T any] struct {
	sheet    string
	kind     string
	idPrefix string
	fields   []string
	decode   func([]Cell, HeaderMap) (T, bool)
	encode   func(T, HeaderMap, int) []Cell
	idOf     func(T) string
	withID   func(T, string) T
}

var bookTable = tableDef[domain.Book]{
	sheet:    SheetBooks,
	kind:     "book",
	idPrefix: "book",
	fields:   bookFields,
	decode:   decodeBook,
	encode:   encodeBook,
	idOf:     func(b domain.Book) string { return b.ID },
	withID:   func(b domain.Book, id string) domain.Book { b.ID = id; return b },
}

var memberTable = tableDef[domain.Member]{
	sheet:    SheetMembers,
	kind:     "member",
	idPrefix: "member",
	fields:   memberFields,
	decode:   decodeMember,
	encode:   encodeMember,
	idOf:     func(m domain.Member) string { return m.ID },
	withID:   func(m domain.Member, id string) domain.Member { m.ID = id; return m },
}

var loanTable = tableDef[domain.Loan]{
	sheet:    SheetLoans,
	kind:     "loan",
	idPrefix: "loan",
	fields:   loanFields,
	decode:   decodeLoan,
	encode:   encodeLoan,
	idOf:     func(l domain.Loan) string { return l.ID },
	withID:   func(l domain.Loan, id string) domain.Loan { l.ID = id; return l },
}

// listRows bulk-reads all data rows of the table and decodes them,
// dropping rows the codec rejects (blank or identity-less).
func listRows[T any](ctx context.Context, s *Store, t tableDef[T]) ([]T, error) {
	info, err := s.schemaFor(ctx, t.sheet, t.fields)
	if err != nil {
		return nil, err
	}
	maxCol := 0
	for _, idx := range info.fields {
		if idx > maxCol {
			maxCol = idx
		}
	}
	rng := Range{Sheet: t.sheet, StartRow: 2, StartCol: 1, EndCol: maxCol + 1}
	grid, err := s.backend.ReadRange(ctx, s.spreadsheetID, rng)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(grid))
	for _, row := range grid {
		if rec, ok := t.decode(row, info.fields); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// createRow assigns an ID when absent, appends the encoded row and drops
// the row-location cache for the table (the append shifted nothing, but
// the new row is unknown to it).
func createRow[T any](ctx context.Context, s *Store, t tableDef[T], rec T) (T, error) {
	var zero T
	info, err := s.schemaFor(ctx, t.sheet, t.fields)
	if err != nil {
		return zero, err
	}
	if _, err := info.fields.Col("id"); err != nil {
		return zero, fmt.Errorf("sheet %q: %w", t.sheet, err)
	}
	if t.idOf(rec) == "" {
		rec = t.withID(rec, s.newID(t.idPrefix))
	}
	row := t.encode(rec, info.fields, info.width)
	if err := s.backend.AppendRow(ctx, s.spreadsheetID, t.sheet, row); err != nil {
		return zero, err
	}
	s.rows.invalidate(t.sheet)
	return rec, nil
}

// getRow locates and decodes one record. The bool is false when the
// record does not exist.
func getRow[T any](ctx context.Context, s *Store, t tableDef[T], id string) (T, int, headerInfo, bool, error) {
	var zero T
	info, err := s.schemaFor(ctx, t.sheet, t.fields)
	if err != nil {
		return zero, 0, headerInfo{}, false, err
	}
	idCol, err := info.fields.Col("id")
	if err != nil {
		return zero, 0, headerInfo{}, false, fmt.Errorf("sheet %q: %w", t.sheet, err)
	}
	rowNum, ok, err := s.locateRow(ctx, t.sheet, idCol, id)
	if err != nil {
		return zero, 0, headerInfo{}, false, err
	}
	if !ok {
		return zero, 0, info, false, nil
	}
	grid, err := s.backend.ReadRange(ctx, s.spreadsheetID, RowSpan(t.sheet, rowNum, info.width))
	if err != nil {
		return zero, 0, headerInfo{}, false, err
	}
	if len(grid) == 0 {
		return zero, 0, info, false, nil
	}
	rec, ok := t.decode(grid[0], info.fields)
	if !ok {
		return zero, 0, info, false, nil
	}
	return rec, rowNum, info, true, nil
}

// updateRow rewrites a record in place. Row numbers do not shift, so the
// locator cache stays valid.
func updateRow[T any](ctx context.Context, s *Store, t tableDef[T], id string, apply func(T) T) (T, error) {
	var zero T
	rec, rowNum, info, ok, err := getRow(ctx, s, t, id)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, fmt.Errorf("%s %q: %w", t.kind, id, ErrRecordNotFound)
	}
	merged := apply(rec)
	merged = t.withID(merged, id)
	row := t.encode(merged, info.fields, info.width)
	if err := s.backend.WriteRange(ctx, s.spreadsheetID, RowSpan(t.sheet, rowNum, info.width), [][]Cell{row}); err != nil {
		return zero, err
	}
	return merged, nil
}

// deleteRow removes the physical row, which shifts every later row up,
// so the locator cache for the table is dropped.
func deleteRow[T any](ctx context.Context, s *Store, t tableDef[T], id string) error {
	info, err := s.schemaFor(ctx, t.sheet, t.fields)
	if err != nil {
		return err
	}
	idCol, err := info.fields.Col("id")
	if err != nil {
		return fmt.Errorf("sheet %q: %w", t.sheet, err)
	}
	rowNum, ok, err := s.locateRow(ctx, t.sheet, idCol, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %q: %w", t.kind, id, ErrRecordNotFound)
	}
	sheetID, err := s.sheetIDFor(ctx, t.sheet)
	if err != nil {
		return err
	}
	if err := s.backend.DeleteRows(ctx, s.spreadsheetID, sheetID, rowNum, rowNum); err != nil {
		return err
	}
	s.rows.invalidate(t.sheet)
	return nil
}

// sheetIDFor resolves a sheet title to its numeric ID, caching the
// spreadsheet metadata. Sheet IDs are stable across row edits.
func (s *Store) sheetIDFor(ctx context.Context, title string) (int64, error) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	if s.meta == nil {
		meta, err := s.backend.SheetMetadata(ctx, s.spreadsheetID)
		if err != nil {
			return 0, err
		}
		s.meta = meta
	}
	for _, info := range s.meta {
		if info.Title == title {
			return info.ID, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not present in spreadsheet", title)
}

// --- Books ---

func (s *Store) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return listRows(ctx, s, bookTable)
}

func (s *Store) CreateBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	return createRow(ctx, s, bookTable, b)
}

func (s *Store) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	b, _, _, ok, err := getRow(ctx, s, bookTable, id)
	return b, ok, err
}

func (s *Store) UpdateBook(ctx context.Context, id string, patch domain.BookPatch) (domain.Book, error) {
	return updateRow(ctx, s, bookTable, id, patch.Apply)
}

func (s *Store) DeleteBook(ctx context.Context, id string) error {
	return deleteRow(ctx, s, bookTable, id)
}

// --- Members ---

func (s *Store) ListMembers(ctx context.Context) ([]domain.Member, error) {
	return listRows(ctx, s, memberTable)
}

func (s *Store) CreateMember(ctx context.Context, m domain.Member) (domain.Member, error) {
	return createRow(ctx, s, memberTable, m)
}

func (s *Store) GetMember(ctx context.Context, id string) (domain.Member, bool, error) {
	m, _, _, ok, err := getRow(ctx, s, memberTable, id)
	return m, ok, err
}

func (s *Store) UpdateMember(ctx context.Context, id string, patch domain.MemberPatch) (domain.Member, error) {
	return updateRow(ctx, s, memberTable, id, patch.Apply)
}

func (s *Store) DeleteMember(ctx context.Context, id string) error {
	return deleteRow(ctx, s, memberTable, id)
}

// --- Loans ---

func (s *Store) ListLoans(ctx context.Context) ([]domain.Loan, error) {
	return listRows(ctx, s, loanTable)
}

func (s *Store) GetLoan(ctx context.Context, id string) (domain.Loan, bool, error) {
	l, _, _, ok, err := getRow(ctx, s, loanTable, id)
	return l, ok, err
}

func (s *Store) UpdateLoan(ctx context.Context, id string, patch domain.LoanPatch) (domain.Loan, error) {
	return updateRow(ctx, s, loanTable, id, patch.Apply)
}

func (s *Store) DeleteLoan(ctx context.Context, id string) error {
	return deleteRow(ctx, s, loanTable, id)
}
