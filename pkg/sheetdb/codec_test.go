package sheetdb

import (
	"reflect"
	"testing"
	"time"

	"gundeshapur/pkg/domain"
)

func fullHeaderMap(fields []string) HeaderMap {
	m := make(HeaderMap, len(fields))
	for i, f := range fields {
		m[f] = i
	}
	return m
}

func TestBookRoundTrip(t *testing.T) {
	m := fullHeaderMap(bookFields)
	book := domain.Book{
		ID:              "book_1",
		Title:           "Dune",
		Author:          "Frank Herbert",
		Year:            1965,
		ISBN:            "9780441013593",
		Publisher:       "Chilton Books",
		Language:        "English",
		DDC:             "813.54",
		Tags:            []string{"Sci-Fi", "Adventure"},
		TotalCopies:     2,
		AvailableCopies: 1,
	}
	row := encodeBook(book, m, len(bookFields))
	got, ok := decodeBook(row, m)
	if !ok {
		t.Fatalf("decode rejected encoded book")
	}
	if !reflect.DeepEqual(got, book) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, book)
	}
}

func TestMemberRoundTrip(t *testing.T) {
	m := fullHeaderMap(memberFields)
	member := domain.Member{
		ID:     "member_1",
		Name:   "Alice Johnson",
		Email:  "alice@email.com",
		Phone:  "123-456-7890",
		Role:   domain.RoleLibrarian,
		Status: domain.MemberInactive,
	}
	row := encodeMember(member, m, len(memberFields))
	got, ok := decodeMember(row, m)
	if !ok {
		t.Fatalf("decode rejected encoded member")
	}
	if !reflect.DeepEqual(got, member) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, member)
	}
}

func TestLoanRoundTrip(t *testing.T) {
	m := fullHeaderMap(loanFields)
	loaned := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	loan := domain.Loan{
		ID:       "loan_1",
		BookID:   "book_1",
		MemberID: "member_1",
		LoanDate: loaned,
		DueDate:  loaned.Add(LoanPeriod),
		Status:   domain.LoanOnLoan,
	}
	row := encodeLoan(loan, m, len(loanFields))
	got, ok := decodeLoan(row, m)
	if !ok {
		t.Fatalf("decode rejected encoded loan")
	}
	if !reflect.DeepEqual(got, loan) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, loan)
	}
	if !got.ReturnDate.IsZero() {
		t.Fatalf("open loan should decode with zero return date, got %v", got.ReturnDate)
	}
}

func TestTagWithCommaDoesNotRoundTrip(t *testing.T) {
	// Tags persist as comma-joined text, so an element containing a
	// comma splits on the way back. Storage format limitation.
	m := fullHeaderMap(bookFields)
	book := domain.Book{ID: "b", Title: "t", Tags: []string{"history, ancient"}}
	row := encodeBook(book, m, len(bookFields))
	got, _ := decodeBook(row, m)
	want := []string{"history", "ancient"}
	if !reflect.DeepEqual(got.Tags, want) {
		t.Fatalf("expected comma tag to split into %v, got %v", want, got.Tags)
	}
}

func TestDecodeBookBlankRow(t *testing.T) {
	m := fullHeaderMap(bookFields)
	if _, ok := decodeBook(nil, m); ok {
		t.Fatalf("nil row should not decode")
	}
	if _, ok := decodeBook([]Cell{StringCell(""), StringCell("")}, m); ok {
		t.Fatalf("blank identity fields should not decode")
	}
	// Title present but no ID: still rejected.
	row := emptyRow(len(bookFields))
	putCell(row, m, "title", StringCell("Orphan"))
	if _, ok := decodeBook(row, m); ok {
		t.Fatalf("row without id should not decode")
	}
}

func TestDecodeBookLenientNumbers(t *testing.T) {
	m := fullHeaderMap(bookFields)
	row := emptyRow(len(bookFields))
	putCell(row, m, "id", StringCell("b1"))
	putCell(row, m, "title", StringCell("1984"))
	putCell(row, m, "year", StringCell("not a year"))
	putCell(row, m, "totalCopies", StringCell(""))
	book, ok := decodeBook(row, m)
	if !ok {
		t.Fatalf("decode failed: %+v", row)
	}
	if book.Year != 0 || book.TotalCopies != 0 || book.AvailableCopies != 0 {
		t.Fatalf("non-numeric cells should default to 0, got %+v", book)
	}
	if len(book.Tags) != 0 {
		t.Fatalf("absent tags should decode to empty list, got %v", book.Tags)
	}
}

func TestDecodeMissingColumnDefaults(t *testing.T) {
	// Header map without availableCopies: rows decode with the zero
	// default instead of failing.
	m := HeaderMap{"id": 0, "title": 1, "author": 2}
	row := []Cell{StringCell("b1"), StringCell("Dune"), StringCell("Herbert")}
	book, ok := decodeBook(row, m)
	if !ok {
		t.Fatalf("decode failed")
	}
	if book.AvailableCopies != 0 {
		t.Fatalf("unmapped availableCopies should default to 0, got %d", book.AvailableCopies)
	}
	if book.Author != "Herbert" {
		t.Fatalf("mapped fields should still decode, got %+v", book)
	}
}

func TestEncodePreservesPhysicalWidth(t *testing.T) {
	// A sheet with two custom columns after the canonical ones: the
	// encoded row must span the full physical width.
	width := len(bookFields) + 2
	m := fullHeaderMap(bookFields)
	row := encodeBook(domain.Book{ID: "b1", Title: "Dune"}, m, width)
	if len(row) != width {
		t.Fatalf("encoded row width = %d, want %d", len(row), width)
	}
	for _, c := range row[len(bookFields):] {
		if !c.IsEmpty() {
			t.Fatalf("custom columns should be left blank, got %+v", c)
		}
	}
}

func TestDecodeLoanDefaultsStatus(t *testing.T) {
	m := fullHeaderMap(loanFields)
	row := emptyRow(len(loanFields))
	putCell(row, m, "id", StringCell("l1"))
	putCell(row, m, "bookId", StringCell("b1"))
	putCell(row, m, "memberId", StringCell("m1"))
	putCell(row, m, "loanDate", StringCell("garbage"))
	loan, ok := decodeLoan(row, m)
	if !ok {
		t.Fatalf("decode failed")
	}
	if loan.Status != domain.LoanOnLoan {
		t.Fatalf("blank status should default to On Loan, got %q", loan.Status)
	}
	if !loan.LoanDate.IsZero() {
		t.Fatalf("unparseable date should decode to zero time, got %v", loan.LoanDate)
	}
}

func TestEffectiveStatusDerivesOverdue(t *testing.T) {
	due := time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)
	loan := domain.Loan{Status: domain.LoanOnLoan, DueDate: due}
	if got := loan.EffectiveStatus(due.Add(-time.Hour)); got != domain.LoanOnLoan {
		t.Fatalf("before due date: got %q", got)
	}
	if got := loan.EffectiveStatus(due.Add(time.Hour)); got != domain.LoanOverdue {
		t.Fatalf("after due date: got %q", got)
	}
	loan.Status = domain.LoanReturned
	if got := loan.EffectiveStatus(due.Add(time.Hour)); got != domain.LoanReturned {
		t.Fatalf("returned loan can never be overdue, got %q", got)
	}
}
