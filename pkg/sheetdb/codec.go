package sheetdb

import (
	"strings"
	"time"

	"gundeshapur/pkg/domain"
)

// Canonical table names inside a library spreadsheet.
const (
	SheetBooks   = "Books"
	SheetMembers = "Members"
	SheetLoans   = "Loans"
)

// Canonical field names double as the default header cells written at
// bootstrap. Header matching lowercases both sides, so a sheet whose
// headers were retyped as "Title" or "TOTALCOPIES" still maps.
var (
	bookFields = []string{
		"id", "title", "author", "year", "isbn", "publisher", "language",
		"ddc", "tags", "totalCopies", "availableCopies",
	}
	memberFields = []string{"id", "name", "email", "phone", "role", "status"}
	loanFields   = []string{"id", "bookId", "memberId", "loanDate", "dueDate", "returnDate", "status"}
)

// DefaultHeaderRow returns the header cells written when a table is
// created. Unknown names return nil.
func DefaultHeaderRow(sheet string) []string {
	switch sheet {
	case SheetBooks:
		return append([]string(nil), bookFields...)
	case SheetMembers:
		return append([]string(nil), memberFields...)
	case SheetLoans:
		return append([]string(nil), loanFields...)
	}
	return nil
}

// cellAt returns the mapped cell for field, or an empty cell when the
// field is unmapped or the row is too short.
func cellAt(row []Cell, m HeaderMap, field string) Cell {
	idx, ok := m[field]
	if !ok || idx >= len(row) {
		return EmptyCell()
	}
	return row[idx]
}

func textAt(row []Cell, m HeaderMap, field string) string {
	return cellAt(row, m, field).Text()
}

func intAt(row []Cell, m HeaderMap, field string) int {
	return cellAt(row, m, field).Int()
}

// tagsAt splits a comma-joined cell into trimmed elements. An element
// containing a comma cannot survive a round trip; that is a documented
// limitation of the storage format, not something the codec repairs.
func tagsAt(row []Cell, m HeaderMap, field string) []string {
	raw := textAt(row, m, field)
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// timeAt parses a timestamp cell leniently: RFC 3339 first, then bare
// dates, zero time on anything else.
func timeAt(row []Cell, m HeaderMap, field string) time.Time {
	raw := textAt(row, m, field)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t
	}
	return time.Time{}
}

func timeCell(t time.Time) Cell {
	if t.IsZero() {
		return EmptyCell()
	}
	return StringCell(t.UTC().Format(time.RFC3339))
}

func putCell(row []Cell, m HeaderMap, field string, c Cell) {
	if idx, ok := m[field]; ok && idx < len(row) {
		row[idx] = c
	}
}

// emptyRow returns a row of width empty string cells. Encoders fill the
// mapped positions and leave the rest blank, so custom columns a user
// added keep their slot.
func emptyRow(width int) []Cell {
	row := make([]Cell, width)
	for i := range row {
		row[i] = StringCell("")
	}
	return row
}

// decodeBook parses one data row. It reports false instead of an error
// when the identity fields are blank: trailing empty rows are normal in
// hand-edited sheets and simply get skipped.
func decodeBook(row []Cell, m HeaderMap) (domain.Book, bool) {
	id := textAt(row, m, "id")
	title := textAt(row, m, "title")
	if id == "" || title == "" {
		return domain.Book{}, false
	}
	return domain.Book{
		ID:              id,
		Title:           title,
		Author:          textAt(row, m, "author"),
		Year:            intAt(row, m, "year"),
		ISBN:            textAt(row, m, "isbn"),
		Publisher:       textAt(row, m, "publisher"),
		Language:        textAt(row, m, "language"),
		DDC:             textAt(row, m, "ddc"),
		Tags:            tagsAt(row, m, "tags"),
		TotalCopies:     intAt(row, m, "totalCopies"),
		AvailableCopies: intAt(row, m, "availableCopies"),
	}, true
}

func encodeBook(b domain.Book, m HeaderMap, width int) []Cell {
	row := emptyRow(width)
	putCell(row, m, "id", StringCell(b.ID))
	putCell(row, m, "title", StringCell(b.Title))
	putCell(row, m, "author", StringCell(b.Author))
	putCell(row, m, "year", NumberCell(float64(b.Year)))
	putCell(row, m, "isbn", StringCell(b.ISBN))
	putCell(row, m, "publisher", StringCell(b.Publisher))
	putCell(row, m, "language", StringCell(b.Language))
	putCell(row, m, "ddc", StringCell(b.DDC))
	putCell(row, m, "tags", StringCell(strings.Join(b.Tags, ", ")))
	putCell(row, m, "totalCopies", NumberCell(float64(b.TotalCopies)))
	putCell(row, m, "availableCopies", NumberCell(float64(b.AvailableCopies)))
	return row
}

func decodeMember(row []Cell, m HeaderMap) (domain.Member, bool) {
	id := textAt(row, m, "id")
	name := textAt(row, m, "name")
	if id == "" || name == "" {
		return domain.Member{}, false
	}
	role := domain.MemberRole(textAt(row, m, "role"))
	if role == "" {
		role = domain.RoleMember
	}
	status := domain.MemberStatus(textAt(row, m, "status"))
	if status == "" {
		status = domain.MemberActive
	}
	return domain.Member{
		ID:     id,
		Name:   name,
		Email:  textAt(row, m, "email"),
		Phone:  textAt(row, m, "phone"),
		Role:   role,
		Status: status,
	}, true
}

func encodeMember(mem domain.Member, m HeaderMap, width int) []Cell {
	row := emptyRow(width)
	putCell(row, m, "id", StringCell(mem.ID))
	putCell(row, m, "name", StringCell(mem.Name))
	putCell(row, m, "email", StringCell(mem.Email))
	putCell(row, m, "phone", StringCell(mem.Phone))
	putCell(row, m, "role", StringCell(string(mem.Role)))
	putCell(row, m, "status", StringCell(string(mem.Status)))
	return row
}

func decodeLoan(row []Cell, m HeaderMap) (domain.Loan, bool) {
	id := textAt(row, m, "id")
	bookID := textAt(row, m, "bookId")
	memberID := textAt(row, m, "memberId")
	if id == "" || bookID == "" || memberID == "" {
		return domain.Loan{}, false
	}
	status := domain.LoanStatus(textAt(row, m, "status"))
	if status == "" {
		status = domain.LoanOnLoan
	}
	return domain.Loan{
		ID:         id,
		BookID:     bookID,
		MemberID:   memberID,
		LoanDate:   timeAt(row, m, "loanDate"),
		DueDate:    timeAt(row, m, "dueDate"),
		ReturnDate: timeAt(row, m, "returnDate"),
		Status:     status,
	}, true
}

func encodeLoan(l domain.Loan, m HeaderMap, width int) []Cell {
	row := emptyRow(width)
	putCell(row, m, "id", StringCell(l.ID))
	putCell(row, m, "bookId", StringCell(l.BookID))
	putCell(row, m, "memberId", StringCell(l.MemberID))
	putCell(row, m, "loanDate", timeCell(l.LoanDate))
	putCell(row, m, "dueDate", timeCell(l.DueDate))
	putCell(row, m, "returnDate", timeCell(l.ReturnDate))
	putCell(row, m, "status", StringCell(string(l.Status)))
	return row
}
