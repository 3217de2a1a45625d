package sheetdb

import (
	"context"
	"fmt"
	"strings"
)

// Range addresses a rectangular block of one sheet. Rows and columns are
// 1-based; a zero EndRow or EndCol leaves that side open, so
// {Sheet: "Books", StartRow: 2, StartCol: 1, EndCol: 11} covers all data
// rows of an eleven-column table.
type Range struct {
	Sheet    string
	StartRow int
	EndRow   int
	StartCol int
	EndCol   int
}

// Row builds a range covering one full row.
func Row(sheet string, row int) Range {
	return Range{Sheet: sheet, StartRow: row, EndRow: row}
}

// RowSpan builds a range covering columns 1..width of one row.
func RowSpan(sheet string, row, width int) Range {
	return Range{Sheet: sheet, StartRow: row, EndRow: row, StartCol: 1, EndCol: width}
}

// Column builds an open-ended range over a single column starting at row.
func Column(sheet string, startRow, col int) Range {
	return Range{Sheet: sheet, StartRow: startRow, StartCol: col, EndCol: col}
}

// A1 renders the range in A1 notation, e.g. "Books!A2:K" or "Loans!1:1".
func (r Range) A1() string {
	sheet := r.Sheet
	if strings.ContainsAny(sheet, " !'") {
		sheet = "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	}
	start := columnName(r.StartCol) + rowName(r.StartRow)
	end := columnName(r.EndCol) + rowName(r.EndRow)
	if end == "" {
		return fmt.Sprintf("%s!%s", sheet, start)
	}
	return fmt.Sprintf("%s!%s:%s", sheet, start, end)
}

func rowName(row int) string {
	if row <= 0 {
		return ""
	}
	return fmt.Sprint(row)
}

// columnName converts a 1-based column index to its letter form
// (1 -> A, 26 -> Z, 27 -> AA). Zero yields "" for open-ended ranges.
func columnName(col int) string {
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// SheetInfo describes one sheet (tab) of a spreadsheet. Structural row
// deletion needs the numeric sheet ID, not the title.
type SheetInfo struct {
	ID    int64
	Title string
}

// Backend is the primitive surface the record store needs from a tabular
// service. Anything satisfying it can back the store: the Google Sheets
// REST API, the in-memory grid used by tests, or a file-based grid.
// Implementations carry their own timeout and retry behavior; the store
// layer adds none of its own.
type Backend interface {
	// ReadRange returns the cell grid for rng. Trailing empty rows and
	// cells may be omitted, as the Sheets API does.
	ReadRange(ctx context.Context, spreadsheetID string, rng Range) ([][]Cell, error)

	// WriteRange overwrites rng in place with values.
	WriteRange(ctx context.Context, spreadsheetID string, rng Range, values [][]Cell) error

	// AppendRow appends values after the last data row of the sheet.
	AppendRow(ctx context.Context, spreadsheetID, sheet string, values []Cell) error

	// DeleteRows removes rows [startRow, endRow] (1-based, inclusive)
	// from the sheet with the given numeric ID, shifting later rows up.
	DeleteRows(ctx context.Context, spreadsheetID string, sheetID int64, startRow, endRow int) error

	// SheetMetadata lists the sheets of a spreadsheet.
	SheetMetadata(ctx context.Context, spreadsheetID string) ([]SheetInfo, error)

	// CreateSpreadsheet creates a spreadsheet with the named sheets and
	// returns its ID.
	CreateSpreadsheet(ctx context.Context, title string, sheets []string) (string, error)
}
