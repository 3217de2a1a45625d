package sheetdb

import (
	"context"
	"fmt"
)

// CreateLibrary bootstraps a fresh spreadsheet with the three canonical
// tables and their header rows, returning the new spreadsheet ID. The
// handle is all later code needs; open it with New.
func CreateLibrary(ctx context.Context, backend Backend, title string) (string, error) {
	sheets := []string{SheetBooks, SheetMembers, SheetLoans}
	id, err := backend.CreateSpreadsheet(ctx, title, sheets)
	if err != nil {
		return "", fmt.Errorf("create spreadsheet: %w", err)
	}
	for _, sheet := range sheets {
		header := DefaultHeaderRow(sheet)
		row := make([]Cell, len(header))
		for i, name := range header {
			row[i] = StringCell(name)
		}
		rng := RowSpan(sheet, 1, len(header))
		if err := backend.WriteRange(ctx, id, rng, [][]Cell{row}); err != nil {
			return "", fmt.Errorf("write %s header: %w", sheet, err)
		}
	}
	return id, nil
}
