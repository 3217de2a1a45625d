package sheetdb

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend is a grid-backed Backend for tests and local runs. It
// honors the same contract as the Sheets REST backend: ranges are
// interpreted against live row data, row deletion shifts later rows up,
// and reads past the data simply come back short.
type MemoryBackend struct {
	mu           sync.Mutex
	spreadsheets map[string]*memSpreadsheet
	nextSheetID  int64
	nextSSID     int

	appendFaults map[string]error
	writeFaults  map[string]*writeFault
	mutations    int
}

type writeFault struct {
	skip int
	err  error
}

type memSpreadsheet struct {
	title  string
	sheets []*memSheet
}

type memSheet struct {
	id    int64
	title string
	rows  [][]Cell
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		spreadsheets: make(map[string]*memSpreadsheet),
		appendFaults: make(map[string]error),
		writeFaults:  make(map[string]*writeFault),
	}
}

// FailNextAppend makes the next AppendRow on the named sheet fail with
// err. Used to exercise the loan compensation path.
func (b *MemoryBackend) FailNextAppend(sheet string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendFaults[sheet] = err
}

// FailNextWrite makes the next WriteRange on the named sheet fail with
// err.
func (b *MemoryBackend) FailNextWrite(sheet string, err error) {
	b.FailWriteAfter(sheet, 0, err)
}

// FailWriteAfter lets skip WriteRange calls on the named sheet succeed
// and fails the one after that with err.
func (b *MemoryBackend) FailWriteAfter(sheet string, skip int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeFaults[sheet] = &writeFault{skip: skip, err: err}
}

// MutationCount reports how many writes, appends and deletions the
// backend has served. Tests use it to assert an operation wrote nothing.
func (b *MemoryBackend) MutationCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mutations
}

func (b *MemoryBackend) CreateSpreadsheet(_ context.Context, title string, sheets []string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSSID++
	id := fmt.Sprintf("mem-%d", b.nextSSID)
	ss := &memSpreadsheet{title: title}
	for _, name := range sheets {
		b.nextSheetID++
		ss.sheets = append(ss.sheets, &memSheet{id: b.nextSheetID, title: name})
	}
	b.spreadsheets[id] = ss
	return id, nil
}

func (b *MemoryBackend) SheetMetadata(_ context.Context, spreadsheetID string) ([]SheetInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ss, err := b.spreadsheet(spreadsheetID)
	if err != nil {
		return nil, err
	}
	meta := make([]SheetInfo, 0, len(ss.sheets))
	for _, sheet := range ss.sheets {
		meta = append(meta, SheetInfo{ID: sheet.id, Title: sheet.title})
	}
	return meta, nil
}

func (b *MemoryBackend) ReadRange(_ context.Context, spreadsheetID string, rng Range) ([][]Cell, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sheet, err := b.sheetByTitle(spreadsheetID, rng.Sheet)
	if err != nil {
		return nil, err
	}
	startRow, endRow := rowBounds(rng, len(sheet.rows))
	var out [][]Cell
	for r := startRow; r <= endRow; r++ {
		row := sheet.rows[r-1]
		startCol := rng.StartCol
		if startCol <= 0 {
			startCol = 1
		}
		endCol := rng.EndCol
		if endCol <= 0 || endCol > len(row) {
			endCol = len(row)
		}
		if startCol > len(row) {
			out = append(out, nil)
			continue
		}
		cells := make([]Cell, endCol-startCol+1)
		copy(cells, row[startCol-1:endCol])
		out = append(out, cells)
	}
	return out, nil
}

func (b *MemoryBackend) WriteRange(_ context.Context, spreadsheetID string, rng Range, values [][]Cell) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fault, ok := b.writeFaults[rng.Sheet]; ok {
		if fault.skip > 0 {
			fault.skip--
		} else {
			delete(b.writeFaults, rng.Sheet)
			return fault.err
		}
	}
	sheet, err := b.sheetByTitle(spreadsheetID, rng.Sheet)
	if err != nil {
		return err
	}
	startRow := rng.StartRow
	if startRow <= 0 {
		startRow = 1
	}
	startCol := rng.StartCol
	if startCol <= 0 {
		startCol = 1
	}
	for i, rowValues := range values {
		r := startRow + i - 1
		for len(sheet.rows) <= r {
			sheet.rows = append(sheet.rows, nil)
		}
		row := sheet.rows[r]
		need := startCol - 1 + len(rowValues)
		for len(row) < need {
			row = append(row, EmptyCell())
		}
		copy(row[startCol-1:], rowValues)
		sheet.rows[r] = row
	}
	b.mutations++
	return nil
}

func (b *MemoryBackend) AppendRow(_ context.Context, spreadsheetID, sheetTitle string, values []Cell) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.appendFaults[sheetTitle]; ok && err != nil {
		delete(b.appendFaults, sheetTitle)
		return err
	}
	sheet, err := b.sheetByTitle(spreadsheetID, sheetTitle)
	if err != nil {
		return err
	}
	row := make([]Cell, len(values))
	copy(row, values)
	sheet.rows = append(sheet.rows, row)
	b.mutations++
	return nil
}

func (b *MemoryBackend) DeleteRows(_ context.Context, spreadsheetID string, sheetID int64, startRow, endRow int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ss, err := b.spreadsheet(spreadsheetID)
	if err != nil {
		return err
	}
	for _, sheet := range ss.sheets {
		if sheet.id != sheetID {
			continue
		}
		if startRow < 1 || endRow < startRow || startRow > len(sheet.rows) {
			return fmt.Errorf("row range %d-%d out of bounds", startRow, endRow)
		}
		if endRow > len(sheet.rows) {
			endRow = len(sheet.rows)
		}
		sheet.rows = append(sheet.rows[:startRow-1], sheet.rows[endRow:]...)
		b.mutations++
		return nil
	}
	return fmt.Errorf("sheet id %d not found", sheetID)
}

func (b *MemoryBackend) spreadsheet(id string) (*memSpreadsheet, error) {
	ss, ok := b.spreadsheets[id]
	if !ok {
		return nil, fmt.Errorf("spreadsheet %q not found", id)
	}
	return ss, nil
}

func (b *MemoryBackend) sheetByTitle(spreadsheetID, title string) (*memSheet, error) {
	ss, err := b.spreadsheet(spreadsheetID)
	if err != nil {
		return nil, err
	}
	for _, sheet := range ss.sheets {
		if sheet.title == title {
			return sheet, nil
		}
	}
	return nil, fmt.Errorf("sheet %q not found", title)
}

func rowBounds(rng Range, total int) (int, int) {
	start := rng.StartRow
	if start <= 0 {
		start = 1
	}
	end := rng.EndRow
	if end <= 0 || end > total {
		end = total
	}
	return start, end
}
