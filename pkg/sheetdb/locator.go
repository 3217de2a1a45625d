package sheetdb

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// rowLocator caches the physical row number of each record ID, one map
// per sheet. A spreadsheet has no index, so point updates would otherwise
// pay a full-table scan; instead a miss triggers one bulk read of the ID
// column and rebuilds the whole map for that sheet.
//
// The cache must be dropped for a sheet whenever a row is appended or
// deleted there, because physical row numbers shift. In-place rewrites
// leave it valid.
type rowLocator struct {
	mu     sync.RWMutex
	tables map[string]map[string]int // sheet -> id -> 1-based row number
	group  singleflight.Group
}

func newRowLocator() *rowLocator {
	return &rowLocator{tables: make(map[string]map[string]int)}
}

func (l *rowLocator) lookup(sheet, id string) (int, bool, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rows, built := l.tables[sheet]
	if !built {
		return 0, false, false
	}
	row, ok := rows[id]
	return row, ok, true
}

func (l *rowLocator) store(sheet string, rows map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tables[sheet] = rows
}

func (l *rowLocator) invalidate(sheet string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tables, sheet)
}

// locateRow resolves id to its 1-based row number in sheet. The second
// return is false when the record does not exist even after a rebuild,
// which is a legitimate outcome, not an error. Concurrent misses for the
// same sheet converge on one rebuild.
func (s *Store) locateRow(ctx context.Context, sheet string, idCol int, id string) (int, bool, error) {
	if row, ok, built := s.rows.lookup(sheet, id); built {
		return row, ok, nil
	}
	_, err, _ := s.rows.group.Do(sheet, func() (any, error) {
		if _, _, built := s.rows.lookup(sheet, ""); built {
			return nil, nil
		}
		rows, err := s.scanIDColumn(ctx, sheet, idCol)
		if err != nil {
			return nil, err
		}
		s.rows.store(sheet, rows)
		return nil, nil
	})
	if err != nil {
		return 0, false, err
	}
	row, ok, _ := s.rows.lookup(sheet, id)
	return row, ok, nil
}

// scanIDColumn reads only the ID column below the header and builds the
// id -> row map. Data starts at row 2; blank cells are skipped.
func (s *Store) scanIDColumn(ctx context.Context, sheet string, idCol int) (map[string]int, error) {
	grid, err := s.backend.ReadRange(ctx, s.spreadsheetID, Column(sheet, 2, idCol+1))
	if err != nil {
		return nil, err
	}
	rows := make(map[string]int, len(grid))
	for i, r := range grid {
		if len(r) == 0 {
			continue
		}
		if id := r[0].Text(); id != "" {
			rows[id] = i + 2
		}
	}
	return rows, nil
}
