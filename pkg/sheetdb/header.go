package sheetdb

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// HeaderMap maps a canonical field name to its 0-based column index in
// the physical sheet. Only matched fields appear; callers that cannot
// work without a field must check with Col.
type HeaderMap map[string]int

// Col returns the column index for field, or ErrColumnMissing when the
// sheet header has no matching cell.
func (m HeaderMap) Col(field string) (int, error) {
	idx, ok := m[field]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrColumnMissing, field)
	}
	return idx, nil
}

// headerInfo is one cached schema: the field mapping plus the physical
// column count of the header row. Encoders size rows to Width so columns
// the user added by hand keep their place.
type headerInfo struct {
	fields HeaderMap
	width  int
}

// schemaCache caches header mappings per sheet. Rebuilds converge on a
// single fetch via singleflight so two concurrent misses do not fan out
// into duplicate header reads.
type schemaCache struct {
	mu      sync.RWMutex
	entries map[string]headerInfo
	group   singleflight.Group
}

func newSchemaCache() *schemaCache {
	return &schemaCache{entries: make(map[string]headerInfo)}
}

func (c *schemaCache) get(sheet string) (headerInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[sheet]
	return info, ok
}

func (c *schemaCache) put(sheet string, info headerInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sheet] = info
}

func (c *schemaCache) invalidate(sheet string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sheet == "" {
		c.entries = make(map[string]headerInfo)
		return
	}
	delete(c.entries, sheet)
}

// schemaFor resolves the header mapping for sheet, reading row 1 on the
// first call and serving from cache afterwards. Canonical fields with no
// matching header cell are reported at warn level and left unmapped; a
// partially populated sheet should not block reads of the columns that
// do exist.
func (s *Store) schemaFor(ctx context.Context, sheet string, fields []string) (headerInfo, error) {
	if info, ok := s.schemas.get(sheet); ok {
		return info, nil
	}
	v, err, _ := s.schemas.group.Do(sheet, func() (any, error) {
		if info, ok := s.schemas.get(sheet); ok {
			return info, nil
		}
		info, err := s.fetchSchema(ctx, sheet, fields)
		if err != nil {
			return headerInfo{}, err
		}
		s.schemas.put(sheet, info)
		return info, nil
	})
	if err != nil {
		return headerInfo{}, err
	}
	return v.(headerInfo), nil
}

func (s *Store) fetchSchema(ctx context.Context, sheet string, fields []string) (headerInfo, error) {
	grid, err := s.backend.ReadRange(ctx, s.spreadsheetID, Row(sheet, 1))
	if err != nil {
		return headerInfo{}, err
	}
	if len(grid) == 0 || len(grid[0]) == 0 {
		return headerInfo{}, fmt.Errorf("%w: sheet %q", ErrSchema, sheet)
	}
	header := grid[0]

	normalized := make([]string, len(header))
	empty := true
	for i, cell := range header {
		normalized[i] = strings.ToLower(strings.TrimSpace(cell.Text()))
		if normalized[i] != "" {
			empty = false
		}
	}
	if empty {
		return headerInfo{}, fmt.Errorf("%w: sheet %q", ErrSchema, sheet)
	}

	mapping := make(HeaderMap, len(fields))
	var missing []string
	for _, field := range fields {
		want := strings.ToLower(field)
		found := false
		for i, name := range normalized {
			if name == want {
				mapping[field] = i
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		s.logger.Warn("sheet header fields unmapped",
			"sheet", sheet,
			"missing", strings.Join(missing, ","),
		)
	}
	return headerInfo{fields: mapping, width: len(header)}, nil
}

// InvalidateSchema drops the cached header mapping for one table, or for
// every table when name is empty. Call it after structural edits to the
// header row, e.g. when reconnecting a spreadsheet.
func (s *Store) InvalidateSchema(name string) {
	s.schemas.invalidate(name)
}
