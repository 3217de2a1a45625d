package sheetdb

import (
	"strconv"
	"strings"
)

// CellKind discriminates the cell variants a sheet can hold.
type CellKind int

const (
	KindEmpty CellKind = iota
	KindString
	KindNumber
)

// Cell is a tagged variant for one sheet cell: empty, string or number.
// Raw backend values are converted to Cells at the edge so that untyped
// data never reaches the codec or the facade.
type Cell struct {
	Kind CellKind
	Str  string
	Num  float64
}

func EmptyCell() Cell { return Cell{} }

func StringCell(s string) Cell { return Cell{Kind: KindString, Str: s} }

func NumberCell(n float64) Cell { return Cell{Kind: KindNumber, Num: n} }

// IsEmpty reports whether the cell holds no value. A string cell with
// only whitespace counts as empty, matching how hand-edited sheets look.
func (c Cell) IsEmpty() bool {
	switch c.Kind {
	case KindEmpty:
		return true
	case KindString:
		return strings.TrimSpace(c.Str) == ""
	default:
		return false
	}
}

// Text returns the cell as a trimmed string. Numbers are formatted the
// shortest way that round-trips.
func (c Cell) Text() string {
	switch c.Kind {
	case KindString:
		return strings.TrimSpace(c.Str)
	case KindNumber:
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	default:
		return ""
	}
}

// Int returns the cell as an integer, defaulting to 0 on anything that
// does not parse. Lenient on purpose: rows edited by hand stay readable.
func (c Cell) Int() int {
	switch c.Kind {
	case KindNumber:
		return int(c.Num)
	case KindString:
		n, err := strconv.Atoi(strings.TrimSpace(c.Str))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// CellValue converts a raw backend value (JSON-decoded) into a Cell.
func CellValue(v any) Cell {
	switch t := v.(type) {
	case nil:
		return EmptyCell()
	case string:
		return StringCell(t)
	case float64:
		return NumberCell(t)
	case int:
		return NumberCell(float64(t))
	case bool:
		if t {
			return StringCell("TRUE")
		}
		return StringCell("FALSE")
	default:
		return EmptyCell()
	}
}

// Value converts the cell back into the raw form backends write out.
func (c Cell) Value() any {
	switch c.Kind {
	case KindString:
		return c.Str
	case KindNumber:
		return c.Num
	default:
		return ""
	}
}
