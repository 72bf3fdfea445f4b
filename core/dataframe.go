package core

import (
	"fmt"
	"sync"

	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
)

// Orientations for the data section of a dataset result.
const (
	OrientRecords = "records"
	OrientRows    = "rows"
	OrientColumns = "columns"
)

// Column describes one field of a tabular result.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

// DataFrame is the host-side tabular value produced by model execution.
// Rows are positionally aligned with Columns.
type DataFrame struct {
	Columns []Column
	Rows    [][]any
}

func (df *DataFrame) NumRows() int {
	return len(df.Rows)
}

// ColumnIndex returns the position of the named column or -1.
func (df *DataFrame) ColumnIndex(name string) int {
	for i, c := range df.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Select projects the frame down to the named columns, preserving the
// requested order. Unknown names fail with invalid_input.
func (df *DataFrame) Select(names []string) (*DataFrame, error) {
	if len(names) == 0 {
		return df, nil
	}

	idx := make([]int, len(names))
	cols := make([]Column, len(names))
	for i, n := range names {
		j := df.ColumnIndex(n)
		if j == -1 {
			return nil, cerr.InvalidInput(fmt.Errorf("unknown column in x_select: %q", n))
		}
		idx[i] = j
		cols[i] = df.Columns[j]
	}

	rows := make([][]any, len(df.Rows))
	for r, row := range df.Rows {
		out := make([]any, len(idx))
		for i, j := range idx {
			out[i] = row[j]
		}
		rows[r] = out
	}
	return &DataFrame{Columns: cols, Rows: rows}, nil
}

// Slice applies offset and limit row bounds. Offset past the end and a zero
// limit both yield an empty frame with the schema intact.
func (df *DataFrame) Slice(offset, limit int) *DataFrame {
	n := len(df.Rows)
	if offset > n {
		offset = n
	}
	end := offset + limit
	if end > n {
		end = n
	}
	return &DataFrame{Columns: df.Columns, Rows: df.Rows[offset:end]}
}

// Orient shapes the row data for the wire. Row content is identical across
// orientations, only the shape differs.
func (df *DataFrame) Orient(orientation string) (any, error) {
	switch orientation {
	case OrientRecords, "":
		records := make([]map[string]any, len(df.Rows))
		for i, row := range df.Rows {
			rec := make(map[string]any, len(df.Columns))
			for j, c := range df.Columns {
				rec[c.Name] = row[j]
			}
			records[i] = rec
		}
		return records, nil

	case OrientRows:
		rows := df.Rows
		if rows == nil {
			rows = [][]any{}
		}
		return rows, nil

	case OrientColumns:
		cols := make(map[string][]any, len(df.Columns))
		for j, c := range df.Columns {
			vals := make([]any, len(df.Rows))
			for i, row := range df.Rows {
				vals[i] = row[j]
			}
			cols[c.Name] = vals
		}
		return cols, nil

	default:
		return nil, cerr.InvalidInput(fmt.Errorf("unknown orientation %q", orientation))
	}
}

// LazyFrame defers frame production until first use and memoizes the
// outcome. Safe for concurrent Collect calls.
type LazyFrame struct {
	once sync.Once
	fn   func() (*DataFrame, error)
	df   *DataFrame
	err  error
}

func NewLazyFrame(fn func() (*DataFrame, error)) *LazyFrame {
	return &LazyFrame{fn: fn}
}

// EagerFrame wraps an already-materialized frame.
func EagerFrame(df *DataFrame) *LazyFrame {
	return &LazyFrame{fn: func() (*DataFrame, error) { return df, nil }}
}

func (l *LazyFrame) Collect() (*DataFrame, error) {
	l.once.Do(func() {
		l.df, l.err = l.fn()
	})
	return l.df, l.err
}
