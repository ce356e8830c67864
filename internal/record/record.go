// Package record holds the in-memory shapes rows take between extraction and
// the warehouse.
package record

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/fetcher"
)

// Record is one source-native row: a delimited line keyed by header, a JSON
// object, or a CRM record.
type Record map[string]any

// Batch is one extraction unit: a single file, the accumulated pages of a REST
// endpoint, or one CRM result set.
type Batch struct {
	// Name identifies the unit (object key, remote file path, endpoint).
	Name string
	// Columns is the declared header for delimited sources, non-nil even
	// when the file had none, and nil for JSON and CRM sources.
	Columns []string
	Records []Record
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.Records) }

// Table is a normalized row set sharing one ordered column list.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex returns the position of col, or -1.
func (t *Table) ColumnIndex(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// FromTabular converts a parsed delimited or spreadsheet file into a Batch.
// Empty fields and fields missing from short rows become nil.
func FromTabular(name string, t *fetcher.Tabular) Batch {
	b := Batch{Name: name, Columns: append(make([]string, 0, len(t.Header)), t.Header...)}
	b.Records = make([]Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(Record, len(t.Header))
		for i, col := range t.Header {
			if i < len(row) && row[i] != "" {
				rec[col] = row[i]
			} else {
				rec[col] = nil
			}
		}
		b.Records = append(b.Records, rec)
	}
	return b
}

// Concat joins delimited batches into one batch named name, keeping the
// column order of the first header. Batches with neither header nor records
// are skipped; any other header must carry the same columns, or the result is
// a SchemaMismatch.
func Concat(name string, batches ...Batch) (Batch, error) {
	out := Batch{Name: name, Columns: []string{}}
	var first string
	for _, b := range batches {
		if len(b.Columns) == 0 && len(b.Records) == 0 {
			continue
		}
		if first == "" {
			first = b.Name
			out.Columns = append(out.Columns, b.Columns...)
		} else if col, ok := sameColumns(out.Columns, b.Columns); !ok {
			return Batch{}, etlerr.Column(etlerr.SchemaMismatch, "source", col,
				eris.Errorf("record: %s and %s have different headers", first, b.Name))
		}
		out.Records = append(out.Records, b.Records...)
	}
	return out, nil
}

// sameColumns reports whether a and b hold the same column names in any
// order, returning the first column found in only one of them.
func sameColumns(a, b []string) (string, bool) {
	in := make(map[string]bool, len(a))
	for _, c := range a {
		in[c] = true
	}
	for _, c := range b {
		if !in[c] {
			return c, false
		}
		delete(in, c)
	}
	for _, c := range a {
		if in[c] {
			return c, false
		}
	}
	return "", true
}
