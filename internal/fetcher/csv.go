package fetcher

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the delimited text parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
	// DropIndexColumn drops the first column of every row, for files written
	// with a leading row-index column.
	DropIndexColumn bool
}

// ReadCSV reads a delimited file with a header row. Rows may be shorter than
// the header; rows longer than the header are rejected.
func ReadCSV(r io.Reader, opts CSVOptions) (*Tabular, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return &Tabular{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}
	header = cleanRow(header, opts)
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := &Tabular{Header: header}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "csv: read row %d", line)
		}
		record = cleanRow(record, opts)
		if len(record) > len(header) {
			return nil, eris.Errorf("csv: row %d has %d fields, header has %d", line, len(record), len(header))
		}
		t.Rows = append(t.Rows, record)
	}
	return t, nil
}

func cleanRow(record []string, opts CSVOptions) []string {
	if opts.DropIndexColumn && len(record) > 0 {
		record = record[1:]
	}
	if opts.TrimSpace {
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}
	}
	return record
}
