// Package fetcher talks to remote HTTP endpoints and parses delimited,
// spreadsheet, and zipped file payloads into header + rows.
package fetcher

import (
	"bytes"
	"strings"

	"github.com/rotisserie/eris"
)

// File formats understood by ParseTabular.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatZIP  = "zip"
)

// Tabular is a parsed file: a header row plus data rows.
type Tabular struct {
	Header []string
	Rows   [][]string
}

// TabularOptions selects the file format and its parser options.
type TabularOptions struct {
	Format string // csv (default), xlsx, zip (first .csv entry)
	CSV    CSVOptions
	XLSX   XLSXOptions
}

// ParseTabular parses a fully-read file payload.
func ParseTabular(data []byte, opts TabularOptions) (*Tabular, error) {
	switch strings.ToLower(opts.Format) {
	case "", FormatCSV:
		return ReadCSV(bytes.NewReader(data), opts.CSV)
	case FormatXLSX:
		return ReadXLSX(data, opts.XLSX)
	case FormatZIP:
		inner, err := FirstZIPEntry(data, ".csv", ".txt")
		if err != nil {
			return nil, err
		}
		return ReadCSV(bytes.NewReader(inner), opts.CSV)
	default:
		return nil, eris.Errorf("fetcher: unsupported format %q", opts.Format)
	}
}
