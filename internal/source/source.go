// Package source extracts raw record batches from object storage, paginated
// REST endpoints, SFTP/FTP drop directories, Salesforce and warehouse queries.
package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/fetcher"
	"github.com/sells-group/stageload/internal/record"
)

const stage = "source"

// Source produces the batches of one run. Batches are returned in the order
// they must be loaded.
type Source interface {
	Name() string
	Extract(ctx context.Context) ([]record.Batch, error)
	Close() error
}

// Acknowledger is implemented by sources that consume their input. Ack is
// called once a batch has been merged.
type Acknowledger interface {
	Ack(ctx context.Context, batch record.Batch) error
}

// Clock returns the reference time for date-derived keys and windows.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// day truncates t to midnight in its own location.
func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func tabularOptions(f config.FileFormat) fetcher.TabularOptions {
	return fetcher.TabularOptions{
		Format: f.Format,
		CSV: fetcher.CSVOptions{
			Delimiter:       f.DelimiterRune(),
			TrimSpace:       f.TrimSpace,
			DropIndexColumn: f.DropIndexColumn,
		},
		XLSX: fetcher.XLSXOptions{
			SheetName: f.SheetName,
			SkipRows:  f.SkipRows,
		},
	}
}

// parseFile turns a fetched file into a batch. A file that cannot be parsed
// is a SchemaMismatch: the payload does not have the declared shape.
func parseFile(name string, data []byte, f config.FileFormat) (record.Batch, error) {
	t, err := fetcher.ParseTabular(data, tabularOptions(f))
	if err != nil {
		return record.Batch{}, etlerr.New(etlerr.SchemaMismatch, stage, eris.Wrapf(err, "source: parse %s", name))
	}
	return record.FromTabular(name, t), nil
}
