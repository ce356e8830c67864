package transform

import (
	"database/sql/driver"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
)

// DefaultDateLayouts are tried in order when a date rule names no layouts.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"20060102",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006 15:04:05",
	"02-Jan-2006",
}

// Date is a calendar date without time of day.
type Date struct {
	time.Time
}

// ParseDate parses s with the first matching layout.
func ParseDate(s string, layouts []string) (Date, error) {
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			y, m, d := t.Date()
			return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}, nil
		}
	}
	return Date{}, eris.Errorf("transform: %q is not a date", s)
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

// Value implements driver.Valuer for database/sql backends.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

// DateValue implements pgtype.DateValuer for COPY into DATE columns.
func (d Date) DateValue() (pgtype.Date, error) {
	return pgtype.Date{Time: d.Time, Valid: true}, nil
}

// MarshalJSON renders the date as a JSON string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}
