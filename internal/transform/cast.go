// Package transform casts, filters and de-duplicates staged rows on their way
// into the persisted table.
package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/warehouse"
)

// Cast types.
const (
	CastText    = "text"
	CastTrim    = "trim"
	CastDate    = "date"
	CastNumeric = "numeric"
	CastInteger = "integer"
	CastBoolean = "boolean"
	CastRaw     = "raw"
)

// Caster applies per-column cast rules to rows in a fixed column order.
type Caster struct {
	columns []string
	rules   []*config.CastRule // parallel to columns; nil passes the value through
}

// NewCaster validates rules against columns.
func NewCaster(columns []string, rules []config.CastRule) (*Caster, error) {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	c := &Caster{columns: columns, rules: make([]*config.CastRule, len(columns))}
	for i := range rules {
		r := rules[i]
		pos, ok := idx[r.Column]
		if !ok {
			return nil, eris.Errorf("transform: cast rule for unknown column %q", r.Column)
		}
		switch r.Type {
		case CastText, CastTrim, CastDate, CastNumeric, CastInteger, CastBoolean, CastRaw:
		default:
			return nil, eris.Errorf("transform: column %q has unknown cast type %q", r.Column, r.Type)
		}
		if r.Type == CastNumeric && r.Precision > 0 && (r.Scale < 0 || r.Scale > r.Precision) {
			return nil, eris.Errorf("transform: column %q has scale %d outside precision %d", r.Column, r.Scale, r.Precision)
		}
		c.rules[pos] = &r
	}
	return c, nil
}

// CastError reports the first value of a row that could not be cast.
type CastError struct {
	Column string
	Value  any
	Err    error
}

func (e *CastError) Error() string {
	return fmt.Sprintf("column %q value %q: %v", e.Column, fmt.Sprint(e.Value), e.Err)
}

func (e *CastError) Unwrap() error { return e.Err }

// Row casts one row in place order and returns the new values.
func (c *Caster) Row(row []any) ([]any, error) {
	out := make([]any, len(row))
	for i, v := range row {
		if c.rules[i] == nil {
			out[i] = v
			continue
		}
		cast, err := castValue(c.rules[i], v)
		if err != nil {
			return nil, &CastError{Column: c.columns[i], Value: v, Err: err}
		}
		out[i] = cast
	}
	return out, nil
}

// ColumnDefs describes the persisted table the rules produce.
func (c *Caster) ColumnDefs() []warehouse.ColumnDef {
	defs := make([]warehouse.ColumnDef, len(c.columns))
	for i, col := range c.columns {
		def := warehouse.ColumnDef{Name: col, Kind: warehouse.KindText}
		if r := c.rules[i]; r != nil {
			switch r.Type {
			case CastDate:
				def.Kind = warehouse.KindDate
			case CastNumeric:
				def.Kind = warehouse.KindNumeric
				def.Precision, def.Scale = r.Precision, r.Scale
			case CastInteger:
				def.Kind = warehouse.KindInteger
			case CastBoolean:
				def.Kind = warehouse.KindBoolean
			}
		}
		defs[i] = def
	}
	return defs
}

func castValue(r *config.CastRule, v any) (any, error) {
	if v == nil || r.Type == CastRaw {
		return v, nil
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	s = strings.TrimSpace(s)

	switch r.Type {
	case CastText:
		return norm.NFC.String(strings.ToUpper(s)), nil
	case CastTrim:
		return s, nil
	}

	if s == "" {
		return nil, nil
	}
	switch r.Type {
	case CastDate:
		return ParseDate(s, r.Layouts)
	case CastNumeric:
		return ParseDecimal(strings.ReplaceAll(s, ",", ""), r.Precision, r.Scale)
	case CastInteger:
		n, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
		if err != nil {
			return nil, eris.Errorf("transform: %q is not an integer", s)
		}
		return n, nil
	case CastBoolean:
		return parseBool(s)
	}
	return v, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "t", "true", "y", "yes":
		return true, nil
	case "0", "f", "false", "n", "no":
		return false, nil
	}
	return false, eris.Errorf("transform: %q is not a boolean", s)
}
