package transform

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/diegoholiveira/jsonlogic"
	"github.com/rotisserie/eris"
)

// Filter evaluates a JSONLogic rule against a row. A row is kept only when
// the rule yields true.
type Filter struct {
	rule string
}

// NewFilter accepts a rule as JSON text or as a decoded value (for example a
// map read from a dataset file). A nil rule returns a nil Filter, which keeps
// every row.
func NewFilter(rule any) (*Filter, error) {
	var text string
	switch r := rule.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(r) == "" {
			return nil, nil
		}
		text = r
	default:
		b, err := json.Marshal(r)
		if err != nil {
			return nil, eris.Wrap(err, "transform: encode filter rule")
		}
		text = string(b)
	}
	if !jsonlogic.IsValid(strings.NewReader(text)) {
		return nil, eris.Errorf("transform: invalid filter rule: %s", text)
	}
	return &Filter{rule: text}, nil
}

// Keep reports whether the row passes the rule.
func (f *Filter) Keep(columns []string, row []any) (bool, error) {
	if f == nil {
		return true, nil
	}
	data := make(map[string]any, len(columns))
	for i, c := range columns {
		data[c] = row[i]
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return false, eris.Wrap(err, "transform: encode row for filter")
	}
	var result bytes.Buffer
	if err := jsonlogic.Apply(strings.NewReader(f.rule), bytes.NewReader(payload), &result); err != nil {
		return false, eris.Wrap(err, "transform: apply filter")
	}
	return strings.TrimSpace(result.String()) == "true", nil
}
