// Package normalize turns extracted batches into tables restricted to a
// configured column allow-list.
package normalize

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/record"
)

const stage = "normalize"

// DefaultSeparator joins nested JSON key paths.
const DefaultSeparator = "_"

// Normalizer selects Columns from every record of a batch.
type Normalizer struct {
	// Columns is the ordered allow-list. Empty keeps every column the batch
	// declares, or every flattened key in first-seen order for JSON batches.
	Columns   []string
	Separator string
}

// Flatten returns rec with nested objects collapsed into sep-joined keys.
// Arrays and scalars are kept as values. Two paths that flatten to the same
// key, such as "a_b" next to {"a": {"b": ...}}, are a SchemaMismatch.
func Flatten(rec record.Record, sep string) (record.Record, error) {
	if sep == "" {
		sep = DefaultSeparator
	}
	out := make(record.Record, len(rec))
	if err := flattenInto(out, "", map[string]any(rec), sep); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(out record.Record, prefix string, m map[string]any, sep string) error {
	for _, k := range sortedKeys(m) {
		v := m[k]
		key := k
		if prefix != "" {
			key = prefix + sep + k
		}
		switch nested := v.(type) {
		case map[string]any:
			if len(nested) > 0 {
				if err := flattenInto(out, key, nested, sep); err != nil {
					return err
				}
				continue
			}
			v = nil
		case record.Record:
			if len(nested) > 0 {
				if err := flattenInto(out, key, map[string]any(nested), sep); err != nil {
					return err
				}
				continue
			}
			v = nil
		}
		if _, dup := out[key]; dup {
			return etlerr.Column(etlerr.SchemaMismatch, stage, key,
				eris.Errorf("normalize: more than one field flattens to %q", key))
		}
		out[key] = v
	}
	return nil
}

// Normalize flattens JSON-shaped records and selects the configured columns,
// preserving row order. A configured column that the batch does not carry is a
// SchemaMismatch naming that column.
func (n *Normalizer) Normalize(b record.Batch) (*record.Table, error) {
	records := b.Records
	available := b.Columns
	if b.Columns == nil {
		records = make([]record.Record, len(b.Records))
		for i, rec := range b.Records {
			flat, err := Flatten(rec, n.Separator)
			if err != nil {
				return nil, eris.Wrapf(err, "normalize: batch %q record %d", b.Name, i)
			}
			records[i] = flat
		}
		available = keyOrder(records)
	}

	columns := n.Columns
	if len(columns) == 0 {
		columns = available
	}

	// An empty JSON batch has nothing to check the allow-list against.
	if b.Columns != nil || len(records) > 0 {
		known := make(map[string]struct{}, len(available))
		for _, c := range available {
			known[c] = struct{}{}
		}
		for _, c := range columns {
			if _, ok := known[c]; !ok {
				return nil, etlerr.Column(etlerr.SchemaMismatch, stage, c,
					eris.Errorf("normalize: batch %q has no column %q", b.Name, c))
			}
		}
	}

	t := &record.Table{
		Columns: append([]string(nil), columns...),
		Rows:    make([][]any, 0, len(records)),
	}
	for _, rec := range records {
		row := make([]any, len(columns))
		for i, c := range columns {
			row[i] = rec[c]
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// keyOrder returns the union of keys across flattened records. Keys of each
// record are visited in sorted order so the result is stable.
func keyOrder(records []record.Record) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, rec := range records {
		for _, k := range sortedKeys(rec) {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

func sortedKeys[M ~map[string]any](rec M) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
