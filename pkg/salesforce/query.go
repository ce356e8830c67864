package salesforce

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// BuildSOQL renders SELECT fields FROM object [WHERE where].
func BuildSOQL(object string, fields []string, where string) string {
	soql := "SELECT " + strings.Join(fields, ", ") + " FROM " + object
	if where = strings.TrimSpace(where); where != "" {
		soql += " WHERE " + where
	}
	return soql
}

// QueryRecords runs soql and returns the raw records, each still carrying the
// "attributes" metadata object.
func QueryRecords(ctx context.Context, c Client, soql string) ([]map[string]any, error) {
	var records []map[string]any
	if err := c.Query(ctx, soql, &records); err != nil {
		return nil, eris.Wrapf(err, "sf: query records")
	}
	return records, nil
}

// MissingFields returns the fields desc does not declare, in input order.
// Relationship paths (containing a dot) are not checked.
func MissingFields(desc *SObjectDescription, fields []string) []string {
	var missing []string
	for _, f := range fields {
		if strings.Contains(f, ".") {
			continue
		}
		if !desc.HasField(f) {
			missing = append(missing, f)
		}
	}
	return missing
}
