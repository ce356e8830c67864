package source

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/record"
	"github.com/sells-group/stageload/pkg/salesforce"
)

// CRM runs one SOQL query and returns the full result set as a batch.
type CRM struct {
	cfg    config.CRMConfig
	client salesforce.Client
	log    *zap.Logger
}

// NewCRM creates a Salesforce source.
func NewCRM(cfg config.CRMConfig, client salesforce.Client) *CRM {
	return &CRM{
		cfg:    cfg,
		client: client,
		log:    zap.L().With(zap.String("component", "source.crm"), zap.String("object", cfg.Object)),
	}
}

// Name implements Source.
func (c *CRM) Name() string {
	if c.cfg.Object != "" {
		return "salesforce:" + c.cfg.Object
	}
	return "salesforce:query"
}

// SOQL returns the statement Extract runs.
func (c *CRM) SOQL() string {
	if c.cfg.Query != "" {
		return c.cfg.Query
	}
	return salesforce.BuildSOQL(c.cfg.Object, c.cfg.Fields, c.cfg.Where)
}

// Extract optionally checks the configured fields against the object's
// describe metadata, then runs the query. The "attributes" metadata object is
// removed from every record, including nested relationship records.
func (c *CRM) Extract(ctx context.Context) ([]record.Batch, error) {
	if c.cfg.Describe {
		desc, err := c.client.DescribeSObject(ctx, c.cfg.Object)
		if err != nil {
			return nil, etlerr.New(etlerr.SourceUnavailable, stage, eris.Wrapf(err, "source: describe %s", c.cfg.Object))
		}
		if missing := salesforce.MissingFields(desc, c.cfg.Fields); len(missing) > 0 {
			return nil, etlerr.Column(etlerr.SchemaMismatch, stage, missing[0],
				eris.Errorf("source: %s has no fields %s", c.cfg.Object, strings.Join(missing, ", ")))
		}
	}

	raw, err := salesforce.QueryRecords(ctx, c.client, c.SOQL())
	if err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, stage, err)
	}
	b := record.Batch{Name: c.Name(), Records: make([]record.Record, len(raw))}
	for i, r := range raw {
		b.Records[i] = stripAttributes(r)
	}
	c.log.Info("query read", zap.Int("records", b.Len()))
	return []record.Batch{b}, nil
}

func stripAttributes(m map[string]any) map[string]any {
	delete(m, "attributes")
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			m[k] = stripAttributes(nested)
		}
	}
	return m
}

// Close implements Source.
func (c *CRM) Close() error { return nil }
