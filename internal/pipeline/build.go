package pipeline

import (
	"context"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/fetcher"
	"github.com/sells-group/stageload/internal/runmeta"
	"github.com/sells-group/stageload/internal/source"
	"github.com/sells-group/stageload/internal/warehouse"
	"github.com/sells-group/stageload/pkg/salesforce"
)

// Deps holds the collaborators Build wires into a run. Nil collaborators are
// created from the application config.
type Deps struct {
	Warehouse  warehouse.Warehouse
	Clock      source.Clock
	HTTP       source.HTTPClient
	S3         source.S3API
	Dial       source.Dialer
	Salesforce salesforce.Client
	// SourceWarehouse is the connection a warehouse source reads from. The
	// pipeline closes it.
	SourceWarehouse warehouse.Warehouse
	// Recorder options, e.g. runmeta.WithClock in tests.
	Recorder []runmeta.Option
}

// Build validates ds and assembles its pipeline. The caller closes the
// returned pipeline and the warehouse.
func Build(ctx context.Context, cfg *config.Config, ds *config.DatasetConfig, deps Deps) (*Pipeline, error) {
	if deps.Warehouse == nil {
		return nil, eris.New("pipeline: warehouse is required")
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	recorder, err := runmeta.New(deps.Warehouse, cfg.Metadata, ds.Task, deps.Recorder...)
	if err != nil {
		return nil, etlerr.New(etlerr.ConfigurationError, "pipeline", err)
	}
	src, err := NewSource(ctx, cfg, ds, deps)
	if err != nil {
		return nil, err
	}
	p, err := New(ds, deps.Warehouse, src, recorder)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the source connection.
func (p *Pipeline) Close() error {
	return p.src.Close()
}

// NewSource creates the source reader ds.Source.Type names.
func NewSource(ctx context.Context, cfg *config.Config, ds *config.DatasetConfig, deps Deps) (source.Source, error) {
	s := ds.Source
	switch s.Type {
	case config.SourceObjectStore:
		client := deps.S3
		if client == nil {
			c, err := source.NewS3Client(ctx, cfg.AWS)
			if err != nil {
				return nil, etlerr.New(etlerr.SourceUnavailable, "source", err)
			}
			client = c
		}
		return source.NewObjectStore(s.ObjectStore, client, deps.Clock), nil

	case config.SourceREST:
		client := deps.HTTP
		if client == nil {
			c, err := newHTTPFetcher(cfg.HTTP, s.REST.BaseURL)
			if err != nil {
				return nil, err
			}
			client = c
		}
		return source.NewREST(s.REST, client, deps.Clock), nil

	case config.SourceSFTP, config.SourceFTP:
		dial := deps.Dial
		if dial == nil {
			dial = source.DialSFTP
			if s.Type == config.SourceFTP {
				dial = source.DialFTP
			}
		}
		return source.NewFileDrop(s.FileDrop, dial), nil

	case config.SourceCRM:
		client := deps.Salesforce
		if client == nil {
			sf := cfg.Salesforce
			c, err := salesforce.Connect(salesforce.Credentials{
				LoginURL:      sf.LoginURL,
				ClientID:      sf.ClientID,
				ClientSecret:  sf.ClientSecret,
				Username:      sf.Username,
				Password:      sf.Password,
				SecurityToken: sf.SecurityToken,
				KeyPath:       sf.KeyPath,
			}, salesforce.WithRateLimit(sf.RateLimit))
			if err != nil {
				return nil, etlerr.New(etlerr.AuthenticationError, "source", err)
			}
			client = c
		}
		return source.NewCRM(s.CRM, client), nil

	case config.SourceWarehouse:
		wh := deps.SourceWarehouse
		if wh == nil {
			whCfg, err := cfg.Warehouse(s.Warehouse.Warehouse)
			if err != nil {
				return nil, etlerr.New(etlerr.ConfigurationError, "source", err)
			}
			c, err := warehouse.Open(ctx, whCfg)
			if err != nil {
				if _, ok := etlerr.As(err); ok {
					return nil, err
				}
				return nil, etlerr.New(etlerr.SourceUnavailable, "source", err)
			}
			wh = c
		}
		return source.NewWarehouse(s.Warehouse, ds.Columns, wh), nil

	default:
		return nil, etlerr.New(etlerr.ConfigurationError, "pipeline",
			eris.Errorf("pipeline: unknown source type %q", s.Type))
	}
}

// newHTTPFetcher builds the REST client, limiting requests to the endpoint's
// host when a rate is configured.
func newHTTPFetcher(cfg config.HTTPConfig, baseURL string) (*fetcher.HTTPFetcher, error) {
	opts := fetcher.HTTPOptions{
		UserAgent: cfg.UserAgent,
		Timeout:   time.Duration(cfg.TimeoutSecs) * time.Second,
	}
	if cfg.RateLimit > 0 {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, etlerr.New(etlerr.ConfigurationError, "pipeline", eris.Wrapf(err, "pipeline: parse base url %s", baseURL))
		}
		opts.RateLimiters = map[string]*rate.Limiter{
			u.Host: rate.NewLimiter(rate.Limit(cfg.RateLimit), max(int(cfg.RateLimit), 1)),
		}
	}
	return fetcher.NewHTTPFetcher(opts), nil
}
