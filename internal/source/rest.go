package source

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/fetcher"
	"github.com/sells-group/stageload/internal/record"
)

// HTTPClient is the subset of fetcher.HTTPFetcher the REST source calls.
type HTTPClient interface {
	PostJSON(ctx context.Context, rawURL string, body any, headers map[string]string) (*fetcher.Response, error)
	GetJSON(ctx context.Context, rawURL string, headers map[string]string) (*fetcher.Response, error)
}

// REST reads every page of a cursor-paginated JSON endpoint into one batch.
type REST struct {
	cfg    config.RESTConfig
	client HTTPClient
	clock  Clock
	log    *zap.Logger
}

// NewREST creates a REST source.
func NewREST(cfg config.RESTConfig, client HTTPClient, clock Clock) *REST {
	return &REST{
		cfg:    cfg,
		client: client,
		clock:  clock,
		log:    zap.L().With(zap.String("component", "source.rest"), zap.String("base_url", cfg.BaseURL)),
	}
}

// Name implements Source.
func (r *REST) Name() string { return r.cfg.BaseURL + r.cfg.Path }

// Close implements Source.
func (r *REST) Close() error { return nil }

// DateTokens returns the values substituted for {start_date}, {end_date} and
// {version_date}. The window ends LagDays before the reference day and spans
// WindowDays days.
func (r *REST) DateTokens() map[string]string {
	ref := day(r.clock.now())
	end := ref.AddDate(0, 0, -r.cfg.LagDays)
	start := end.AddDate(0, 0, -(max(r.cfg.WindowDays, 1) - 1))
	layout := r.cfg.DateFormat
	if layout == "" {
		layout = "%Y-%m-%d"
	}
	return map[string]string{
		"{start_date}":   strftime.Format(layout, start),
		"{end_date}":     strftime.Format(layout, end),
		"{version_date}": strftime.Format("%Y%m%d", ref),
	}
}

func (r *REST) expand(s string, tokens map[string]string) string {
	for k, v := range tokens {
		s = strings.ReplaceAll(s, k, v)
	}
	return s
}

// resolve joins a path onto BaseURL unless it is already absolute.
func (r *REST) resolve(p string) string {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	return strings.TrimRight(r.cfg.BaseURL, "/") + p
}

// pageURL renders the URL for the next request.
func (r *REST) pageURL(cursor string, tokens map[string]string) (string, error) {
	p := r.cfg.Path
	if cursor != "" && r.cfg.CursorParam == "" {
		next := r.cfg.NextPath
		if next == "" {
			next = p
		}
		p = next + cursor
	}
	raw := r.resolve(r.expand(p, tokens))

	if len(r.cfg.Query) == 0 && (cursor == "" || r.cfg.CursorParam == "") {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", etlerr.New(etlerr.ConfigurationError, stage, eris.Wrapf(err, "source: parse url %s", raw))
	}
	q := u.Query()
	for k, v := range r.cfg.Query {
		q.Set(k, r.expand(v, tokens))
	}
	if cursor != "" && r.cfg.CursorParam != "" {
		q.Set(r.cfg.CursorParam, cursor)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// authenticate exchanges credentials for a token and returns the request
// headers carrying it.
func (r *REST) authenticate(ctx context.Context) (map[string]string, error) {
	headers := make(map[string]string, len(r.cfg.Headers)+1)
	for k, v := range r.cfg.Headers {
		headers[k] = v
	}
	a := r.cfg.Auth
	if a.URL == "" {
		return headers, nil
	}

	resp, err := r.client.PostJSON(ctx, r.resolve(a.URL), a.Body, nil)
	if err != nil {
		return nil, etlerr.New(etlerr.AuthenticationError, stage, eris.Wrap(err, "source: token exchange"))
	}
	if !resp.OK() {
		return nil, etlerr.Status(etlerr.AuthenticationError, stage, resp.StatusCode,
			eris.Errorf("source: token exchange returned %d", resp.StatusCode))
	}
	token := gjson.GetBytes(resp.Body, a.TokenPath)
	if !token.Exists() || token.String() == "" {
		return nil, etlerr.Status(etlerr.AuthenticationError, stage, resp.StatusCode,
			eris.Errorf("source: token exchange response has no %q", a.TokenPath))
	}

	scheme := a.Scheme
	if scheme == "" {
		scheme = "Bearer"
	}
	header := a.Header
	if header == "" {
		header = "Authorization"
	}
	if scheme == "-" {
		headers[header] = token.String()
	} else {
		headers[header] = scheme + " " + token.String()
	}
	return headers, nil
}

// Extract authenticates, then follows the cursor until a page has none. Page
// records are accumulated in page order.
func (r *REST) Extract(ctx context.Context) ([]record.Batch, error) {
	headers, err := r.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	tokens := r.DateTokens()

	start := time.Now()
	batch := record.Batch{Name: r.Name()}
	pager := NewPaginator(GJSONCursor(r.cfg.CursorPath))
	for pager.State() == HasNextPage {
		if r.cfg.MaxPages > 0 && pager.Pages() >= r.cfg.MaxPages {
			return nil, etlerr.New(etlerr.EndpointError, stage,
				eris.Errorf("source: %s still has pages after max_pages %d", r.Name(), r.cfg.MaxPages))
		}
		pageURL, err := r.pageURL(pager.Cursor(), tokens)
		if err != nil {
			return nil, err
		}
		resp, err := r.client.GetJSON(ctx, pageURL, headers)
		if err != nil {
			return nil, etlerr.New(etlerr.EndpointError, stage, eris.Wrapf(err, "source: get page %d", pager.Pages()+1))
		}
		if !resp.OK() {
			return nil, etlerr.Status(etlerr.EndpointError, stage, resp.StatusCode,
				eris.Errorf("source: page %d returned %d", pager.Pages()+1, resp.StatusCode))
		}

		recs, err := pageRecords(resp.Body, r.cfg.RecordsPath)
		if err != nil {
			return nil, etlerr.New(etlerr.EndpointError, stage, eris.Wrapf(err, "source: page %d", pager.Pages()+1))
		}
		batch.Records = append(batch.Records, recs...)
		pager.Advance(resp.Body)

		r.log.Debug("page read",
			zap.Int("page", pager.Pages()),
			zap.Int("records", len(recs)),
			zap.Stringer("state", pager.State()),
		)
	}

	r.log.Info("endpoint read",
		zap.Int("pages", pager.Pages()),
		zap.Int("records", batch.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return []record.Batch{batch}, nil
}

// pageRecords decodes the array at path. Numbers keep their literal text.
func pageRecords(body []byte, path string) ([]record.Record, error) {
	v := gjson.GetBytes(body, path)
	if !v.Exists() {
		return nil, eris.Errorf("records path %q not found", path)
	}
	if !v.IsArray() {
		return nil, eris.Errorf("records path %q is not an array", path)
	}
	items := v.Array()
	out := make([]record.Record, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			return nil, eris.Errorf("record %d is not an object", i)
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(item.Raw)))
		dec.UseNumber()
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			return nil, eris.Wrapf(err, "decode record %d", i)
		}
		out = append(out, rec)
	}
	return out, nil
}
