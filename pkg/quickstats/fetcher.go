// Package quickstats fetches records from the USDA NASS QuickStats API.
//
// A Fetcher turns a Query into a lazy, paginated sequence of Records:
//
//	f := quickstats.NewFetcher(cfg, logger)
//	it := f.Fetch(ctx, quickstats.Query{"commodity": "CORN", "year": "2020"})
//	for it.Next() {
//		rec := it.Record()
//		...
//	}
//	if err := it.Err(); err != nil { ... }
//
// Pages are requested one after another; a failed page surfaces as the iterator's error and
// FetchAll never returns a partial result.
package quickstats

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/nassdata/quickstats/pkg/clients"
	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/json"
	"github.com/nassdata/quickstats/pkg/metrics"
	"github.com/nassdata/quickstats/pkg/observability"
)

// API endpoints relative to the base URL.
const (
	EndpointData        = "api_GET"
	EndpointCounts      = "get_counts"
	EndpointParamValues = "get_param_values"
)

// maxBodySize bounds a single response. 50000 wide rows stay well below it.
const maxBodySize = 512 << 20

// HTTPGetter is the transport a Fetcher needs. *clients.HTTPClient satisfies it.
type HTTPGetter interface {
	Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error)
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the transport built from the configuration.
func WithHTTPClient(c HTTPGetter) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithRetryPolicy replaces the retry policy built from the configuration.
func WithRetryPolicy(p *clients.RetryPolicy) Option {
	return func(f *Fetcher) {
		f.retry = p
	}
}

// withClock is used by tests to pin Retry-After dates.
func withClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		f.now = now
	}
}

// Fetcher issues QuickStats requests. It is safe for concurrent use; each Fetch call owns
// its own pagination state.
type Fetcher struct {
	api     config.APIConfig
	client  HTTPGetter
	retry   *clients.RetryPolicy
	logger  *zap.Logger
	numeric map[string]bool
	now     func() time.Time
}

// NewFetcher builds a Fetcher from cfg. A missing API key is not an error here; it is
// reported by the first request so commands that never reach the network still work.
func NewFetcher(cfg *config.Config, logger *zap.Logger, opts ...Option) *Fetcher {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Fetcher{
		api:    cfg.API,
		logger: logger.With(zap.String("component", "fetcher")),
		now:    time.Now,
	}
	if f.api.PageSize <= 0 || f.api.PageSize > config.MaxPageSize {
		f.api.PageSize = config.MaxPageSize
	}
	fields := f.api.NumericFields
	if len(fields) == 0 {
		fields = DefaultNumericFields
	}
	f.numeric = numericSet(fields)

	for _, opt := range opts {
		opt(f)
	}

	if f.client == nil {
		f.client = clients.NewHTTPClient(clients.HTTPConfigFromConfig(cfg), logger)
	}
	if f.retry == nil {
		f.retry = clients.RetryPolicyFromConfig(cfg)
	}
	f.retry = f.retry.Clone()
	f.retry.OnRetry = f.onRetry

	return f
}

// Close releases the transport's idle connections when it supports that.
func (f *Fetcher) Close() error {
	if c, ok := f.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// PageSize is the number of records requested per page.
func (f *Fetcher) PageSize() int {
	return f.api.PageSize
}

// Fetch returns a lazy iterator over every record matching q. Nothing is sent until the
// first call to Next.
func (f *Fetcher) Fetch(ctx context.Context, q Query) *Iterator {
	return newIterator(ctx, f, q)
}

// FetchAll collects every record matching q. On any error it returns nil records.
func (f *Fetcher) FetchAll(ctx context.Context, q Query) ([]Record, error) {
	it := f.Fetch(ctx, q)
	var records []Record
	for it.Next() {
		records = append(records, it.Record())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Count returns how many records match q without downloading them.
func (f *Fetcher) Count(ctx context.Context, q Query) (int, error) {
	query, err := f.prepare(q)
	if err != nil {
		return 0, err
	}

	ctx, span := observability.StartSpan(ctx, "quickstats.count", attribute.String("query", query.String()))
	defer span.End()

	var count int
	err = f.retry.Execute(ctx, func() error {
		body, status, err := f.get(ctx, EndpointCounts, f.params(query))
		if err != nil {
			return err
		}
		count, err = decodeCount(body, status)
		return err
	})
	span.RecordError(err)
	if err != nil {
		return 0, err
	}
	span.SetAttribute("count", count)
	return count, nil
}

// ParamValues lists the values QuickStats knows for param, optionally narrowed by q.
func (f *Fetcher) ParamValues(ctx context.Context, param string, q Query) ([]string, error) {
	name, err := normalizeKey(param)
	if err != nil {
		return nil, err
	}
	query, err := f.prepare(q)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "quickstats.param_values", attribute.String("param", name))
	defer span.End()

	values := f.params(query)
	values.Set("param", name)

	var out []string
	err = f.retry.Execute(ctx, func() error {
		body, status, err := f.get(ctx, EndpointParamValues, values)
		if err != nil {
			return err
		}
		out, err = decodeParamValues(body, status, name)
		return err
	})
	span.RecordError(err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// prepare checks the credential and normalizes q. It never touches the network.
func (f *Fetcher) prepare(q Query) (Query, error) {
	if err := f.api.RequireAPIKey(); err != nil {
		return nil, err
	}
	if f.api.HasPaging() {
		return q.Normalize(f.api.OffsetParam, f.api.LimitParam)
	}
	return q.Normalize()
}

// params returns the query string shared by every endpoint.
func (f *Fetcher) params(q Query) url.Values {
	v := q.Values()
	v.Set("key", f.api.APIKey)
	v.Set("format", "JSON")
	return v
}

// fetchPage requests one page, retrying rate limits and transient failures. The returned
// raw data array is used by the iterator to detect a server ignoring the offset.
func (f *Fetcher) fetchPage(ctx context.Context, q Query, offset int) ([]Record, json.RawMessage, error) {
	ctx, span := observability.StartSpan(ctx, "quickstats.page",
		attribute.Int("offset", offset),
		attribute.Int("limit", f.api.PageSize),
	)
	defer span.End()

	values := f.params(q)
	if f.api.HasPaging() {
		values.Set(f.api.OffsetParam, strconv.Itoa(offset))
		values.Set(f.api.LimitParam, strconv.Itoa(f.api.PageSize))
	}

	var (
		records []Record
		data    json.RawMessage
	)
	err := f.retry.Execute(ctx, func() error {
		body, status, err := f.get(ctx, EndpointData, values)
		if err != nil {
			return err
		}
		data, err = decodeData(body, status)
		if err != nil {
			return err
		}
		records, err = decodeRecords(data, f.numeric)
		return err
	})
	span.RecordError(err)
	if err != nil {
		return nil, nil, err
	}

	span.SetAttribute("records", len(records))
	metrics.PagesFetched.Inc()
	metrics.PageSize.Observe(float64(len(records)))
	metrics.RecordsFetched.Add(float64(len(records)))
	return records, data, nil
}

// get sends one request and returns the body of any response that is not classified as an
// error by its status line alone.
func (f *Fetcher) get(ctx context.Context, endpoint string, values url.Values) ([]byte, int, error) {
	target := strings.TrimRight(f.api.BaseURL, "/") + "/" + endpoint + "/?" + values.Encode()

	resp, err := f.client.Get(ctx, target, nil)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, f.now()); err != nil {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, resp.StatusCode, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, resp.StatusCode, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "reading response")
		}
		return nil, resp.StatusCode, errors.Transient(err, "reading response")
	}
	return body, resp.StatusCode, nil
}

func (f *Fetcher) onRetry(attempt int, delay time.Duration, err error) {
	reason := "unknown"
	var e *errors.Error
	if errors.As(err, &e) {
		reason = string(e.Type)
	}
	metrics.Retries.WithLabelValues(reason).Inc()
	f.logger.Warn("retrying request",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.String("reason", reason),
		zap.Error(err))
}

func decodeCount(body []byte, status int) (int, error) {
	var resp struct {
		Count json.Number     `json:"count"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		if status >= http.StatusBadRequest {
			return 0, errors.Newf(errors.ErrorTypeQuery, "QuickStats rejected the query (HTTP %d)", status)
		}
		return 0, errors.Malformed(err, "count response is not valid JSON")
	}
	if msg := apiMessage(resp.Error); msg != "" {
		empty, err := errorFromBody(msg, status)
		if empty {
			return 0, nil
		}
		return 0, err
	}
	if status >= http.StatusBadRequest {
		return 0, errors.Newf(errors.ErrorTypeQuery, "QuickStats rejected the query (HTTP %d)", status)
	}
	if resp.Count == "" {
		return 0, errors.Malformed(nil, "count response has no count")
	}
	n, err := strconv.Atoi(strings.ReplaceAll(resp.Count.String(), ",", ""))
	if err != nil {
		return 0, errors.Malformed(err, "count is not an integer")
	}
	return n, nil
}

func decodeParamValues(body []byte, status int, param string) ([]string, error) {
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(body, &resp); err != nil {
		if status >= http.StatusBadRequest {
			return nil, errors.Newf(errors.ErrorTypeQuery, "QuickStats rejected the query (HTTP %d)", status)
		}
		return nil, errors.Malformed(err, "param values response is not valid JSON")
	}
	if msg := apiMessage(resp["error"]); msg != "" {
		empty, err := errorFromBody(msg, status)
		if empty {
			return []string{}, nil
		}
		return nil, err
	}
	raw, ok := resp[param]
	if !ok {
		return nil, errors.Malformed(nil, "param values response has no "+param+" list")
	}
	var values []any
	if err := json.UnmarshalNumbers(raw, &values); err != nil {
		return nil, errors.Malformed(err, "param values are not a list")
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		switch s := v.(type) {
		case string:
			out = append(out, s)
		case json.Number:
			out = append(out, s.String())
		}
	}
	return out, nil
}
