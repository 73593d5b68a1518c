package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alertscope/alertscope/internal/models"
)

// prometheusConnector queries a Prometheus-compatible range API.
type prometheusConnector struct {
	base       string
	token      string
	step       time.Duration
	opts       Options
	httpClient *http.Client
}

func newPrometheus(ds models.DataSource, opts Options) (*prometheusConnector, error) {
	po := ds.Options.Prometheus
	if po == nil {
		po = &models.PrometheusOptions{}
	}
	step := time.Minute
	if po.Step != "" {
		parsed, err := time.ParseDuration(po.Step)
		if err != nil {
			return nil, fmt.Errorf("prometheus step: %w", err)
		}
		step = parsed
	}
	return &prometheusConnector{
		base:       baseURL(po.Protocol, ds.Host, ds.Port),
		token:      ds.AuthToken,
		step:       step,
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.queryTimeout()},
	}, nil
}

func (c *prometheusConnector) Type() models.DataSourceType { return models.DataSourcePrometheus }

func (c *prometheusConnector) TestConnection(ctx context.Context) (models.ConnectionHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.healthTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolvePath(c.base, "/-/healthy"), nil)
	if err != nil {
		return models.ConnectionHealth{}, err
	}
	authorize(req, c.token)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.ConnectionHealth{}, fmt.Errorf("prometheus health probe: %w", err)
	}
	defer resp.Body.Close()

	health := models.ConnectionHealth{LatencyMs: float64(time.Since(started).Milliseconds())}
	if resp.StatusCode != http.StatusOK {
		health.Message = fmt.Sprintf("prometheus returned %s", resp.Status)
		return health, nil
	}
	health.OK = true
	health.Message = "prometheus is healthy"
	return health, nil
}

// promQLFor maps incident keywords onto node-exporter queries. Every
// matched resource family contributes one query; with no match the
// scrape-liveness query stands in.
func promQLFor(query string) []string {
	lowered := strings.ToLower(query)
	families := []struct {
		trigger string
		expr    string
	}{
		{"cpu", `rate(node_cpu_seconds_total{mode!="idle"}[5m])`},
		{"memory", `node_memory_MemAvailable_bytes`},
		{"disk", `node_filesystem_avail_bytes`},
		{"network", `rate(node_network_receive_bytes_total[5m])`},
	}

	var exprs []string
	for _, f := range families {
		if strings.Contains(lowered, f.trigger) {
			exprs = append(exprs, f.expr)
		}
	}
	if len(exprs) == 0 {
		exprs = []string{"up"}
	}
	return exprs
}

// QueryMetrics runs one range query per matched resource family. A
// failing expression is skipped so the remaining families still
// contribute; an error is returned only when every expression failed.
func (c *prometheusConnector) QueryMetrics(ctx context.Context, query string, start, end time.Time) ([]models.MetricSeries, error) {
	var out []models.MetricSeries
	var errs []error
	for _, expr := range promQLFor(query) {
		series, err := c.queryRange(ctx, expr, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		out = append(out, series...)
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

type promPair struct {
	Timestamp time.Time
	Value     float64
}

// UnmarshalJSON decodes the [unix_seconds, "value"] pairs the range
// API emits.
func (p *promPair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var ts float64
	if err := json.Unmarshal(raw[0], &ts); err != nil {
		return fmt.Errorf("sample timestamp: %w", err)
	}
	var val string
	if err := json.Unmarshal(raw[1], &val); err != nil {
		return fmt.Errorf("sample value: %w", err)
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fmt.Errorf("sample value %q: %w", val, err)
	}
	sec := int64(ts)
	p.Timestamp = time.Unix(sec, int64((ts-float64(sec))*float64(time.Second))).UTC()
	p.Value = parsed
	return nil
}

func (c *prometheusConnector) queryRange(ctx context.Context, expr string, start, end time.Time) ([]models.MetricSeries, error) {
	params := url.Values{}
	params.Set("query", expr)
	params.Set("start", strconv.FormatInt(start.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))
	params.Set("step", strconv.FormatInt(int64(c.step.Seconds()), 10))

	endpoint := resolvePath(c.base, "/api/v1/query_range") + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	authorize(req, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prometheus query_range: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prometheus returned %s", resp.Status)
	}

	var body struct {
		Status string `json:"status"`
		Data   struct {
			Result []struct {
				Metric map[string]string `json:"metric"`
				Values []promPair        `json:"values"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode prometheus response: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("prometheus query status %q", body.Status)
	}

	series := make([]models.MetricSeries, 0, len(body.Data.Result))
	for _, r := range body.Data.Result {
		name := r.Metric["__name__"]
		if name == "" {
			name = expr
		}
		labels := make(map[string]string, len(r.Metric))
		for k, v := range r.Metric {
			if k != "__name__" {
				labels[k] = v
			}
		}
		points := make([]models.MetricPoint, 0, len(r.Values))
		for _, p := range r.Values {
			points = append(points, models.MetricPoint{Timestamp: p.Timestamp, Value: p.Value})
		}
		series = append(series, models.MetricSeries{Name: name, Labels: labels, Points: points})
	}
	return series, nil
}
