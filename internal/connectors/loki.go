package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alertscope/alertscope/internal/models"
)

// lokiConnector queries Loki's range API with generated LogQL.
type lokiConnector struct {
	base       string
	token      string
	labels     map[string]string
	limit      int
	opts       Options
	httpClient *http.Client
}

func newLoki(ds models.DataSource, opts Options) (*lokiConnector, error) {
	lo := ds.Options.Loki
	if lo == nil {
		lo = &models.LokiOptions{}
	}
	limit := lo.Limit
	if limit <= 0 {
		limit = 100
	}
	return &lokiConnector{
		base:       baseURL(lo.Protocol, ds.Host, ds.Port),
		token:      ds.AuthToken,
		labels:     lo.Labels,
		limit:      limit,
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.queryTimeout()},
	}, nil
}

func (c *lokiConnector) Type() models.DataSourceType { return models.DataSourceLoki }

func (c *lokiConnector) TestConnection(ctx context.Context) (models.ConnectionHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.healthTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolvePath(c.base, "/ready"), nil)
	if err != nil {
		return models.ConnectionHealth{}, err
	}
	authorize(req, c.token)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.ConnectionHealth{}, fmt.Errorf("loki health probe: %w", err)
	}
	defer resp.Body.Close()

	health := models.ConnectionHealth{LatencyMs: float64(time.Since(started).Milliseconds())}
	if resp.StatusCode != http.StatusOK {
		health.Message = fmt.Sprintf("loki returned %s", resp.Status)
		return health, nil
	}
	health.OK = true
	health.Message = "loki is ready"
	return health, nil
}

// logQL builds a stream selector from the configured labels, or falls
// back to matching any job, and appends a line filter when a query is
// present.
func (c *lokiConnector) logQL(query string) string {
	selector := `{job=~".+"}`
	if len(c.labels) > 0 {
		keys := make([]string, 0, len(c.labels))
		for k := range c.labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%q", k, c.labels[k]))
		}
		selector = "{" + strings.Join(pairs, ",") + "}"
	}
	if strings.TrimSpace(query) == "" {
		return selector
	}
	return fmt.Sprintf("%s |~ %q", selector, query)
}

func (c *lokiConnector) QueryLogs(ctx context.Context, query string, start, end time.Time) ([]models.LogEntry, error) {
	params := url.Values{}
	params.Set("query", c.logQL(query))
	params.Set("start", strconv.FormatInt(start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(end.UnixNano(), 10))
	params.Set("limit", strconv.Itoa(c.limit))

	endpoint := resolvePath(c.base, "/loki/api/v1/query_range") + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	authorize(req, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("loki query_range: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loki returned %s", resp.Status)
	}

	var body struct {
		Status string `json:"status"`
		Data   struct {
			Result []struct {
				Stream map[string]string `json:"stream"`
				Values [][2]string       `json:"values"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode loki response: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("loki query status %q", body.Status)
	}

	var entries []models.LogEntry
	for _, stream := range body.Data.Result {
		source := stream.Stream["job"]
		if source == "" {
			source = stream.Stream["app"]
		}
		for _, pair := range stream.Values {
			nanos, err := strconv.ParseInt(pair[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("loki entry timestamp %q: %w", pair[0], err)
			}
			entries = append(entries, models.LogEntry{
				Timestamp: time.Unix(0, nanos).UTC(),
				Level:     sniffLevel(pair[1]),
				Message:   pair[1],
				Source:    source,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	return entries, nil
}

// sniffLevel guesses a severity from the line body. Loki streams carry
// no structured level field unless the pipeline adds one.
func sniffLevel(line string) string {
	lowered := strings.ToLower(line)
	switch {
	case strings.Contains(lowered, "error"):
		return "ERROR"
	case strings.Contains(lowered, "warn"):
		return "WARN"
	case strings.Contains(lowered, "debug"):
		return "DEBUG"
	default:
		return "INFO"
	}
}
