package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alertscope/alertscope/internal/models"
)

// elasticsearchConnector runs full-text searches against one index.
type elasticsearchConnector struct {
	base       string
	token      string
	index      string
	size       int
	opts       Options
	httpClient *http.Client
}

func newElasticsearch(ds models.DataSource, opts Options) (*elasticsearchConnector, error) {
	eo := ds.Options.Elasticsearch
	if eo == nil {
		return nil, fmt.Errorf("elasticsearch options missing")
	}
	if eo.Index == "" {
		return nil, fmt.Errorf("elasticsearch index missing")
	}
	size := eo.Size
	if size <= 0 {
		size = 100
	}
	return &elasticsearchConnector{
		base:       baseURL(eo.Protocol, ds.Host, ds.Port),
		token:      ds.AuthToken,
		index:      eo.Index,
		size:       size,
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.queryTimeout()},
	}, nil
}

func (c *elasticsearchConnector) Type() models.DataSourceType { return models.DataSourceElasticsearch }

func (c *elasticsearchConnector) TestConnection(ctx context.Context) (models.ConnectionHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.healthTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolvePath(c.base, "/_cluster/health"), nil)
	if err != nil {
		return models.ConnectionHealth{}, err
	}
	authorize(req, c.token)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.ConnectionHealth{}, fmt.Errorf("elasticsearch health probe: %w", err)
	}
	defer resp.Body.Close()

	health := models.ConnectionHealth{LatencyMs: float64(time.Since(started).Milliseconds())}
	if resp.StatusCode != http.StatusOK {
		health.Message = fmt.Sprintf("elasticsearch returned %s", resp.Status)
		return health, nil
	}

	var body struct {
		ClusterName string `json:"cluster_name"`
		Status      string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.ConnectionHealth{}, fmt.Errorf("decode cluster health: %w", err)
	}
	health.OK = body.Status != "red"
	health.Message = fmt.Sprintf("cluster %s status %s", body.ClusterName, body.Status)
	return health, nil
}

func (c *elasticsearchConnector) QueryLogs(ctx context.Context, query string, start, end time.Time) ([]models.LogEntry, error) {
	must := []map[string]any{}
	if query != "" {
		must = append(must, map[string]any{
			"query_string": map[string]any{
				"query":         query,
				"default_field": "message",
			},
		})
	}
	payload := map[string]any{
		"size": c.size,
		"sort": []map[string]any{
			{"@timestamp": map[string]any{"order": "desc"}},
		},
		"query": map[string]any{
			"bool": map[string]any{
				"must": must,
				"filter": []map[string]any{
					{"range": map[string]any{
						"@timestamp": map[string]any{
							"gte": start.UTC().Format(time.RFC3339),
							"lte": end.UTC().Format(time.RFC3339),
						},
					}},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	endpoint := resolvePath(c.base, "/"+c.index+"/_search")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	authorize(req, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elasticsearch returned %s", resp.Status)
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source struct {
					Timestamp time.Time `json:"@timestamp"`
					Level     string    `json:"level"`
					Message   string    `json:"message"`
					Service   string    `json:"service"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	entries := make([]models.LogEntry, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		level := hit.Source.Level
		if level == "" {
			level = "INFO"
		}
		entries = append(entries, models.LogEntry{
			Timestamp: hit.Source.Timestamp,
			Level:     level,
			Message:   hit.Source.Message,
			Source:    hit.Source.Service,
		})
	}
	return entries, nil
}
