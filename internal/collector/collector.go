// Package collector fans an analysis out across the configured
// datasources and folds the results into a single evidence set. A
// backend that fails or returns nothing is substituted with synthetic
// telemetry so the reasoning stage always has material to work with.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alertscope/alertscope/internal/connectors"
	"github.com/alertscope/alertscope/internal/metrics"
	"github.com/alertscope/alertscope/internal/models"
	"github.com/alertscope/alertscope/internal/testdata"
)

const (
	fallbackLogLimit = 100

	// Status keys used when no datasource is configured at all.
	statusKeyTestLogs    = "test_logs"
	statusKeyTestMetrics = "test_metrics"
)

// Coordinator runs the data collection stage.
type Coordinator struct {
	logger   *slog.Logger
	provider *testdata.Provider
	opts     connectors.Options

	// newConnector is swapped out by tests.
	newConnector func(models.DataSource, connectors.Options) (connectors.Connector, error)
}

func New(logger *slog.Logger, provider *testdata.Provider, opts connectors.Options) *Coordinator {
	return &Coordinator{
		logger:       logger,
		provider:     provider,
		opts:         opts,
		newConnector: connectors.New,
	}
}

type sourceResult struct {
	logs    []models.LogEntry
	metrics []models.MetricSeries
	status  string
}

// Collect queries every datasource concurrently, waits for all of them
// to settle, and merges results in the order the sources were given.
// Individual failures never fail the stage; they are downgraded to
// synthetic substitutions recorded in the collection status. The only
// error Collect returns is context cancellation. The progress callback
// receives completion percentages as sources settle; it is never called
// concurrently.
func (c *Coordinator) Collect(ctx context.Context, intent models.Intent, sources []models.DataSource, start, end time.Time, progress func(percent int, note string)) (*models.ContextData, error) {
	query := strings.Join(intent.Keywords, " ")

	if len(sources) == 0 {
		return c.collectSynthetic(ctx, query)
	}

	results := make([]sourceResult, len(sources))
	settled := 0

	var g errgroup.Group
	var mu sync.Mutex
	for i, ds := range sources {
		i, ds := i, ds
		g.Go(func() error {
			results[i] = c.collectOne(ctx, ds, query, start, end)
			// The callback runs under the lock so consumers see one
			// update at a time, in settling order.
			mu.Lock()
			settled++
			pct := settled * 100 / len(sources)
			if progress != nil {
				progress(pct, fmt.Sprintf("queried %s", ds.Name))
			}
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; Wait only synchronizes.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := models.NewContextData()
	for i, r := range results {
		out.Logs = append(out.Logs, r.logs...)
		out.Metrics = append(out.Metrics, r.metrics...)
		out.Status[fmt.Sprintf("ds_%d", sources[i].ID)] = r.status
	}
	if len(out.Logs) == 0 && len(out.Metrics) == 0 {
		out.Status["summary"] = "no data found"
	}
	return out, nil
}

func (c *Coordinator) collectOne(ctx context.Context, ds models.DataSource, query string, start, end time.Time) sourceResult {
	conn, err := c.newConnector(ds, c.opts)
	if err != nil {
		c.logger.Warn("connector construction failed",
			slog.String("datasource", ds.Name),
			slog.String("error", err.Error()))
		metrics.ObserveConnectorQuery(string(ds.Type), metrics.OutcomeError)
		return c.fallback(ds, query, fmt.Sprintf("error: %v", err))
	}

	switch conn := conn.(type) {
	case connectors.MetricConnector:
		series, err := conn.QueryMetrics(ctx, query, start, end)
		if err != nil {
			c.logger.Warn("metric query failed",
				slog.String("datasource", ds.Name),
				slog.String("error", err.Error()))
			metrics.ObserveConnectorQuery(string(ds.Type), metrics.OutcomeError)
			return c.fallback(ds, query, fmt.Sprintf("error: %v", err))
		}
		if len(series) == 0 {
			metrics.ObserveConnectorQuery(string(ds.Type), metrics.OutcomeSuccess)
			return c.fallback(ds, query, "no records returned")
		}
		metrics.ObserveConnectorQuery(string(ds.Type), metrics.OutcomeSuccess)
		return sourceResult{
			metrics: series,
			status:  fmt.Sprintf("collected %d metric series", len(series)),
		}
	case connectors.LogConnector:
		logs, err := conn.QueryLogs(ctx, query, start, end)
		if err != nil {
			c.logger.Warn("log query failed",
				slog.String("datasource", ds.Name),
				slog.String("error", err.Error()))
			metrics.ObserveConnectorQuery(string(ds.Type), metrics.OutcomeError)
			return c.fallback(ds, query, fmt.Sprintf("error: %v", err))
		}
		if len(logs) == 0 {
			metrics.ObserveConnectorQuery(string(ds.Type), metrics.OutcomeSuccess)
			return c.fallback(ds, query, "no records returned")
		}
		metrics.ObserveConnectorQuery(string(ds.Type), metrics.OutcomeSuccess)
		return sourceResult{
			logs:   logs,
			status: fmt.Sprintf("collected %d log entries", len(logs)),
		}
	default:
		return c.fallback(ds, query, "connector exposes no query surface")
	}
}

// fallback substitutes synthetic telemetry of the kind the source
// would have produced and annotates the status with the reason. A
// source whose substitute is also empty is marked "no data found".
func (c *Coordinator) fallback(ds models.DataSource, query, reason string) sourceResult {
	var r sourceResult
	if ds.Type == models.DataSourcePrometheus {
		r.metrics = c.provider.Metrics(0)
	} else {
		r.logs = c.provider.Logs(query, fallbackLogLimit)
	}
	if len(r.logs) == 0 && len(r.metrics) == 0 {
		r.status = "no data found"
		return r
	}
	r.status = "fell back to synthetic data: " + reason
	return r
}

// collectSynthetic serves the no-datasources case with one synthetic
// pass over both telemetry kinds.
func (c *Coordinator) collectSynthetic(ctx context.Context, query string) (*models.ContextData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := models.NewContextData()
	out.Logs = c.provider.Logs(query, fallbackLogLimit)
	out.Metrics = c.provider.Metrics(0)
	out.Status[statusKeyTestLogs] = fmt.Sprintf("no datasources configured, served %d synthetic log entries", len(out.Logs))
	out.Status[statusKeyTestMetrics] = fmt.Sprintf("no datasources configured, served %d synthetic metric series", len(out.Metrics))
	return out, nil
}
