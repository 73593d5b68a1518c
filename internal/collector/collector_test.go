package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alertscope/alertscope/internal/connectors"
	"github.com/alertscope/alertscope/internal/models"
	"github.com/alertscope/alertscope/internal/testdata"
)

type fakeLogConnector struct {
	logs []models.LogEntry
	err  error
}

func (f *fakeLogConnector) Type() models.DataSourceType { return models.DataSourceLoki }

func (f *fakeLogConnector) TestConnection(context.Context) (models.ConnectionHealth, error) {
	return models.ConnectionHealth{OK: true}, nil
}

func (f *fakeLogConnector) QueryLogs(context.Context, string, time.Time, time.Time) ([]models.LogEntry, error) {
	return f.logs, f.err
}

type fakeMetricConnector struct {
	series []models.MetricSeries
	err    error
}

func (f *fakeMetricConnector) Type() models.DataSourceType { return models.DataSourcePrometheus }

func (f *fakeMetricConnector) TestConnection(context.Context) (models.ConnectionHealth, error) {
	return models.ConnectionHealth{OK: true}, nil
}

func (f *fakeMetricConnector) QueryMetrics(context.Context, string, time.Time, time.Time) ([]models.MetricSeries, error) {
	return f.series, f.err
}

func testCoordinator(byName map[string]connectors.Connector) *Coordinator {
	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)), testdata.NewProvider(), connectors.Options{})
	c.newConnector = func(ds models.DataSource, _ connectors.Options) (connectors.Connector, error) {
		conn, ok := byName[ds.Name]
		if !ok {
			return nil, errors.New("no such backend")
		}
		return conn, nil
	}
	return c
}

func window() (time.Time, time.Time) {
	end := time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)
	return end.Add(-30 * time.Minute), end
}

func TestCollectMergesInConfigOrder(t *testing.T) {
	logEntry := models.LogEntry{Message: "live log line", Level: "ERROR"}
	series := models.MetricSeries{Name: "cpu_usage_percent"}

	c := testCoordinator(map[string]connectors.Connector{
		"loki": &fakeLogConnector{logs: []models.LogEntry{logEntry}},
		"prom": &fakeMetricConnector{series: []models.MetricSeries{series}},
	})

	sources := []models.DataSource{
		{ID: 1, Name: "loki", Type: models.DataSourceLoki},
		{ID: 2, Name: "prom", Type: models.DataSourcePrometheus},
	}
	start, end := window()
	ctxData, err := c.Collect(context.Background(), models.Intent{Keywords: []string{"cpu"}}, sources, start, end, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(ctxData.Logs) != 1 || ctxData.Logs[0].Message != "live log line" {
		t.Fatalf("unexpected logs: %+v", ctxData.Logs)
	}
	if len(ctxData.Metrics) != 1 || ctxData.Metrics[0].Name != "cpu_usage_percent" {
		t.Fatalf("unexpected metrics: %+v", ctxData.Metrics)
	}
	if got := ctxData.Status["ds_1"]; got != "collected 1 log entries" {
		t.Fatalf("unexpected ds_1 status: %s", got)
	}
	if got := ctxData.Status["ds_2"]; got != "collected 1 metric series" {
		t.Fatalf("unexpected ds_2 status: %s", got)
	}
}

func TestCollectFallsBackOnError(t *testing.T) {
	c := testCoordinator(map[string]connectors.Connector{
		"loki": &fakeLogConnector{err: errors.New("connection refused")},
	})

	sources := []models.DataSource{{ID: 7, Name: "loki", Type: models.DataSourceLoki}}
	start, end := window()
	ctxData, err := c.Collect(context.Background(), models.Intent{Keywords: []string{"cpu"}}, sources, start, end, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(ctxData.Logs) == 0 {
		t.Fatal("expected synthetic substitution logs")
	}
	status := ctxData.Status["ds_7"]
	if !strings.HasPrefix(status, "fell back to synthetic data:") || !strings.Contains(status, "connection refused") {
		t.Fatalf("unexpected status: %s", status)
	}
}

func TestCollectFallsBackOnEmptyResult(t *testing.T) {
	c := testCoordinator(map[string]connectors.Connector{
		"prom": &fakeMetricConnector{},
	})

	sources := []models.DataSource{{ID: 3, Name: "prom", Type: models.DataSourcePrometheus}}
	start, end := window()
	ctxData, err := c.Collect(context.Background(), models.Intent{}, sources, start, end, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(ctxData.Metrics) == 0 {
		t.Fatal("expected synthetic metric substitution")
	}
	if got := ctxData.Status["ds_3"]; !strings.Contains(got, "no records returned") {
		t.Fatalf("unexpected status: %s", got)
	}
}

func TestCollectNoDatasources(t *testing.T) {
	c := testCoordinator(nil)
	start, end := window()
	ctxData, err := c.Collect(context.Background(), models.Intent{Keywords: []string{"memory"}}, nil, start, end, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(ctxData.Logs) == 0 || len(ctxData.Metrics) == 0 {
		t.Fatal("expected synthetic logs and metrics")
	}
	if _, ok := ctxData.Status["test_logs"]; !ok {
		t.Fatalf("missing test_logs status: %+v", ctxData.Status)
	}
	if _, ok := ctxData.Status["test_metrics"]; !ok {
		t.Fatalf("missing test_metrics status: %+v", ctxData.Status)
	}
}

func TestCollectReportsProgress(t *testing.T) {
	c := testCoordinator(map[string]connectors.Connector{
		"a": &fakeLogConnector{logs: []models.LogEntry{{Message: "x"}}},
		"b": &fakeLogConnector{logs: []models.LogEntry{{Message: "y"}}},
	})

	var mu sync.Mutex
	var seen []int
	progress := func(pct int, _ string) {
		mu.Lock()
		seen = append(seen, pct)
		mu.Unlock()
	}

	sources := []models.DataSource{
		{ID: 1, Name: "a", Type: models.DataSourceLoki},
		{ID: 2, Name: "b", Type: models.DataSourceLoki},
	}
	start, end := window()
	if _, err := c.Collect(context.Background(), models.Intent{}, sources, start, end, progress); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 progress updates, got %d", len(seen))
	}
	last := seen[len(seen)-1]
	if last != 100 {
		t.Fatalf("final progress should be 100, got %d", last)
	}
}

// blockingLogConnector holds every query until all expected callers
// have arrived, forcing the workers to settle together.
type blockingLogConnector struct {
	barrier *sync.WaitGroup
}

func (b *blockingLogConnector) Type() models.DataSourceType { return models.DataSourceLoki }

func (b *blockingLogConnector) TestConnection(context.Context) (models.ConnectionHealth, error) {
	return models.ConnectionHealth{OK: true}, nil
}

func (b *blockingLogConnector) QueryLogs(context.Context, string, time.Time, time.Time) ([]models.LogEntry, error) {
	b.barrier.Done()
	b.barrier.Wait()
	return []models.LogEntry{{Message: "ok"}}, nil
}

func TestCollectProgressSerialized(t *testing.T) {
	var barrier sync.WaitGroup
	barrier.Add(2)
	conn := &blockingLogConnector{barrier: &barrier}
	c := testCoordinator(map[string]connectors.Connector{"a": conn, "b": conn})

	var inFlight, maxInFlight int32
	progress := func(int, string) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			seen := atomic.LoadInt32(&maxInFlight)
			if cur <= seen || atomic.CompareAndSwapInt32(&maxInFlight, seen, cur) {
				break
			}
		}
		// Widen the window so an unserialized second caller would overlap.
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}

	sources := []models.DataSource{
		{ID: 1, Name: "a", Type: models.DataSourceLoki},
		{ID: 2, Name: "b", Type: models.DataSourceLoki},
	}
	start, end := window()
	if _, err := c.Collect(context.Background(), models.Intent{}, sources, start, end, progress); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("progress callback overlapped, max in flight %d", got)
	}
}

func TestCollectFallbackEmptySubstituteIsNoData(t *testing.T) {
	c := testCoordinator(map[string]connectors.Connector{
		"loki": &fakeLogConnector{err: errors.New("connection refused")},
	})

	sources := []models.DataSource{{ID: 9, Name: "loki", Type: models.DataSourceLoki}}
	start, end := window()
	// No scenario log mentions this term, so the substitute is empty too.
	ctxData, err := c.Collect(context.Background(), models.Intent{Keywords: []string{"zorbofrume"}}, sources, start, end, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(ctxData.Logs) != 0 {
		t.Fatalf("expected no logs, got %d", len(ctxData.Logs))
	}
	if got := ctxData.Status["ds_9"]; got != "no data found" {
		t.Fatalf("unexpected status: %s", got)
	}
	if got := ctxData.Status["summary"]; got != "no data found" {
		t.Fatalf("unexpected summary: %s", got)
	}
}

func TestCollectCancelled(t *testing.T) {
	c := testCoordinator(map[string]connectors.Connector{
		"a": &fakeLogConnector{logs: []models.LogEntry{{Message: "x"}}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sources := []models.DataSource{{ID: 1, Name: "a", Type: models.DataSourceLoki}}
	start, end := window()
	if _, err := c.Collect(ctx, models.Intent{}, sources, start, end, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
