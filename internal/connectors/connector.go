// Package connectors holds the HTTP clients for the telemetry backends
// an analysis can pull from. Each connector validates its datasource
// options at construction and exposes a health probe alongside its
// query surface.
package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/alertscope/alertscope/internal/models"
	"github.com/alertscope/alertscope/internal/utils"
)

// Connector is the common surface every backend client implements.
type Connector interface {
	// Type reports the backend kind the connector speaks to.
	Type() models.DataSourceType
	// TestConnection probes the backend and reports reachability. A
	// transport or protocol failure is returned as an error; an
	// unhealthy but reachable backend is reported in the health value.
	TestConnection(ctx context.Context) (models.ConnectionHealth, error)
}

// LogConnector retrieves log entries matching a free-text query.
type LogConnector interface {
	Connector
	QueryLogs(ctx context.Context, query string, start, end time.Time) ([]models.LogEntry, error)
}

// MetricConnector retrieves metric series relevant to a free-text query.
type MetricConnector interface {
	Connector
	QueryMetrics(ctx context.Context, query string, start, end time.Time) ([]models.MetricSeries, error)
}

// Options carries the shared client settings. Zero timeouts fall back
// to conservative defaults.
type Options struct {
	HealthTimeout time.Duration
	QueryTimeout  time.Duration
}

func (o Options) healthTimeout() time.Duration {
	if o.HealthTimeout > 0 {
		return o.HealthTimeout
	}
	return 10 * time.Second
}

func (o Options) queryTimeout() time.Duration {
	if o.QueryTimeout > 0 {
		return o.QueryTimeout
	}
	return 30 * time.Second
}

// New builds the connector for a datasource. The datasource must have
// passed Validate; New still rejects unknown types.
func New(ds models.DataSource, opts Options) (Connector, error) {
	switch ds.Type {
	case models.DataSourceElasticsearch:
		return newElasticsearch(ds, opts)
	case models.DataSourceLoki:
		return newLoki(ds, opts)
	case models.DataSourcePrometheus:
		return newPrometheus(ds, opts)
	default:
		return nil, utils.NewAppError("connectors.new", fmt.Sprintf("unsupported datasource type %q", ds.Type), nil)
	}
}

func baseURL(protocol, host string, port int) string {
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s:%d", protocol, host, port)
}

func resolvePath(base, p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(base)
	if err != nil {
		return base + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func authorize(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
