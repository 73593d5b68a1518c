package models

import (
	"fmt"
	"time"
)

// DataSourceType identifies a telemetry backend protocol. The set is closed;
// the connector factory rejects anything else.
type DataSourceType string

const (
	DataSourceElasticsearch DataSourceType = "elasticsearch"
	DataSourceLoki          DataSourceType = "loki"
	DataSourcePrometheus    DataSourceType = "prometheus"
)

// Valid reports whether the type is a member of the closed enumeration.
func (t DataSourceType) Valid() bool {
	switch t {
	case DataSourceElasticsearch, DataSourceLoki, DataSourcePrometheus:
		return true
	}
	return false
}

// ElasticsearchOptions configures index selection and result sizing.
type ElasticsearchOptions struct {
	Protocol string `json:"protocol,omitempty"`
	Index    string `json:"index,omitempty"`
	Size     int    `json:"size,omitempty"`
}

// LokiOptions configures label selection for LogQL queries.
type LokiOptions struct {
	Protocol string            `json:"protocol,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
	Limit    int               `json:"limit,omitempty"`
}

// PrometheusOptions configures range-query resolution.
type PrometheusOptions struct {
	Protocol string `json:"protocol,omitempty"`
	Step     string `json:"step,omitempty"`
}

// ConnectorOptions is the per-type configuration of one data source. Only the
// member matching the data source type is consulted; the others stay nil.
type ConnectorOptions struct {
	Elasticsearch *ElasticsearchOptions `json:"elasticsearch,omitempty"`
	Loki          *LokiOptions          `json:"loki,omitempty"`
	Prometheus    *PrometheusOptions    `json:"prometheus,omitempty"`
}

// DataSource is one configured telemetry backend.
type DataSource struct {
	ID        int64            `json:"id" db:"id"`
	Name      string           `json:"name" db:"name"`
	Type      DataSourceType   `json:"type" db:"type"`
	Host      string           `json:"host" db:"host"`
	Port      int              `json:"port" db:"port"`
	AuthToken string           `json:"auth_token,omitempty" db:"auth_token"`
	Options   ConnectorOptions `json:"options"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
}

// Validate checks the configuration at creation time so malformed sources
// never reach the connector factory.
func (d DataSource) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("datasource name is required")
	}
	if !d.Type.Valid() {
		return fmt.Errorf("unknown datasource type %q", d.Type)
	}
	if d.Host == "" {
		return fmt.Errorf("datasource host is required")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("datasource port %d out of range", d.Port)
	}
	switch d.Type {
	case DataSourceElasticsearch:
		o := d.Options.Elasticsearch
		if o == nil || o.Index == "" {
			return fmt.Errorf("elasticsearch index is required")
		}
		if o.Size < 0 {
			return fmt.Errorf("elasticsearch size must be non-negative")
		}
	case DataSourceLoki:
		if o := d.Options.Loki; o != nil && o.Limit < 0 {
			return fmt.Errorf("loki limit must be non-negative")
		}
	case DataSourcePrometheus:
		if o := d.Options.Prometheus; o != nil && o.Step != "" {
			if _, err := time.ParseDuration(o.Step); err != nil {
				return fmt.Errorf("prometheus step %q: %w", o.Step, err)
			}
		}
	}
	return nil
}

// ConnectionHealth is the outcome of a connectivity probe.
type ConnectionHealth struct {
	OK        bool    `json:"success"`
	Message   string  `json:"message"`
	LatencyMs float64 `json:"latency_ms"`
}
