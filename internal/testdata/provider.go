// Package testdata provides synthetic telemetry used when no live
// datasource can serve an analysis. The corpus covers a fixed set of
// incident scenarios (CPU saturation, memory exhaustion, pool
// exhaustion, consumer lag, network partitions, full disks) so the
// reasoning stage always has something plausible to work with.
package testdata

import (
	"sort"
	"strings"
	"time"

	"github.com/alertscope/alertscope/internal/models"
)

// Provider serves canned logs and metrics. The zero value is not
// usable; construct with NewProvider.
type Provider struct {
	now func() time.Time
}

// NewProvider returns a Provider anchored at the wall clock.
func NewProvider() *Provider {
	return &Provider{now: time.Now}
}

// NewProviderAt returns a Provider whose corpus timestamps are offsets
// from the given clock. Used by tests that need stable output.
func NewProviderAt(now func() time.Time) *Provider {
	return &Provider{now: now}
}

type scenarioLog struct {
	source    string
	level     string
	offsetMin int
	message   string
}

// Offsets are minutes before now; each scenario reads newest-last so
// the rendered timeline tells a coherent story.
var scenarioLogs = []scenarioLog{
	// order-service CPU saturation.
	{"order-service", "WARN", 92, "CPU usage climbing on order-service, now at 78% across all cores"},
	{"order-service", "WARN", 88, "request queue depth 1800, worker threads saturated"},
	{"order-service", "ERROR", 84, "CPU usage at 95%, request processing latency p99 exceeded 5s"},
	{"order-service", "ERROR", 80, "full GC triggered under load, pause 2.5s, heap pressure high"},
	{"api-gateway", "WARN", 78, "upstream order-service responding slowly, timeouts increasing"},
	{"order-service", "INFO", 66, "autoscaler added 2 replicas, CPU usage falling to 70%"},
	{"order-service", "INFO", 50, "CPU usage back to 45%, latency recovered"},

	// payment-service heap exhaustion.
	{"payment-service", "WARN", 95, "heap usage at 85% of 3GB limit, old generation growing"},
	{"payment-service", "WARN", 90, "full GC pause 8.5s, throughput degraded"},
	{"payment-service", "ERROR", 86, "java.lang.OutOfMemoryError: Java heap space"},
	{"payment-service", "ERROR", 84, "payment processing failed, transaction rolled back"},
	{"api-gateway", "ERROR", 83, "payment-service returned 500 for POST /api/payments"},
	{"payment-service", "INFO", 72, "instance restarted, heap usage 30%"},
	{"payment-service", "INFO", 60, "payment processing resumed, backlog draining"},

	// user-service connection pool exhaustion.
	{"user-service", "WARN", 70, "database connection pool at 90/100, acquisition latency rising"},
	{"user-service", "ERROR", 62, "connection pool exhausted, timeout waiting for connection after 30000ms"},
	{"user-service", "ERROR", 58, "slow query detected: select on user_orders took 3.5s, holding connection"},
	{"user-service", "WARN", 52, "25 requests queued waiting for a database connection"},
	{"user-service", "INFO", 35, "connection pool recovered, active connections 40/100"},

	// inventory-service consumer lag.
	{"inventory-service", "INFO", 80, "kafka consumer group inventory-consumer started, assigned partitions [0,1,2]"},
	{"inventory-service", "WARN", 75, "kafka consumer lag increasing, currently 15000 messages"},
	{"inventory-service", "WARN", 70, "message processing rate dropped to 500 tps, target is 2000 tps"},
	{"inventory-service", "ERROR", 65, "kafka consumer lag at 50000 messages, above alert threshold"},
	{"inventory-service", "ERROR", 60, "inventory updates delayed, stock deduction out of sync with orders"},
	{"order-service", "WARN", 58, "inventory check timed out, falling back to cached stock levels"},
	{"inventory-service", "INFO", 55, "scaled consumers to 5 instances, rebalancing partitions"},
	{"inventory-service", "INFO", 30, "kafka consumer lag back to normal, 200 messages"},

	// network timeouts between api-gateway and payment-service.
	{"api-gateway", "WARN", 90, "network latency to payment-service increasing, RTT 500ms"},
	{"api-gateway", "ERROR", 85, "connection to payment-service timed out: connect timed out after 10000ms"},
	{"api-gateway", "ERROR", 82, "java.net.SocketTimeoutException: Read timed out"},
	{"payment-service", "ERROR", 80, "cannot reach redis cluster at redis-cluster.internal:6379"},
	{"payment-service", "ERROR", 78, "redis connection pool has no available connections, request rejected"},
	{"api-gateway", "WARN", 75, "circuit breaker open, payment-service requests degraded"},
	{"api-gateway", "INFO", 70, "network recovered, RTT down to 50ms"},
	{"api-gateway", "INFO", 65, "circuit breaker half open, probing payment-service"},
	{"api-gateway", "INFO", 60, "circuit breaker closed, payment-service fully recovered"},

	// log-collector disk exhaustion.
	{"log-collector", "WARN", 100, "disk usage at 70% on /data, 30GB free"},
	{"log-collector", "WARN", 95, "disk usage at 80%, accelerating log rotation"},
	{"log-collector", "ERROR", 88, "disk usage at 95%, read-only mode imminent"},
	{"order-service", "ERROR", 85, "cannot write log file: no space left on device"},
	{"mysql", "ERROR", 83, "disk full, binlog write failed, replication halted"},
	{"log-collector", "INFO", 75, "purged historical logs, reclaimed 20GB"},
	{"log-collector", "INFO", 70, "disk usage down to 65%, service healthy"},

	// Background noise.
	{"api-gateway", "INFO", 12, "health check passed, all upstreams healthy"},
	{"user-service", "INFO", 25, "user login succeeded: user_id=12345"},
	{"order-service", "INFO", 40, "order created: ORD-20260208-67890"},
	{"payment-service", "INFO", 47, "payment completed: PAY-20260208-11111"},
	{"inventory-service", "INFO", 18, "stock updated: SKU-001, on hand 150"},
	{"api-gateway", "DEBUG", 8, "request completed: GET /api/users/12345 in 45ms"},
	{"user-service", "DEBUG", 5, "cache hit: user:12345, TTL remaining 3500s"},
}

// Logs returns scenario log entries newest first. A non-empty query is
// split into whitespace-separated terms; an entry matches if any term
// appears in its message or source, case insensitive. An empty query
// matches everything.
func (p *Provider) Logs(query string, limit int) []models.LogEntry {
	now := p.now()
	terms := strings.Fields(strings.ToLower(query))

	out := make([]models.LogEntry, 0, len(scenarioLogs))
	for _, sl := range scenarioLogs {
		if !matches(sl, terms) {
			continue
		}
		out = append(out, models.LogEntry{
			Timestamp: now.Add(-time.Duration(sl.offsetMin) * time.Minute),
			Level:     sl.level,
			Message:   "[" + sl.source + "] " + sl.message,
			Source:    sl.source,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matches(sl scenarioLog, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	msg := strings.ToLower(sl.message)
	for _, t := range terms {
		if strings.Contains(msg, t) || strings.Contains(sl.source, t) {
			return true
		}
	}
	return false
}

type scenarioMetric struct {
	name   string
	labels map[string]string
	peak   float64
	base   float64
}

var scenarioMetrics = []scenarioMetric{
	{"cpu_usage_percent", map[string]string{"service": "order-service", "instance": "order-1"}, 92.5, 40},
	{"cpu_usage_percent", map[string]string{"service": "order-service", "instance": "order-2"}, 88.3, 38},
	{"cpu_usage_percent", map[string]string{"service": "api-gateway", "instance": "gw-1"}, 45.2, 35},
	{"memory_usage_percent", map[string]string{"service": "payment-service"}, 95.0, 55},
	{"memory_usage_percent", map[string]string{"service": "order-service"}, 60.0, 50},
	{"gc_pause_seconds", map[string]string{"service": "payment-service", "gc_type": "full"}, 8.5, 0.2},
	{"db_connections_active", map[string]string{"service": "user-service", "pool": "primary"}, 100, 40},
	{"db_connections_pending", map[string]string{"service": "user-service", "pool": "primary"}, 25, 0},
	{"db_query_duration_seconds", map[string]string{"service": "user-service", "query": "user_orders"}, 3.5, 0.1},
	{"kafka_consumer_lag", map[string]string{"service": "inventory-service", "topic": "inventory-events"}, 50000, 200},
	{"kafka_messages_consumed_rate", map[string]string{"service": "inventory-service", "topic": "inventory-events"}, 500, 2000},
	{"http_request_duration_seconds", map[string]string{"service": "api-gateway", "target": "payment-service"}, 10.5, 0.2},
	{"network_rtt_seconds", map[string]string{"source": "api-gateway", "target": "payment-service"}, 0.5, 0.05},
	{"redis_connection_errors_total", map[string]string{"service": "payment-service", "cluster": "redis-cluster"}, 150, 0},
	{"disk_usage_percent", map[string]string{"host": "log-server-1", "mount": "/data"}, 95.0, 65},
	{"http_error_rate", map[string]string{"service": "payment-service"}, 0.15, 0.01},
	{"http_error_rate", map[string]string{"service": "order-service"}, 0.02, 0.01},
	{"up", map[string]string{"service": "payment-service"}, 0, 1},
}

// Metrics returns synthetic series. Each series ramps from its baseline
// toward a scenario peak over the last 30 minutes, sampled every 5
// minutes, so trend summaries show a visible excursion.
func (p *Provider) Metrics(limit int) []models.MetricSeries {
	now := p.now()

	n := len(scenarioMetrics)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.MetricSeries, 0, n)
	for _, sm := range scenarioMetrics[:n] {
		const samples = 7
		points := make([]models.MetricPoint, 0, samples)
		for i := 0; i < samples; i++ {
			// Linear ramp from base to peak, newest point at the peak.
			frac := float64(i) / float64(samples-1)
			points = append(points, models.MetricPoint{
				Timestamp: now.Add(-time.Duration(samples-1-i) * 5 * time.Minute),
				Value:     sm.base + (sm.peak-sm.base)*frac,
			})
		}
		out = append(out, models.MetricSeries{
			Name:   sm.name,
			Labels: sm.labels,
			Points: points,
		})
	}
	return out
}
