package connectors

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alertscope/alertscope/internal/models"
)

func promDS() models.DataSource {
	return models.DataSource{
		Name: "prod-prom",
		Type: models.DataSourcePrometheus,
		Host: "prom.internal",
		Port: 9090,
		Options: models.ConnectorOptions{
			Prometheus: &models.PrometheusOptions{Step: "30s"},
		},
	}
}

func TestPromQLForKeywordFamilies(t *testing.T) {
	cases := []struct {
		query string
		want  []string
	}{
		{"cpu saturation on order-service", []string{`rate(node_cpu_seconds_total{mode!="idle"}[5m])`}},
		{"memory pressure", []string{`node_memory_MemAvailable_bytes`}},
		{"disk nearly full", []string{`node_filesystem_avail_bytes`}},
		{"network partition", []string{`rate(node_network_receive_bytes_total[5m])`}},
		{"something unrelated", []string{"up"}},
		{"cpu and memory", []string{
			`rate(node_cpu_seconds_total{mode!="idle"}[5m])`,
			`node_memory_MemAvailable_bytes`,
		}},
	}
	for _, tc := range cases {
		got := promQLFor(tc.query)
		if len(got) != len(tc.want) {
			t.Fatalf("%q: got %v, want %v", tc.query, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%q: got %v, want %v", tc.query, got, tc.want)
			}
		}
	}
}

func TestPrometheusQueryMetrics(t *testing.T) {
	conn, err := newPrometheus(promDS(), Options{})
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}

	conn.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/v1/query_range" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		q := req.URL.Query()
		if q.Get("query") != "up" {
			t.Fatalf("unexpected query: %s", q.Get("query"))
		}
		if q.Get("step") != "30" {
			t.Fatalf("unexpected step: %s", q.Get("step"))
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"status": "success",
			"data": map[string]any{
				"resultType": "matrix",
				"result": []map[string]any{
					{
						"metric": map[string]string{"__name__": "up", "job": "node", "instance": "a:9100"},
						"values": []any{
							[]any{1700000000.0, "1"},
							[]any{1700000030.0, "0"},
						},
					},
				},
			},
		}), nil
	})

	start := time.Unix(1_700_000_000, 0)
	series, err := conn.QueryMetrics(context.Background(), "nothing in particular", start, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(series) != 1 {
		t.Fatalf("expected one series, got %d", len(series))
	}
	s := series[0]
	if s.Name != "up" {
		t.Fatalf("unexpected name: %s", s.Name)
	}
	if _, ok := s.Labels["__name__"]; ok {
		t.Fatal("__name__ should be stripped from labels")
	}
	if len(s.Points) != 2 || s.Points[0].Value != 1 || s.Points[1].Value != 0 {
		t.Fatalf("unexpected points: %+v", s.Points)
	}
	if !s.Points[0].Timestamp.Equal(start) {
		t.Fatalf("unexpected timestamp: %v", s.Points[0].Timestamp)
	}
}

func TestPrometheusKeepsSeriesWhenOneFamilyFails(t *testing.T) {
	conn, err := newPrometheus(promDS(), Options{})
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}

	conn.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		expr := req.URL.Query().Get("query")
		if strings.Contains(expr, "node_memory") {
			return jsonResponse(t, http.StatusInternalServerError, map[string]any{"status": "error"}), nil
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"status": "success",
			"data": map[string]any{
				"resultType": "matrix",
				"result": []map[string]any{
					{
						"metric": map[string]string{"__name__": "node_cpu_seconds_total"},
						"values": []any{[]any{1700000000.0, "0.4"}},
					},
				},
			},
		}), nil
	})

	series, err := conn.QueryMetrics(context.Background(), "cpu and memory", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(series) != 1 || series[0].Name != "node_cpu_seconds_total" {
		t.Fatalf("expected the surviving cpu series, got %+v", series)
	}
}

func TestPrometheusQueryStatusError(t *testing.T) {
	conn, err := newPrometheus(promDS(), Options{})
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	conn.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusOK, map[string]any{"status": "error"}), nil
	})

	if _, err := conn.QueryMetrics(context.Background(), "cpu", time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatal("expected error for non-success status")
	}
}

func TestPrometheusTestConnection(t *testing.T) {
	conn, err := newPrometheus(promDS(), Options{})
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	conn.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/-/healthy" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		return jsonResponse(t, http.StatusOK, "ok"), nil
	})

	health, err := conn.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("test connection: %v", err)
	}
	if !health.OK {
		t.Fatalf("expected healthy, got %+v", health)
	}
}
