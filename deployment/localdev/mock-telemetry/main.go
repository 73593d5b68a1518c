// Command mock-telemetry serves canned Prometheus, Loki, Elasticsearch and
// chat-completion responses on a single port, so the full analysis pipeline
// can be exercised locally without real backends. Point all three datasource
// types and the reasoning base URL at this address.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

func main() {
	mux := http.NewServeMux()

	// Prometheus surface.
	mux.HandleFunc("/-/healthy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Prometheus Server is Healthy.\n"))
	})
	mux.HandleFunc("/api/v1/query_range", func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Unix()
		values := make([][2]any, 0, 6)
		for i := 5; i >= 0; i-- {
			values = append(values, [2]any{now - int64(i)*60, fmt.Sprintf("%.2f", 0.45+0.09*float64(5-i))})
		}
		writeJSON(w, map[string]any{
			"status": "success",
			"data": map[string]any{
				"resultType": "matrix",
				"result": []map[string]any{
					{
						"metric": map[string]string{"__name__": "node_cpu_seconds_total", "instance": "node-1", "mode": "user"},
						"values": values,
					},
				},
			},
		})
	})

	// Loki surface.
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})
	mux.HandleFunc("/loki/api/v1/query_range", func(w http.ResponseWriter, _ *http.Request) {
		base := time.Now().Add(-3 * time.Minute)
		writeJSON(w, map[string]any{
			"status": "success",
			"data": map[string]any{
				"resultType": "streams",
				"result": []map[string]any{
					{
						"stream": map[string]string{"job": "order-service"},
						"values": [][2]string{
							{fmt.Sprint(base.UnixNano()), "error: request to payment-service timed out after 30s"},
							{fmt.Sprint(base.Add(time.Minute).UnixNano()), "warn: retry budget exhausted for /v1/charge"},
						},
					},
				},
			},
		})
	})

	// Chat completions surface for the reasoning client.
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		verdict := map[string]any{
			"root_cause":         "order-service exhausts its outbound connection pool when payment-service latency spikes",
			"evidence":           "repeated 30s timeouts to payment-service coincide with CPU climbing from 45% to 90%",
			"category":           "dependency_failure",
			"temporary_solution": "restart order-service and raise the outbound pool ceiling",
			"permanent_solution": "add a circuit breaker and tighten the payment client timeout",
			"confidence":         0.82,
		}
		content, _ := json.Marshal(verdict)
		writeJSON(w, map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": string(content)}},
			},
		})
	})

	// Elasticsearch surface. Search targets any index, so it is routed off
	// the catch-all by path suffix.
	mux.HandleFunc("/_cluster/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"status": "green", "number_of_nodes": 1})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/_search") {
			http.NotFound(w, r)
			return
		}
		stamp := time.Now().Add(-2 * time.Minute).UTC().Format(time.RFC3339)
		writeJSON(w, map[string]any{
			"hits": map[string]any{
				"hits": []map[string]any{
					{
						"_source": map[string]any{
							"@timestamp": stamp,
							"level":      "ERROR",
							"message":    "connection pool exhausted, dropping request",
							"service":    "order-service",
						},
					},
				},
			},
		})
	})

	logger := log.New(log.Writer(), "mock-telemetry ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
