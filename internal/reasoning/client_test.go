package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alertscope/alertscope/internal/config"
	"github.com/alertscope/alertscope/internal/models"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func testClient(rt roundTripFunc) *Client {
	c := NewClient(config.ReasoningConfig{
		BaseURL:     "https://llm.internal/v1",
		APIKey:      "test-key",
		Model:       "gpt-4o",
		Temperature: 0.3,
		MaxTokens:   2000,
		Timeout:     time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.httpClient = &http.Client{Transport: rt}
	return c
}

func completionResponse(t *testing.T, content string) *http.Response {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func TestAnalyzeParsesVerdict(t *testing.T) {
	verdict := `{"root_cause":"heap exhaustion","evidence":"OOM in logs","category":"resource_bottleneck","temporary_solution":"restart","permanent_solution":"raise heap","confidence":0.9}`

	c := testClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		var payload chatRequest
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(payload.Messages) != 2 || payload.Messages[0].Role != "system" {
			t.Fatalf("unexpected messages: %+v", payload.Messages)
		}
		if !strings.Contains(payload.Messages[1].Content, "memory climbing") {
			t.Fatal("alert content missing from prompt")
		}
		return completionResponse(t, verdict), nil
	})

	got, err := c.Analyze(context.Background(), "memory climbing on payment-service",
		models.Intent{AlertType: models.AlertTypePerformance}, models.NewContextData())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.RootCause != "heap exhaustion" || got.Category != models.CategoryResourceBottleneck {
		t.Fatalf("unexpected verdict: %+v", got)
	}
	if got.Confidence != 0.9 {
		t.Fatalf("unexpected confidence: %f", got.Confidence)
	}
}

func TestAnalyzeStripsCodeFences(t *testing.T) {
	fenced := "```json\n{\"root_cause\":\"bad deploy\",\"evidence\":\"e\",\"category\":\"code_issue\",\"confidence\":0.7}\n```"
	c := testClient(func(req *http.Request) (*http.Response, error) {
		return completionResponse(t, fenced), nil
	})

	got, err := c.Analyze(context.Background(), "alert", models.Intent{}, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.RootCause != "bad deploy" {
		t.Fatalf("fences not stripped: %+v", got)
	}
}

func TestAnalyzeMalformedResponse(t *testing.T) {
	c := testClient(func(req *http.Request) (*http.Response, error) {
		return completionResponse(t, "I think the root cause is a full disk."), nil
	})

	got, err := c.Analyze(context.Background(), "alert", models.Intent{}, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(got.RootCause, "full disk") {
		t.Fatalf("raw excerpt missing: %+v", got)
	}
	if got.Confidence != 0.3 || got.Category != models.CategoryCodeIssue {
		t.Fatalf("unexpected fallback shape: %+v", got)
	}
}

func TestAnalyzeTransportError(t *testing.T) {
	c := testClient(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	got, err := c.Analyze(context.Background(), "alert", models.Intent{}, nil)
	if err != nil {
		t.Fatalf("transport faults should not surface as errors, got %v", err)
	}
	if got.Confidence != 0 || got.Category != models.CategoryCodeIssue {
		t.Fatalf("unexpected fallback: %+v", got)
	}
}

func TestAnalyzeMissingAPIKey(t *testing.T) {
	c := NewClient(config.ReasoningConfig{BaseURL: "https://llm.internal/v1"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	got, err := c.Analyze(context.Background(), "alert", models.Intent{}, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.Category != models.CategoryConfigIssue || got.Confidence != 0 {
		t.Fatalf("unexpected verdict: %+v", got)
	}
}

func TestAnalyzeCancelledContext(t *testing.T) {
	c := testClient(func(req *http.Request) (*http.Response, error) {
		return nil, context.Canceled
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Analyze(ctx, "alert", models.Intent{}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFollowUpIncludesPriorVerdict(t *testing.T) {
	verdict := `{"root_cause":"same as before","evidence":"e","category":"config_issue","confidence":0.8}`
	c := testClient(func(req *http.Request) (*http.Response, error) {
		var payload chatRequest
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		prompt := payload.Messages[1].Content
		if !strings.Contains(prompt, "stale config push") {
			t.Fatal("prior verdict missing from prompt")
		}
		if !strings.Contains(prompt, "was it the deploy?") {
			t.Fatal("operator question missing from prompt")
		}
		return completionResponse(t, verdict), nil
	})

	prior := &models.Verdict{RootCause: "stale config push", Evidence: "e", Category: models.CategoryConfigIssue}
	got, err := c.FollowUp(context.Background(), prior, "was it the deploy?", nil)
	if err != nil {
		t.Fatalf("follow up: %v", err)
	}
	if got.RootCause != "same as before" {
		t.Fatalf("unexpected verdict: %+v", got)
	}
}

func TestFormatLogsCapsAtFifty(t *testing.T) {
	logs := make([]models.LogEntry, 60)
	for i := range logs {
		logs[i] = models.LogEntry{Timestamp: time.Now(), Level: "INFO", Message: "line"}
	}
	out := formatLogs(logs)
	if got := strings.Count(out, "\n"); got != 50 {
		t.Fatalf("expected 50 lines, got %d", got)
	}
}

func TestFormatMetricsSummarizes(t *testing.T) {
	series := []models.MetricSeries{{
		Name:   "cpu_usage_percent",
		Labels: map[string]string{"service": "order-service"},
		Points: []models.MetricPoint{
			{Value: 10}, {Value: 20}, {Value: 30}, {Value: 40}, {Value: 50}, {Value: 90},
		},
	}}
	out := formatMetrics(series)
	if !strings.Contains(out, "avg 40.00") || !strings.Contains(out, "max 90.00") || !strings.Contains(out, "min 10.00") {
		t.Fatalf("aggregates missing: %s", out)
	}
	if strings.Contains(out, "[10.00") {
		t.Fatalf("recent window should hold the last five values: %s", out)
	}
}

func TestParseVerdictClampsConfidence(t *testing.T) {
	v := parseVerdict(`{"root_cause":"x","category":"code_issue","confidence":1.8}`)
	if v.Confidence != 1 {
		t.Fatalf("confidence not clamped: %f", v.Confidence)
	}
	v = parseVerdict(`{"root_cause":"x","category":"made_up","confidence":0.5}`)
	if v.Category != models.CategoryCodeIssue {
		t.Fatalf("unknown category not normalized: %s", v.Category)
	}
}
