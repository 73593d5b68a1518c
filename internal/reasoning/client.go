// Package reasoning turns collected telemetry into a root cause
// verdict by prompting an OpenAI-compatible chat completion API. The
// client degrades instead of failing: any oracle fault maps to a low
// confidence verdict so the pipeline always completes with an answer.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/alertscope/alertscope/internal/config"
	"github.com/alertscope/alertscope/internal/metrics"
	"github.com/alertscope/alertscope/internal/models"
	"github.com/alertscope/alertscope/internal/utils"
)

const (
	maxPromptLogs    = 50
	maxPromptMetrics = 20
	recentValues     = 5
	maxRawExcerpt    = 500

	systemPrompt = `You are a senior site reliability engineer performing root cause analysis on a production incident. You are given the alert, extracted context, recent logs and metric trends. Respond with a single JSON object and nothing else, using exactly these fields:
{
  "root_cause": "what went wrong and why",
  "evidence": "the log lines and metric trends that support the conclusion",
  "category": "one of: code_issue, config_issue, resource_bottleneck, dependency_failure",
  "temporary_solution": "the fastest safe mitigation",
  "permanent_solution": "the durable fix",
  "confidence": 0.0
}
confidence is your own estimate between 0 and 1.`
)

// Client calls the configured completion endpoint.
type Client struct {
	cfg        config.ReasoningConfig
	logger     *slog.Logger
	httpClient *http.Client
}

func NewClient(cfg config.ReasoningConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Analyze produces the initial verdict for an alert. Oracle faults are
// absorbed into fallback verdicts; the returned error is non-nil only
// when the context is cancelled.
func (c *Client) Analyze(ctx context.Context, alert string, intent models.Intent, data *models.ContextData) (models.Verdict, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert:\n%s\n\n", alert)
	fmt.Fprintf(&b, "Alert type: %s\n", intent.AlertType)
	if intent.AffectedSystem != "" {
		fmt.Fprintf(&b, "Affected system: %s\n", intent.AffectedSystem)
	}
	if len(intent.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(intent.Keywords, ", "))
	}
	b.WriteString("\n")
	writeTelemetry(&b, data)
	b.WriteString("\nIdentify the root cause.")

	return c.complete(ctx, b.String())
}

// FollowUp answers a question about a finished analysis, reusing the
// stored telemetry and a compressed summary of the earlier verdict.
func (c *Client) FollowUp(ctx context.Context, prior *models.Verdict, question string, data *models.ContextData) (models.Verdict, error) {
	var b strings.Builder
	b.WriteString("An earlier analysis of this incident concluded:\n")
	if prior != nil {
		fmt.Fprintf(&b, "Root cause: %s\n", prior.RootCause)
		fmt.Fprintf(&b, "Evidence: %s\n", prior.Evidence)
		fmt.Fprintf(&b, "Category: %s\n", prior.Category)
	} else {
		b.WriteString("(no verdict was produced)\n")
	}
	b.WriteString("\n")
	writeTelemetry(&b, data)
	fmt.Fprintf(&b, "\nThe operator asks: %s\nAnswer in the same JSON shape, revising the verdict if the question changes your conclusion.", question)

	return c.complete(ctx, b.String())
}

func writeTelemetry(b *strings.Builder, data *models.ContextData) {
	if data == nil {
		b.WriteString("No telemetry was collected.\n")
		return
	}
	b.WriteString("Recent logs (newest first):\n")
	b.WriteString(formatLogs(data.Logs))
	b.WriteString("\nMetric trends:\n")
	b.WriteString(formatMetrics(data.Metrics))
}

// formatLogs renders up to maxPromptLogs entries newest first.
func formatLogs(logs []models.LogEntry) string {
	if len(logs) == 0 {
		return "(none)\n"
	}
	n := len(logs)
	if n > maxPromptLogs {
		n = maxPromptLogs
	}
	var b strings.Builder
	for _, e := range logs[:n] {
		fmt.Fprintf(&b, "[%s] [%s] %s\n", e.Timestamp.Format(time.RFC3339), e.Level, e.Message)
	}
	return b.String()
}

// formatMetrics summarizes up to maxPromptMetrics series with their
// most recent samples and simple aggregates.
func formatMetrics(series []models.MetricSeries) string {
	if len(series) == 0 {
		return "(none)\n"
	}
	n := len(series)
	if n > maxPromptMetrics {
		n = maxPromptMetrics
	}
	var b strings.Builder
	for _, s := range series[:n] {
		points := s.Points
		if len(points) == 0 {
			fmt.Fprintf(&b, "%s%s: no samples\n", s.Name, labelString(s.Labels))
			continue
		}
		sum, max, min := 0.0, points[0].Value, points[0].Value
		for _, p := range points {
			sum += p.Value
			if p.Value > max {
				max = p.Value
			}
			if p.Value < min {
				min = p.Value
			}
		}
		recent := points
		if len(recent) > recentValues {
			recent = recent[len(recent)-recentValues:]
		}
		vals := make([]string, 0, len(recent))
		for _, p := range recent {
			vals = append(vals, fmt.Sprintf("%.2f", p.Value))
		}
		fmt.Fprintf(&b, "%s%s: recent [%s], avg %.2f, max %.2f, min %.2f\n",
			s.Name, labelString(s.Labels), strings.Join(vals, ", "), sum/float64(len(points)), max, min)
	}
	return b.String()
}

func labelString(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, userPrompt string) (models.Verdict, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		metrics.ObserveReasoningRequest(metrics.OutcomeError)
		return models.Verdict{
			RootCause:  "analysis unavailable: no reasoning API key is configured",
			Evidence:   "the reasoning backend was never contacted",
			Category:   models.CategoryConfigIssue,
			Confidence: 0,
		}, nil
	}

	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("marshal completion request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return models.Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.Verdict{}, ctx.Err()
		}
		c.logger.Warn("reasoning request failed", slog.String("error", err.Error()))
		metrics.ObserveReasoningRequest(metrics.OutcomeError)
		return transportFallback(err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("reasoning backend rejected request", slog.String("status", resp.Status))
		metrics.ObserveReasoningRequest(metrics.OutcomeError)
		return transportFallback(fmt.Errorf("reasoning backend returned %s", resp.Status)), nil
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.ObserveReasoningRequest(metrics.OutcomeError)
		return transportFallback(fmt.Errorf("decode completion response: %w", err)), nil
	}
	if len(parsed.Choices) == 0 {
		metrics.ObserveReasoningRequest(metrics.OutcomeError)
		return transportFallback(fmt.Errorf("completion response had no choices")), nil
	}

	metrics.ObserveReasoningRequest(metrics.OutcomeSuccess)
	return parseVerdict(parsed.Choices[0].Message.Content), nil
}

func transportFallback(err error) models.Verdict {
	return models.Verdict{
		RootCause:  "analysis unavailable: the reasoning backend could not be reached",
		Evidence:   err.Error(),
		Category:   models.CategoryCodeIssue,
		Confidence: 0,
	}
}

// parseVerdict decodes the model output, tolerating markdown code
// fences. Output that is not valid JSON becomes a low confidence
// verdict carrying the raw excerpt.
func parseVerdict(raw string) models.Verdict {
	cleaned := stripFences(raw)

	var v models.Verdict
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil || v.RootCause == "" {
		return models.Verdict{
			RootCause:  utils.Truncate(strings.TrimSpace(raw), maxRawExcerpt),
			Evidence:   "the model response was not valid JSON",
			Category:   models.CategoryCodeIssue,
			Confidence: 0.3,
		}
	}
	if !validCategory(v.Category) {
		v.Category = models.CategoryCodeIssue
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	return v
}

func validCategory(c string) bool {
	switch c {
	case models.CategoryCodeIssue, models.CategoryConfigIssue,
		models.CategoryResourceBottleneck, models.CategoryDependencyFailure:
		return true
	}
	return false
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
