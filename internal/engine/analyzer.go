// Package engine orchestrates the analysis pipeline: intent
// extraction, telemetry collection, and reasoning, with progress
// streamed to the caller and cooperative cancellation between stages.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alertscope/alertscope/internal/metrics"
	"github.com/alertscope/alertscope/internal/models"
	"github.com/alertscope/alertscope/internal/registry"
	"github.com/alertscope/alertscope/internal/utils"
)

// EventSink receives pipeline events in order, synchronously. Delivery
// failures are logged and do not stop the pipeline.
type EventSink func(models.StreamEvent) error

// SessionStore is the persistence surface the pipeline needs.
type SessionStore interface {
	SaveSession(ctx context.Context, s *models.Session) error
}

// Collector runs the data collection stage.
type Collector interface {
	Collect(ctx context.Context, intent models.Intent, sources []models.DataSource, start, end time.Time, progress func(int, string)) (*models.ContextData, error)
}

// Reasoner produces verdicts from collected telemetry.
type Reasoner interface {
	Analyze(ctx context.Context, alert string, intent models.Intent, data *models.ContextData) (models.Verdict, error)
	FollowUp(ctx context.Context, prior *models.Verdict, question string, data *models.ContextData) (models.Verdict, error)
}

// Analyzer owns pipeline execution for one process.
type Analyzer struct {
	store     SessionStore
	collector Collector
	reasoner  Reasoner
	registry  *registry.Registry
	logger    *slog.Logger
	latency   *utils.LatencyTracker

	defaultWindow time.Duration
	pacing        time.Duration
}

func NewAnalyzer(store SessionStore, collector Collector, reasoner Reasoner, reg *registry.Registry, logger *slog.Logger, defaultWindow, pacing time.Duration) *Analyzer {
	if defaultWindow <= 0 {
		defaultWindow = 30 * time.Minute
	}
	return &Analyzer{
		store:         store,
		collector:     collector,
		reasoner:      reasoner,
		registry:      reg,
		logger:        logger,
		latency:       utils.NewLatencyTracker(1024),
		defaultWindow: defaultWindow,
		pacing:        pacing,
	}
}

// LatencySnapshot reports pipeline latency percentiles for the health
// surface.
func (a *Analyzer) LatencySnapshot() (p50, p95 time.Duration, count int) {
	return a.latency.Percentile(50), a.latency.Percentile(95), a.latency.Count()
}

func (a *Analyzer) emit(sink EventSink, ev models.StreamEvent) {
	if sink == nil {
		return
	}
	if err := sink(ev); err != nil {
		a.logger.Warn("event delivery failed",
			slog.String("event", ev.Event),
			slog.String("error", err.Error()))
	}
	if a.pacing > 0 {
		time.Sleep(a.pacing)
	}
}

func (a *Analyzer) cancelled(ctx context.Context, sessionID int64) bool {
	return ctx.Err() != nil || a.registry.IsCancelled(sessionID)
}

// Run executes the full pipeline for a session. The session must be
// persisted already; Run owns its status transitions from here on.
// Cancellation between stages ends the run with a cancelled event; a
// persistence fault ends it with an error event. Run itself returns no
// error because every outcome is reported through the sink and the
// session record.
func (a *Analyzer) Run(ctx context.Context, session *models.Session, sources []models.DataSource, windowMinutes int, sink EventSink) {
	a.registry.Register(session.ID)
	defer a.registry.Unregister(session.ID)

	started := time.Now()
	window := a.defaultWindow
	if windowMinutes > 0 {
		window = time.Duration(windowMinutes) * time.Minute
	}

	// Stage 1: intent extraction.
	if !a.transition(ctx, session, models.StatusIntentUnderstanding, models.StageIntent, sink) {
		return
	}
	a.emit(sink, models.StreamEvent{Event: models.EventStageStart, Stage: models.StageIntent})

	intent := ExtractIntent(session.AlertContent)
	session.Intent = &intent
	if !a.note(ctx, session, sink, models.StageIntent, "Alert summary: "+intent.Summary) {
		return
	}
	if !a.note(ctx, session, sink, models.StageIntent, "Alert type: "+intent.AlertType) {
		return
	}
	if intent.AffectedSystem != "" {
		if !a.note(ctx, session, sink, models.StageIntent, "Affected system: "+intent.AffectedSystem) {
			return
		}
	}
	if len(intent.Keywords) > 0 {
		if !a.note(ctx, session, sink, models.StageIntent, "Keywords: "+strings.Join(intent.Keywords, ", ")) {
			return
		}
	}
	a.emit(sink, models.StreamEvent{
		Event:   models.EventStageComplete,
		Stage:   models.StageIntent,
		Content: fmt.Sprintf("classified as %s alert", intent.AlertType),
		Data: map[string]any{
			"alert_type":      intent.AlertType,
			"affected_system": intent.AffectedSystem,
			"keywords":        intent.Keywords,
		},
	})
	if a.cancelled(ctx, session.ID) {
		a.finishCancelled(session, sink, started)
		return
	}

	// Stage 2: data collection.
	if !a.transition(ctx, session, models.StatusDataCollection, models.StageCollection, sink) {
		return
	}
	a.emit(sink, models.StreamEvent{Event: models.EventStageStart, Stage: models.StageCollection})

	end := time.Now()
	start := end.Add(-window)
	a.logger.Debug("collecting telemetry",
		slog.Int64("session_id", session.ID),
		slog.Int("datasources", len(sources)),
		slog.Float64("window_minutes", utils.DurationMinutes(start, end)))
	data, err := a.collector.Collect(ctx, intent, sources, start, end, func(pct int, detail string) {
		a.emit(sink, models.StreamEvent{
			Event:    models.EventStageProgress,
			Stage:    models.StageCollection,
			Content:  detail,
			Progress: models.ProgressOf(pct),
		})
	})
	if err != nil || a.cancelled(ctx, session.ID) {
		a.finishCancelled(session, sink, started)
		return
	}
	session.Context = data
	if len(sources) == 0 {
		if !a.note(ctx, session, sink, models.StageCollection,
			fmt.Sprintf("no datasources configured, collected %d synthetic log entries and %d metric series", len(data.Logs), len(data.Metrics))) {
			return
		}
	}
	for _, ds := range sources {
		status := data.Status[fmt.Sprintf("ds_%d", ds.ID)]
		if !a.note(ctx, session, sink, models.StageCollection, fmt.Sprintf("from %s: %s", ds.Name, status)) {
			return
		}
	}
	a.emit(sink, models.StreamEvent{
		Event:   models.EventStageComplete,
		Stage:   models.StageCollection,
		Content: fmt.Sprintf("collected %d log entries and %d metric series", len(data.Logs), len(data.Metrics)),
		Data:    map[string]any{"collection_status": data.Status},
	})

	// Stage 3: reasoning.
	if !a.transition(ctx, session, models.StatusLLMAnalysis, models.StageReasoning, sink) {
		return
	}
	a.emit(sink, models.StreamEvent{Event: models.EventStageStart, Stage: models.StageReasoning})

	verdict, err := a.reasoner.Analyze(ctx, session.AlertContent, intent, data)
	if err != nil || a.cancelled(ctx, session.ID) {
		a.finishCancelled(session, sink, started)
		return
	}
	session.Result = &verdict
	session.AddMessage(models.RoleAssistant, renderVerdict(verdict), models.StageReasoning, map[string]any{
		"category":   verdict.Category,
		"confidence": verdict.Confidence,
	})
	// One message event per verdict field, paced for readability.
	for _, line := range verdictMessages(verdict) {
		a.emit(sink, models.StreamEvent{Event: models.EventMessage, Stage: models.StageReasoning, Content: line})
	}
	a.emit(sink, models.StreamEvent{Event: models.EventStageComplete, Stage: models.StageReasoning})

	// Terminal transition.
	session.Status = models.StatusCompleted
	session.CurrentStage = models.StageCompleted
	session.AddMessage(models.RoleAssistant, "analysis complete, ask a follow-up question to dig deeper", models.StageCompleted, nil)
	if err := a.store.SaveSession(ctx, session); err != nil {
		a.failed(ctx, session, sink, started, err)
		return
	}
	a.emit(sink, models.StreamEvent{Event: models.EventDone})

	elapsed := time.Since(started)
	a.latency.Observe(elapsed)
	metrics.ObserveAnalysis(elapsed, metrics.OutcomeSuccess)
	a.logger.Info("analysis completed",
		slog.Int64("session_id", session.ID),
		slog.String("alert_type", intent.AlertType),
		slog.Duration("elapsed", elapsed))
}

// Continue answers a follow-up question against a finished session,
// reusing the stored telemetry and verdict.
func (a *Analyzer) Continue(ctx context.Context, session *models.Session, question string, sink EventSink) {
	a.registry.Register(session.ID)
	defer a.registry.Unregister(session.ID)

	started := time.Now()
	session.AddMessage(models.RoleUser, question, models.StageFollowUp, nil)
	if err := a.store.SaveSession(ctx, session); err != nil {
		a.failed(ctx, session, sink, started, err)
		return
	}
	a.emit(sink, models.StreamEvent{Event: models.EventStageStart, Stage: models.StageFollowUp})

	verdict, err := a.reasoner.FollowUp(ctx, session.Result, question, session.Context)
	if err != nil || a.cancelled(ctx, session.ID) {
		a.finishCancelled(session, sink, started)
		return
	}

	session.Result = &verdict
	content := renderVerdict(verdict)
	session.AddMessage(models.RoleAssistant, content, models.StageFollowUp, nil)
	if err := a.store.SaveSession(ctx, session); err != nil {
		a.failed(ctx, session, sink, started, err)
		return
	}
	a.emit(sink, models.StreamEvent{Event: models.EventMessage, Stage: models.StageFollowUp, Content: content})
	a.emit(sink, models.StreamEvent{Event: models.EventDone})
}

// note records an assistant message for a sub-result and persists the
// session immediately, so readers polling the stored record see
// progress before the run finishes.
func (a *Analyzer) note(ctx context.Context, session *models.Session, sink EventSink, stage, content string) bool {
	session.AddMessage(models.RoleAssistant, content, stage, nil)
	if err := a.store.SaveSession(ctx, session); err != nil {
		a.failed(ctx, session, sink, time.Now(), err)
		return false
	}
	return true
}

// transition persists a stage change. A cancellation observed before
// the stage starts ends the run; a persistence fault ends it with an
// error event.
func (a *Analyzer) transition(ctx context.Context, session *models.Session, status models.Status, stage string, sink EventSink) bool {
	if a.cancelled(ctx, session.ID) {
		a.finishCancelled(session, sink, time.Now())
		return false
	}
	session.Status = status
	session.CurrentStage = stage
	if err := a.store.SaveSession(ctx, session); err != nil {
		a.failed(ctx, session, sink, time.Now(), err)
		return false
	}
	return true
}

func (a *Analyzer) finishCancelled(session *models.Session, sink EventSink, started time.Time) {
	session.Status = models.StatusCancelled
	session.AddMessage(models.RoleSystem, "analysis cancelled by operator", session.CurrentStage, nil)
	// Persist with a fresh context; the request context may be gone.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.SaveSession(saveCtx, session); err != nil {
		a.logger.Error("failed to persist cancelled session",
			slog.Int64("session_id", session.ID),
			slog.String("error", err.Error()))
	}
	a.emit(sink, models.StreamEvent{Event: models.EventCancelled})
	metrics.ObserveAnalysis(time.Since(started), metrics.OutcomeCancelled)
	a.logger.Info("analysis cancelled", slog.Int64("session_id", session.ID))
}

func (a *Analyzer) failed(ctx context.Context, session *models.Session, sink EventSink, started time.Time, cause error) {
	session.Status = models.StatusError
	session.CurrentStage = models.StageError
	session.AddMessage(models.RoleSystem, "analysis failed: "+cause.Error(), models.StageError, nil)
	if err := a.store.SaveSession(ctx, session); err != nil {
		a.logger.Error("failed to persist errored session",
			slog.Int64("session_id", session.ID),
			slog.String("error", err.Error()))
	}
	a.emit(sink, models.StreamEvent{Event: models.EventError, Content: cause.Error()})
	metrics.ObserveAnalysis(time.Since(started), metrics.OutcomeError)
	a.logger.Error("analysis failed",
		slog.Int64("session_id", session.ID),
		slog.String("error", cause.Error()))
}

// verdictMessages renders each populated verdict field as its own
// line, in presentation order.
func verdictMessages(v models.Verdict) []string {
	out := []string{fmt.Sprintf("Root cause: %s", v.RootCause)}
	if v.Evidence != "" {
		out = append(out, fmt.Sprintf("Evidence: %s", v.Evidence))
	}
	out = append(out, fmt.Sprintf("Category: %s (confidence %.0f%%)", v.Category, v.Confidence*100))
	if v.TemporarySolution != "" {
		out = append(out, fmt.Sprintf("Mitigation: %s", v.TemporarySolution))
	}
	if v.PermanentSolution != "" {
		out = append(out, fmt.Sprintf("Fix: %s", v.PermanentSolution))
	}
	return out
}

func renderVerdict(v models.Verdict) string {
	return strings.Join(verdictMessages(v), "\n")
}
