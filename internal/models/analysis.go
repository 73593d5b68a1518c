package models

import "time"

// Alert type classifications produced by intent extraction.
const (
	AlertTypePerformance  = "performance"
	AlertTypeError        = "error"
	AlertTypeAvailability = "availability"
	AlertTypeNetwork      = "network"
	AlertTypeGeneral      = "general"
)

// Verdict categories form a closed set; the reasoning client coerces anything
// else to CategoryCodeIssue.
const (
	CategoryCodeIssue          = "code_issue"
	CategoryConfigIssue        = "config_issue"
	CategoryResourceBottleneck = "resource_bottleneck"
	CategoryDependencyFailure  = "dependency_failure"
)

// Intent is the structured interpretation of an alert. It is computed once
// per session from the raw alert text and immutable afterwards.
type Intent struct {
	Summary          string   `json:"summary"`
	AlertType        string   `json:"alert_type"`
	AffectedSystem   string   `json:"affected_system,omitempty"`
	Keywords         []string `json:"keywords"`
	SuggestedMetrics []string `json:"suggested_metrics,omitempty"`
}

// LogEntry is a single normalized log record collected from a telemetry source.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
}

// MetricPoint is one (timestamp, value) sample of a metric series.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricSeries is a labelled series of samples collected from a metrics source.
type MetricSeries struct {
	Name   string            `json:"metric_name"`
	Labels map[string]string `json:"labels,omitempty"`
	Points []MetricPoint     `json:"values"`
}

// ContextData is the merged telemetry evidence for one analysis run. It is
// built incrementally during data collection and treated as immutable input
// to the reasoning stage afterwards.
type ContextData struct {
	Logs    []LogEntry        `json:"logs"`
	Metrics []MetricSeries    `json:"metrics"`
	Status  map[string]string `json:"collection_status"`
}

// NewContextData returns an empty context with an initialised status map.
func NewContextData() *ContextData {
	return &ContextData{Status: make(map[string]string)}
}

// Verdict is the structured root-cause analysis result.
type Verdict struct {
	RootCause         string  `json:"root_cause"`
	Evidence          string  `json:"evidence"`
	Category          string  `json:"category"`
	TemporarySolution string  `json:"temporary_solution"`
	PermanentSolution string  `json:"permanent_solution"`
	Confidence        float64 `json:"confidence"`
}

// Stream event names. The per-session event order is produced by a single
// goroutine and must be preserved by consumers.
const (
	EventStageStart    = "stage_start"
	EventStageProgress = "stage_progress"
	EventStageComplete = "stage_complete"
	EventMessage       = "message"
	EventError         = "error"
	EventCancelled     = "cancelled"
	EventDone          = "done"
)

// StreamEvent is one server-push event of an analysis stream. Absent fields
// are omitted from the wire encoding, not null-filled.
type StreamEvent struct {
	Event    string         `json:"event"`
	Stage    string         `json:"stage,omitempty"`
	Content  string         `json:"content,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Progress *int           `json:"progress,omitempty"`
}

// ProgressOf wraps a 0-100 progress indicator for StreamEvent.
func ProgressOf(p int) *int {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return &p
}

// AnalysisRequest is the caller-supplied description of what to analyze.
type AnalysisRequest struct {
	AlertContent     string  `json:"alert_content"`
	TimeRangeMinutes int     `json:"time_range_minutes"`
	DataSourceIDs    []int64 `json:"datasource_ids,omitempty"`
}

// ContinueRequest carries a follow-up question against a completed session.
type ContinueRequest struct {
	Message string `json:"message"`
}
