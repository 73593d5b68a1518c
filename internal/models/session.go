package models

import "time"

// Status enumerates the lifecycle states of an analysis session.
type Status string

const (
	StatusPending             Status = "pending"
	StatusIntentUnderstanding Status = "intent_understanding"
	StatusDataCollection      Status = "data_collection"
	StatusLLMAnalysis         Status = "llm_analysis"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
	StatusError               Status = "error"
)

// Stage names used in stream events and conversation messages.
const (
	StageIntent     = "intent_understanding"
	StageCollection = "data_collection"
	StageReasoning  = "llm_analysis"
	StageFollowUp   = "follow_up"
	StageCompleted  = "completed"
	StageError      = "error"
)

// Message roles recorded in the conversation log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ConversationMessage is one entry of a session's append-only conversation log.
type ConversationMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Stage     string         `json:"stage,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Session tracks one alert's full analysis lifecycle, including follow-ups.
// It is owned by the analysis engine and mutated only through its stage
// transitions; the store persists it after every state-relevant step.
type Session struct {
	ID           int64                 `json:"id" db:"id"`
	UserID       int64                 `json:"user_id" db:"user_id"`
	AlertContent string                `json:"alert_content" db:"alert_content"`
	Status       Status                `json:"status" db:"status"`
	CurrentStage string                `json:"current_stage,omitempty" db:"current_stage"`
	Intent       *Intent               `json:"intent,omitempty"`
	Context      *ContextData          `json:"context_data,omitempty"`
	Result       *Verdict              `json:"analysis_result,omitempty"`
	Messages     []ConversationMessage `json:"messages"`
	CreatedAt    time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at" db:"updated_at"`
}

// AddMessage appends a conversation entry. Data may be nil.
func (s *Session) AddMessage(role, content, stage string, data map[string]any) {
	s.Messages = append(s.Messages, ConversationMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Stage:     stage,
		Data:      data,
	})
}

// SessionSummary is the shape returned by paged listings.
type SessionSummary struct {
	ID           int64     `json:"id"`
	AlertContent string    `json:"alert_content"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	HasResult    bool      `json:"has_result"`
}

// Terminal reports whether the status admits no further stage transitions
// short of a reanalyze reset.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}
