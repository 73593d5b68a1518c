package models

import "time"

// Ticket statuses.
const (
	TicketOpen       = "open"
	TicketInProgress = "in_progress"
	TicketResolved   = "resolved"
	TicketClosed     = "closed"
)

// Ticket is a tracked incident record, optionally linked to the analysis
// session that produced it.
type Ticket struct {
	ID          int64     `json:"id" db:"id"`
	TicketNo    string    `json:"ticket_no" db:"ticket_no"`
	UserID      int64     `json:"user_id" db:"user_id"`
	SessionID   *int64    `json:"session_id,omitempty" db:"session_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
