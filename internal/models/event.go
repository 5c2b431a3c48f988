package models

import (
	"time"
)

// AgentEvent is one row of the system audit feed. For ledger events the
// EventData payload embeds the entry's amount and balance snapshots as
// strings; the feed is never the source of truth for balances.
type AgentEvent struct {
	ID                string    `json:"id" db:"id"`
	EventType         string    `json:"event_type" db:"event_type"`
	TargetID          string    `json:"target_id" db:"target_id"`
	EventData         Metadata  `json:"event_data" db:"event_data"`
	Description       string    `json:"description,omitempty" db:"description"`
	CreatedBy         string    `json:"created_by,omitempty" db:"created_by"`
	CreatedByUsername string    `json:"created_by_username,omitempty" db:"created_by_username"`
	Timestamp         time.Time `json:"timestamp" db:"timestamp"`
}

// EventsList is the paginated feed envelope
type EventsList struct {
	Events []AgentEvent `json:"events"`
	Total  int          `json:"total"`
}
