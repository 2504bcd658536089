package events

import (
	"time"

	"gorm.io/gorm"
)

// Event log statuses. Events are never deleted: a failed event stays
// eligible for manual or scheduled reprocessing, so no payment can silently
// vanish.
const (
	LogStatusUnprocessed = "UNPROCESSED"
	LogStatusProcessed   = "PROCESSED"
	LogStatusFailed      = "FAILED"
)

// LogEntry is one durable event in the log.
type LogEntry struct {
	gorm.Model
	EventID     string     `gorm:"uniqueIndex" json:"event_id"`
	Type        string     `gorm:"index" json:"type"`
	Payload     string     `json:"payload"` // JSON-encoded event body
	Status      string     `gorm:"index" json:"status"`
	Error       string     `json:"error,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
