package idempotency

import (
	"time"

	"gorm.io/gorm"
)

// Record stores the serialized result of a completed logical operation. A
// live record for a key makes any repeat of that operation a no-op that
// returns the stored result.
type Record struct {
	gorm.Model
	Key       string    `gorm:"uniqueIndex" json:"key"`
	Result    string    `json:"result"` // JSON-encoded stored result
	ExpiresAt time.Time `json:"expires_at"`
}
