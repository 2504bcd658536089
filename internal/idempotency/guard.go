// Package idempotency records "operation X already completed with result Y"
// keyed by a caller-supplied key, making payment processing safe under
// at-least-once delivery. Existence is checked before work starts and the
// result stored only after success; the narrow race window in between is
// bounded by the unique key index at the persistence boundary.
package idempotency

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/monetra/autoinvest/internal/types"
	"gorm.io/gorm"
)

// Guard is the idempotency store service.
type Guard struct {
	db *Database
}

func NewGuard(gormDB *gorm.DB) *Guard {
	return &Guard{db: NewDatabase(gormDB)}
}

// PaymentKey derives the idempotency key for processing a payment by id.
// Payments and their delivery events are independent idempotency domains: a
// payment can be resubmitted by id even when its originating event differs.
func PaymentKey(paymentID string) string {
	return "payment:" + paymentID
}

// EventKey derives the idempotency key for consuming a delivery event.
func EventKey(eventID string) string {
	return "event:" + eventID
}

// GetResult looks up the stored result for key and decodes it into a T.
func GetResult[T any](g *Guard, key string) (bool, T, error) {
	var zero T
	record, err := g.db.GetRecord(key)
	if err != nil {
		return false, zero, types.WrapError(types.ReasonDatabase, err, "idempotency lookup failed for %s", key)
	}
	if record == nil {
		return false, zero, nil
	}

	var value T
	if err := json.Unmarshal([]byte(record.Result), &value); err != nil {
		return false, zero, fmt.Errorf("decode stored result for %s: %w", key, err)
	}
	return true, value, nil
}

// StoreResult persists the result of a completed operation under key for ttl.
func StoreResult[T any](g *Guard, key string, value T, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode result for %s: %w", key, err)
	}

	record := &Record{
		Key:       key,
		Result:    string(raw),
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := g.db.UpsertRecord(record); err != nil {
		return types.WrapError(types.ReasonDatabase, err, "idempotency store failed for %s", key)
	}
	return nil
}

// Prune removes expired records.
func (g *Guard) Prune() (int64, error) {
	return g.db.DeleteExpired()
}
