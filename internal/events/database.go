package events

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var ErrEventNotFound = errors.New("event not found")

// Log is the durable event log store.
type Log struct {
	db *gorm.DB
}

func NewLog(db *gorm.DB) *Log {
	return &Log{db: db}
}

// Append records a new unprocessed event. Appending an event id that already
// exists is a no-op, which keeps redelivery from duplicating log rows.
func (l *Log) Append(eventID, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	entry := LogEntry{
		EventID: eventID,
		Type:    eventType,
		Payload: string(raw),
		Status:  LogStatusUnprocessed,
	}
	err = l.db.Create(&entry).Error
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	return err
}

// GetUnprocessed returns up to limit unprocessed events of a type, oldest
// first. Failed events are included so scheduled reprocessing picks them up.
func (l *Log) GetUnprocessed(eventType string, limit int) ([]LogEntry, error) {
	var entries []LogEntry
	err := l.db.
		Where("type = ? AND status <> ?", eventType, LogStatusProcessed).
		Order("created_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// GetByID fetches one event by its id.
func (l *Log) GetByID(eventID string) (*LogEntry, error) {
	var entry LogEntry
	if err := l.db.Where("event_id = ?", eventID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// MarkProcessed transitions an event to processed.
func (l *Log) MarkProcessed(eventID string) error {
	now := time.Now()
	return l.updateStatus(eventID, map[string]interface{}{
		"status":       LogStatusProcessed,
		"error":        "",
		"processed_at": &now,
		"updated_at":   now,
	})
}

// MarkFailed transitions an event to failed with the terminating reason.
func (l *Log) MarkFailed(eventID, reason string) error {
	return l.updateStatus(eventID, map[string]interface{}{
		"status":     LogStatusFailed,
		"error":      reason,
		"updated_at": time.Now(),
	})
}

func (l *Log) updateStatus(eventID string, fields map[string]interface{}) error {
	result := l.db.Model(&LogEntry{}).Where("event_id = ?", eventID).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if err == nil {
		return false
	}
	// sqlite reports constraint violations as plain errors; match on message.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
