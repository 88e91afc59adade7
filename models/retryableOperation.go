package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// RetryableOperation is the durable record of one retryable, idempotent unit
// of remote-affecting work. It is the single source of truth for what work
// remains; executors must tolerate re-delivery of the same operation.
type RetryableOperation struct {
	ID            string          `gorm:"primaryKey;size:128" json:"id"`
	Type          OperationType   `gorm:"size:40;not null;index" json:"type"`
	OrderId       int             `gorm:"not null;index:idx_op_order" json:"order_id"`
	Payload       json.RawMessage `gorm:"type:json" json:"payload"`
	Attempts      int             `gorm:"not null;default:0" json:"attempts"`
	Status        OperationStatus `gorm:"size:20;not null;index:idx_op_due" json:"status"`
	LastAttemptAt *time.Time      `json:"last_attempt_at"`
	NextRetryAt   *time.Time      `gorm:"index:idx_op_due" json:"next_retry_at"`
	LastError     *string         `gorm:"type:text" json:"last_error"`
	Result        json.RawMessage `gorm:"type:json" json:"result"`
	LockedAt      *time.Time      `json:"locked_at"`
	LockedBy      *string         `gorm:"size:64" json:"locked_by"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewOperationID derives a traceable id from the operation type, the order it
// acts on and the scheduling instant.
func NewOperationID(opType OperationType, orderId int, at time.Time) string {
	return fmt.Sprintf("%s_%d_%d", opType, orderId, at.UnixNano())
}

// Typed payloads, one per operation type. The store never interprets them;
// the owning executor decodes its own shape.

type CreateRemoteOrderPayload struct {
	Provider string `json:"provider"`
}

type RefreshStatusPayload struct {
	Provider string `json:"provider"`
}

type PaymentEventPayload struct {
	EventId   string `json:"event_id"`
	EventType string `json:"event_type"`
	SessionId string `json:"session_id"`
}

type NotificationPayload struct {
	Type     string            `json:"type" validate:"required"`
	Title    string            `json:"title" validate:"required"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata"`
}

// ClaimOperation atomically transitions a pending operation to processing,
// incrementing attempts. The WHERE clause on the current status is the whole
// claim mechanism: of two concurrent claimers exactly one sees RowsAffected=1.
// Terminal and cancelled rows never match.
func ClaimOperation(db *gorm.DB, id string, workerId string, now time.Time) (bool, error) {
	res := db.Model(&RetryableOperation{}).
		Where("id = ? AND status = ?", id, OperationStatusPending).
		Updates(map[string]interface{}{
			"status":          OperationStatusProcessing,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_attempt_at": &now,
			"locked_at":       &now,
			"locked_by":       &workerId,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FindDueOperations returns pending operations whose next_retry_at has passed.
func FindDueOperations(db *gorm.DB, now time.Time, limit int) ([]RetryableOperation, error) {
	var ops []RetryableOperation
	q := db.
		Where("status = ?", OperationStatusPending).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("next_retry_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&ops).Error
	return ops, err
}

// MarkOperationCompleted records the success payload and clears the error and
// lock columns. Completed is terminal.
func MarkOperationCompleted(db *gorm.DB, id string, result json.RawMessage) error {
	return db.Model(&RetryableOperation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        OperationStatusCompleted,
			"result":        result,
			"last_error":    nil,
			"next_retry_at": nil,
			"locked_at":     nil,
			"locked_by":     nil,
		}).Error
}

// MarkOperationPending returns a failed attempt to the queue with a new
// retry time. The lock columns are always cleared so a storage hiccup can
// never leave the row stuck in processing.
func MarkOperationPending(db *gorm.DB, id string, errMsg string, nextRetryAt time.Time) error {
	return db.Model(&RetryableOperation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        OperationStatusPending,
			"last_error":    &errMsg,
			"next_retry_at": &nextRetryAt,
			"locked_at":     nil,
			"locked_by":     nil,
		}).Error
}

// MarkOperationFailed is the terminal exhaustion transition.
func MarkOperationFailed(db *gorm.DB, id string, errMsg string) error {
	return db.Model(&RetryableOperation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        OperationStatusFailed,
			"last_error":    &errMsg,
			"next_retry_at": nil,
			"locked_at":     nil,
			"locked_by":     nil,
		}).Error
}

// CancelOperation is a manual terminal transition. It only applies to rows
// that are not currently being processed.
func CancelOperation(db *gorm.DB, id string) (bool, error) {
	res := db.Model(&RetryableOperation{}).
		Where("id = ? AND status IN ?", id, []OperationStatus{OperationStatusPending, OperationStatusFailed}).
		Updates(map[string]interface{}{
			"status":        OperationStatusCancelled,
			"next_retry_at": nil,
			"locked_at":     nil,
			"locked_by":     nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReclaimStaleOperations returns operations stuck in processing (worker
// crashed mid-attempt) to pending so a later sweep can pick them up again.
func ReclaimStaleOperations(db *gorm.DB, staleBefore time.Time) (int64, error) {
	now := time.Now().UTC()
	msg := "reclaimed after stale processing lock"
	res := db.Model(&RetryableOperation{}).
		Where("status = ? AND locked_at IS NOT NULL AND locked_at <= ?", OperationStatusProcessing, staleBefore).
		Updates(map[string]interface{}{
			"status":        OperationStatusPending,
			"last_error":    &msg,
			"next_retry_at": &now,
			"locked_at":     nil,
			"locked_by":     nil,
		})
	return res.RowsAffected, res.Error
}
