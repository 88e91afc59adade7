package models

import (
	"time"

	"gorm.io/gorm"
)

// OrderLog is the append-only audit trail for an order. Rows are never
// mutated or deleted; disputes get resolved out of this table.
type OrderLog struct {
	ID        int       `gorm:"primary_key" json:"id"`
	OrderId   int       `gorm:"not null;index" json:"order_id"`
	Action    string    `gorm:"size:100;not null" json:"action"`
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// AppendOrderLog never fails the caller's business operation: audit logging
// is best effort and the error is returned for logging only.
func AppendOrderLog(db *gorm.DB, orderId int, action string, details string) error {
	return db.Create(&OrderLog{
		OrderId: orderId,
		Action:  action,
		Details: details,
	}).Error
}
