package models

import (
	"encoding/json"
	"time"
)

// Notification is the durable record behind the customer notification sink.
// Delivery fan-out happens downstream of the notifications topic.
type Notification struct {
	ID        string          `gorm:"primaryKey;size:64" json:"id"`
	OrderId   int             `gorm:"not null;index" json:"order_id"`
	Type      string          `gorm:"size:60;not null" json:"type"`
	Title     string          `gorm:"size:255;not null" json:"title"`
	Message   string          `gorm:"type:text" json:"message"`
	Metadata  json.RawMessage `gorm:"type:json" json:"metadata"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
