package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// PendingCheckout captures the shipping address the customer entered before
// being redirected to the payment provider, keyed by the checkout session.
// It is the first stop in the materializer's address-resolution chain.
type PendingCheckout struct {
	ID              int       `gorm:"primary_key" json:"id"`
	SessionId       string    `gorm:"size:255;not null;uniqueIndex" json:"session_id"`
	UserId          string    `gorm:"size:64;not null;index" json:"user_id"`
	ShippingAddress Address   `gorm:"embedded;embeddedPrefix:shipping_" json:"shipping_address"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetPendingCheckout(db *gorm.DB, sessionId string) (*PendingCheckout, error) {
	var pc PendingCheckout
	err := db.Where("session_id = ?", sessionId).First(&pc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pc, nil
}
