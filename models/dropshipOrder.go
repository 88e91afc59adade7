package models

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// DropshipOrder mirrors one remote fulfillment-provider order. The
// (order_id, provider) unique index enforces at most one non-failed remote
// order per local order and provider; ProviderOrderId once set is never
// reassigned.
type DropshipOrder struct {
	ID                int             `gorm:"primary_key" json:"id"`
	OrderId           int             `gorm:"not null;index:uniq_dropship,unique" json:"order_id"`
	Provider          string          `gorm:"size:40;not null;index:uniq_dropship,unique" json:"provider"`
	ProviderOrderId   *string         `gorm:"size:255;index" json:"provider_order_id"`
	Status            DropshipStatus  `gorm:"size:20;not null;index" json:"status"`
	TrackingNumber    *string         `gorm:"size:255" json:"tracking_number"`
	TrackingUrl       *string         `gorm:"size:500" json:"tracking_url"`
	EstimatedDelivery *time.Time      `json:"estimated_delivery"`
	ProviderResponse  json.RawMessage `gorm:"type:json" json:"provider_response"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetDropshipOrder(db *gorm.DB, orderId int, provider string) (*DropshipOrder, error) {
	var ds DropshipOrder
	err := db.Where("order_id = ? AND provider = ?", orderId, provider).First(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// RemoteOrderInfo is the provider-side view written back onto a DropshipOrder
// after a successful create or refresh call.
type RemoteOrderInfo struct {
	ProviderOrderId   string
	Status            DropshipStatus
	TrackingNumber    *string
	TrackingUrl       *string
	EstimatedDelivery *time.Time
	RawResponse       json.RawMessage
}

// SetProviderOrder records the remote creation result. The WHERE clause on
// provider_order_id IS NULL makes a replayed create a no-op at the storage
// layer even if the executor's own short-circuit was raced.
func SetProviderOrder(db *gorm.DB, dropshipId int, info RemoteOrderInfo) error {
	return db.Model(&DropshipOrder{}).
		Where("id = ? AND provider_order_id IS NULL", dropshipId).
		Updates(map[string]interface{}{
			"provider_order_id":  &info.ProviderOrderId,
			"status":             info.Status,
			"tracking_number":    info.TrackingNumber,
			"tracking_url":       info.TrackingUrl,
			"estimated_delivery": info.EstimatedDelivery,
			"provider_response":  info.RawResponse,
		}).Error
}

// RefreshProviderStatus updates the remote-status mirror without ever
// touching provider_order_id.
func RefreshProviderStatus(db *gorm.DB, dropshipId int, info RemoteOrderInfo) error {
	updates := map[string]interface{}{
		"status":            info.Status,
		"provider_response": info.RawResponse,
	}
	if info.TrackingNumber != nil {
		updates["tracking_number"] = info.TrackingNumber
	}
	if info.TrackingUrl != nil {
		updates["tracking_url"] = info.TrackingUrl
	}
	if info.EstimatedDelivery != nil {
		updates["estimated_delivery"] = info.EstimatedDelivery
	}
	return db.Model(&DropshipOrder{}).
		Where("id = ?", dropshipId).
		Updates(updates).Error
}
