package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CartItem is a storefront cart row. The retry engine only reads and deletes
// these during order materialization; cart CRUD lives elsewhere.
type CartItem struct {
	ID        int             `gorm:"primary_key" json:"id"`
	UserId    string          `gorm:"size:64;not null;index" json:"user_id"`
	ProductId int             `gorm:"not null" json:"product_id"`
	Quantity  int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// LoadCartItems returns the user's cart rows restricted to the given ids.
// Items already consumed by a prior materialization are simply absent.
func LoadCartItems(db *gorm.DB, userId string, ids []int) ([]CartItem, error) {
	var items []CartItem
	err := db.Where("user_id = ? AND id IN ?", userId, ids).Find(&items).Error
	return items, err
}

func DeleteCartItems(db *gorm.DB, userId string, ids []int) error {
	return db.Where("user_id = ? AND id IN ?", userId, ids).Delete(&CartItem{}).Error
}
