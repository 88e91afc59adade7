package models

import (
	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Order{}, &OrderLineItem{}, &DropshipOrder{}, &OrderLog{},
		&RetryableOperation{},
		&CartItem{}, &Product{}, &PendingCheckout{},
		&Notification{},
	)
}
