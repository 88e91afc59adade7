package models

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Address is embedded on Order for both shipping and billing.
type Address struct {
	Name       string `gorm:"size:100" json:"name"`
	Line1      string `gorm:"size:255" json:"line1"`
	Line2      string `gorm:"size:255" json:"line2"`
	City       string `gorm:"size:100" json:"city"`
	State      string `gorm:"size:100" json:"state"`
	PostalCode string `gorm:"size:20" json:"postal_code"`
	Country    string `gorm:"size:2" json:"country"`
}

// PlaceholderAddressName marks orders materialized without a usable shipping
// address. Support staff search for it to fix up orders before fulfillment.
const PlaceholderAddressName = "ADDRESS PENDING - CONTACT CUSTOMER"

func (a Address) IsZero() bool {
	return a.Line1 == "" && a.City == "" && a.PostalCode == ""
}

func PlaceholderAddress() Address {
	return Address{Name: PlaceholderAddressName, Country: "US"}
}

// Order is created exactly once per payment session by the webhook
// materializer and never deleted. ExternalPaymentSessionId carries the unique
// constraint that closes the concurrent-webhook race.
type Order struct {
	ID                       int             `gorm:"primary_key" json:"id"`
	OrderNumber              string          `gorm:"size:40;not null;uniqueIndex" json:"order_number"`
	ExternalPaymentSessionId string          `gorm:"size:255;not null;uniqueIndex" json:"external_payment_session_id"`
	UserId                   string          `gorm:"size:64;index" json:"user_id"`
	Status                   OrderStatus     `gorm:"size:20;not null;index" json:"status"`
	Subtotal                 decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	Tax                      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax"`
	Shipping                 decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"shipping"`
	Total                    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	Currency                 string          `gorm:"size:3;not null;default:'USD'" json:"currency"`
	CustomerEmail            string          `gorm:"size:255" json:"customer_email"`
	CustomerName             string          `gorm:"size:100" json:"customer_name"`
	CustomerPhone            string          `gorm:"size:20" json:"customer_phone"`
	ShippingAddress          Address         `gorm:"embedded;embeddedPrefix:shipping_" json:"shipping_address"`
	BillingAddress           Address         `gorm:"embedded;embeddedPrefix:billing_" json:"billing_address"`
	CreatedAt                time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	LineItems                []OrderLineItem `gorm:"foreignKey:OrderId" json:"line_items"`
}

// OrderLineItem rows are immutable once created. The (order_id, product_id)
// unique index lets a replayed materialization re-insert them blindly; the
// duplicate simply loses.
type OrderLineItem struct {
	ID         int             `gorm:"primary_key" json:"id"`
	OrderId    int             `gorm:"not null;index:uniq_line_item,unique" json:"order_id"`
	ProductId  int             `gorm:"not null;index:uniq_line_item,unique" json:"product_id"`
	Quantity   int             `gorm:"not null" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	TotalPrice decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_price"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// NewOrderNumber generates a human-readable order number. Numbers are random
// rather than sequential so they leak no volume information; the unique index
// rejects the rare collision and the caller retries.
func NewOrderNumber(now time.Time) string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		n = big.NewInt(now.UnixNano() % 1000000)
	}
	return fmt.Sprintf("ORD-%s-%06d", now.Format("20060102"), n.Int64())
}

// GetOrderBySessionId returns (nil, nil) when no order has been materialized
// for the session yet.
func GetOrderBySessionId(db *gorm.DB, sessionId string) (*Order, error) {
	var order Order
	err := db.Where("external_payment_session_id = ?", sessionId).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func GetOrder(db *gorm.DB, orderId int) (*Order, error) {
	var order Order
	if err := db.Where("id = ?", orderId).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func GetOrderLineItems(db *gorm.DB, orderId int) ([]OrderLineItem, error) {
	var items []OrderLineItem
	err := db.Where("order_id = ?", orderId).Order("id ASC").Find(&items).Error
	return items, err
}

func UpdateOrderStatus(db *gorm.DB, orderId int, status OrderStatus) error {
	return db.Model(&Order{}).Where("id = ?", orderId).
		Update("status", status).Error
}
