package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product holds the catalog fields the fulfillment pipeline needs: the
// provider SKU mapping and the print asset. Catalog management is out of
// scope here.
type Product struct {
	ID          int             `gorm:"primary_key" json:"id"`
	Name        string          `gorm:"size:255;not null" json:"name"`
	Provider    string          `gorm:"size:40;not null;default:'prodigi'" json:"provider"`
	ProviderSku string          `gorm:"size:100;not null" json:"provider_sku"`
	ImageUrl    string          `gorm:"size:500;not null" json:"image_url"`
	Price       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetProducts(db *gorm.DB, ids []int) (map[int]Product, error) {
	var rows []Product
	if err := db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byId := make(map[int]Product, len(rows))
	for _, p := range rows {
		byId[p.ID] = p
	}
	return byId, nil
}

// DistinctProviders lists the fulfillment vendors covering a set of products.
// The materializer creates one dropship placeholder per provider.
func DistinctProviders(products map[int]Product) []string {
	seen := map[string]bool{}
	var providers []string
	for _, p := range products {
		if !seen[p.Provider] {
			seen[p.Provider] = true
			providers = append(providers, p.Provider)
		}
	}
	return providers
}
