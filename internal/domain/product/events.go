package product

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventProductCreated      = "ProductCreated"
	EventProductPriceChanged = "ProductPriceChanged"
)

type ProductCreated struct {
	ProductID   string                     `json:"product_id"`
	Name        string                     `json:"name"`
	Category    string                     `json:"category"`
	Prices      map[string]decimal.Decimal `json:"prices,omitempty"`
	WeightGrams int                        `json:"weight_grams"`
	CreatedAt   time.Time                  `json:"created_at"`
}

type ProductPriceChanged struct {
	ProductID string          `json:"product_id"`
	Currency  string          `json:"currency"`
	Price     decimal.Decimal `json:"price"`
	ChangedAt time.Time       `json:"changed_at"`
}
