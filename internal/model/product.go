package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is catalog data only. On-hand quantity and unit cost are never
// stored here; both are derived from the stock movement ledger.
type Product struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name        string          `gorm:"size:128;uniqueIndex;not null" json:"name"`
	Description string          `gorm:"size:255" json:"description"`
	PhotoURL    string          `gorm:"size:255" json:"photo_url"`
	SalePrice   decimal.Decimal `gorm:"type:text;not null" json:"sale_price"`
	CategoryID  uint            `gorm:"index" json:"category_id"`
	SortOrder   int             `gorm:"not null;default:0" json:"sort_order"`

	// RequiresPreparation decides whether orders carrying this product may
	// take the simple-flow shortcut past the production stage.
	RequiresPreparation bool `gorm:"not null;default:false" json:"requires_preparation"`
}

func (Product) TableName() string { return "products" }
