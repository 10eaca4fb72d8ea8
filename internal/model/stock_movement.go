package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementOrigin classifies why stock changed.
type MovementOrigin string

const (
	OriginInitialBalance MovementOrigin = "initial_balance"
	OriginPurchase       MovementOrigin = "purchase"
	OriginAdjustment     MovementOrigin = "adjustment"
	OriginOrder          MovementOrigin = "order"
	OriginCancellation   MovementOrigin = "cancellation"
)

// StockMovement is one row of the append-only stock ledger. Rows are never
// updated or deleted; a cancellation is a new compensating row. On-hand for a
// product is the sum of Quantity over its rows.
type StockMovement struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index:idx_movements_product_created,priority:2" json:"created_at"`

	ProductID uint  `gorm:"not null;index:idx_movements_product_created,priority:1" json:"product_id"`
	Quantity  int64 `gorm:"not null" json:"quantity"` // signed: >0 inflow, <0 outflow

	// TotalCost is the absolute currency amount attributed to an inflow.
	// Zero and meaningless for outflows. Stored as text: sqlite's numeric
	// affinity would route long fractions through float64 and drop digits.
	TotalCost decimal.Decimal `gorm:"type:text;not null;default:0" json:"total_cost"`

	// UnitCostSnapshot freezes the weighted-average cost at the moment an
	// outflow was written, so later purchases cannot rewrite the cost of a
	// past sale. Nil on inflows.
	UnitCostSnapshot *decimal.Decimal `gorm:"type:text" json:"unit_cost_snapshot"`

	Origin MovementOrigin `gorm:"size:32;not null;index" json:"origin"`

	// ReferenceID pairs an order-origin outflow with its later
	// cancellation-origin inflow. Nil for manual entries.
	ReferenceID *uint `gorm:"index" json:"reference_id"`

	LocationID uint `gorm:"not null;index" json:"location_id"`
}

func (StockMovement) TableName() string { return "stock_movements" }

// IsInflow reports whether the row adds stock.
func (m StockMovement) IsInflow() bool { return m.Quantity > 0 }
