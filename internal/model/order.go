package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state. Terminal states are finalized and
// cancelled; every transition is guarded by a status precondition.
type OrderStatus string

const (
	StatusAwaitingPayment    OrderStatus = "awaiting_payment"
	StatusAwaitingProduction OrderStatus = "awaiting_production"
	StatusInProduction       OrderStatus = "in_production"
	StatusAwaitingPickup     OrderStatus = "awaiting_pickup"
	StatusFinalized          OrderStatus = "finalized"
	StatusCancelled          OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == StatusFinalized || s == StatusCancelled
}

// OrderItem is a denormalized line-item snapshot taken at placement. Price and
// cost are frozen here so historical reporting survives catalog changes.
type OrderItem struct {
	ProductID            uint            `json:"product_id"`
	Name                 string          `json:"name"`
	Quantity             int64           `json:"quantity"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	UnitCost             decimal.Decimal `json:"unit_cost"`
	RequiresPreparation  bool            `json:"requires_preparation"`
	PreparationStartedAt *time.Time      `json:"preparation_started_at,omitempty"`
}

// Order is mutated only through lifecycle transitions and never deleted;
// cancelled orders stay on record with status cancelled.
type Order struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CustomerName  string      `gorm:"size:128" json:"customer_name"`
	Status        OrderStatus `gorm:"size:32;not null;index" json:"status"`
	PaymentMethod string      `gorm:"size:16;not null" json:"payment_method"`

	// Money columns are stored as text so the decimal values round-trip
	// exactly through sqlite.
	TotalAmount decimal.Decimal `gorm:"type:text;not null" json:"total_amount"`
	// TotalCost is the realized cost of goods, recorded at finalization from
	// the item snapshots.
	TotalCost decimal.Decimal `gorm:"type:text;not null;default:0" json:"total_cost"`

	Items []OrderItem `gorm:"serializer:json" json:"items"`

	// DailyTicket is the customer-facing pickup number, sequential per
	// location per local day.
	DailyTicket int `gorm:"not null;default:1" json:"daily_ticket"`

	// SimpleFlow is computed once at placement: true iff no item requires
	// preparation, which lets payment confirmation skip straight to pickup.
	SimpleFlow bool `gorm:"not null;default:false" json:"simple_flow"`

	LocationID  uint       `gorm:"not null;index" json:"location_id"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

func (Order) TableName() string { return "orders" }
