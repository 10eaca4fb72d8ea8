package model

import "time"

// CartReservation is a short-lived hold on stock taken while a totem is still
// composing an order. A row whose ExpiresAt has passed is dead: every
// availability computation filters it out even before the sweep deletes it.
type CartReservation struct {
	CartID     string `gorm:"size:64;primaryKey" json:"cart_id"`
	ProductID  uint   `gorm:"primaryKey;index:idx_reservations_product_location,priority:1" json:"product_id"`
	LocationID uint   `gorm:"primaryKey;index:idx_reservations_product_location,priority:2" json:"location_id"`

	QuantityReserved int64     `gorm:"not null" json:"quantity_reserved"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `gorm:"not null;index" json:"expires_at"`
}

func (CartReservation) TableName() string { return "cart_reservations" }

// Active reports whether the hold still counts as of now.
func (r CartReservation) Active(now time.Time) bool { return r.ExpiresAt.After(now) }
