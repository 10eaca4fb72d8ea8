package model

import "time"

// Location is a physical point of sale. Stock and reservations are partitioned
// per location; a single writer process serves each one.
type Location struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Name string `gorm:"size:128;uniqueIndex;not null" json:"name"`
}

func (Location) TableName() string { return "locations" }
