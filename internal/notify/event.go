package notify

import (
	"fmt"
	"strconv"
)

// AvailabilityEvent says "purchasable quantity changed for this product at
// this location". The transport layer broadcasts it to subscribers of the
// location; the consumer also folds it into the redis availability cache.
type AvailabilityEvent struct {
	LocationID   uint  `json:"location_id"`
	ProductID    uint  `json:"product_id"`
	Availability int64 `json:"availability"`
	// AtUnixMilli orders events for the same product; consumers drop stale ones.
	AtUnixMilli int64 `json:"at_unix_milli"`
}

// Validate rejects malformed events before they reach consumers.
func (e AvailabilityEvent) Validate() error {
	if e.LocationID == 0 {
		return fmt.Errorf("location_id is required")
	}
	if e.ProductID == 0 {
		return fmt.Errorf("product_id is required")
	}
	if e.AtUnixMilli <= 0 {
		return fmt.Errorf("at_unix_milli is required")
	}
	return nil
}

// streamValues flattens the event into redis stream fields.
func (e AvailabilityEvent) streamValues() map[string]interface{} {
	return map[string]interface{}{
		"location_id":   strconv.FormatUint(uint64(e.LocationID), 10),
		"product_id":    strconv.FormatUint(uint64(e.ProductID), 10),
		"availability":  strconv.FormatInt(e.Availability, 10),
		"at_unix_milli": strconv.FormatInt(e.AtUnixMilli, 10),
	}
}
