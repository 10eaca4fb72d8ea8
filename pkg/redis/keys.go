package redis

import "fmt"

// AvailabilityKey is the per-location hash of product_id -> availability that
// the websocket transport serves to subscribers.
func AvailabilityKey(locationID uint) string {
	return fmt.Sprintf("totem_pos:availability:%d", locationID)
}

// AvailabilityStampKey tracks the event timestamp last applied per product,
// guarding the cache against replayed or reordered feed messages.
func AvailabilityStampKey(locationID uint) string {
	return fmt.Sprintf("totem_pos:availability:stamp:%d", locationID)
}

// ReserveRateLimitCartKey throttles reservation calls per cart.
func ReserveRateLimitCartKey(cartID string) string {
	return fmt.Sprintf("rate_limit:reserve:cart:%s", cartID)
}

// ReserveRateLimitIPKey is the fallback throttle key when no cart id could be
// read from the request.
func ReserveRateLimitIPKey(ip string) string {
	return fmt.Sprintf("rate_limit:reserve:ip:%s", ip)
}
