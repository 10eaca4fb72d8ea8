package redis

import (
	"context"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaPutAvailability writes one product's availability into the location hash
// only if the event stamp is not older than the last applied one.
// KEYS[1]=availability hash, KEYS[2]=stamp hash
// ARGV[1]=product field, ARGV[2]=availability, ARGV[3]=event stamp, ARGV[4]=ttl sec
const luaPutAvailability = `
local availKey = KEYS[1]
local stampKey = KEYS[2]
local field = ARGV[1]
local stamp = tonumber(ARGV[3])
local prev = tonumber(redis.call('HGET', stampKey, field) or '0')
if stamp < prev then
  return 0
end
redis.call('HSET', availKey, field, ARGV[2])
redis.call('HSET', stampKey, field, ARGV[3])
redis.call('EXPIRE', availKey, ARGV[4])
redis.call('EXPIRE', stampKey, ARGV[4])
return 1
`

// PutAvailability updates the cached availability for one product at one
// location. Stale events (older stamp than what is cached) are ignored.
func PutAvailability(ctx context.Context, rdb *rd.Client, locationID, productID uint, availability, stampUnixMilli int64, ttl time.Duration) error {
	ttlSec := int64(ttl / time.Second)
	if ttlSec <= 0 {
		ttlSec = 1
	}
	return rdb.Eval(ctx, luaPutAvailability,
		[]string{AvailabilityKey(locationID), AvailabilityStampKey(locationID)},
		strconv.FormatUint(uint64(productID), 10),
		strconv.FormatInt(availability, 10),
		strconv.FormatInt(stampUnixMilli, 10),
		ttlSec,
	).Err()
}

// GetAvailability reads cached availability for the products that have an
// entry; products with no cached value are simply absent from the result.
func GetAvailability(ctx context.Context, rdb *rd.Client, locationID uint, productIDs []uint) (map[uint]int64, error) {
	if len(productIDs) == 0 {
		return map[uint]int64{}, nil
	}
	fields := make([]string, len(productIDs))
	for i, id := range productIDs {
		fields[i] = strconv.FormatUint(uint64(id), 10)
	}
	vals, err := rdb.HMGet(ctx, AvailabilityKey(locationID), fields...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[uint]int64, len(productIDs))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		out[productIDs[i]] = n
	}
	return out, nil
}
