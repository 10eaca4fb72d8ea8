package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Publisher appends availability events to a redis stream outbox. The HTTP
// handlers call it after every mutation that changed availability; the relay
// drains the stream into kafka asynchronously so a slow broker never holds a
// totem's request hostage.
type Publisher struct {
	rdb    *redis.Client
	stream string
	log    *logrus.Logger
}

func NewPublisher(rdb *redis.Client, stream string, log *logrus.Logger) *Publisher {
	return &Publisher{rdb: rdb, stream: stream, log: log}
}

// Publish emits one event per product. Best effort: a dead redis degrades
// the live availability feed, not stock correctness, so failures are logged
// and swallowed.
func (p *Publisher) Publish(ctx context.Context, locationID uint, availability map[uint]int64) {
	now := time.Now().UnixMilli()
	for productID, avail := range availability {
		ev := AvailabilityEvent{
			LocationID:   locationID,
			ProductID:    productID,
			Availability: avail,
			AtUnixMilli:  now,
		}
		err := p.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			Values: ev.streamValues(),
		}).Err()
		if err != nil {
			p.log.WithFields(logrus.Fields{
				"location_id": locationID,
				"product_id":  productID,
			}).WithError(err).Warn("availability event publish failed")
		}
	}
}
