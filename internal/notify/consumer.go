package notify

import (
	"context"
	"encoding/json"
	"time"

	rediskey "totem_pos/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Consumer folds the availability feed back into the redis cache that the
// websocket transport serves from. Events carry a timestamp so a replayed or
// reordered message never overwrites a newer value.
type Consumer struct {
	r        *kafka.Reader
	rdb      *rd.Client
	cacheTTL time.Duration
	log      *logrus.Logger
}

func NewConsumer(brokers []string, topic, groupID string, rdb *rd.Client, cacheTTL time.Duration, log *logrus.Logger) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		rdb:      rdb,
		cacheTTL: cacheTTL,
		log:      log,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancelled or connection gone
		}

		var ev AvailabilityEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.log.WithError(err).Warn("consumer unmarshal")
			continue
		}
		if err := ev.Validate(); err != nil {
			c.log.WithError(err).Warn("consumer drop invalid event")
			continue
		}

		err = rediskey.PutAvailability(ctx, c.rdb, ev.LocationID, ev.ProductID, ev.Availability, ev.AtUnixMilli, c.cacheTTL)
		if err != nil {
			c.log.WithFields(logrus.Fields{
				"location_id": ev.LocationID,
				"product_id":  ev.ProductID,
			}).WithError(err).Warn("consumer cache update")
		}
	}
}
