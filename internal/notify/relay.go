package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Relay drains the redis stream outbox into kafka. An event is ACKed and
// deleted only after kafka confirmed the write; a failed publish leaves it
// pending for retry.
type Relay struct {
	rdb      *rd.Client
	producer *Producer
	log      *logrus.Logger

	stream   string
	group    string
	consumer string
}

func NewRelay(rdb *rd.Client, producer *Producer, log *logrus.Logger, stream, group, consumer string) *Relay {
	return &Relay{
		rdb:      rdb,
		producer: producer,
		log:      log,
		stream:   stream,
		group:    group,
		consumer: consumer,
	}
}

func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		r.log.WithError(err).Error("relay ensure group")
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		// Drain this consumer's pending entries before reading new ones so a
		// crash-restart never strands events in the PEL.
		msgs, err := r.readGroup(ctx, "0", 0)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			r.log.WithError(err).Warn("relay read pending")
			time.Sleep(300 * time.Millisecond)
			continue
		}
		if len(msgs) == 0 {
			msgs, err = r.readGroup(ctx, ">", 2*time.Second)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				r.log.WithError(err).Warn("relay read new")
				time.Sleep(300 * time.Millisecond)
				continue
			}
		}

		for _, xm := range msgs {
			if err := r.processOne(ctx, xm); err != nil {
				r.log.WithField("id", xm.ID).WithError(err).Warn("relay process message")
				time.Sleep(200 * time.Millisecond)
				break
			}
		}
	}
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, streamID},
		Count:    16,
		Block:    block,
		NoAck:    false,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 16)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	ev, err := parseAvailabilityEvent(xm.Values)
	if err != nil {
		// Malformed entry: ACK and drop rather than wedge the stream.
		if ackErr := r.ackAndDelete(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("parse failed: %v, ack failed: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.producer.Publish(pubCtx, ev); err != nil {
		return err
	}
	return r.ackAndDelete(ctx, xm.ID)
}

func (r *Relay) ackAndDelete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func parseAvailabilityEvent(values map[string]interface{}) (AvailabilityEvent, error) {
	locStr, err := getStreamString(values, "location_id")
	if err != nil {
		return AvailabilityEvent{}, err
	}
	prodStr, err := getStreamString(values, "product_id")
	if err != nil {
		return AvailabilityEvent{}, err
	}
	availStr, err := getStreamString(values, "availability")
	if err != nil {
		return AvailabilityEvent{}, err
	}
	atStr, err := getStreamString(values, "at_unix_milli")
	if err != nil {
		return AvailabilityEvent{}, err
	}

	loc64, err := strconv.ParseUint(locStr, 10, 64)
	if err != nil {
		return AvailabilityEvent{}, fmt.Errorf("invalid location_id %q", locStr)
	}
	prod64, err := strconv.ParseUint(prodStr, 10, 64)
	if err != nil {
		return AvailabilityEvent{}, fmt.Errorf("invalid product_id %q", prodStr)
	}
	avail, err := strconv.ParseInt(availStr, 10, 64)
	if err != nil {
		return AvailabilityEvent{}, fmt.Errorf("invalid availability %q", availStr)
	}
	at, err := strconv.ParseInt(atStr, 10, 64)
	if err != nil {
		return AvailabilityEvent{}, fmt.Errorf("invalid at_unix_milli %q", atStr)
	}

	ev := AvailabilityEvent{
		LocationID:   uint(loc64),
		ProductID:    uint(prod64),
		Availability: avail,
		AtUnixMilli:  at,
	}
	if err := ev.Validate(); err != nil {
		return AvailabilityEvent{}, err
	}
	return ev, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatInt(int64(x), 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
