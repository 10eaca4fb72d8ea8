package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"totem_pos/internal/config"
	"totem_pos/internal/notify"
	"totem_pos/internal/reservation"
	"totem_pos/internal/router"
	"totem_pos/internal/store"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := config.NewLogger()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("db open")
	}

	rdb := rd.NewClient(&rd.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})

	producer := notify.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	pub := notify.NewPublisher(rdb, cfg.AvailabilityStream, log)
	engine := reservation.NewEngine(db, log, cfg.HoldDuration)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Outbox relay: redis stream -> kafka availability feed.
	relay := notify.NewRelay(rdb, producer, log, cfg.AvailabilityStream, cfg.AvailabilityGroup, cfg.AvailabilityConsumer)
	go relay.Run(ctx)

	// Feed consumer keeps the per-location availability cache warm for the
	// websocket transport.
	consumer := notify.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, rdb, cfg.AvailabilityCacheTTL, log)
	defer consumer.Close()
	go consumer.Run(ctx)

	// Background sweep of expired cart holds. Opportunistic only: every
	// availability read filters by expiry on its own.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := engine.Sweep(ctx); err != nil {
					log.WithError(err).Warn("reservation sweep")
				} else if n > 0 {
					log.WithField("removed", n).Debug("reservation sweep")
				}
			}
		}
	}()

	r := gin.Default()
	router.Setup(r, db, rdb, engine, pub, cfg, log)

	log.WithField("addr", cfg.HTTPAddr).Info("server starting")
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
