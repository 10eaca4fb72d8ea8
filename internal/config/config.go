package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig aggregates runtime configuration, injected through env vars.
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	RedisAddr string
	RedisDB   int

	// Kafka cluster (comma separated brokers), availability topic, consumer group
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis stream outbox for availability events (handlers append, relay
	// forwards to kafka)
	AvailabilityStream   string
	AvailabilityGroup    string
	AvailabilityConsumer string

	// Reservation hold TTL and background sweep cadence
	HoldDuration  time.Duration
	SweepInterval time.Duration

	// Reservation endpoint throttle and availability cache policy
	ReserveRateLimit     int
	ReserveRateWindow    time.Duration
	AvailabilityCacheTTL time.Duration
}

// Load reads and validates configuration, applying defaults for anything
// unset. A .env file is honoured when present.
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := AppConfig{
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		DBPath:               getEnv("DB_PATH", "totem_pos.db"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:              0,
		KafkaBrokers:         splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:           getEnv("KAFKA_TOPIC", "totem-pos-availability"),
		KafkaGroupID:         getEnv("KAFKA_GROUP_ID", "totem-pos-availability-cache"),
		AvailabilityStream:   getEnv("AVAILABILITY_STREAM", "totem_pos:availability_events"),
		AvailabilityGroup:    getEnv("AVAILABILITY_GROUP", "totem-pos-relay-group"),
		AvailabilityConsumer: getEnv("AVAILABILITY_CONSUMER", "totem-pos-relay-1"),
		HoldDuration:         120 * time.Second,
		SweepInterval:        30 * time.Second,
		ReserveRateLimit:     50,
		ReserveRateWindow:    time.Second,
		AvailabilityCacheTTL: 10 * time.Minute,
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	holdSec, err := getEnvInt("HOLD_DURATION_SEC", int(cfg.HoldDuration.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid HOLD_DURATION_SEC: %w", err)
	}
	if holdSec <= 0 {
		return AppConfig{}, fmt.Errorf("HOLD_DURATION_SEC must be > 0")
	}
	cfg.HoldDuration = time.Duration(holdSec) * time.Second

	sweepSec, err := getEnvInt("SWEEP_INTERVAL_SEC", int(cfg.SweepInterval.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SWEEP_INTERVAL_SEC: %w", err)
	}
	if sweepSec <= 0 {
		return AppConfig{}, fmt.Errorf("SWEEP_INTERVAL_SEC must be > 0")
	}
	cfg.SweepInterval = time.Duration(sweepSec) * time.Second

	rateLimit, err := getEnvInt("RESERVE_RATE_LIMIT", cfg.ReserveRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid RESERVE_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("RESERVE_RATE_LIMIT must be > 0")
	}
	cfg.ReserveRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("RESERVE_RATE_WINDOW_SEC", int(cfg.ReserveRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid RESERVE_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("RESERVE_RATE_WINDOW_SEC must be > 0")
	}
	cfg.ReserveRateWindow = time.Duration(rateWindowSec) * time.Second

	cacheTTLSec, err := getEnvInt("AVAILABILITY_CACHE_TTL_SEC", int(cfg.AvailabilityCacheTTL.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid AVAILABILITY_CACHE_TTL_SEC: %w", err)
	}
	if cacheTTLSec <= 0 {
		return AppConfig{}, fmt.Errorf("AVAILABILITY_CACHE_TTL_SEC must be > 0")
	}
	cfg.AvailabilityCacheTTL = time.Duration(cacheTTLSec) * time.Second

	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if cfg.KafkaGroupID == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_GROUP_ID must not be empty")
	}
	if cfg.AvailabilityStream == "" {
		return AppConfig{}, fmt.Errorf("AVAILABILITY_STREAM must not be empty")
	}
	if cfg.AvailabilityGroup == "" {
		return AppConfig{}, fmt.Errorf("AVAILABILITY_GROUP must not be empty")
	}
	if cfg.AvailabilityConsumer == "" {
		return AppConfig{}, fmt.Errorf("AVAILABILITY_CONSUMER must not be empty")
	}

	return cfg, nil
}

// getEnv reads a string env var, falling back when unset or blank.
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt reads an integer env var, falling back when unset or blank.
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV parses a comma separated string into a slice.
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
