package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresDSN    string
	RedisAddr      string
	RabbitURL      string
	MongoURI       string
	HTTPAddr       string
	HoldTTL        time.Duration
	SweepBatchSize int
	SweepInterval  time.Duration
	OTLPEndpoint   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	holdTTL, _ := time.ParseDuration(os.Getenv("HOLD_TTL"))
	if holdTTL == 0 {
		holdTTL = 15 * time.Minute
	}

	sweepInterval, _ := time.ParseDuration(os.Getenv("SWEEP_INTERVAL"))
	if sweepInterval == 0 {
		sweepInterval = time.Minute
	}

	batchSize, _ := strconv.Atoi(os.Getenv("SWEEP_BATCH_SIZE"))
	if batchSize == 0 {
		batchSize = 100
	}

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	return &Config{
		PostgresDSN:    os.Getenv("PG_DSN"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RabbitURL:      os.Getenv("RABBIT_URL"),
		MongoURI:       os.Getenv("MONGO_URI"),
		HTTPAddr:       httpAddr,
		HoldTTL:        holdTTL,
		SweepBatchSize: batchSize,
		SweepInterval:  sweepInterval,
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}
