package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string

	AlmostFullPercent   int
	HistogramWindowDays int

	NotifyURL       string
	NotifyInterval  time.Duration
	NotifyBatchSize int

	RateLimitPerMinute      int
	RateLimitBurst          int
	ActorRateLimitPerMinute int
	ActorRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                    port,
		DatabaseURL:             os.Getenv("DB_DSN"),
		AlmostFullPercent:       readInt("ALMOST_FULL_PERCENT", 20),
		HistogramWindowDays:     readInt("HISTOGRAM_WINDOW_DAYS", 30),
		NotifyURL:               os.Getenv("NOTIFY_URL"),
		NotifyInterval:          readDurationSeconds("NOTIFY_SCAN_INTERVAL_SECONDS", 15),
		NotifyBatchSize:         readInt("NOTIFY_BATCH_SIZE", 50),
		RateLimitPerMinute:      readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:          readInt("RATE_LIMIT_BURST", 30),
		ActorRateLimitPerMinute: readInt("ACTOR_RATE_LIMIT_PER_MIN", 600),
		ActorRateLimitBurst:     readInt("ACTOR_RATE_LIMIT_BURST", 120),
	}
}

// AlmostFullRatio converts the configured percentage into the fraction the
// capacity tracker expects.
func (c Config) AlmostFullRatio() float64 {
	return float64(c.AlmostFullPercent) / 100.0
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
