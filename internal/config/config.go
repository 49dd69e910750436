package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultDailySpendCap is the per-order rolling 24h spend cap in USD.
	DefaultDailySpendCap = 500.0

	// DefaultTickInterval is how often the scheduler evaluates due orders.
	DefaultTickInterval = time.Minute

	// DefaultWorkerCount bounds concurrent order executions within a tick.
	DefaultWorkerCount = 5

	// DefaultDispatchTimeout bounds a single domain operation call.
	DefaultDispatchTimeout = 30 * time.Second

	// DefaultConfirmationTimeout bounds the wait for an intent confirmation.
	DefaultConfirmationTimeout = 5 * time.Minute

	// DefaultMinConfidence is the floor below which planner output is rejected.
	DefaultMinConfidence = 0.5

	DefaultPort         = "8080"
	DefaultDatabasePath = "autopilot.db"
)

// Config carries all engine settings. It is built once at startup and passed
// explicitly to every component constructor.
type Config struct {
	DailySpendCap       float64
	TickInterval        time.Duration
	WorkerCount         int
	DispatchTimeout     time.Duration
	ConfirmationTimeout time.Duration
	MinConfidence       float64
	Port                string
	DatabasePath        string
	JWTSecret           string
}

// Load reads configuration from the environment, falling back to defaults.
// A .env file is honoured when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	cfg := &Config{
		DailySpendCap:       DefaultDailySpendCap,
		TickInterval:        DefaultTickInterval,
		WorkerCount:         DefaultWorkerCount,
		DispatchTimeout:     DefaultDispatchTimeout,
		ConfirmationTimeout: DefaultConfirmationTimeout,
		MinConfidence:       DefaultMinConfidence,
		Port:                DefaultPort,
		DatabasePath:        DefaultDatabasePath,
		JWTSecret:           "autopilot-secret-key",
	}

	if v := os.Getenv("DAILY_SPEND_CAP"); v != "" {
		cap, err := strconv.ParseFloat(v, 64)
		if err != nil || cap <= 0 {
			return nil, fmt.Errorf("invalid DAILY_SPEND_CAP %q", v)
		}
		cfg.DailySpendCap = cap
	}

	if v := os.Getenv("TICK_INTERVAL_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid TICK_INTERVAL_SECONDS %q", v)
		}
		cfg.TickInterval = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("WORKER_COUNT"); v != "" {
		count, err := strconv.Atoi(v)
		if err != nil || count <= 0 {
			return nil, fmt.Errorf("invalid WORKER_COUNT %q", v)
		}
		cfg.WorkerCount = count
	}

	if v := os.Getenv("DISPATCH_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid DISPATCH_TIMEOUT_SECONDS %q", v)
		}
		cfg.DispatchTimeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("CONFIRMATION_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid CONFIRMATION_TIMEOUT_SECONDS %q", v)
		}
		cfg.ConfirmationTimeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("MIN_PLANNER_CONFIDENCE"); v != "" {
		min, err := strconv.ParseFloat(v, 64)
		if err != nil || min < 0 || min > 1 {
			return nil, fmt.Errorf("invalid MIN_PLANNER_CONFIDENCE %q", v)
		}
		cfg.MinConfidence = min
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}

	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}

	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}

	return cfg, nil
}
