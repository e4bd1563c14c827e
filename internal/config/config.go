package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is assembled from ALICE_-prefixed environment variables, with
// an optional .env file loaded first.
type Config struct {
	Addr   string
	DBPath string

	ChallengeTTL time.Duration
	MinShares    int64
	MaxSyncLag   time.Duration

	ChainTimeout time.Duration
	SyncInterval time.Duration

	MonadRPC        string
	MonadContract   string
	MonadStartBlock uint64

	SuiRPC          string
	SuiEventType    string
	SuiSharesObject string

	TelegramAPIBase string
	TelegramTimeout time.Duration

	RateLimit       int
	RateLimitWindow time.Duration
}

// Load reads configuration from the environment. A missing .env file is
// not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:   envString("ALICE_ADDR", ":8080"),
		DBPath: envString("ALICE_DB_PATH", "alice.db"),

		ChallengeTTL: envDuration("ALICE_CHALLENGE_TTL", 5*time.Minute),
		MinShares:    envInt64("ALICE_MIN_SHARES", 1),
		MaxSyncLag:   envDuration("ALICE_MAX_SYNC_LAG", 0),

		ChainTimeout: envDuration("ALICE_CHAIN_TIMEOUT", 10*time.Second),
		SyncInterval: envDuration("ALICE_SYNC_INTERVAL", 15*time.Second),

		MonadRPC:        envString("ALICE_MONAD_RPC", ""),
		MonadContract:   envString("ALICE_MONAD_CONTRACT", ""),
		MonadStartBlock: envUint64("ALICE_MONAD_START_BLOCK", 0),

		SuiRPC:          envString("ALICE_SUI_RPC", ""),
		SuiEventType:    envString("ALICE_SUI_EVENT_TYPE", ""),
		SuiSharesObject: envString("ALICE_SUI_SHARES_OBJECT", ""),

		TelegramAPIBase: envString("ALICE_TELEGRAM_API_BASE", ""),
		TelegramTimeout: envDuration("ALICE_TELEGRAM_TIMEOUT", 10*time.Second),

		RateLimit:       int(envInt64("ALICE_RATE_LIMIT", 30)),
		RateLimitWindow: envDuration("ALICE_RATE_LIMIT_WINDOW", time.Minute),
	}

	if cfg.MonadRPC == "" && cfg.SuiRPC == "" {
		return Config{}, fmt.Errorf("no chain configured: set ALICE_MONAD_RPC or ALICE_SUI_RPC")
	}
	if cfg.MonadRPC != "" && cfg.MonadContract == "" {
		return Config{}, fmt.Errorf("ALICE_MONAD_CONTRACT is required when ALICE_MONAD_RPC is set")
	}
	if cfg.SuiRPC != "" && (cfg.SuiEventType == "" || cfg.SuiSharesObject == "") {
		return Config{}, fmt.Errorf("ALICE_SUI_EVENT_TYPE and ALICE_SUI_SHARES_OBJECT are required when ALICE_SUI_RPC is set")
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envUint64(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
