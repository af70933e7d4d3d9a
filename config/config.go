// Package config loads the hedge engine's configuration from the
// environment and an optional .env file, following the teacher's
// cmd/main.go bootstrap idiom.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Config holds every enumerated configuration value from spec.md §6.
type Config struct {
	// Secrets
	DatabaseURL      string
	VenueAAPIKey     string
	VenueAAPISecret  string
	VenueATestnet    bool
	VenueBAPIKey     string
	VenueBAPISecret  string
	TelegramBotToken string
	TelegramChatID   int64

	// Engine tuning (spec.md §6's enumerated configuration)
	MaxSpreadPct           decimal.Decimal
	SpreadSanityUpperBound decimal.Decimal
	PriceFreshness         time.Duration
	PollInterval           time.Duration
	ModifyInterval         time.Duration
	NakedAttemptWait       time.Duration
	NakedMarketWait        time.Duration
}

// Load reads Config from the environment, applying .env via godotenv if
// present. Missing secrets fail fast; tuning values fall back to the
// spec.md §6 defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, reading environment directly")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		VenueAAPIKey:     os.Getenv("COINDCX_API_KEY"),
		VenueAAPISecret:  os.Getenv("COINDCX_API_SECRET"),
		VenueATestnet:    os.Getenv("COINDCX_TESTNET") == "true",
		VenueBAPIKey:     os.Getenv("BYBIT_API_KEY"),
		VenueBAPISecret:  os.Getenv("BYBIT_API_SECRET"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   parseInt64(os.Getenv("TELEGRAM_CHAT_ID"), 0),

		MaxSpreadPct:           parseDecimal(os.Getenv("MAX_SPREAD_PCT"), decimal.NewFromFloat(0.2)),
		SpreadSanityUpperBound: parseDecimal(os.Getenv("SPREAD_SANITY_UPPER_BOUND"), decimal.NewFromFloat(5.0)),
		PriceFreshness:         parseSeconds(os.Getenv("PRICE_FRESHNESS_SECONDS"), 3*time.Second),
		PollInterval:           parseSeconds(os.Getenv("POLL_INTERVAL_SECONDS"), 1*time.Second),
		ModifyInterval:         parseSeconds(os.Getenv("MODIFY_INTERVAL_SECONDS"), 5*time.Second),
		NakedAttemptWait:       parseSeconds(os.Getenv("NAKED_ATTEMPT_WAIT_SECONDS"), 5*time.Second),
		NakedMarketWait:        parseSeconds(os.Getenv("NAKED_MARKET_WAIT_SECONDS"), 30*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.VenueAAPIKey == "" || cfg.VenueAAPISecret == "" {
		return nil, fmt.Errorf("COINDCX_API_KEY / COINDCX_API_SECRET are required")
	}
	if cfg.VenueBAPIKey == "" || cfg.VenueBAPISecret == "" {
		return nil, fmt.Errorf("BYBIT_API_KEY / BYBIT_API_SECRET are required")
	}

	return cfg, nil
}

func parseDecimal(s string, fallback decimal.Decimal) decimal.Decimal {
	if s == "" {
		return fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Warn().Str("value", s).Msg("invalid decimal config value, using default")
		return fallback
	}
	return d
}

func parseSeconds(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	secs, err := strconv.Atoi(s)
	if err != nil {
		log.Warn().Str("value", s).Msg("invalid duration config value, using default")
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func parseInt64(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Warn().Str("value", s).Msg("invalid int config value, using default")
		return fallback
	}
	return v
}
