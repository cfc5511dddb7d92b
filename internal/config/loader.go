package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	boterrors "github.com/ducle1408/futures-sentinel/internal/errors"
)

// Load reads a TOML configuration file at path (optional), merges it on top
// of the built-in defaults, then applies SENTINEL_* environment overrides.
// Callers must invoke Validate on the result before using it.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, boterrors.NewConfigurationError("config", "load",
				fmt.Sprintf("failed to decode config file %s: %v", path, err))
		}
	}

	// Load .env if present; secrets are injected at deploy time without
	// touching the TOML file.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Exchange.Name, "SENTINEL_EXCHANGE")
	setStr(&cfg.Exchange.Category, "SENTINEL_EXCHANGE_CATEGORY")
	setStr(&cfg.Exchange.APIKey, "SENTINEL_API_KEY")
	setStr(&cfg.Exchange.APISecret, "SENTINEL_API_SECRET")
	setBool(&cfg.Exchange.Testnet, "SENTINEL_TESTNET")
	setBool(&cfg.Exchange.Demo, "SENTINEL_DEMO")

	setFloat(&cfg.Risk.DailyLossCapPct, "SENTINEL_DAILY_LOSS_CAP_PCT")
	setInt(&cfg.Risk.MaxOpenPositions, "SENTINEL_MAX_OPEN_POSITIONS")
	setFloat(&cfg.Risk.HeatCeiling, "SENTINEL_HEAT_CEILING")

	setFloat(&cfg.Sizing.Leverage, "SENTINEL_LEVERAGE")
	setFloat(&cfg.Sizing.MaxFraction, "SENTINEL_MAX_FRACTION")

	setStr(&cfg.State.Dir, "SENTINEL_STATE_DIR")
	setStr(&cfg.Journal.Dir, "SENTINEL_JOURNAL_DIR")
	setStr(&cfg.Monitoring.ListenAddr, "SENTINEL_LISTEN_ADDR")

	setStr(&cfg.Notifications.TelegramToken, "SENTINEL_TELEGRAM_TOKEN")
	setStr(&cfg.Notifications.TelegramChatID, "SENTINEL_TELEGRAM_CHAT_ID")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
