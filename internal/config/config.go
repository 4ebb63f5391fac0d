package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// API scopes. ScopeOwner limits /api/ to the caller's tasks; ScopeGlobal
// exposes every task to any authenticated caller.
const (
	ScopeOwner  = "owner"
	ScopeGlobal = "global"
)

// Config keeps runtime settings for the server and the bot.
type Config struct {
	HTTPAddr       string        `toml:"http_addr"`
	DatabaseURL    string        `toml:"database_url"`
	SecretKey      string        `toml:"secret_key"`
	SessionTTL     time.Duration `toml:"-"`
	SessionHours   int           `toml:"session_ttl_hours"`
	APIScope       string        `toml:"api_scope"`
	TelegramToken  string        `toml:"telegram_token"`
	DigestInterval time.Duration `toml:"-"`
	DigestHours    int           `toml:"digest_interval_hours"`
	LogFile        string        `toml:"log_file"`
	LogLevel       string        `toml:"log_level"`
}

// Load reads configuration from an optional .env file, an optional TOML file
// named by TASKLIST_CONFIG and environment variables, in increasing priority.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if path := strings.TrimSpace(os.Getenv("TASKLIST_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	overrideString(&cfg.HTTPAddr, "HTTP_ADDR")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.SecretKey, "SECRET_KEY")
	overrideString(&cfg.APIScope, "API_SCOPE")
	overrideString(&cfg.TelegramToken, "TELEGRAM_TOKEN")
	overrideString(&cfg.LogFile, "LOG_FILE")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	if err := overrideHours(&cfg.SessionHours, "SESSION_TTL_HOURS"); err != nil {
		return cfg, err
	}
	if err := overrideHours(&cfg.DigestHours, "DIGEST_INTERVAL_HOURS"); err != nil {
		return cfg, err
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8000"
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "tasklist.db"
	}
	if cfg.SessionHours <= 0 {
		cfg.SessionHours = 24
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.APIScope = strings.ToLower(cfg.APIScope)
	if cfg.APIScope == "" {
		cfg.APIScope = ScopeOwner
	}

	cfg.SessionTTL = time.Duration(cfg.SessionHours) * time.Hour
	if cfg.DigestHours > 0 {
		cfg.DigestInterval = time.Duration(cfg.DigestHours) * time.Hour
	}

	if cfg.APIScope != ScopeOwner && cfg.APIScope != ScopeGlobal {
		return cfg, fmt.Errorf("API_SCOPE must be %q or %q, got %q", ScopeOwner, ScopeGlobal, cfg.APIScope)
	}
	if cfg.SecretKey == "" {
		return cfg, fmt.Errorf("SECRET_KEY is required")
	}

	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func overrideHours(dst *int, key string) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours < 0 {
		return fmt.Errorf("%s must be a non-negative integer, got %q", key, raw)
	}
	*dst = hours
	return nil
}
