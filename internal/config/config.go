package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// LoadConfig reads .env (when present) and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.CommandPrefix) == "" {
		return ErrConfig("COMMAND_PREFIX must not be blank")
	}
	if c.SearchResults < 1 || c.SearchResults > 10 {
		return ErrConfig("SEARCH_RESULTS must be between 1 and 10")
	}
	if c.ChoiceTimeout <= 0 {
		return ErrConfig("CHOICE_TIMEOUT must be positive")
	}
	if c.ResolverRate <= 0 {
		return ErrConfig("RESOLVER_RATE must be positive")
	}
	if (c.SpotifyClientID == "") != (c.SpotifyClientSecret == "") {
		return ErrConfig("SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET must be set together")
	}
	switch c.BotStatus {
	case "online", "dnd", "idle", "invisible":
	default:
		return ErrConfig("BOT_STATUS must be one of online, dnd, idle, invisible")
	}
	return nil
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
