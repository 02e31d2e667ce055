// Package config reads process settings from LEDGERRELAY_* environment
// variables and the optional ledger profile file.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSheetName     = "Učetnictví"
	DefaultSheetRange    = "B2:D1000"
	DefaultStateDSN      = "file:///tmp/bot_state.json"
	DefaultPollInterval  = 5 * time.Minute
	DefaultPollJitter    = 0.1
	DefaultFetchTimeout  = 30 * time.Second
	DefaultCommandPrefix = "!"
)

var ErrMissingSetting = errors.New("missing required setting")

type Config struct {
	DiscordToken string // LEDGERRELAY_DISCORD_TOKEN or DISCORD_TOKEN
	GuildID      string // LEDGERRELAY_GUILD_ID or GUILD_ID
	ChannelID    string // LEDGERRELAY_CHANNEL_ID or CHANNEL_ID

	SheetID      string // LEDGERRELAY_SHEET_ID or GOOGLE_SHEET_ID
	SheetName    string // LEDGERRELAY_SHEET_NAME (default "Učetnictví")
	SheetRange   string // LEDGERRELAY_SHEET_RANGE (default "B2:D1000")
	SheetsToken  string // LEDGERRELAY_SHEETS_TOKEN (OAuth bearer token)
	SheetsAPIKey string // LEDGERRELAY_SHEETS_API_KEY

	// Endpoint overrides for proxies and tests; empty means the public APIs.
	SheetsBaseURL  string // LEDGERRELAY_SHEETS_BASE_URL
	DiscordBaseURL string // LEDGERRELAY_DISCORD_BASE_URL

	StateDSN     string        // LEDGERRELAY_STATE_DSN (default file:///tmp/bot_state.json)
	PollInterval time.Duration // LEDGERRELAY_POLL_INTERVAL (default 5m)
	PollJitter   float64       // LEDGERRELAY_POLL_JITTER (default 0.1)
	FetchTimeout time.Duration // LEDGERRELAY_FETCH_TIMEOUT (default 30s)

	NATSURL         string        // LEDGERRELAY_NATS_URL (optional, empty = no events)
	HTTPAddr        string        // LEDGERRELAY_HTTP_ADDR (optional, empty = no API)
	JWTSecret       string        // LEDGERRELAY_JWT_SECRET
	RateLimitMax    int           // LEDGERRELAY_RATE_LIMIT_MAX (default 0 = unlimited)
	RateLimitWindow time.Duration // LEDGERRELAY_RATE_LIMIT_WINDOW (default 1m)

	ProfileFile   string // LEDGERRELAY_PROFILE_FILE (optional TOML profile)
	CommandPrefix string // LEDGERRELAY_COMMAND_PREFIX (default "!")
}

func Load() (*Config, error) {
	c := &Config{
		DiscordToken:    envFirst("LEDGERRELAY_DISCORD_TOKEN", "DISCORD_TOKEN"),
		GuildID:         envFirst("LEDGERRELAY_GUILD_ID", "GUILD_ID"),
		ChannelID:       envFirst("LEDGERRELAY_CHANNEL_ID", "CHANNEL_ID"),
		SheetID:         envFirst("LEDGERRELAY_SHEET_ID", "GOOGLE_SHEET_ID"),
		SheetName:       envOrDefault("LEDGERRELAY_SHEET_NAME", DefaultSheetName),
		SheetRange:      envOrDefault("LEDGERRELAY_SHEET_RANGE", DefaultSheetRange),
		SheetsToken:     envOrDefault("LEDGERRELAY_SHEETS_TOKEN", ""),
		SheetsAPIKey:    envOrDefault("LEDGERRELAY_SHEETS_API_KEY", ""),
		SheetsBaseURL:   envOrDefault("LEDGERRELAY_SHEETS_BASE_URL", ""),
		DiscordBaseURL:  envOrDefault("LEDGERRELAY_DISCORD_BASE_URL", ""),
		StateDSN:        envOrDefault("LEDGERRELAY_STATE_DSN", DefaultStateDSN),
		PollJitter:      floatEnv("LEDGERRELAY_POLL_JITTER", DefaultPollJitter),
		NATSURL:         envOrDefault("LEDGERRELAY_NATS_URL", ""),
		HTTPAddr:        envOrDefault("LEDGERRELAY_HTTP_ADDR", ""),
		JWTSecret:       envOrDefault("LEDGERRELAY_JWT_SECRET", ""),
		RateLimitMax:    intEnv("LEDGERRELAY_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("LEDGERRELAY_RATE_LIMIT_WINDOW", time.Minute),
		ProfileFile:     envOrDefault("LEDGERRELAY_PROFILE_FILE", ""),
		CommandPrefix:   envOrDefault("LEDGERRELAY_COMMAND_PREFIX", DefaultCommandPrefix),
	}

	var err error
	if c.PollInterval, err = parseDuration("LEDGERRELAY_POLL_INTERVAL", DefaultPollInterval); err != nil {
		return nil, err
	}
	if c.FetchTimeout, err = parseDuration("LEDGERRELAY_FETCH_TIMEOUT", DefaultFetchTimeout); err != nil {
		return nil, err
	}
	if c.PollInterval <= 0 {
		return nil, fmt.Errorf("LEDGERRELAY_POLL_INTERVAL: must be positive, got %s", c.PollInterval)
	}
	return c, nil
}

// RequireSheets reports the settings missing for reading the ledger.
func (c *Config) RequireSheets() error {
	if c.SheetID == "" {
		return fmt.Errorf("%w: LEDGERRELAY_SHEET_ID", ErrMissingSetting)
	}
	if c.SheetsToken == "" && c.SheetsAPIKey == "" {
		return fmt.Errorf("%w: LEDGERRELAY_SHEETS_TOKEN or LEDGERRELAY_SHEETS_API_KEY", ErrMissingSetting)
	}
	return nil
}

// RequireDiscord reports the settings missing for posting to the channel.
func (c *Config) RequireDiscord() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("%w: LEDGERRELAY_DISCORD_TOKEN", ErrMissingSetting)
	}
	if c.ChannelID == "" {
		return fmt.Errorf("%w: LEDGERRELAY_CHANNEL_ID", ErrMissingSetting)
	}
	return nil
}

// parseDuration rejects malformed values instead of falling back, since a
// typo in the poll interval should stop the process.
func parseDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envFirst(names ...string) string {
	for _, name := range names {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	return ""
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}
