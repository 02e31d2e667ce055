package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentworkforce/ledgerrelay/internal/ledger"
)

var allEnv = []string{
	"LEDGERRELAY_DISCORD_TOKEN", "DISCORD_TOKEN",
	"LEDGERRELAY_GUILD_ID", "GUILD_ID",
	"LEDGERRELAY_CHANNEL_ID", "CHANNEL_ID",
	"LEDGERRELAY_SHEET_ID", "GOOGLE_SHEET_ID",
	"LEDGERRELAY_SHEET_NAME", "LEDGERRELAY_SHEET_RANGE",
	"LEDGERRELAY_SHEETS_TOKEN", "LEDGERRELAY_SHEETS_API_KEY",
	"LEDGERRELAY_SHEETS_BASE_URL", "LEDGERRELAY_DISCORD_BASE_URL",
	"LEDGERRELAY_STATE_DSN", "LEDGERRELAY_POLL_INTERVAL", "LEDGERRELAY_POLL_JITTER",
	"LEDGERRELAY_FETCH_TIMEOUT", "LEDGERRELAY_NATS_URL", "LEDGERRELAY_HTTP_ADDR",
	"LEDGERRELAY_JWT_SECRET", "LEDGERRELAY_RATE_LIMIT_MAX", "LEDGERRELAY_RATE_LIMIT_WINDOW",
	"LEDGERRELAY_PROFILE_FILE", "LEDGERRELAY_COMMAND_PREFIX",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range allEnv {
		t.Setenv(name, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SheetName != DefaultSheetName || cfg.SheetRange != DefaultSheetRange {
		t.Fatalf("unexpected sheet defaults: %q %q", cfg.SheetName, cfg.SheetRange)
	}
	if cfg.StateDSN != DefaultStateDSN {
		t.Fatalf("unexpected state dsn: %q", cfg.StateDSN)
	}
	if cfg.PollInterval != 5*time.Minute || cfg.FetchTimeout != 30*time.Second {
		t.Fatalf("unexpected durations: %s %s", cfg.PollInterval, cfg.FetchTimeout)
	}
	if cfg.PollJitter != DefaultPollJitter || cfg.CommandPrefix != "!" {
		t.Fatalf("unexpected jitter/prefix: %v %q", cfg.PollJitter, cfg.CommandPrefix)
	}
	if cfg.RateLimitWindow != time.Minute || cfg.RateLimitMax != 0 {
		t.Fatalf("unexpected rate limit: %d/%s", cfg.RateLimitMax, cfg.RateLimitWindow)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEDGERRELAY_DISCORD_TOKEN", "tok")
	t.Setenv("DISCORD_TOKEN", "legacy")
	t.Setenv("CHANNEL_ID", "1443610848391204955")
	t.Setenv("GOOGLE_SHEET_ID", "sheet-1")
	t.Setenv("LEDGERRELAY_POLL_INTERVAL", "90s")
	t.Setenv("LEDGERRELAY_POLL_JITTER", "0.25")
	t.Setenv("LEDGERRELAY_RATE_LIMIT_MAX", "30")
	t.Setenv("LEDGERRELAY_STATE_DSN", "sqlite:///var/lib/ledgerrelay/state.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiscordToken != "tok" {
		t.Fatalf("prefixed variable should win, got %q", cfg.DiscordToken)
	}
	if cfg.ChannelID != "1443610848391204955" || cfg.SheetID != "sheet-1" {
		t.Fatalf("legacy names not honored: %+v", cfg)
	}
	if cfg.PollInterval != 90*time.Second || cfg.PollJitter != 0.25 || cfg.RateLimitMax != 30 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.StateDSN != "sqlite:///var/lib/ledgerrelay/state.db" {
		t.Fatalf("unexpected dsn: %q", cfg.StateDSN)
	}
}

func TestLoadRejectsBadInterval(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEDGERRELAY_POLL_INTERVAL", "soon")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "LEDGERRELAY_POLL_INTERVAL") {
		t.Fatalf("expected interval error, got %v", err)
	}

	t.Setenv("LEDGERRELAY_POLL_INTERVAL", "0s")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func TestLoadToleratesBadOptionalNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEDGERRELAY_POLL_JITTER", "lots")
	t.Setenv("LEDGERRELAY_RATE_LIMIT_WINDOW", "forever")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollJitter != DefaultPollJitter || cfg.RateLimitWindow != time.Minute {
		t.Fatalf("expected fallbacks, got %v %s", cfg.PollJitter, cfg.RateLimitWindow)
	}
}

func TestRequireSettings(t *testing.T) {
	cfg := &Config{}
	if err := cfg.RequireSheets(); !errors.Is(err, ErrMissingSetting) {
		t.Fatalf("expected missing sheet id, got %v", err)
	}
	cfg.SheetID = "sheet"
	if err := cfg.RequireSheets(); !errors.Is(err, ErrMissingSetting) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
	cfg.SheetsAPIKey = "key"
	if err := cfg.RequireSheets(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := cfg.RequireDiscord(); !errors.Is(err, ErrMissingSetting) {
		t.Fatalf("expected missing token, got %v", err)
	}
	cfg.DiscordToken = "tok"
	if err := cfg.RequireDiscord(); err == nil || !strings.Contains(err.Error(), "CHANNEL_ID") {
		t.Fatalf("expected missing channel, got %v", err)
	}
	cfg.ChannelID = "chan"
	if err := cfg.RequireDiscord(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadProfileDefault(t *testing.T) {
	profile, err := LoadProfile("")
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if profile.TotalToken != "celkem" || profile.Valid != nil {
		t.Fatalf("unexpected default profile: %+v", profile)
	}
}

func TestLoadProfileFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	content := `header_tokens = ["pohyb"]
total_token = ""

[predicate]
numeric_primary = true
blocklist = ["0"]

[labels]
primary = "Pohyb"
amount = "Zůstatek"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	profile, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if len(profile.HeaderTokens) != 1 || profile.HeaderTokens[0] != "pohyb" {
		t.Fatalf("unexpected header tokens: %v", profile.HeaderTokens)
	}
	if profile.TotalToken != "" {
		t.Fatalf("explicit empty total token should clear it, got %q", profile.TotalToken)
	}
	if profile.Labels.Primary != "Pohyb" || profile.Labels.Description != "Popis" || profile.Labels.Amount != "Zůstatek" {
		t.Fatalf("unexpected labels: %+v", profile.Labels)
	}
	if profile.Valid == nil {
		t.Fatalf("expected numeric predicate")
	}
	if profile.Valid(ledger.Row{Primary: "0"}) || !profile.Valid(ledger.Row{Primary: "1 500"}) {
		t.Fatalf("predicate misbehaves")
	}
}

func TestLoadProfileErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadProfile(filepath.Join(dir, "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	unknown := filepath.Join(dir, "unknown.toml")
	if err := os.WriteFile(unknown, []byte("colour = \"red\"\n"), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	if _, err := LoadProfile(unknown); err == nil || !strings.Contains(err.Error(), "colour") {
		t.Fatalf("expected unknown key error, got %v", err)
	}

	broken := filepath.Join(dir, "broken.toml")
	if err := os.WriteFile(broken, []byte("header_tokens = [\n"), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	if _, err := LoadProfile(broken); err == nil {
		t.Fatalf("expected decode error")
	}
}
