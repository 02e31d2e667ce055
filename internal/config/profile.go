package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/agentworkforce/ledgerrelay/internal/ledger"
)

// ProfileFile is the TOML layout of a ledger profile:
//
//	header_tokens = ["datum", "date"]
//	total_token = "celkem"
//
//	[predicate]
//	numeric_primary = true
//	blocklist = ["0", "-"]
//
//	[labels]
//	primary = "Pohyb"
//	description = "Popis"
//	amount = "Zůstatek"
type ProfileFile struct {
	HeaderTokens []string        `toml:"header_tokens"`
	TotalToken   *string         `toml:"total_token"`
	Predicate    PredicateConfig `toml:"predicate"`
	Labels       ledger.Labels   `toml:"labels"`
}

type PredicateConfig struct {
	NumericPrimary bool     `toml:"numeric_primary"`
	Blocklist      []string `toml:"blocklist"`
}

// LoadProfile returns the default profile when path is empty, otherwise the
// default overlaid with the file's settings.
func LoadProfile(path string) (ledger.Profile, error) {
	profile := ledger.DefaultProfile()
	if strings.TrimSpace(path) == "" {
		return profile, nil
	}
	var file ProfileFile
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return ledger.Profile{}, fmt.Errorf("decode profile %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ledger.Profile{}, fmt.Errorf("profile %s: unknown key %q", path, undecoded[0].String())
	}
	return file.apply(profile), nil
}

func (f ProfileFile) apply(profile ledger.Profile) ledger.Profile {
	if len(f.HeaderTokens) > 0 {
		profile.HeaderTokens = f.HeaderTokens
	}
	if f.TotalToken != nil {
		profile.TotalToken = *f.TotalToken
	}
	if f.Predicate.NumericPrimary || len(f.Predicate.Blocklist) > 0 {
		profile.Valid = ledger.NumericPrimary(f.Predicate.Blocklist...)
	}
	if f.Labels.Primary != "" {
		profile.Labels.Primary = f.Labels.Primary
	}
	if f.Labels.Description != "" {
		profile.Labels.Description = f.Labels.Description
	}
	if f.Labels.Amount != "" {
		profile.Labels.Amount = f.Labels.Amount
	}
	return profile
}
