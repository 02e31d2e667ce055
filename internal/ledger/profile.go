package ledger

import "strings"

// Predicate decides whether an otherwise well-formed row is kept.
type Predicate func(Row) bool

// Labels name the three columns in rendered messages.
type Labels struct {
	Primary     string `toml:"primary"`
	Description string `toml:"description"`
	Amount      string `toml:"amount"`
}

// Profile captures everything that differs between ledger sheets: which
// header and summary rows to discard, an optional validity predicate and
// how the columns are labelled.
type Profile struct {
	HeaderTokens []string
	TotalToken   string
	Valid        Predicate
	Labels       Labels
}

func DefaultProfile() Profile {
	return Profile{
		HeaderTokens: []string{"date", "datum"},
		TotalToken:   "celkem",
		Labels:       DefaultLabels(),
	}
}

func DefaultLabels() Labels {
	return Labels{
		Primary:     "Datum",
		Description: "Popis",
		Amount:      "Částka",
	}
}

// NumericPrimary keeps rows whose primary column cleans to a non-zero
// number and does not match any blocklisted literal (case-insensitive).
// Sheets that log balance movements in the primary column use it to drop
// "nothing happened" filler entries.
func NumericPrimary(blocklist ...string) Predicate {
	blocked := make(map[string]struct{}, len(blocklist))
	for _, item := range blocklist {
		item = strings.ToLower(trimCell(item))
		if item != "" {
			blocked[item] = struct{}{}
		}
	}
	return func(r Row) bool {
		if _, skip := blocked[strings.ToLower(trimCell(r.Primary))]; skip {
			return false
		}
		return CleanNumber(r.Primary) != 0
	}
}

func (p Profile) isHeader(primary string) bool {
	lower := strings.ToLower(primary)
	for _, token := range p.HeaderTokens {
		if lower == strings.ToLower(strings.TrimSpace(token)) {
			return true
		}
	}
	total := strings.ToLower(strings.TrimSpace(p.TotalToken))
	return total != "" && strings.Contains(lower, total)
}
