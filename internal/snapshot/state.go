package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentworkforce/ledgerrelay/internal/ledger"
)

var (
	ErrMalformedState = errors.New("malformed state document")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// Entry is the persisted record of one row identity.
type Entry struct {
	Row ledger.Row
	// Handle is the chat message created for the row; empty until the
	// notifier confirmed creation.
	Handle string
}

type State struct {
	Bootstrapped bool
	Entries      map[string]Entry
	UpdatedAt    time.Time
}

func NewState() State {
	return State{Entries: map[string]Entry{}}
}

func (s State) Clone() State {
	out := State{
		Bootstrapped: s.Bootstrapped,
		Entries:      make(map[string]Entry, len(s.Entries)),
		UpdatedAt:    s.UpdatedAt,
	}
	for key, entry := range s.Entries {
		out.Entries[key] = entry
	}
	return out
}

type document struct {
	Bootstrapped *bool                    `json:"bootstrapped,omitempty"`
	UpdatedAt    string                   `json:"updatedAt,omitempty"`
	Rows         map[string]documentEntry `json:"rows"`
}

type documentEntry struct {
	Data   map[string]any `json:"data"`
	Handle string         `json:"notificationHandle,omitempty"`
}

// Encode renders the state as the durable JSON document.
func Encode(state State) ([]byte, error) {
	bootstrapped := state.Bootstrapped
	doc := document{
		Bootstrapped: &bootstrapped,
		Rows:         make(map[string]documentEntry, len(state.Entries)),
	}
	if !state.UpdatedAt.IsZero() {
		doc.UpdatedAt = state.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	for key, entry := range state.Entries {
		doc.Rows[key] = documentEntry{
			Data: map[string]any{
				"primary":     entry.Row.Primary,
				"description": entry.Row.Description,
				"amount":      entry.Row.Amount,
			},
			Handle: entry.Handle,
		}
	}
	return json.Marshal(doc)
}

// Decode parses a durable document. Row data is read leniently: unknown
// fields are ignored, missing fields default, and the field names written
// by earlier releases are accepted. A document that is not valid JSON or
// fails the state schema yields an empty state and ErrMalformedState.
func Decode(data []byte) (State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NewState(), nil
	}
	if err := validateDocument(data); err != nil {
		return NewState(), fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	var raw map[string]json.RawMessage
	if err := unmarshalNumbers(data, &raw); err != nil {
		return NewState(), fmt.Errorf("%w: %v", ErrMalformedState, err)
	}

	state := NewState()
	rows := map[string]json.RawMessage{}
	if rawRows, ok := raw["rows"]; ok {
		if err := unmarshalNumbers(rawRows, &rows); err != nil {
			return NewState(), fmt.Errorf("%w: rows: %v", ErrMalformedState, err)
		}
	} else {
		// Older documents kept entries at the top level.
		for key, value := range raw {
			if looksLikeEntry(value) {
				rows[key] = value
			}
		}
	}
	for key, value := range rows {
		var fields map[string]any
		if err := unmarshalNumbers(value, &fields); err != nil || fields == nil {
			continue
		}
		data, _ := fields["data"].(map[string]any)
		state.Entries[key] = Entry{
			Row:    rowFromFields(data),
			Handle: handleFromFields(fields),
		}
	}

	state.Bootstrapped = len(state.Entries) > 0
	if rawFlag, ok := raw["bootstrapped"]; ok {
		var flag bool
		if err := json.Unmarshal(rawFlag, &flag); err == nil {
			state.Bootstrapped = flag
		}
	}
	if rawUpdated, ok := raw["updatedAt"]; ok {
		var updated string
		if err := json.Unmarshal(rawUpdated, &updated); err == nil {
			if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
				state.UpdatedAt = ts
			}
		}
	}
	return state, nil
}

var (
	primaryAliases     = []string{"primary", "datum", "date", "pohyb"}
	descriptionAliases = []string{"description", "popis"}
	amountAliases      = []string{"amount", "castka", "balance", "zustatek"}
	handleAliases      = []string{"notificationHandle", "message_id", "messageId", "handle"}
)

func rowFromFields(fields map[string]any) ledger.Row {
	var row ledger.Row
	if v, ok := lookupAlias(fields, primaryAliases); ok {
		row.Primary, _ = ledger.CellString(v)
	}
	if v, ok := lookupAlias(fields, descriptionAliases); ok {
		row.Description, _ = ledger.CellString(v)
	}
	if v, ok := lookupAlias(fields, amountAliases); ok {
		row.Amount = ledger.CleanNumber(v)
	}
	return row
}

func handleFromFields(fields map[string]any) string {
	v, ok := lookupAlias(fields, handleAliases)
	if !ok {
		return ""
	}
	handle, err := ledger.CellString(v)
	if err != nil {
		return ""
	}
	return handle
}

func lookupAlias(fields map[string]any, aliases []string) (any, bool) {
	for _, alias := range aliases {
		if v, ok := fields[alias]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func looksLikeEntry(value json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(value, &probe); err != nil {
		return false
	}
	_, ok := probe["data"]
	return ok
}

func unmarshalNumbers(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

func stateKeyOrDefault(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return defaultStateKey
	}
	return key
}
