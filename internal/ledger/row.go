// Package ledger turns raw spreadsheet cells into typed ledger rows and
// derives their stable identities.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Columns is the fixed width of one source row in the fetched range.
const Columns = 3

var ErrUnparsableCell = errors.New("unparsable cell")

// Row is one normalized ledger entry. Primary is free text (a date or a
// movement amount depending on the profile), Amount is the cleaned
// numeric secondary column.
type Row struct {
	Primary     string  `json:"primary"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// ParseError reports a source row that could not be normalized. The row is
// skipped; it never aborts the surrounding fetch.
type ParseError struct {
	Index  int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d column %d: %v", e.Index, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// CellString renders a decoded cell value as trimmed text. Values with no
// scalar representation return ErrUnparsableCell.
func CellString(v any) (string, error) {
	switch typed := v.(type) {
	case nil:
		return "", nil
	case string:
		return trimCell(typed), nil
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(typed), nil
	case int64:
		return strconv.FormatInt(typed, 10), nil
	case json.Number:
		return typed.String(), nil
	case bool:
		return strconv.FormatBool(typed), nil
	default:
		return "", ErrUnparsableCell
	}
}

func trimCell(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
}
