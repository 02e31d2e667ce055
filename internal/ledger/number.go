package ledger

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var (
	nonNumeric      = regexp.MustCompile(`[^\d.,\-]`)
	groupedThousand = regexp.MustCompile(`^-?\d{1,3}(\.\d{3})+$`)
)

// CleanNumber normalizes a locale-formatted cell into a float. It never
// fails: empty input, a lone minus sign and anything unparsable yield 0.
//
// The comma is the decimal separator. A period is a thousands separator
// when a comma is also present or when the value is written in grouped
// thousands ("10.000"); otherwise it is read as a decimal point.
func CleanNumber(v any) float64 {
	switch typed := v.(type) {
	case nil:
		return 0
	case float64:
		return typed
	case float32:
		return float64(typed)
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	case json.Number:
		return cleanNumberString(typed.String())
	case string:
		return cleanNumberString(typed)
	default:
		s, err := CellString(v)
		if err != nil {
			return 0
		}
		return cleanNumberString(s)
	}
}

func cleanNumberString(s string) float64 {
	s = strings.ReplaceAll(s, "\u00a0", "")
	s = strings.ReplaceAll(s, " ", "")
	s = nonNumeric.ReplaceAllString(s, "")
	if strings.Contains(s, ",") || groupedThousand.MatchString(s) {
		s = strings.ReplaceAll(s, ".", "")
	}
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" || s == "-" {
		return 0
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return value
}
