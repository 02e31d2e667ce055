package ledger

import (
	"encoding/json"
	"testing"
)

func TestCleanNumber(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want float64
	}{
		{name: "space thousands", in: "10 000", want: 10000},
		{name: "nbsp thousands", in: "10\u00a0000", want: 10000},
		{name: "period thousands", in: "10.000", want: 10000},
		{name: "comma decimal", in: "10,5", want: 10.5},
		{name: "lone minus", in: "-", want: 0},
		{name: "empty", in: "", want: 0},
		{name: "nil", in: nil, want: 0},
		{name: "currency suffix", in: "1 250 Kč", want: 1250},
		{name: "negative", in: "-3 400", want: -3400},
		{name: "grouped with decimals", in: "1.234,56", want: 1234.56},
		{name: "plain decimal", in: "10.5", want: 10.5},
		{name: "garbage", in: "n/a", want: 0},
		{name: "double minus", in: "--", want: 0},
		{name: "native float", in: 42.5, want: 42.5},
		{name: "native int", in: 7, want: 7},
		{name: "json number", in: json.Number("12.25"), want: 12.25},
		{name: "nested value", in: map[string]any{"x": 1}, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanNumber(tc.in); got != tc.want {
				t.Fatalf("CleanNumber(%#v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestCellStringRejectsNestedValues(t *testing.T) {
	if _, err := CellString([]any{"a"}); err == nil {
		t.Fatalf("expected nested array cell to be rejected")
	}
	got, err := CellString("  Nájem  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Nájem" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
}
