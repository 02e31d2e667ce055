package ledger

import (
	"errors"
	"testing"
)

func TestParserSkipsHeadersTotalsAndBlanks(t *testing.T) {
	cells := []any{
		"Datum", "Popis", "Částka",
		"1.1.2025", "Nájem", "10 000",
		"", "orphan description", "5",
		nil, nil, nil,
		"2.1.2025", " Elektřina ", "-1 250,50",
		"Celkem za leden", "", "8 749,50",
		"DATE", "x", "1",
	}
	rows := NewParser(DefaultProfile()).Parse(cells)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	if rows[0] != (Row{Primary: "1.1.2025", Description: "Nájem", Amount: 10000}) {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[1] != (Row{Primary: "2.1.2025", Description: "Elektřina", Amount: -1250.5}) {
		t.Fatalf("unexpected second row: %+v", rows[1])
	}
}

func TestParserHandlesShortTrailingGroup(t *testing.T) {
	cells := []any{"1.1.2025", "Nájem", "100", "3.1.2025"}
	rows := NewParser(DefaultProfile()).Parse(cells)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[1].Description != "" || rows[1].Amount != 0 {
		t.Fatalf("expected defaults for missing cells, got %+v", rows[1])
	}
}

func TestParserRowsIsRestartable(t *testing.T) {
	cells := []any{"a", "b", "1", "c", "d", "2"}
	seq := NewParser(DefaultProfile()).Rows(cells)
	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	if first != 2 || second != 2 {
		t.Fatalf("expected sequence to yield 2 rows twice, got %d and %d", first, second)
	}
}

func TestParserReportsAndSkipsUnparsableRows(t *testing.T) {
	var reported []*ParseError
	parser := NewParser(DefaultProfile())
	parser.OnError = func(err *ParseError) {
		reported = append(reported, err)
	}
	cells := []any{
		"1.1.2025", map[string]any{"rich": true}, "100",
		"2.1.2025", "ok", "200",
	}
	rows := parser.Parse(cells)
	if len(rows) != 1 || rows[0].Description != "ok" {
		t.Fatalf("expected only the parsable row, got %+v", rows)
	}
	if len(reported) != 1 {
		t.Fatalf("expected one parse error, got %d", len(reported))
	}
	if reported[0].Index != 0 || reported[0].Column != 1 {
		t.Fatalf("unexpected parse error position: %+v", reported[0])
	}
	if !errors.Is(reported[0], ErrUnparsableCell) {
		t.Fatalf("expected ErrUnparsableCell, got %v", reported[0])
	}
}

func TestNumericPrimaryPredicate(t *testing.T) {
	profile := DefaultProfile()
	profile.Valid = NumericPrimary("nic", "Bez pohybu")
	cells := []any{
		"500", "vklad", "1500",
		"0", "nula", "1500",
		"Nic", "", "1500",
		"bez pohybu", "", "1500",
		"-200", "výběr", "1300",
		"vtip", "", "1300",
	}
	rows := NewParser(profile).Parse(cells)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].Primary != "500" || rows[1].Primary != "-200" {
		t.Fatalf("unexpected rows kept: %+v", rows)
	}
}
