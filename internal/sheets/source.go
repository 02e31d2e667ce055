package sheets

import (
	"context"

	"github.com/agentworkforce/ledgerrelay/internal/ledger"
)

type cellFetcher interface {
	FetchRange(ctx context.Context, spreadsheetID, a1Range string) ([]any, error)
}

// RowSource fetches the configured range and parses it into ledger rows.
type RowSource struct {
	fetcher       cellFetcher
	parser        *ledger.Parser
	spreadsheetID string
	a1Range       string
}

func NewRowSource(client *Client, parser *ledger.Parser, spreadsheetID, sheetName, cells string) *RowSource {
	return &RowSource{
		fetcher:       client,
		parser:        parser,
		spreadsheetID: spreadsheetID,
		a1Range:       A1Range(sheetName, cells),
	}
}

func (s *RowSource) Fetch(ctx context.Context) ([]ledger.Row, error) {
	cells, err := s.fetcher.FetchRange(ctx, s.spreadsheetID, s.a1Range)
	if err != nil {
		return nil, err
	}
	return s.parser.Parse(cells), nil
}

func (s *RowSource) Range() string {
	return s.a1Range
}
