package ledger

import (
	"iter"
	"slices"
)

// Parser groups a flat cell sequence into rows of Columns cells and
// normalizes each group.
type Parser struct {
	Profile Profile
	// OnError, when set, is called for every skipped unparsable row.
	OnError func(err *ParseError)
}

func NewParser(profile Profile) *Parser {
	return &Parser{Profile: profile}
}

// Rows returns a lazy sequence over the valid rows of cells, in source
// order. The sequence can be ranged over any number of times.
func (p *Parser) Rows(cells []any) iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for start := 0; start < len(cells); start += Columns {
			end := min(start+Columns, len(cells))
			row, ok := p.parseGroup(start/Columns, cells[start:end])
			if !ok {
				continue
			}
			if !yield(row) {
				return
			}
		}
	}
}

func (p *Parser) Parse(cells []any) []Row {
	return slices.Collect(p.Rows(cells))
}

func (p *Parser) parseGroup(index int, group []any) (Row, bool) {
	values := make([]string, Columns)
	for col := 0; col < Columns && col < len(group); col++ {
		value, err := CellString(group[col])
		if err != nil {
			p.reportError(&ParseError{Index: index, Column: col, Err: err})
			return Row{}, false
		}
		values[col] = value
	}
	primary := values[0]
	if primary == "" || p.Profile.isHeader(primary) {
		return Row{}, false
	}
	row := Row{
		Primary:     primary,
		Description: values[1],
	}
	if len(group) > 2 {
		row.Amount = CleanNumber(group[2])
	}
	if p.Profile.Valid != nil && !p.Profile.Valid(row) {
		return Row{}, false
	}
	return row, true
}

func (p *Parser) reportError(err *ParseError) {
	if p.OnError != nil {
		p.OnError(err)
	}
}
