// Package render turns ledger rows into chat messages.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentworkforce/ledgerrelay/internal/ledger"
	"github.com/agentworkforce/ledgerrelay/internal/notify"
)

const (
	ColorNew       = 0x34d399 // rgb(52, 211, 153)
	ColorContinued = 0x3b82f6 // rgb(59, 130, 246)
	ColorSummary   = 0xf1c40f
	ColorOK        = 0x2ecc71

	// ChunkSize is the number of rows per listing message.
	ChunkSize = 10
)

type Renderer struct {
	Labels ledger.Labels
	Title  string
	Now    func() time.Time
}

func New(labels ledger.Labels) *Renderer {
	return &Renderer{Labels: labels, Title: "📊 Účetnictví CZM8", Now: time.Now}
}

func (r *Renderer) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// Detail is the three-line body shared by notifications and listings.
func (r *Renderer) Detail(row ledger.Row) string {
	return fmt.Sprintf("**%s:** %s\n**%s:** %s\n**%s:** %s",
		r.Labels.Primary, row.Primary,
		r.Labels.Description, row.Description,
		r.Labels.Amount, FormatAccounting(row.Amount),
	)
}

// NewRow renders the notification for a newly observed row.
func (r *Renderer) NewRow(row ledger.Row) notify.Message {
	return notify.Message{Embeds: []notify.Embed{{
		Title:     "📝 Nová Transakce",
		Color:     ColorNew,
		Timestamp: r.now(),
		Fields:    []notify.Field{{Name: "💳 Detail", Value: r.Detail(row)}},
	}}}
}

// Listing renders a summary message followed by the rows in chunks of
// ChunkSize.
func (r *Renderer) Listing(rows []ledger.Row) []notify.Message {
	now := r.now()
	out := make([]notify.Message, 0, 1+(len(rows)+ChunkSize-1)/ChunkSize)
	out = append(out, notify.Message{Embeds: []notify.Embed{{
		Title:       r.Title,
		Description: "Přehled všech transakcí",
		Color:       ColorSummary,
		Timestamp:   now,
		Fields:      []notify.Field{{Name: "💰 Celkem", Value: "`" + FormatDecimal(Total(rows)) + "`"}},
	}}})

	chunks := (len(rows) + ChunkSize - 1) / ChunkSize
	for part := 0; part < chunks; part++ {
		chunk := rows[part*ChunkSize : min((part+1)*ChunkSize, len(rows))]
		embed := notify.Embed{
			Title:     "📝 Transakce",
			Color:     ColorContinued,
			Timestamp: now,
			Fields:    make([]notify.Field, 0, len(chunk)),
		}
		if part == 0 {
			embed.Color = ColorNew
		}
		if chunks > 1 {
			embed.Title = fmt.Sprintf("📝 Transakce (%d. část)", part+1)
		}
		for _, row := range chunk {
			embed.Fields = append(embed.Fields, notify.Field{Name: "💳 Transakce", Value: r.Detail(row)})
		}
		out = append(out, notify.Message{Embeds: []notify.Embed{embed}})
	}
	return out
}

func (r *Renderer) Liveness() notify.Message {
	return notify.Message{Embeds: []notify.Embed{{
		Title:       "✅ Bot Funguje",
		Description: "Účetnictví bot je online!",
		Color:       ColorOK,
	}}}
}

func (r *Renderer) ReadFailure() notify.Message {
	return notify.Message{Content: "❌ Nemohu přečíst data z Google Sheets"}
}

// Total sums row amounts without float drift.
func Total(rows []ledger.Row) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(decimal.NewFromFloat(row.Amount))
	}
	return total
}

// FormatAccounting truncates toward zero and groups thousands with '.',
// e.g. 10000.7 -> "10.000".
func FormatAccounting(v float64) string {
	return FormatDecimal(decimal.NewFromFloat(v))
}

func FormatDecimal(d decimal.Decimal) string {
	digits := d.Truncate(0).Abs().String()
	var b strings.Builder
	if d.Truncate(0).IsNegative() {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte('.')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
