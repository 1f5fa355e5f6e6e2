// Package scanning reads the first page of a declaration with a vision
// model so the notes can be filled in before submitting.
package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// PageSummary is what a scanner could read off a page.
type PageSummary struct {
	Merchant string  `json:"merchant"`
	Date     string  `json:"date"` // YYYY-MM-DD
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Scanner reads a normalized JPEG page
type Scanner interface {
	ScanPage(ctx context.Context, page []byte) (*PageSummary, error)
	// Close closes the scanner and releases resources
	Close() error
}

// Notes renders the summary as "merchant / date / amount", leaving out
// whatever could not be read.
func (p *PageSummary) Notes() string {
	var parts []string
	if p.Merchant != "" {
		parts = append(parts, p.Merchant)
	}
	if p.Date != "" {
		parts = append(parts, p.Date)
	}
	if p.Amount > 0 {
		amount := strconv.FormatFloat(p.Amount, 'f', -1, 64)
		if p.Currency != "" {
			amount = fmt.Sprintf("%s %s", p.Currency, amount)
		}
		parts = append(parts, amount)
	}
	return strings.Join(parts, " / ")
}

// Prefill returns notes unchanged unless they are blank, in which case the
// first page is scanned for them. Scan failures are logged and ignored.
func Prefill(ctx context.Context, s Scanner, notes string, pages [][]byte) string {
	if s == nil || strings.TrimSpace(notes) != "" || len(pages) == 0 {
		return notes
	}

	summary, err := s.ScanPage(ctx, pages[0])
	if err != nil {
		slog.Warn("Failed to scan first page", "error", err)
		return notes
	}
	slog.Info("Scanned first page", "merchant", summary.Merchant, "date", summary.Date, "amount", summary.Amount)
	return summary.Notes()
}
