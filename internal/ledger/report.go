package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type JsonReport struct {
	Summary      Summary               `json:"summary"`
	TotalGainPct float64               `json:"total_gain_pct,omitempty"`
	Deals        map[string][]JsonDeal `json:"deals,omitempty"`
}

type JsonDeal struct {
	Strategy string    `json:"strategy"`
	BuyTime  time.Time `json:"buy_time,omitzero"`
	SellTime time.Time `json:"sell_time,omitzero"`
	Spend    string    `json:"spend,omitempty"`
	Gain     string    `json:"gain,omitempty"`
	GainPct  float64   `json:"gain_pct,omitempty"`
}

// BuildReport pairs every closing record with the entry it closed and groups
// the resulting deals by symbol.
func BuildReport(summary Summary, records []TradeRecord) JsonReport {
	report := JsonReport{
		Summary: summary,
		Deals:   map[string][]JsonDeal{},
	}

	type key struct{ strategy, symbol string }
	entries := make(map[key]TradeRecord)
	var spent, gained decimal.Decimal
	for _, r := range records {
		k := key{r.Strategy, r.Symbol}
		if r.Action == Buy {
			entries[k] = r
			continue
		}

		entry, ok := entries[k]
		if !ok {
			continue
		}
		delete(entries, k)

		spend := entry.Price.Mul(r.Quantity)
		gain := r.Profit.TakeOr(r.Price.Sub(entry.Price).Mul(r.Quantity))
		pct := 0.0
		if !spend.IsZero() {
			pct, _ = gain.Div(spend).Float64()
		}

		report.Deals[r.Symbol] = append(report.Deals[r.Symbol], JsonDeal{
			Strategy: r.Strategy,
			BuyTime:  entry.Time,
			SellTime: r.Time,
			Spend:    spend.String(),
			Gain:     gain.String(),
			GainPct:  pct,
		})

		spent = spent.Add(spend)
		gained = gained.Add(gain)
	}

	if !spent.IsZero() {
		report.TotalGainPct, _ = gained.Div(spent).Float64()
	}

	return report
}

func (s *Store) WriteReport(ctx context.Context, w io.Writer) error {
	summary, err := s.Summary(ctx)
	if err != nil {
		return err
	}

	records, err := s.Trades(ctx, 0)
	if err != nil {
		return err
	}

	// Trades lists newest first.
	slices.Reverse(records)

	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	if err := e.Encode(BuildReport(summary, records)); err != nil {
		return fmt.Errorf("failed to write trading report: %w", err)
	}

	return nil
}
