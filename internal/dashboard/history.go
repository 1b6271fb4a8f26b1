package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"marketdash/internal/domain"
	"marketdash/internal/sentiment"
	"marketdash/internal/store"
)

// SymbolHistory is the archived bar history for one symbol.
type SymbolHistory struct {
	Symbol string            `json:"symbol"`
	Market domain.Market     `json:"market"`
	Bars   []domain.PriceBar `json:"bars"`
	Stats  BarStats          `json:"stats"`
}

// LoadSymbolHistory reads the archived bars for symbol covering the days
// calendar days ending at end.
func LoadSymbolHistory(ctx context.Context, archive store.BarArchive, market domain.Market, symbol string, end time.Time, days int) (*SymbolHistory, error) {
	if days <= 0 {
		days = 365
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	start := end.AddDate(0, 0, -days)
	bars, err := archive.ReadBars(ctx, market, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading %s history: %w", symbol, err)
	}
	if bars == nil {
		bars = []domain.PriceBar{}
	}
	return &SymbolHistory{Symbol: symbol, Market: market, Bars: bars, Stats: AggregateBars(bars)}, nil
}

// DaySentiment is the summary of one day's archived news.
type DaySentiment struct {
	Date    string                   `json:"date"`
	Summary *domain.SentimentSummary `json:"summary"`
}

// LoadSentimentHistory reads archived records between start and end and
// summarizes them per calendar day in the market's time zone, oldest first.
func LoadSentimentHistory(ctx context.Context, archive store.SentimentArchive, market domain.Market, start, end time.Time) ([]DaySentiment, error) {
	recs, err := archive.ReadSentiment(ctx, market, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading %s sentiment history: %w", market, err)
	}
	loc := market.Location()
	byDay := make(map[string][]domain.SentimentRecord)
	for _, r := range recs {
		day := r.OccurredAt.In(loc).Format("2006-01-02")
		byDay[day] = append(byDay[day], r)
	}
	dates := make([]string, 0, len(byDay))
	for d := range byDay {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := make([]DaySentiment, 0, len(dates))
	for _, d := range dates {
		out = append(out, DaySentiment{Date: d, Summary: sentiment.Summarize(byDay[d])})
	}
	return out, nil
}
