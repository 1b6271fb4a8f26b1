// Package synth generates placeholder market data used when the remote
// service cannot be reached. Shapes are fixed; values come from the supplied
// random source so callers can seed it.
package synth

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"marketdash/internal/domain"
	"marketdash/internal/util"
)

const (
	// BarCount is the number of daily bars in a synthetic chart.
	BarCount = 30
	// PredictionLen is the number of labels in a synthetic prediction.
	PredictionLen = 20
	// PredictionHistory is how many leading prediction points are actual.
	PredictionHistory = 10
	// RecordsPerCompany is the number of fallback news items per company.
	RecordsPerCompany = 3

	startPrice   = 100.0
	minPrice     = 1.0
	maxVolume    = 1_000_000
	recordStep   = 5 * time.Hour
	walkSpread   = 10.0
	bodySpread   = 5.0
	shadowSpread = 3.0
)

// NewRand returns a PCG-backed source seeded from the clock.
func NewRand() *rand.Rand {
	now := uint64(time.Now().UnixNano())
	return rand.New(rand.NewPCG(now, now>>1|1))
}

// Seeded returns a deterministic source, for tests.
func Seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// PriceBars returns BarCount consecutive daily bars ending on today's date.
// Each bar opens at the walked price; high and low extend past the body so
// High >= max(Open, Close) and Low <= min(Open, Close) always hold.
func PriceBars(rng *rand.Rand, today time.Time) []domain.PriceBar {
	days := util.DaysEnding(today, BarCount)
	bars := make([]domain.PriceBar, 0, BarCount)
	price := startPrice
	for _, day := range days {
		price = math.Max(minPrice, price+(rng.Float64()-0.5)*walkSpread)
		open := price
		closePx := math.Max(minPrice, open+(rng.Float64()-0.5)*bodySpread)
		high := math.Max(open, closePx) + rng.Float64()*shadowSpread
		low := math.Max(0, math.Min(open, closePx)-rng.Float64()*shadowSpread)
		bars = append(bars, domain.PriceBar{
			Date:   day,
			Open:   round2(open),
			High:   round2(high),
			Low:    round2(low),
			Close:  round2(closePx),
			Volume: rng.Int64N(maxVolume),
		})
	}
	return bars
}

// Prediction returns a PredictionLen series starting today from a walk
// anchored at 100.
func Prediction(rng *rand.Rand, today time.Time) *domain.PredictionSeries {
	return PredictionFrom(rng, today, startPrice)
}

// PredictionFrom is Prediction anchored at start. The first
// PredictionHistory points carry Actual only, the rest Predicted only.
func PredictionFrom(rng *rand.Rand, today time.Time, start float64) *domain.PredictionSeries {
	if start <= 0 {
		start = startPrice
	}
	days := util.DaysFrom(today, PredictionLen)
	series := &domain.PredictionSeries{
		Labels:    make([]string, PredictionLen),
		Actual:    make([]*float64, PredictionLen),
		Predicted: make([]*float64, PredictionLen),
	}
	price := start
	for i, day := range days {
		series.Labels[i] = util.DateLabel(day)
		if i < PredictionHistory {
			series.Actual[i] = domain.Float(round2(price))
		} else {
			series.Predicted[i] = domain.Float(round2(price))
		}
		price = math.Max(minPrice, price+(rng.Float64()-0.5)*bodySpread)
	}
	return series
}

var rosters = map[domain.Market][]string{
	domain.MarketTW: {"台積電", "鴻海", "聯發科", "台達電", "聯電"},
	domain.MarketUS: {"Apple", "Microsoft", "Google", "Amazon", "Meta"},
}

// Roster returns the fallback company list for market.
func Roster(market domain.Market) []string {
	if r, ok := rosters[market]; ok {
		return append([]string(nil), r...)
	}
	return append([]string(nil), rosters[domain.MarketUS]...)
}

// SentimentRecords returns RecordsPerCompany records for each roster company,
// spaced recordStep apart going back from now, with impact scores in
// [30, 70). The result is sorted by OccurredAt descending.
func SentimentRecords(rng *rand.Rand, market domain.Market, now time.Time) []domain.SentimentRecord {
	now = now.Truncate(time.Minute)
	var out []domain.SentimentRecord
	for _, company := range Roster(market) {
		for i := 0; i < RecordsPerCompany; i++ {
			at := now.Add(-time.Duration(i) * recordStep)
			out = append(out, domain.SentimentRecord{
				Company:     company,
				OccurredAt:  at,
				Label:       domain.SentimentLabel(at),
				Text:        fmt.Sprintf("這是關於 %s 的模擬新聞 #%d。市場波動劇烈，投資人保持觀望態度。", company, i+1),
				ImpactScore: float64(30 + rng.IntN(40)),
			})
		}
	}
	SortNewestFirst(out)
	return out
}

// RecordsForCounts synthesizes records whose classification reproduces
// counts exactly: positive scores in (70, 90], neutral in [40, 60], negative
// in [0, 40). Records carry no company and are one minute apart, newest
// first.
func RecordsForCounts(rng *rand.Rand, counts domain.SentimentCounts, now time.Time) []domain.SentimentRecord {
	now = now.Truncate(time.Minute)
	out := make([]domain.SentimentRecord, 0, max(counts.Sum(), 0))
	add := func(n int, score func() float64) {
		for i := 0; i < n; i++ {
			at := now.Add(-time.Duration(len(out)) * time.Minute)
			out = append(out, domain.SentimentRecord{
				OccurredAt:  at,
				Label:       domain.SentimentLabel(at),
				ImpactScore: score(),
			})
		}
	}
	add(counts.Positive, func() float64 { return float64(71 + rng.IntN(20)) })
	add(counts.Neutral, func() float64 { return float64(40 + rng.IntN(21)) })
	add(counts.Negative, func() float64 { return float64(rng.IntN(40)) })
	return out
}

// SortNewestFirst orders records by OccurredAt descending. Ties keep their
// relative order.
func SortNewestFirst(records []domain.SentimentRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].OccurredAt.After(records[j].OccurredAt)
	})
}
