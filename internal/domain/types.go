// Package domain defines the core value types shared by the market and
// sentiment stores: instruments, price bars, prediction series, pagination
// and sentiment records.
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Market identifies a national exchange scope.
type Market string

const (
	MarketTW Market = "TW"
	MarketUS Market = "US"
)

// Markets lists every supported market in display order.
var Markets = []Market{MarketTW, MarketUS}

// ParseMarket normalizes s ("tw", " US ") into a Market.
func ParseMarket(s string) (Market, error) {
	switch Market(strings.ToUpper(strings.TrimSpace(s))) {
	case MarketTW:
		return MarketTW, nil
	case MarketUS:
		return MarketUS, nil
	}
	return "", &Error{Kind: KindValidation, Op: "parse market", Err: fmt.Errorf("unknown market %q", s)}
}

// Location returns the time zone that defines "today" for the market.
func (m Market) Location() *time.Location {
	name := "America/New_York"
	if m == MarketTW {
		name = "Asia/Taipei"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Instrument is a tradable equity in one market's listing.
type Instrument struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Market        Market          `json:"market"`
}

var hundred = decimal.NewFromInt(100)

// ChangePercentOf returns change/price*100, or zero when price is zero.
func ChangePercentOf(price, change decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return change.Div(price).Mul(hundred)
}

// InstrumentDetail is the inspected instrument plus descriptive metadata.
type InstrumentDetail struct {
	Instrument
	Description        string  `json:"description"`
	MarketCap          string  `json:"marketCap"`
	PriceEarningsRatio float64 `json:"priceEarningsRatio"`
	DividendYield      float64 `json:"dividendYield"`
}

// PriceBar is one daily OHLCV candle.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Valid reports whether the bar satisfies high >= max(open, close) and
// low <= min(open, close) with a non-negative volume.
func (b PriceBar) Valid() bool {
	return b.High >= math.Max(b.Open, b.Close) &&
		b.Low <= math.Min(b.Open, b.Close) &&
		b.Volume >= 0
}

// Repair widens High/Low so the ordering invariant holds and clamps a
// negative volume to zero.
func (b PriceBar) Repair() PriceBar {
	b.High = math.Max(b.High, math.Max(b.Open, b.Close))
	b.Low = math.Min(b.Low, math.Min(b.Open, b.Close))
	if b.Volume < 0 {
		b.Volume = 0
	}
	return b
}

// PredictionSeries is a chart-ready history/forecast series. Actual and
// Predicted have the same length as Labels; nil marks an absent value.
type PredictionSeries struct {
	Labels    []string   `json:"labels"`
	Actual    []*float64 `json:"actual"`
	Predicted []*float64 `json:"predicted"`
}

// Len returns the number of labels.
func (p *PredictionSeries) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Labels)
}

// Clone returns a deep copy of p.
func (p *PredictionSeries) Clone() *PredictionSeries {
	if p == nil {
		return nil
	}
	return &PredictionSeries{
		Labels:    append([]string(nil), p.Labels...),
		Actual:    clonePtrs(p.Actual),
		Predicted: clonePtrs(p.Predicted),
	}
}

func clonePtrs(in []*float64) []*float64 {
	out := make([]*float64, len(in))
	for i, v := range in {
		if v != nil {
			c := *v
			out[i] = &c
		}
	}
	return out
}

// Float returns a pointer to v, for building series.
func Float(v float64) *float64 { return &v }

// Pagination is the bookkeeping for one listing page.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

// NewPagination builds a consistent Pagination, clamping page to >= 1,
// pageSize to > 0 and totalItems to >= 0.
func NewPagination(page, pageSize, totalItems int) Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if totalItems < 0 {
		totalItems = 0
	}
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalItems: totalItems,
		TotalPages: (totalItems + pageSize - 1) / pageSize,
	}
}

// CompanyAll is the unrestricted company filter value.
const CompanyAll = "all"

// SentimentRecord is one news item tagged with an impact score in [0,100].
type SentimentRecord struct {
	Company     string    `json:"company"`
	OccurredAt  time.Time `json:"occurredAt"`
	Label       string    `json:"date,omitempty"`
	Text        string    `json:"text"`
	ImpactScore float64   `json:"impactScore"`
}

// SentimentLabel formats t the way the dashboard shows record times.
func SentimentLabel(t time.Time) string {
	return t.Format("2006年01月02日 15:04")
}

// Sentiment classification thresholds.
const (
	PositiveAbove = 60.0
	NegativeBelow = 40.0
)

// Sentiment is the class of one record.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Classify maps an impact score onto its sentiment class.
func Classify(score float64) Sentiment {
	switch {
	case score > PositiveAbove:
		return SentimentPositive
	case score < NegativeBelow:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// SentimentSummary aggregates a filtered record set.
type SentimentSummary struct {
	Total         int     `json:"total"`
	AverageImpact float64 `json:"averageImpact"`
	PositiveCount int     `json:"positive"`
	NeutralCount  int     `json:"neutral"`
	NegativeCount int     `json:"negative"`
}

// SentimentCounts is a pre-aggregated external update. Total is optional
// and only informational; the class counts are authoritative.
type SentimentCounts struct {
	Positive int  `json:"positive"`
	Neutral  int  `json:"neutral"`
	Negative int  `json:"negative"`
	Total    *int `json:"total,omitempty"`
}

// Sum returns positive+neutral+negative.
func (c SentimentCounts) Sum() int {
	return c.Positive + c.Neutral + c.Negative
}
