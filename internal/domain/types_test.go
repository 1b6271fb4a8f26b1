package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTypesExist(t *testing.T) {
	// Verify Instrument can be instantiated with zero values.
	inst := Instrument{}
	if inst.Symbol != "" || inst.Name != "" {
		t.Error("expected empty Symbol/Name for zero-value Instrument")
	}
	if !inst.Price.IsZero() || !inst.Change.IsZero() || !inst.ChangePercent.IsZero() {
		t.Error("expected zero Price/Change/ChangePercent for zero-value Instrument")
	}

	// Verify PriceBar zero value is valid.
	bar := PriceBar{}
	if !bar.Date.IsZero() {
		t.Error("expected zero Date for zero-value PriceBar")
	}
	if !bar.Valid() {
		t.Error("zero-value PriceBar should satisfy the ordering invariant")
	}

	// Verify enum constants are defined correctly.
	if MarketTW != "TW" || MarketUS != "US" {
		t.Error("Market constants have unexpected values")
	}
	if CompanyAll != "all" {
		t.Errorf("CompanyAll = %q, want %q", CompanyAll, "all")
	}

	// Verify structs can be constructed with real values.
	rec := SentimentRecord{
		Company:     "台積電",
		OccurredAt:  time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC),
		Text:        "news",
		ImpactScore: 72,
	}
	if Classify(rec.ImpactScore) != SentimentPositive {
		t.Errorf("Classify(%v) = %q, want positive", rec.ImpactScore, Classify(rec.ImpactScore))
	}
}

func TestParseMarket(t *testing.T) {
	for _, in := range []string{"tw", "TW", " Tw "} {
		m, err := ParseMarket(in)
		if err != nil || m != MarketTW {
			t.Errorf("ParseMarket(%q) = %q, %v; want TW", in, m, err)
		}
	}
	if m, err := ParseMarket("us"); err != nil || m != MarketUS {
		t.Errorf("ParseMarket(us) = %q, %v; want US", m, err)
	}
	_, err := ParseMarket("HK")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("ParseMarket(HK) error = %v, want ErrValidation", err)
	}
}

func TestChangePercentOf(t *testing.T) {
	got := ChangePercentOf(decimal.NewFromInt(200), decimal.NewFromInt(5))
	if !got.Equal(decimal.NewFromFloat(2.5)) {
		t.Errorf("ChangePercentOf(200, 5) = %s, want 2.5", got)
	}
	got = ChangePercentOf(decimal.Zero, decimal.NewFromInt(5))
	if !got.IsZero() {
		t.Errorf("ChangePercentOf(0, 5) = %s, want 0", got)
	}
}

func TestNewPagination(t *testing.T) {
	tests := []struct {
		page, size, total int
		want              Pagination
	}{
		{1, 10, 0, Pagination{1, 10, 0, 0}},
		{2, 10, 25, Pagination{2, 10, 25, 3}},
		{0, 0, -4, Pagination{1, 1, 0, 0}},
		{3, 5, 15, Pagination{3, 5, 15, 3}},
	}
	for _, tt := range tests {
		if got := NewPagination(tt.page, tt.size, tt.total); got != tt.want {
			t.Errorf("NewPagination(%d, %d, %d) = %+v, want %+v", tt.page, tt.size, tt.total, got, tt.want)
		}
	}
}

func TestClassifyThresholds(t *testing.T) {
	tests := []struct {
		score float64
		want  Sentiment
	}{
		{0, SentimentNegative},
		{39.99, SentimentNegative},
		{40, SentimentNeutral},
		{60, SentimentNeutral},
		{60.01, SentimentPositive},
		{100, SentimentPositive},
	}
	for _, tt := range tests {
		if got := Classify(tt.score); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestPriceBarRepair(t *testing.T) {
	bar := PriceBar{Open: 10, Close: 12, High: 11, Low: 10.5, Volume: -3}
	if bar.Valid() {
		t.Fatal("bar should be invalid before repair")
	}
	fixed := bar.Repair()
	if !fixed.Valid() {
		t.Fatalf("repaired bar still invalid: %+v", fixed)
	}
	if fixed.High != 12 || fixed.Low != 10 || fixed.Volume != 0 {
		t.Errorf("Repair() = %+v, want High=12 Low=10 Volume=0", fixed)
	}
}

func TestErrorKinds(t *testing.T) {
	base := fmt.Errorf("dial tcp: refused")
	err := fmt.Errorf("listing: %w", NewError(KindNetwork, "GET /api/companies", base))

	if !errors.Is(err, ErrNetwork) {
		t.Error("errors.Is(err, ErrNetwork) = false")
	}
	if errors.Is(err, ErrShape) {
		t.Error("errors.Is(err, ErrShape) = true for a network failure")
	}
	if !errors.Is(err, base) {
		t.Error("classified error should unwrap to its cause")
	}
	if KindOf(err) != KindNetwork {
		t.Errorf("KindOf = %v, want NetworkFailure", KindOf(err))
	}
	if KindOf(base) != 0 {
		t.Errorf("KindOf(unclassified) = %v, want 0", KindOf(base))
	}
}

func TestPredictionSeriesClone(t *testing.T) {
	p := &PredictionSeries{
		Labels:    []string{"a", "b"},
		Actual:    []*float64{Float(1), nil},
		Predicted: []*float64{nil, Float(2)},
	}
	c := p.Clone()
	*c.Actual[0] = 99
	if *p.Actual[0] != 1 {
		t.Error("Clone shares value pointers with the original")
	}
	if c.Len() != 2 || (*PredictionSeries)(nil).Len() != 0 {
		t.Error("Len mismatch")
	}
}
