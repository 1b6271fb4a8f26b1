// Package dashboard turns store state into display-ready views shared by the
// HTTP gateway, the terminal dashboard and the CLI.
package dashboard

import (
	"math"
	"sort"
	"strings"

	"marketdash/internal/domain"
)

// BarStats summarizes a run of daily bars.
type BarStats struct {
	Days        int     `json:"days"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Open        float64 `json:"open"`  // first bar's open
	Close       float64 `json:"close"` // last bar's close
	TotalVolume int64   `json:"totalVolume"`
	MaxGain     float64 `json:"maxGain"` // best close-to-close gain with sell after buy
	MaxLoss     float64 `json:"maxLoss"` // worst close-to-close loss with sell after buy
}

// AggregateBars computes BarStats over bars, which are sorted by date
// first. It returns the zero value for no bars.
func AggregateBars(bars []domain.PriceBar) BarStats {
	if len(bars) == 0 {
		return BarStats{}
	}
	sorted := append([]domain.PriceBar(nil), bars...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	s := BarStats{Low: math.MaxFloat64}
	minClose := math.MaxFloat64
	maxClose := 0.0
	for j, b := range sorted {
		s.Days++
		s.TotalVolume += b.Volume
		if b.High > s.High {
			s.High = b.High
		}
		if b.Low < s.Low {
			s.Low = b.Low
		}
		if j == 0 {
			s.Open = b.Open
		}
		s.Close = b.Close

		// Max gain: buy at lowest close seen so far, sell now.
		if b.Close < minClose {
			minClose = b.Close
		}
		if minClose > 0 {
			if g := (b.Close - minClose) / minClose; g > s.MaxGain {
				s.MaxGain = g
			}
		}
		// Max loss: buy at highest close seen so far, sell now.
		if b.Close > maxClose {
			maxClose = b.Close
		}
		if b.Close > 0 {
			if l := (maxClose - b.Close) / b.Close; l > s.MaxLoss {
				s.MaxLoss = l
			}
		}
	}
	return s
}

// Sort modes for the instruments table.
const (
	SortListing   = 0 // service order (default)
	SortSymbol    = 1 // symbol ascending
	SortGain      = 2 // change percent descending
	SortLoss      = 3 // change percent ascending
	SortPrice     = 4 // price descending
	SortModeCount = 5
)

// SortModeLabel returns a short label for the given sort mode.
func SortModeLabel(mode int) string {
	switch mode {
	case SortListing:
		return "LIST"
	case SortSymbol:
		return "SYM"
	case SortGain:
		return "GAIN"
	case SortLoss:
		return "LOSS"
	case SortPrice:
		return "PRICE"
	default:
		return "?"
	}
}

// SortInstruments returns a copy of insts ordered by mode. Ties fall back
// to symbol so the order is stable across refreshes.
func SortInstruments(insts []domain.Instrument, mode int) []domain.Instrument {
	out := append([]domain.Instrument(nil), insts...)
	if mode == SortListing {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch mode {
		case SortGain:
			if c := a.ChangePercent.Cmp(b.ChangePercent); c != 0 {
				return c > 0
			}
		case SortLoss:
			if c := a.ChangePercent.Cmp(b.ChangePercent); c != 0 {
				return c < 0
			}
		case SortPrice:
			if c := a.Price.Cmp(b.Price); c != 0 {
				return c > 0
			}
		}
		return strings.Compare(a.Symbol, b.Symbol) < 0
	})
	return out
}
