package normalize

import (
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"marketdash/internal/domain"
)

// timeLayouts are tried in order for record and bar timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006年01月02日 15:04",
	"2006/1/2",
}

// Time parses s with the first matching layout. Zone-less values are read in
// loc.
func Time(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// PriceBar converts one series element. Bars violating the high/low ordering
// are repaired. ok is false when the date is unparseable.
func PriceBar(r gjson.Result, loc *time.Location) (domain.PriceBar, bool) {
	day, ok := Time(String(First(r, "date", "time", "t")), loc)
	if !ok {
		return domain.PriceBar{}, false
	}
	y, m, d := day.Date()
	bar := domain.PriceBar{
		Date:   time.Date(y, m, d, 0, 0, 0, 0, day.Location()),
		Open:   Float(First(r, "open", "o")),
		High:   Float(First(r, "high", "h")),
		Low:    Float(First(r, "low", "l")),
		Close:  Float(First(r, "close", "c")),
		Volume: Int(First(r, "volume", "v")),
	}
	return bar.Repair(), true
}

// SentimentRecord converts one news item. The timestamp comes from time_iso,
// falling back to date; the score from impact_pct, impact_score or
// impactScore, clamped to [0, 100]. ok is false when no timestamp parses.
func SentimentRecord(r gjson.Result, loc *time.Location) (domain.SentimentRecord, bool) {
	at, ok := Time(String(First(r, "time_iso", "occurredAt", "date")), loc)
	if !ok {
		at, ok = Time(String(r.Get("date")), loc)
		if !ok {
			return domain.SentimentRecord{}, false
		}
	}
	score := math.Max(0, math.Min(100, Float(First(r, "impact_pct", "impact_score", "impactScore"))))
	label := String(r.Get("date"))
	if label == "" {
		label = domain.SentimentLabel(at)
	}
	return domain.SentimentRecord{
		Company:     String(r.Get("company")),
		OccurredAt:  at,
		Label:       label,
		Text:        StripHTML(String(First(r, "text", "title", "headline"))),
		ImpactScore: score,
	}, true
}
