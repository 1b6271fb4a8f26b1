// Package normalize coerces loosely-typed JSON from the market-data service
// into model values. Numbers may arrive as numbers, numeric strings or null;
// anything unparseable becomes 0.
package normalize

import (
	"fmt"
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"marketdash/internal/domain"
)

// Float coerces r to float64 with a 0 fallback. NaN and infinities, which
// ParseFloat accepts, also become 0.
func Float(r gjson.Result) float64 {
	var f float64
	switch r.Type {
	case gjson.Number:
		f = r.Num
	case gjson.String:
		v, err := strconv.ParseFloat(cleanNumber(r.Str), 64)
		if err != nil {
			return 0
		}
		f = v
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Int coerces r to int64 with a 0 fallback. Fractional values truncate and
// values beyond the int64 range saturate.
func Int(r gjson.Result) int64 {
	switch r.Type {
	case gjson.Number:
		return truncate64(r.Num)
	case gjson.String:
		s := cleanNumber(r.Str)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return truncate64(f)
		}
	}
	return 0
}

func truncate64(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// Decimal coerces r to a decimal with a zero fallback. Numbers use their
// raw JSON text so no binary rounding is introduced.
func Decimal(r gjson.Result) decimal.Decimal {
	var s string
	switch r.Type {
	case gjson.Number:
		s = r.Raw
	case gjson.String:
		s = cleanNumber(r.Str)
	default:
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// String returns r's text, trimming surrounding whitespace. Numbers keep
// their JSON form ("2330"), null yields "".
func String(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return strings.TrimSpace(r.Str)
	case gjson.Number:
		return r.Raw
	}
	return ""
}

// First returns the first key of obj that exists, for payloads that name
// the same field differently across service versions.
func First(obj gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := obj.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// cleanNumber drops thousands separators, percent signs and whitespace.
func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")
	return strings.TrimSpace(s)
}

// Parse validates body as JSON and returns its root.
func Parse(op string, body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, domain.NewError(domain.KindShape, op, fmt.Errorf("response is not valid JSON"))
	}
	return gjson.ParseBytes(body), nil
}

// RequireKeys returns a ShapeMismatch error naming the first key missing
// from obj.
func RequireKeys(op string, obj gjson.Result, keys ...string) error {
	if !obj.IsObject() {
		return domain.NewError(domain.KindShape, op, fmt.Errorf("expected object, got %s", obj.Type))
	}
	for _, k := range keys {
		if !obj.Get(k).Exists() {
			return domain.NewError(domain.KindShape, op, fmt.Errorf("missing key %q", k))
		}
	}
	return nil
}

// RequireArray returns a ShapeMismatch error unless r is a JSON array.
func RequireArray(op string, r gjson.Result) error {
	if !r.IsArray() {
		return domain.NewError(domain.KindShape, op, fmt.Errorf("expected array, got %s", r.Type))
	}
	return nil
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes HTML tags and normalizes whitespace in news text.
func StripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// Instrument builds an Instrument from one listing/search record. market
// overrides the record's own market field when non-empty. ChangePercent is
// always recomputed from change and price, and is 0 when price is 0.
func Instrument(r gjson.Result, market domain.Market) domain.Instrument {
	inst := domain.Instrument{
		Symbol: String(First(r, "symbol", "code")),
		Name:   String(r.Get("name")),
		Price:  Decimal(r.Get("price")),
		Change: Decimal(r.Get("change")),
		Market: market,
	}
	if inst.Market == "" {
		if m, err := domain.ParseMarket(String(r.Get("market"))); err == nil {
			inst.Market = m
		}
	}
	if inst.Price.IsNegative() {
		inst.Price = decimal.Zero
	}
	inst.ChangePercent = domain.ChangePercentOf(inst.Price, inst.Change)
	if inst.Name == "" {
		inst.Name = inst.Symbol
	}
	return inst
}
