package normalize

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"marketdash/internal/domain"
)

func TestCoercion(t *testing.T) {
	doc := gjson.Parse(`{"n": 12.5, "s": "1,234.5", "pct": "3.2%", "bad": "n/a", "nil": null, "i": "42", "f": "7.9", "b": true,
		"nan": "NaN", "inf": "Inf", "ninf": "-Infinity", "huge": 1e300, "hugeStr": "9e40"}`)

	tests := []struct {
		key  string
		want float64
	}{
		{"n", 12.5},
		{"s", 1234.5},
		{"pct", 3.2},
		{"bad", 0},
		{"nil", 0},
		{"missing", 0},
		{"b", 0},
		{"nan", 0},
		{"inf", 0},
		{"ninf", 0},
	}
	for _, tt := range tests {
		if got := Float(doc.Get(tt.key)); got != tt.want {
			t.Errorf("Float(%s) = %v, want %v", tt.key, got, tt.want)
		}
	}

	if got := Int(doc.Get("i")); got != 42 {
		t.Errorf("Int(i) = %d, want 42", got)
	}
	if got := Int(doc.Get("f")); got != 7 {
		t.Errorf("Int(f) = %d, want 7", got)
	}
	if got := Int(doc.Get("nil")); got != 0 {
		t.Errorf("Int(nil) = %d, want 0", got)
	}
	if got := Int(doc.Get("nan")); got != 0 {
		t.Errorf("Int(nan) = %d, want 0", got)
	}
	if got := Int(doc.Get("huge")); got != math.MaxInt64 {
		t.Errorf("Int(huge) = %d, want MaxInt64", got)
	}
	if got := Int(doc.Get("hugeStr")); got != math.MaxInt64 {
		t.Errorf("Int(hugeStr) = %d, want MaxInt64", got)
	}
}

func TestDecimalKeepsRawText(t *testing.T) {
	doc := gjson.Parse(`{"p": 0.1, "s": "890.50", "bad": "x"}`)
	if got := Decimal(doc.Get("p")); !got.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("Decimal(p) = %s, want 0.1", got)
	}
	if got := Decimal(doc.Get("s")); !got.Equal(decimal.RequireFromString("890.5")) {
		t.Errorf("Decimal(s) = %s, want 890.5", got)
	}
	if got := Decimal(doc.Get("bad")); !got.IsZero() {
		t.Errorf("Decimal(bad) = %s, want 0", got)
	}
}

func TestString(t *testing.T) {
	doc := gjson.Parse(`{"sym": 2330, "name": "  台積電 ", "nil": null}`)
	if got := String(doc.Get("sym")); got != "2330" {
		t.Errorf("String(sym) = %q, want 2330", got)
	}
	if got := String(doc.Get("name")); got != "台積電" {
		t.Errorf("String(name) = %q", got)
	}
	if got := String(doc.Get("nil")); got != "" {
		t.Errorf("String(nil) = %q, want empty", got)
	}
}

func TestRequireKeys(t *testing.T) {
	obj := gjson.Parse(`{"data": [], "pagination": {}}`)
	if err := RequireKeys("list", obj, "data", "pagination"); err != nil {
		t.Fatalf("RequireKeys: unexpected error %v", err)
	}
	err := RequireKeys("list", obj, "data", "current_price")
	if !errors.Is(err, domain.ErrShape) {
		t.Fatalf("RequireKeys missing key error = %v, want ErrShape", err)
	}
	if err := RequireKeys("list", gjson.Parse(`[1,2]`), "data"); !errors.Is(err, domain.ErrShape) {
		t.Errorf("RequireKeys on array = %v, want ErrShape", err)
	}
	if err := RequireArray("list", obj); !errors.Is(err, domain.ErrShape) {
		t.Errorf("RequireArray on object = %v, want ErrShape", err)
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	if _, err := Parse("op", []byte(`{"a":`)); !errors.Is(err, domain.ErrShape) {
		t.Errorf("Parse error = %v, want ErrShape", err)
	}
	r, err := Parse("op", []byte(`{"a":1}`))
	if err != nil || r.Get("a").Int() != 1 {
		t.Errorf("Parse valid = %v, %v", r, err)
	}
}

func TestInstrument(t *testing.T) {
	rec := gjson.Parse(`{"symbol":"2330","name":"台積電","price":"200","change":"5"}`)
	inst := Instrument(rec, domain.MarketTW)
	if inst.Market != domain.MarketTW {
		t.Errorf("Market = %q, want TW", inst.Market)
	}
	if !inst.ChangePercent.Equal(decimal.NewFromFloat(2.5)) {
		t.Errorf("ChangePercent = %s, want 2.5 (derived)", inst.ChangePercent)
	}

	zero := Instrument(gjson.Parse(`{"symbol":"X","price":null,"change":3}`), domain.MarketUS)
	if !zero.ChangePercent.IsZero() {
		t.Errorf("ChangePercent with zero price = %s, want 0", zero.ChangePercent)
	}
	if zero.Name != "X" {
		t.Errorf("Name fallback = %q, want symbol", zero.Name)
	}

	stale := Instrument(gjson.Parse(`{"symbol":"AAPL","price":100,"change":1,"changePercent":"9.9"}`), domain.MarketUS)
	if !stale.ChangePercent.Equal(decimal.NewFromInt(1)) {
		t.Errorf("ChangePercent = %s, want 1 recomputed from change/price", stale.ChangePercent)
	}
}

func TestStripHTML(t *testing.T) {
	got := StripHTML("<p>TSMC&amp;partners   <b>rally</b></p>")
	if got != "TSMC&partners rally" {
		t.Errorf("StripHTML = %q", got)
	}
}

func TestPriceBarRepairsOrdering(t *testing.T) {
	bar, ok := PriceBar(gjson.Parse(`{"date":"2024-03-01","open":"10","high":9,"low":"11","close":12,"volume":"1500"}`), time.UTC)
	if !ok {
		t.Fatal("PriceBar: date not parsed")
	}
	if !bar.Valid() || bar.High != 12 || bar.Low != 10 || bar.Volume != 1500 {
		t.Errorf("PriceBar = %+v, want repaired High=12 Low=10 Volume=1500", bar)
	}
	if _, ok := PriceBar(gjson.Parse(`{"date":"soon"}`), time.UTC); ok {
		t.Error("PriceBar accepted an unparseable date")
	}

	bar, ok = PriceBar(gjson.Parse(`{"date":"2024-03-04","open":"NaN","high":"Inf","low":5,"close":8,"volume":1}`), time.UTC)
	if !ok || !bar.Valid() || bar.Open != 0 || bar.High != 8 {
		t.Errorf("PriceBar with non-finite fields = %+v, want Open=0 High=8 and valid", bar)
	}
}

func TestSentimentRecordKeyVariants(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	r, ok := SentimentRecord(gjson.Parse(`{"company":"鴻海","date":"2024年06月01日 09:30","time_iso":"2024-06-01T09:30","text":"<b>up</b>","impact_pct":"72.5"}`), loc)
	if !ok {
		t.Fatal("SentimentRecord: timestamp not parsed")
	}
	if r.Company != "鴻海" || r.ImpactScore != 72.5 || r.Text != "up" {
		t.Errorf("record = %+v", r)
	}
	if r.Label != "2024年06月01日 09:30" {
		t.Errorf("Label = %q, want source date label", r.Label)
	}
	want := time.Date(2024, 6, 1, 9, 30, 0, 0, loc)
	if !r.OccurredAt.Equal(want) {
		t.Errorf("OccurredAt = %v, want %v", r.OccurredAt, want)
	}

	r, ok = SentimentRecord(gjson.Parse(`{"company":"Apple","date":"2024-06-02","impact_score":140}`), time.UTC)
	if !ok || r.ImpactScore != 100 {
		t.Errorf("record = %+v ok=%v, want score clamped to 100", r, ok)
	}
	if _, ok := SentimentRecord(gjson.Parse(`{"company":"Apple"}`), time.UTC); ok {
		t.Error("SentimentRecord accepted a record without a timestamp")
	}

	r, ok = SentimentRecord(gjson.Parse(`{"company":"A","time_iso":"2024-06-01T10:00","impact_pct":"NaN"}`), time.UTC)
	if !ok || r.ImpactScore != 0 {
		t.Errorf("record = %+v ok=%v, want NaN score coerced to 0", r, ok)
	}
}
