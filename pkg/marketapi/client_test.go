package marketapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"marketdash/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL, MaxAttempts: 2, RetryDelay: time.Millisecond}, nil)
}

func TestNewClient(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://localhost:5001/"}, nil)
	if c == nil {
		t.Fatal("expected non-nil client")
	}
	if c.BaseURL() != "http://localhost:5001" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", c.BaseURL())
	}
	if c.httpClient == nil || c.httpClient.Timeout != defaultTimeout {
		t.Fatal("expected default http client with timeout")
	}
}

func TestClientRateBurst(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(Options{BaseURL: srv.URL, MaxAttempts: 1, RateLimitPerMin: 1, RateBurst: 2}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	for i := 0; i < 2; i++ {
		if _, err := c.CompanyMappings(ctx); err != nil {
			t.Fatalf("call %d within burst: %v", i, err)
		}
	}
	if _, err := c.CompanyMappings(ctx); err == nil {
		t.Fatal("call past the burst should wait for the context to expire")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d calls, want 2", got)
	}
}

func TestCompaniesParsesPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/companies" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("market") != "TW" || q.Get("page") != "2" || q.Get("page_size") != "3" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		w.Write([]byte(`{"data":[
			{"symbol":"2330","name":"台積電","price":"890","change":"-5"},
			{"symbol":"AAPL","name":"Apple","price":190,"change":1,"market":"US"},
			{"symbol":"2317","name":"鴻海","price":null,"change":2}
		],"pagination":{"page":2,"page_size":3,"total_items":7}}`))
	})

	page, err := c.Companies(context.Background(), domain.MarketTW, 2, 3)
	if err != nil {
		t.Fatalf("Companies: %v", err)
	}
	if len(page.Instruments) != 2 {
		t.Fatalf("got %d instruments, want 2 (US record dropped)", len(page.Instruments))
	}
	for _, inst := range page.Instruments {
		if inst.Market != domain.MarketTW {
			t.Errorf("instrument %s market %q", inst.Symbol, inst.Market)
		}
	}
	if page.Page != 2 || page.PageSize != 3 || page.TotalItems != 7 {
		t.Errorf("pagination = %+v", page)
	}
	if !page.Instruments[1].ChangePercent.IsZero() {
		t.Errorf("zero-price ChangePercent = %s", page.Instruments[1].ChangePercent)
	}
}

func TestCompaniesMissingPaginationIsShapeMismatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})
	_, err := c.Companies(context.Background(), domain.MarketUS, 1, 10)
	if !errors.Is(err, domain.ErrShape) {
		t.Fatalf("err = %v, want ErrShape", err)
	}
}

func TestServerErrorRetriedThenNetworkFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := c.SearchStocks(context.Background(), "tsmc")
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 attempts", calls.Load())
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	})
	_, err := c.StockSeries(context.Background(), "NOPE", domain.MarketUS)
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestCompanyMappingsBothShapes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"2330":"台積電","2317":"鴻海"}`))
	})
	m, err := c.CompanyMappings(context.Background())
	if err != nil || m["2330"] != "台積電" || len(m) != 2 {
		t.Fatalf("CompanyMappings = %v, %v", m, err)
	}

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"AAPL","name":"Apple"},{"symbol":"","name":"skip"}]`))
	})
	m, err = c.CompanyMappings(context.Background())
	if err != nil || m["AAPL"] != "Apple" || len(m) != 1 {
		t.Fatalf("CompanyMappings(array) = %v, %v", m, err)
	}
}

func TestStockSeriesSortsAndRepairs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stocks/2330" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"description":"foundry","marketCap":"1.2兆","pe":"15.6","dividend":5.2,"data":[
			{"date":"2024-03-02","open":10,"high":11,"low":9,"close":10.5,"volume":100},
			{"date":"2024-03-01","open":10,"high":9,"low":12,"close":11,"volume":"200"},
			{"date":"bogus"}
		]}`))
	})
	s, err := c.StockSeries(context.Background(), "2330", domain.MarketTW)
	if err != nil {
		t.Fatalf("StockSeries: %v", err)
	}
	if len(s.Bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(s.Bars))
	}
	if !s.Bars[0].Date.Before(s.Bars[1].Date) {
		t.Error("bars not sorted oldest first")
	}
	for _, b := range s.Bars {
		if !b.Valid() {
			t.Errorf("bar %+v violates ordering", b)
		}
	}
	if s.Description != "foundry" || s.MarketCap != "1.2兆" || s.PriceEarningsRatio != 15.6 || s.DividendYield != 5.2 {
		t.Errorf("metadata = %+v", s)
	}
}

func TestPredict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("days") != "3" || r.URL.Query().Get("use_ml") != "true" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"current_price":"100.5","predictions":[{"date":"2024-03-02","price":101},{"date":"2024-03-03","price":"102"}]}`))
	})
	f, err := c.Predict(context.Background(), "2330", 3, true)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if f.CurrentPrice != 100.5 || len(f.Points) != 2 || f.Points[1].Price != 102 || f.Points[0].Date != "2024-03-02" {
		t.Errorf("forecast = %+v", f)
	}

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"predictions":[]}`))
	})
	if _, err := c.Predict(context.Background(), "2330", 3, false); !errors.Is(err, domain.ErrShape) {
		t.Errorf("err = %v, want ErrShape", err)
	}
}

func TestSentimentAnalysis(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sentiment-analysis/US" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`[
			{"company":"Apple","time_iso":"2024-06-01T09:30","text":"a","impact_pct":65},
			{"company":"Meta","date":"2024-06-02","text":"b","impact_score":"20"},
			{"company":"Ghost","text":"no time"}
		]`))
	})
	recs, err := c.SentimentAnalysis(context.Background(), domain.MarketUS)
	if err != nil {
		t.Fatalf("SentimentAnalysis: %v", err)
	}
	if len(recs) != 2 || recs[0].ImpactScore != 65 || recs[1].ImpactScore != 20 {
		t.Errorf("records = %+v", recs)
	}

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"x"}`))
	})
	if _, err := c.SentimentAnalysis(context.Background(), domain.MarketTW); !errors.Is(err, domain.ErrShape) {
		t.Errorf("err = %v, want ErrShape", err)
	}
}
