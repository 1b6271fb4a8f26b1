package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"marketdash/internal/config"
	"marketdash/internal/domain"
	"marketdash/internal/util"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Storage: config.Storage{
			DataDir:    filepath.Join(dir, "data"),
			SQLitePath: filepath.Join(dir, "marketdash.db"),
		},
		Remote: config.Remote{BaseURL: baseURL, Timeout: time.Second, MaxAttempts: 1},
		Dashboard: config.Dashboard{
			Market:         "TW",
			PageSize:       10,
			PredictionDays: 7,
		},
	}
}

func TestNewRejectsUnknownMarket(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Dashboard.Market = "JP"
	if _, err := New(cfg, util.Discard()); err == nil {
		t.Fatal("New() accepted an unknown market")
	}
}

func TestNewWiresArchives(t *testing.T) {
	a, err := New(testConfig(t, "http://127.0.0.1:1"), util.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Bars == nil || a.News == nil || a.Directory == nil {
		t.Errorf("archives not wired: bars=%v news=%v dir=%v", a.Bars, a.News, a.Directory)
	}
	if a.Watchlist != nil {
		t.Error("watchlist wired without credentials")
	}
	if got := a.Market.CurrentMarket(); got != domain.MarketTW {
		t.Errorf("market = %s, want TW", got)
	}
	if a.Handler() == nil {
		t.Error("Handler() returned nil")
	}
}

func TestNewWithoutArchives(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Storage = config.Storage{}
	a, err := New(cfg, util.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if a.Bars != nil || a.News != nil || a.Directory != nil {
		t.Error("archives wired with empty paths")
	}
}

func TestWarmUpWithServiceDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a, err := New(testConfig(t, srv.URL), util.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if err := a.WarmUp(context.Background()); err != nil {
		t.Fatalf("WarmUp: %v", err)
	}
	if a.Market.LastError() == "" {
		t.Error("market LastError empty after a failed listing")
	}
	if a.Market.IsLoading() || a.Sentiment.IsLoading() {
		t.Error("stores still loading after WarmUp")
	}
	if len(a.Sentiment.Records()) == 0 {
		t.Error("sentiment fallback produced no records")
	}
}

func TestRunFeedWithoutURL(t *testing.T) {
	a, err := New(testConfig(t, "http://127.0.0.1:1"), util.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if err := a.RunFeed(context.Background()); err != nil {
		t.Errorf("RunFeed() = %v, want nil when no feed is configured", err)
	}
}
