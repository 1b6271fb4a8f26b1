// Package app wires configuration, archives, the market-data client and the
// two dashboard stores into one process-level value shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"marketdash/internal/config"
	"marketdash/internal/domain"
	"marketdash/internal/httpapi"
	"marketdash/internal/live"
	"marketdash/internal/market"
	"marketdash/internal/sentiment"
	"marketdash/internal/store"
	"marketdash/internal/symbols"
	"marketdash/pkg/marketapi"
)

// App holds the wired dashboard components.
type App struct {
	Config    *config.Config
	Log       *slog.Logger
	Hub       *live.Hub
	Client    *marketapi.Client
	Bars      store.BarArchive
	News      store.SentimentArchive
	Directory store.DirectoryStore
	Index     *symbols.Index
	Market    *market.Store
	Sentiment *sentiment.Store
	Watchlist httpapi.Watchlist

	sqlite *store.SQLiteStore
}

// New builds an App from cfg. Archives with an empty path are disabled and
// the Alpaca watchlist is only wired when credentials are configured.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	m, err := domain.ParseMarket(cfg.Dashboard.Market)
	if err != nil {
		return nil, fmt.Errorf("dashboard market: %w", err)
	}

	a := &App{
		Config: cfg,
		Log:    log,
		Hub:    live.NewHub(),
		Client: marketapi.NewClient(marketapi.Options{
			BaseURL:         cfg.Remote.BaseURL,
			Timeout:         cfg.Remote.Timeout,
			MaxAttempts:     cfg.Remote.MaxAttempts,
			RetryDelay:      cfg.Remote.RetryDelay,
			RateLimitPerMin: cfg.Remote.RateLimitPerMin,
			RateBurst:       cfg.Remote.RateBurst,
		}, log),
	}

	if cfg.Storage.DataDir != "" {
		ps := store.NewParquetStore(cfg.Storage.DataDir)
		a.Bars, a.News = ps, ps
	}
	if cfg.Storage.SQLitePath != "" {
		sq, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening directory store: %w", err)
		}
		a.sqlite = sq
		a.Directory = sq
	}

	idx, err := symbols.New()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating symbol index: %w", err)
	}
	a.Index = idx

	a.Market = market.NewStore(market.Options{
		Remote:         a.Client,
		Bars:           a.Bars,
		Directory:      a.Directory,
		Index:          idx,
		Hub:            a.Hub,
		Logger:         log,
		Market:         m,
		PredictionDays: cfg.Dashboard.PredictionDays,
		UseML:          cfg.Remote.UseML,
	})
	a.Sentiment = sentiment.NewStore(sentiment.Options{
		Remote:  a.Client,
		Archive: a.News,
		Hub:     a.Hub,
		Logger:  log,
		Market:  m,
	})

	if cfg.Alpaca.APIKey != "" {
		a.Watchlist = httpapi.NewAlpacaWatchlist(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.Watchlist, log)
		log.Info("alpaca watchlist enabled", "name", cfg.Alpaca.Watchlist)
	}
	return a, nil
}

// WarmUp restores the archived symbol directory, then loads the directory,
// the first instrument page and the sentiment feed concurrently. The store
// actions record their own failures in LastError, so WarmUp only reports
// cancellation.
func (a *App) WarmUp(ctx context.Context) error {
	if err := a.Market.Restore(ctx); err != nil {
		a.Log.Warn("restoring symbol directory", "error", err)
	}
	m := a.Market.CurrentMarket()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Market.LoadSymbolDirectory(gctx)
		return nil
	})
	g.Go(func() error {
		a.Market.ListInstruments(gctx, m, 1, a.Config.Dashboard.PageSize)
		return nil
	})
	g.Go(func() error {
		a.Sentiment.FetchSentiment(gctx, m)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// RunFeed streams external sentiment updates into the sentiment store until
// ctx is cancelled. It returns immediately when no feed is configured.
func (a *App) RunFeed(ctx context.Context) error {
	if a.Config.Feed.URL == "" {
		return nil
	}
	feed := live.NewFeed(a.Config.Feed.URL, a.Sentiment, a.Config.Feed.ReconnectMin, a.Config.Feed.ReconnectMax, a.Log)
	return feed.Run(ctx)
}

// Handler returns the dashboard HTTP API for this App.
func (a *App) Handler() *httpapi.DashboardServer {
	return httpapi.NewDashboardServer(httpapi.Options{
		Market:    a.Market,
		Sentiment: a.Sentiment,
		Hub:       a.Hub,
		Bars:      a.Bars,
		News:      a.News,
		Watchlist: a.Watchlist,
		PageSize:  a.Config.Dashboard.PageSize,
		Logger:    a.Log,

		AllowedOrigins: a.Config.Server.AllowedOrigins,
	})
}

// Close releases the symbol index and the directory database.
func (a *App) Close() {
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			a.Log.Warn("closing symbol index", "error", err)
		}
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.Log.Warn("closing directory store", "error", err)
		}
	}
}
