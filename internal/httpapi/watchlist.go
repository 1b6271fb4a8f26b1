package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// Watchlist is a named, remotely stored set of symbols.
type Watchlist interface {
	Symbols(ctx context.Context) ([]string, error)
	Add(ctx context.Context, symbol string) error
	Remove(ctx context.Context, symbol string) error
}

// AlpacaWatchlist keeps the watchlist in an Alpaca account. The list is
// found by name, or created, on first use.
type AlpacaWatchlist struct {
	client *alpacaapi.Client
	name   string
	log    *slog.Logger

	mu sync.Mutex
	id string
}

// NewAlpacaWatchlist creates a watchlist backed by the Alpaca trading API.
func NewAlpacaWatchlist(apiKey, apiSecret, baseURL, name string, log *slog.Logger) *AlpacaWatchlist {
	return &AlpacaWatchlist{
		client: alpacaapi.NewClient(alpacaapi.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		name: name,
		log:  log,
	}
}

// resolve gets or creates the named watchlist and caches its ID.
func (w *AlpacaWatchlist) resolve() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.id != "" {
		return w.id, nil
	}
	lists, err := w.client.GetWatchlists()
	if err != nil {
		return "", fmt.Errorf("listing watchlists: %w", err)
	}
	for _, l := range lists {
		if l.Name == w.name {
			w.id = l.ID
			w.log.Info("watchlist found", "name", w.name, "id", l.ID)
			return w.id, nil
		}
	}
	created, err := w.client.CreateWatchlist(alpacaapi.CreateWatchlistRequest{Name: w.name})
	if err != nil {
		return "", fmt.Errorf("creating watchlist: %w", err)
	}
	w.id = created.ID
	w.log.Info("watchlist created", "name", w.name, "id", created.ID)
	return w.id, nil
}

// Symbols returns the watchlist symbols, sorted.
func (w *AlpacaWatchlist) Symbols(_ context.Context) ([]string, error) {
	id, err := w.resolve()
	if err != nil {
		return nil, err
	}
	// GetWatchlists doesn't include assets; fetch the full watchlist.
	wl, err := w.client.GetWatchlist(id)
	if err != nil {
		return nil, fmt.Errorf("getting watchlist: %w", err)
	}
	symbols := make([]string, 0, len(wl.Assets))
	for _, a := range wl.Assets {
		symbols = append(symbols, a.Symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Add appends symbol to the watchlist.
func (w *AlpacaWatchlist) Add(_ context.Context, symbol string) error {
	id, err := w.resolve()
	if err != nil {
		return err
	}
	symbol = strings.ToUpper(symbol)
	if _, err := w.client.AddSymbolToWatchlist(id, alpacaapi.AddSymbolToWatchlistRequest{Symbol: symbol}); err != nil {
		return fmt.Errorf("adding %s: %w", symbol, err)
	}
	return nil
}

// Remove deletes symbol from the watchlist.
func (w *AlpacaWatchlist) Remove(_ context.Context, symbol string) error {
	id, err := w.resolve()
	if err != nil {
		return err
	}
	symbol = strings.ToUpper(symbol)
	if err := w.client.RemoveSymbolFromWatchlist(id, alpacaapi.RemoveSymbolFromWatchlistRequest{Symbol: symbol}); err != nil {
		return fmt.Errorf("removing %s: %w", symbol, err)
	}
	return nil
}
