// Package httpapi exposes the dashboard stores over HTTP as JSON, serving
// the same views as the terminal dashboard, plus a WebSocket event push.
package httpapi

import (
	"marketdash/internal/dashboard"
	"marketdash/internal/domain"
	"marketdash/internal/symbols"
)

// InstrumentsResponse is one listing page.
type InstrumentsResponse struct {
	Market      domain.Market             `json:"market"`
	Instruments []domain.Instrument       `json:"instruments"`
	Rows        []dashboard.InstrumentRow `json:"rows"`
	Pagination  domain.Pagination         `json:"pagination"`
	IsLoading   bool                      `json:"isLoading"`
	LastError   string                    `json:"lastError,omitempty"`
}

// SearchResponse holds free-text search results.
type SearchResponse struct {
	Query   string              `json:"query"`
	Results []domain.Instrument `json:"results"`
}

// SuggestResponse holds offline autocomplete hits.
type SuggestResponse struct {
	Query       string               `json:"query"`
	Suggestions []symbols.Suggestion `json:"suggestions"`
}

// DetailResponse is the inspected instrument.
type DetailResponse struct {
	*dashboard.DetailView
	LastError string `json:"lastError,omitempty"`
}

// PredictionResponse is the current prediction series.
type PredictionResponse struct {
	Symbol     string                   `json:"symbol"`
	Prediction *domain.PredictionSeries `json:"prediction"`
	LastError  string                   `json:"lastError,omitempty"`
}

// MarketResponse reports the market both stores are on.
type MarketResponse struct {
	Market    domain.Market `json:"market"`
	Sentiment domain.Market `json:"sentimentMarket"`
}

// SentimentHistoryResponse holds per-day archived summaries.
type SentimentHistoryResponse struct {
	Market domain.Market            `json:"market"`
	Days   []dashboard.DaySentiment `json:"days"`
}

// SymbolsResponse lists archived symbols.
type SymbolsResponse struct {
	Market  domain.Market `json:"market"`
	Symbols []string      `json:"symbols"`
}

// WatchlistResponse lists watchlist symbols.
type WatchlistResponse struct {
	Symbols []string `json:"symbols"`
}
