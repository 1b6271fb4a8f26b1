// Package store defines storage interfaces for archiving the data the
// dashboard fetches: daily price bars, scored news and the symbol directory.
package store

import (
	"context"
	"time"

	"marketdash/internal/domain"
)

// BarArchive persists and retrieves daily price bars.
type BarArchive interface {
	// WriteBars merges bars for one symbol into the archive.
	WriteBars(ctx context.Context, market domain.Market, symbol string, bars []domain.PriceBar) error

	// ReadBars returns bars for symbol whose date lies within [start, end],
	// oldest first.
	ReadBars(ctx context.Context, market domain.Market, symbol string, start, end time.Time) ([]domain.PriceBar, error)

	// ListSymbols returns all symbols with archived bars in market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// SentimentArchive persists and retrieves scored news records.
type SentimentArchive interface {
	// WriteSentiment merges records into the archive for market.
	WriteSentiment(ctx context.Context, market domain.Market, records []domain.SentimentRecord) error

	// ReadSentiment returns records that occurred within [start, end],
	// newest first.
	ReadSentiment(ctx context.Context, market domain.Market, start, end time.Time) ([]domain.SentimentRecord, error)
}

// DirectoryStore persists the symbol→name directory between runs.
type DirectoryStore interface {
	// SaveDirectory upserts every entry of dir.
	SaveDirectory(ctx context.Context, dir map[string]string) error

	// LoadDirectory returns every stored entry.
	LoadDirectory(ctx context.Context) (map[string]string, error)
}
