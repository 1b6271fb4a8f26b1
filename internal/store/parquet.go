package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"marketdash/internal/domain"
)

// Compile-time interface checks.
var _ BarArchive = (*ParquetStore)(nil)
var _ SentimentArchive = (*ParquetStore)(nil)

// ParquetStore implements BarArchive and SentimentArchive using Parquet
// files on disk.
type ParquetStore struct {
	DataDir string

	// mu serialises read-merge-write cycles on the same files.
	mu sync.Mutex
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// SentimentRow is the Parquet schema for one scored news record.
type SentimentRow struct {
	Company     string  `parquet:"company"`
	Timestamp   int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Label       string  `parquet:"label"`
	Text        string  `parquet:"text"`
	ImpactScore float64 `parquet:"impact_score"`
}

// ---------------------------------------------------------------------------
// BarArchive implementation
// ---------------------------------------------------------------------------

// WriteBars writes bars to Parquet files organized by symbol and year:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, market domain.Market, symbol string, bars []domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("writing bars: empty symbol")
	}

	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		y := b.Date.Year()
		groups[y] = append(groups[y], BarRecord{
			Symbol:    symbol,
			Timestamp: dayKey(b.Date).UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for year, records := range groups {
		path := s.barPath(symbol, market, year)

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", symbol, year, err)
		}
	}
	return nil
}

// ReadBars reads bars for the given symbol and date range. Dates come back
// as midnight in the market's location.
func (s *ParquetStore) ReadBars(_ context.Context, market domain.Market, symbol string, start, end time.Time) ([]domain.PriceBar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	from, to := dayKey(start), dayKey(end)
	loc := market.Location()

	s.mu.Lock()
	defer s.mu.Unlock()
	var bars []domain.PriceBar
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[BarRecord](s.barPath(symbol, market, year))
		if err != nil {
			// File doesn't exist for this year.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(from) || ts.After(to) {
				continue
			}
			bars = append(bars, domain.PriceBar{
				Date:   time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, loc),
				Open:   r.Open,
				High:   r.High,
				Low:    r.Low,
				Close:  r.Close,
				Volume: r.Volume,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market domain.Market) ([]string, error) {
	dir := filepath.Join(s.DataDir, marketDir(market), "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// SentimentArchive implementation
// ---------------------------------------------------------------------------

// WriteSentiment writes records to one Parquet file per calendar day (in the
// market's location):
//
//	<DataDir>/<market>/sentiment/<YYYY-MM-DD>.parquet
func (s *ParquetStore) WriteSentiment(_ context.Context, market domain.Market, records []domain.SentimentRecord) error {
	if len(records) == 0 {
		return nil
	}
	loc := market.Location()
	groups := make(map[string][]SentimentRow)
	for _, r := range records {
		date := r.OccurredAt.In(loc).Format("2006-01-02")
		groups[date] = append(groups[date], SentimentRow{
			Company:     r.Company,
			Timestamp:   r.OccurredAt.UnixMilli(),
			Label:       r.Label,
			Text:        r.Text,
			ImpactScore: r.ImpactScore,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for date, rows := range groups {
		path := s.sentimentPath(market, date)
		existing, _ := readParquetFile[SentimentRow](path)
		if err := writeParquetFile(path, mergeSentimentRows(existing, rows)); err != nil {
			return fmt.Errorf("writing sentiment for %s/%s: %w", market, date, err)
		}
	}
	return nil
}

// ReadSentiment reads records within [start, end], newest first.
func (s *ParquetStore) ReadSentiment(_ context.Context, market domain.Market, start, end time.Time) ([]domain.SentimentRecord, error) {
	loc := market.Location()
	first := start.In(loc)
	first = time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SentimentRecord
	for d := first; !d.After(end); d = d.AddDate(0, 0, 1) {
		rows, err := readParquetFile[SentimentRow](s.sentimentPath(market, d.Format("2006-01-02")))
		if err != nil {
			continue
		}
		for _, r := range rows {
			ts := time.UnixMilli(r.Timestamp).In(loc)
			if ts.Before(start) || ts.After(end) {
				continue
			}
			out = append(out, domain.SentimentRecord{
				Company:     r.Company,
				OccurredAt:  ts,
				Label:       r.Label,
				Text:        r.Text,
				ImpactScore: r.ImpactScore,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

func marketDir(m domain.Market) string {
	return strings.ToLower(string(m))
}

// dayKey maps a bar date onto UTC midnight of the same calendar day so bars
// from any location compare by date alone.
func dayKey(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol string, market domain.Market, year int) string {
	return filepath.Join(s.DataDir, marketDir(market), "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// sentimentPath returns the filesystem path for a sentiment Parquet file.
// Layout: <dataDir>/<market>/sentiment/<YYYY-MM-DD>.parquet
func (s *ParquetStore) sentimentPath(market domain.Market, date string) string {
	return filepath.Join(s.DataDir, marketDir(market), "sentiment", date+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// mergeSentimentRows deduplicates rows by (company, timestamp, text),
// preferring incoming rows. Results are sorted by timestamp.
func mergeSentimentRows(existing, incoming []SentimentRow) []SentimentRow {
	type key struct {
		company string
		ts      int64
		text    string
	}
	seen := make(map[key]SentimentRow, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Company, r.Timestamp, r.Text}] = r
	}
	for _, r := range incoming {
		seen[key{r.Company, r.Timestamp, r.Text}] = r
	}

	merged := make([]SentimentRow, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
