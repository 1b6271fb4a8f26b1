// Package market provides the MarketStore: instruments for the selected
// market, the symbol directory, pagination and the inspected instrument's
// detail, price bars and prediction series.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"marketdash/internal/domain"
	"marketdash/internal/live"
	"marketdash/internal/store"
	"marketdash/internal/symbols"
	"marketdash/internal/synth"
	"marketdash/internal/util"
	"marketdash/pkg/marketapi"
)

// DefaultPageSize is used when a listing is requested with pageSize <= 0.
const DefaultPageSize = 10

// DefaultPredictionDays is used when a forecast is requested with days <= 0.
const DefaultPredictionDays = 7

// Remote is the subset of the market-data service the store reads.
type Remote interface {
	CompanyMappings(ctx context.Context) (map[string]string, error)
	Companies(ctx context.Context, market domain.Market, page, pageSize int) (*marketapi.ListPage, error)
	SearchStocks(ctx context.Context, query string) ([]domain.Instrument, error)
	StockSeries(ctx context.Context, symbol string, market domain.Market) (*marketapi.Series, error)
	Predict(ctx context.Context, symbol string, days int, useML bool) (*marketapi.Forecast, error)
}

// Options wires a Store. Remote is required; every other dependency is
// optional and disabled when nil.
type Options struct {
	Remote    Remote
	Bars      store.BarArchive
	Directory store.DirectoryStore
	Index     *symbols.Index
	Hub       *live.Hub
	Rand      *rand.Rand
	Now       func() time.Time
	Logger    *slog.Logger

	// Market is the initial current market (TW when empty).
	Market domain.Market
	// PredictionDays is the forecast horizon used when callers pass 0.
	PredictionDays int
	// UseML is relayed to the forecast endpoint.
	UseML bool
}

// State is a point-in-time copy of the store for consumers.
type State struct {
	Market      domain.Market            `json:"market"`
	Instruments []domain.Instrument      `json:"instruments"`
	Pagination  domain.Pagination        `json:"pagination"`
	Detail      *domain.InstrumentDetail `json:"detail"`
	PriceBars   []domain.PriceBar        `json:"priceBars"`
	Prediction  *domain.PredictionSeries `json:"prediction"`
	IsLoading   bool                     `json:"isLoading"`
	LastError   string                   `json:"lastError,omitempty"`
	Directory   int                      `json:"directorySize"`
}

// Store is the MarketStore. All actions block the calling goroutine on the
// network and never hold the state lock while doing so. Failures are
// recorded in LastError and never returned.
type Store struct {
	remote   Remote
	bars     store.BarArchive
	dirStore store.DirectoryStore
	index    *symbols.Index
	hub      *live.Hub
	now      func() time.Time
	log      *slog.Logger
	predDays int
	useML    bool

	rngMu sync.Mutex
	rng   *rand.Rand

	mu          sync.RWMutex
	market      domain.Market
	instruments []domain.Instrument
	pagination  domain.Pagination
	detail      *domain.InstrumentDetail
	priceBars   []domain.PriceBar
	prediction  *domain.PredictionSeries
	directory   map[string]string
	loading     int
	lastError   string

	// Generation tokens; a response is applied only if its token is
	// still current.
	listGen   uint64
	detailGen uint64
	predGen   uint64
}

// NewStore creates a MarketStore.
func NewStore(opts Options) *Store {
	s := &Store{
		remote:     opts.Remote,
		bars:       opts.Bars,
		dirStore:   opts.Directory,
		index:      opts.Index,
		hub:        opts.Hub,
		now:        opts.Now,
		log:        opts.Logger,
		predDays:   opts.PredictionDays,
		useML:      opts.UseML,
		rng:        opts.Rand,
		market:     opts.Market,
		pagination: domain.NewPagination(1, DefaultPageSize, 0),
		directory:  make(map[string]string),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = util.Discard()
	}
	s.log = s.log.With("component", "market-store")
	if s.rng == nil {
		s.rng = synth.NewRand()
	}
	if s.market == "" {
		s.market = domain.MarketTW
	}
	if s.predDays <= 0 {
		s.predDays = DefaultPredictionDays
	}
	return s
}

// ---------------------------------------------------------------------------
// Derived views
// ---------------------------------------------------------------------------

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		Market:      s.market,
		Instruments: append([]domain.Instrument(nil), s.instruments...),
		Pagination:  s.pagination,
		Detail:      copyDetail(s.detail),
		PriceBars:   append([]domain.PriceBar(nil), s.priceBars...),
		Prediction:  s.prediction.Clone(),
		IsLoading:   s.loading > 0,
		LastError:   s.lastError,
		Directory:   len(s.directory),
	}
}

func copyDetail(d *domain.InstrumentDetail) *domain.InstrumentDetail {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// Instruments returns the current listing page.
func (s *Store) Instruments() []domain.Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Instrument(nil), s.instruments...)
}

// Instrument looks symbol up in the current listing page.
func (s *Store) Instrument(symbol string) (domain.Instrument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.instruments {
		if inst.Symbol == symbol {
			return inst, true
		}
	}
	return domain.Instrument{}, false
}

// CurrentDetail returns the inspected instrument, or nil.
func (s *Store) CurrentDetail() *domain.InstrumentDetail {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyDetail(s.detail)
}

// PriceBars returns the inspected instrument's bars, oldest first.
func (s *Store) PriceBars() []domain.PriceBar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.PriceBar(nil), s.priceBars...)
}

// Prediction returns the current prediction series, or nil.
func (s *Store) Prediction() *domain.PredictionSeries {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prediction.Clone()
}

// Pagination returns the listing pagination.
func (s *Store) Pagination() domain.Pagination {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pagination
}

// CurrentMarket returns the selected market.
func (s *Store) CurrentMarket() domain.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.market
}

// IsLoading reports whether any action is in flight.
func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading > 0
}

// LastError returns the most recent failure message, or "".
func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Directory returns a copy of the symbol→name directory.
func (s *Store) Directory() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.directory))
	for k, v := range s.directory {
		out[k] = v
	}
	return out
}

// SuggestSymbols autocompletes query against the loaded directory without
// a network request.
func (s *Store) SuggestSymbols(query string, limit int) []symbols.Suggestion {
	if s.index == nil {
		return nil
	}
	out, err := s.index.Suggest(query, limit)
	if err != nil {
		s.log.Warn("symbol suggest failed", "query", query, "error", err)
		return nil
	}
	return out
}

// ---------------------------------------------------------------------------
// Bookkeeping
// ---------------------------------------------------------------------------

func (s *Store) publish(kind string, market domain.Market) {
	s.hub.Publish(live.Event{Source: live.SourceMarket, Kind: kind, Market: market, At: s.now()})
}

func (s *Store) begin() {
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()
	s.publish(live.KindLoading, "")
}

func (s *Store) end() {
	s.mu.Lock()
	s.loading--
	s.mu.Unlock()
	s.publish(live.KindLoading, "")
}

func (s *Store) today(m domain.Market) time.Time {
	return s.now().In(m.Location())
}

// bestKnown materialises the record for symbol from the listing, then the
// directory, then the raw symbol. Must be called with mu held.
func (s *Store) bestKnown(symbol string, m domain.Market) domain.Instrument {
	for _, inst := range s.instruments {
		if inst.Symbol == symbol {
			return inst
		}
	}
	name := s.directory[symbol]
	if name == "" {
		name = symbol
	}
	return domain.Instrument{Symbol: symbol, Name: name, Market: m}
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

// Restore warm-starts the directory from the persistent directory store.
// Entries already fetched from the service take precedence.
func (s *Store) Restore(ctx context.Context) error {
	if s.dirStore == nil {
		return nil
	}
	dir, err := s.dirStore.LoadDirectory(ctx)
	if err != nil {
		return fmt.Errorf("loading cached directory: %w", err)
	}
	if len(dir) == 0 {
		return nil
	}
	s.mu.Lock()
	for sym, name := range dir {
		if _, ok := s.directory[sym]; !ok {
			s.directory[sym] = name
		}
	}
	merged := make(map[string]string, len(s.directory))
	for k, v := range s.directory {
		merged[k] = v
	}
	s.mu.Unlock()

	s.rebuildIndex(merged)
	s.log.Info("restored symbol directory", "entries", len(dir))
	s.publish(live.KindDirectory, "")
	return nil
}

func (s *Store) rebuildIndex(dir map[string]string) {
	if s.index == nil {
		return
	}
	if err := s.index.Rebuild(dir); err != nil {
		s.log.Warn("rebuilding symbol index", "error", err)
	}
}

// LoadSymbolDirectory fetches the full symbol→name mapping. On failure the
// existing directory is left untouched.
func (s *Store) LoadSymbolDirectory(ctx context.Context) {
	dir, err := s.remote.CompanyMappings(ctx)
	if err != nil {
		s.log.Warn("loading symbol directory failed", "error", err)
		return
	}

	s.mu.Lock()
	s.directory = make(map[string]string, len(dir))
	for k, v := range dir {
		s.directory[k] = v
	}
	s.mu.Unlock()

	s.rebuildIndex(dir)
	if s.dirStore != nil {
		if err := s.dirStore.SaveDirectory(ctx, dir); err != nil {
			s.log.Warn("persisting symbol directory", "error", err)
		}
	}
	s.log.Info("loaded symbol directory", "entries", len(dir))
	s.publish(live.KindDirectory, "")
}

// ListInstruments fetches one listing page for market. On success the
// instruments and pagination are replaced together; on failure both are
// left as they were. The current market is set either way.
func (s *Store) ListInstruments(ctx context.Context, market domain.Market, page, pageSize int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	s.mu.Lock()
	s.market = market
	s.listGen++
	gen := s.listGen
	s.mu.Unlock()
	s.begin()
	defer s.end()

	res, err := s.remote.Companies(ctx, market, page, pageSize)
	if err != nil {
		s.fail(gen, &s.listGen, fmt.Sprintf("loading %s listings failed: %v", market, err), "market", market, "page", page, "error", err)
		return
	}

	insts := make([]domain.Instrument, 0, min(len(res.Instruments), pageSize))
	for _, inst := range res.Instruments {
		if inst.Market != market {
			continue
		}
		if len(insts) == pageSize {
			break
		}
		insts = append(insts, inst)
	}
	total := res.TotalItems
	if floor := (page-1)*pageSize + len(insts); total < floor {
		total = floor
	}

	s.mu.Lock()
	if gen != s.listGen {
		s.mu.Unlock()
		s.log.Debug("discarding stale listing response", "market", market, "page", page)
		return
	}
	s.instruments = insts
	s.pagination = domain.NewPagination(page, pageSize, total)
	s.lastError = ""
	s.mu.Unlock()

	s.log.Info("loaded listings", "market", market, "page", page, "count", len(insts), "total", total)
	s.publish(live.KindInstruments, market)
}

// fail records msg as the last error unless the request identified by gen
// has been superseded.
func (s *Store) fail(gen uint64, current *uint64, msg string, attrs ...any) {
	s.mu.Lock()
	stale := gen != *current
	if !stale {
		s.lastError = msg
	}
	s.mu.Unlock()
	if stale {
		s.log.Debug("discarding stale failure", attrs...)
		return
	}
	s.log.Error(msg, attrs...)
	s.publish(live.KindError, "")
}

// SearchInstruments runs a free-text search. A blank query returns an empty
// result without a request; a failed search also returns an empty result.
func (s *Store) SearchInstruments(ctx context.Context, query string) []domain.Instrument {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Instrument{}
	}
	res, err := s.remote.SearchStocks(ctx, query)
	if err != nil {
		s.log.Warn("search failed", "query", query, "error", err)
		return []domain.Instrument{}
	}
	if res == nil {
		res = []domain.Instrument{}
	}
	return res
}

// LoadInstrumentDetail fetches the series for symbol. On success the bars
// are stored and a prediction is synthesized from the last close; on failure
// both bars and prediction are synthesized. The detail record is populated
// from the best-known metadata either way.
func (s *Store) LoadInstrumentDetail(ctx context.Context, symbol string, market domain.Market) {
	symbol = strings.TrimSpace(symbol)
	s.mu.Lock()
	if market == "" {
		market = s.market
	}
	s.detailGen++
	s.predGen++
	gen, predGen := s.detailGen, s.predGen
	s.mu.Unlock()
	s.begin()
	defer s.end()

	series, err := s.remote.StockSeries(ctx, symbol, market)
	today := s.today(market)

	var (
		bars []domain.PriceBar
		pred *domain.PredictionSeries
	)
	s.rngMu.Lock()
	if err != nil {
		bars = synth.PriceBars(s.rng, today)
		pred = synth.Prediction(s.rng, today)
	} else {
		bars = series.Bars
		anchor := 0.0
		if n := len(bars); n > 0 {
			anchor = bars[n-1].Close
		}
		pred = synth.PredictionFrom(s.rng, today, anchor)
	}
	s.rngMu.Unlock()

	s.mu.Lock()
	if gen != s.detailGen {
		s.mu.Unlock()
		s.log.Debug("discarding stale detail response", "symbol", symbol)
		return
	}
	detail := &domain.InstrumentDetail{Instrument: s.bestKnown(symbol, market)}
	if err == nil {
		if series.Name != "" && detail.Name == symbol {
			detail.Name = series.Name
		}
		detail.Description = series.Description
		detail.MarketCap = series.MarketCap
		detail.PriceEarningsRatio = series.PriceEarningsRatio
		detail.DividendYield = series.DividendYield
	}
	s.detail = detail
	s.priceBars = bars
	if predGen == s.predGen {
		s.prediction = pred
	}
	if err != nil {
		s.lastError = fmt.Sprintf("loading %s detail failed: %v", symbol, err)
	} else {
		s.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("loading detail failed, using synthetic series", "symbol", symbol, "market", market, "error", err)
		s.publish(live.KindError, market)
		s.publish(live.KindDetail, market)
		return
	}
	s.log.Info("loaded detail", "symbol", symbol, "market", market, "bars", len(bars))
	s.publish(live.KindDetail, market)
	s.archiveBars(ctx, market, symbol, bars)
}

func (s *Store) archiveBars(ctx context.Context, market domain.Market, symbol string, bars []domain.PriceBar) {
	if s.bars == nil || len(bars) == 0 {
		return
	}
	if err := s.bars.WriteBars(ctx, market, symbol, bars); err != nil {
		s.log.Warn("archiving bars", "symbol", symbol, "error", err)
	}
}

// LoadPrediction fetches a days-long forecast for symbol. Index 0 carries the
// current price as actual (and as the predicted anchor) labelled with today's
// date; each forecast point follows at its own date. On failure the prior
// series is kept.
func (s *Store) LoadPrediction(ctx context.Context, symbol string, days int) {
	if days <= 0 {
		days = s.predDays
	}
	s.mu.Lock()
	s.predGen++
	gen := s.predGen
	market := s.market
	if s.detail != nil && s.detail.Symbol == symbol && s.detail.Market != "" {
		market = s.detail.Market
	}
	s.mu.Unlock()
	s.begin()
	defer s.end()

	fc, err := s.remote.Predict(ctx, symbol, days, s.useML)
	if err != nil {
		s.fail(gen, &s.predGen, fmt.Sprintf("loading %s prediction failed: %v", symbol, err), "symbol", symbol, "days", days, "error", err)
		return
	}
	series := ForecastSeries(fc, s.today(market))

	s.mu.Lock()
	if gen != s.predGen {
		s.mu.Unlock()
		s.log.Debug("discarding stale prediction response", "symbol", symbol)
		return
	}
	s.prediction = series
	s.lastError = ""
	s.mu.Unlock()

	s.log.Info("loaded prediction", "symbol", symbol, "points", len(fc.Points))
	s.publish(live.KindPrediction, market)
}

// ForecastSeries converts a service forecast into a chart series of length
// len(Points)+1.
func ForecastSeries(fc *marketapi.Forecast, today time.Time) *domain.PredictionSeries {
	n := len(fc.Points) + 1
	series := &domain.PredictionSeries{
		Labels:    make([]string, n),
		Actual:    make([]*float64, n),
		Predicted: make([]*float64, n),
	}
	series.Labels[0] = util.DateLabel(today)
	series.Actual[0] = domain.Float(fc.CurrentPrice)
	series.Predicted[0] = domain.Float(fc.CurrentPrice)
	for i, p := range fc.Points {
		series.Labels[i+1] = p.Date
		series.Predicted[i+1] = domain.Float(p.Price)
	}
	return series
}

// SwitchMarket selects market and reloads its first page. Selecting the
// current market is a no-op.
func (s *Store) SwitchMarket(ctx context.Context, market domain.Market, pageSize int) {
	s.mu.Lock()
	if market == s.market {
		s.mu.Unlock()
		return
	}
	s.market = market
	s.mu.Unlock()
	s.publish(live.KindMarket, market)

	s.ListInstruments(ctx, market, 1, pageSize)
}
