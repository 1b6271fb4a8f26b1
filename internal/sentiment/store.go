// Package sentiment provides the SentimentStore: scored news records for the
// selected market, a company filter and the aggregate summary derived from
// them.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"marketdash/internal/domain"
	"marketdash/internal/live"
	"marketdash/internal/normalize"
	"marketdash/internal/store"
	"marketdash/internal/synth"
	"marketdash/internal/util"
)

// Remote is the subset of the market-data service the store reads.
type Remote interface {
	SentimentAnalysis(ctx context.Context, market domain.Market) ([]domain.SentimentRecord, error)
}

// Options wires a Store. Remote is required.
type Options struct {
	Remote  Remote
	Archive store.SentimentArchive
	Hub     *live.Hub
	Rand    *rand.Rand
	Now     func() time.Time
	Logger  *slog.Logger
	Market  domain.Market
}

// State is a point-in-time copy of the store for consumers.
type State struct {
	Market        domain.Market            `json:"market"`
	CompanyFilter string                   `json:"companyFilter"`
	Companies     []string                 `json:"companies"`
	Records       []domain.SentimentRecord `json:"records"`
	Summary       *domain.SentimentSummary `json:"summary"`
	IsLoading     bool                     `json:"isLoading"`
	LastError     string                   `json:"lastError,omitempty"`
}

// Store is the SentimentStore. Derived views are computed on every read.
type Store struct {
	remote  Remote
	archive store.SentimentArchive
	hub     *live.Hub
	now     func() time.Time
	log     *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu        sync.RWMutex
	records   []domain.SentimentRecord
	filter    string
	market    domain.Market
	loading   int
	lastError string
	gen       uint64
}

// NewStore creates a SentimentStore with the filter set to "all".
func NewStore(opts Options) *Store {
	s := &Store{
		remote:  opts.Remote,
		archive: opts.Archive,
		hub:     opts.Hub,
		now:     opts.Now,
		log:     opts.Logger,
		rng:     opts.Rand,
		filter:  domain.CompanyAll,
		market:  opts.Market,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = util.Discard()
	}
	s.log = s.log.With("component", "sentiment-store")
	if s.rng == nil {
		s.rng = synth.NewRand()
	}
	if s.market == "" {
		s.market = domain.MarketTW
	}
	return s
}

// ---------------------------------------------------------------------------
// Derived views
// ---------------------------------------------------------------------------

// Companies returns "all" followed by each company seen in the records, in
// first-seen order.
func (s *Store) Companies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return companies(s.records)
}

func companies(records []domain.SentimentRecord) []string {
	out := []string{domain.CompanyAll}
	seen := make(map[string]bool)
	for _, r := range records {
		if r.Company == "" || seen[r.Company] {
			continue
		}
		seen[r.Company] = true
		out = append(out, r.Company)
	}
	return out
}

// FilteredRecords returns the records matching the company filter.
func (s *Store) FilteredRecords() []domain.SentimentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filtered(s.records, s.filter)
}

func filtered(records []domain.SentimentRecord, company string) []domain.SentimentRecord {
	if company == domain.CompanyAll {
		return append([]domain.SentimentRecord(nil), records...)
	}
	var out []domain.SentimentRecord
	for _, r := range records {
		if r.Company == company {
			out = append(out, r)
		}
	}
	return out
}

// Summary aggregates FilteredRecords. It returns nil when no record matches.
func (s *Store) Summary() *domain.SentimentSummary {
	return Summarize(s.FilteredRecords())
}

// Summarize classifies records and averages their impact scores, rounded to
// two decimal places. It returns nil for an empty set.
func Summarize(records []domain.SentimentRecord) *domain.SentimentSummary {
	if len(records) == 0 {
		return nil
	}
	sum := &domain.SentimentSummary{Total: len(records)}
	total := decimal.Zero
	for _, r := range records {
		if math.IsNaN(r.ImpactScore) || math.IsInf(r.ImpactScore, 0) {
			r.ImpactScore = 0
		}
		total = total.Add(decimal.NewFromFloat(r.ImpactScore))
		switch domain.Classify(r.ImpactScore) {
		case domain.SentimentPositive:
			sum.PositiveCount++
		case domain.SentimentNegative:
			sum.NegativeCount++
		default:
			sum.NeutralCount++
		}
	}
	sum.AverageImpact = total.Div(decimal.NewFromInt(int64(len(records)))).Round(2).InexactFloat64()
	return sum
}

// Records returns every record in stored order.
func (s *Store) Records() []domain.SentimentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SentimentRecord(nil), s.records...)
}

// CompanyFilter returns the active company filter.
func (s *Store) CompanyFilter() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// CurrentMarket returns the selected market.
func (s *Store) CurrentMarket() domain.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.market
}

// IsLoading reports whether a fetch is in flight.
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

// Snapshot returns a copy of the state with derived views evaluated.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := filtered(s.records, s.filter)
	return State{
		Market:        s.market,
		CompanyFilter: s.filter,
		Companies:     companies(s.records),
		Records:       recs,
		Summary:       Summarize(recs),
		IsLoading:     s.loading > 0,
		LastError:     s.lastError,
	}
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

func (s *Store) publish(kind string, market domain.Market) {
	s.hub.Publish(live.Event{Source: live.SourceSentiment, Kind: kind, Market: market, At: s.now()})
}

func (s *Store) setLoading(delta int) {
	s.mu.Lock()
	s.loading += delta
	s.mu.Unlock()
	s.publish(live.KindLoading, "")
}

// FetchSentiment loads the records for market, newest first. On failure the
// records are replaced with synthetic roster data in the same order.
func (s *Store) FetchSentiment(ctx context.Context, market domain.Market) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	s.setLoading(1)
	defer s.setLoading(-1)

	recs, err := s.remote.SentimentAnalysis(ctx, market)
	if err != nil {
		s.rngMu.Lock()
		recs = synth.SentimentRecords(s.rng, market, s.now().In(market.Location()))
		s.rngMu.Unlock()
	} else {
		recs = append([]domain.SentimentRecord(nil), recs...)
		synth.SortNewestFirst(recs)
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.log.Debug("discarding stale sentiment response", "market", market)
		return
	}
	s.records = recs
	s.market = market
	if err != nil {
		s.lastError = fmt.Sprintf("loading %s sentiment failed: %v", market, err)
	} else {
		s.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("loading sentiment failed, using synthetic records", "market", market, "error", err)
		s.publish(live.KindError, market)
		s.publish(live.KindRecords, market)
		return
	}
	s.log.Info("loaded sentiment", "market", market, "records", len(recs))
	s.publish(live.KindRecords, market)

	if s.archive != nil && len(recs) > 0 {
		if err := s.archive.WriteSentiment(ctx, market, recs); err != nil {
			s.log.Warn("archiving sentiment", "market", market, "error", err)
		}
	}
}

// SetCompanyFilter selects the company whose records the derived views
// cover. "all" removes the restriction.
func (s *Store) SetCompanyFilter(company string) {
	if company == "" {
		company = domain.CompanyAll
	}
	s.mu.Lock()
	s.filter = company
	s.mu.Unlock()
	s.publish(live.KindFilter, "")
}

// SwitchMarket selects market and fetches its records. Selecting the current
// market is a no-op.
func (s *Store) SwitchMarket(ctx context.Context, market domain.Market) {
	s.mu.Lock()
	if market == s.market {
		s.mu.Unlock()
		return
	}
	s.market = market
	s.mu.Unlock()
	s.publish(live.KindMarket, market)

	s.FetchSentiment(ctx, market)
}

// IngestExternalUpdate replaces the records from a pushed payload. A counts
// object {positive, neutral, negative, total?} is expanded into records whose
// classification reproduces the counts; an array of record objects is stored
// as given. The payload may be raw JSON ([]byte, json.RawMessage, string), a
// domain.SentimentCounts, a []domain.SentimentRecord, or decoded JSON
// (map[string]any, []any). Anything else is rejected with a ValidationFailure
// and leaves the records untouched.
func (s *Store) IngestExternalUpdate(payload any) error {
	recs, err := s.decodeUpdate(payload)
	if err != nil {
		s.log.Error("rejecting external sentiment update", "error", err)
		return err
	}

	s.mu.Lock()
	s.gen++
	s.records = recs
	market := s.market
	s.mu.Unlock()

	s.log.Info("ingested external sentiment update", "records", len(recs))
	s.publish(live.KindRecords, market)
	return nil
}

const ingestOp = "ingest sentiment update"

// MaxIngestRecords bounds the records one external update may produce, both
// the sum of a counts object and the length of a record array.
const MaxIngestRecords = 10000

func invalid(format string, args ...any) error {
	return domain.NewError(domain.KindValidation, ingestOp, fmt.Errorf(format, args...))
}

func (s *Store) decodeUpdate(payload any) ([]domain.SentimentRecord, error) {
	switch p := payload.(type) {
	case domain.SentimentCounts:
		return s.fromCounts(p)
	case *domain.SentimentCounts:
		if p == nil {
			return nil, invalid("nil counts")
		}
		return s.fromCounts(*p)
	case []domain.SentimentRecord:
		if len(p) > MaxIngestRecords {
			return nil, invalid("%d records exceed the limit of %d", len(p), MaxIngestRecords)
		}
		for i, r := range p {
			if math.IsNaN(r.ImpactScore) || math.IsInf(r.ImpactScore, 0) {
				return nil, invalid("record %d has a non-finite impact score", i)
			}
		}
		return append([]domain.SentimentRecord{}, p...), nil
	case json.RawMessage:
		return s.fromJSON(p)
	case []byte:
		return s.fromJSON(p)
	case string:
		return s.fromJSON([]byte(p))
	case map[string]any, []any:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, invalid("encoding payload: %w", err)
		}
		return s.fromJSON(raw)
	case nil:
		return nil, invalid("empty payload")
	}
	return nil, invalid("unsupported payload type %T", payload)
}

func (s *Store) fromJSON(raw []byte) ([]domain.SentimentRecord, error) {
	if !gjson.ValidBytes(raw) {
		return nil, invalid("payload is not valid JSON")
	}
	root := gjson.ParseBytes(raw)
	switch {
	case root.IsObject():
		for _, k := range []string{"positive", "neutral", "negative"} {
			if !root.Get(k).Exists() {
				return nil, invalid("counts object missing %q", k)
			}
		}
		var vals [3]int64
		for i, k := range []string{"positive", "neutral", "negative"} {
			v := normalize.Int(root.Get(k))
			if v < 0 || v > MaxIngestRecords {
				return nil, invalid("count %q = %d outside [0, %d]", k, v, MaxIngestRecords)
			}
			vals[i] = v
		}
		counts := domain.SentimentCounts{
			Positive: int(vals[0]),
			Neutral:  int(vals[1]),
			Negative: int(vals[2]),
		}
		if t := root.Get("total"); t.Exists() {
			total := int(normalize.Int(t))
			counts.Total = &total
		}
		return s.fromCounts(counts)
	case root.IsArray():
		s.mu.RLock()
		loc := s.market.Location()
		s.mu.RUnlock()
		items := root.Array()
		if len(items) > MaxIngestRecords {
			return nil, invalid("%d records exceed the limit of %d", len(items), MaxIngestRecords)
		}
		out := make([]domain.SentimentRecord, 0, len(items))
		for i, item := range items {
			if !item.IsObject() {
				return nil, invalid("record %d is not an object", i)
			}
			rec, ok := normalize.SentimentRecord(item, loc)
			if !ok {
				return nil, invalid("record %d has no parseable timestamp", i)
			}
			out = append(out, rec)
		}
		return out, nil
	}
	return nil, invalid("payload must be a counts object or a record array")
}

func (s *Store) fromCounts(c domain.SentimentCounts) ([]domain.SentimentRecord, error) {
	if c.Positive < 0 || c.Neutral < 0 || c.Negative < 0 {
		return nil, invalid("negative count in %+v", c)
	}
	sum, ok := boundedSum(MaxIngestRecords, c.Positive, c.Neutral, c.Negative)
	if !ok {
		return nil, invalid("counts %+v exceed the limit of %d records", c, MaxIngestRecords)
	}
	if c.Total != nil && *c.Total != sum {
		s.log.Warn("counts total disagrees with class counts", "total", *c.Total, "sum", sum)
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return synth.RecordsForCounts(s.rng, c, s.now()), nil
}

// boundedSum adds non-negative vals, failing as soon as the running total
// passes limit so the addition cannot overflow.
func boundedSum(limit int, vals ...int) (int, bool) {
	sum := 0
	for _, v := range vals {
		if v > limit-sum {
			return 0, false
		}
		sum += v
	}
	return sum, true
}
