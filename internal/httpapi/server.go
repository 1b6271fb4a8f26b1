package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketdash/internal/dashboard"
	"marketdash/internal/domain"
	"marketdash/internal/live"
	"marketdash/internal/market"
	"marketdash/internal/sentiment"
	"marketdash/internal/store"
	"marketdash/internal/symbols"
	"marketdash/internal/util"
)

// maxIngestBody bounds POST /api/dashboard/sentiment/ingest payloads.
const maxIngestBody = 1 << 20

// Options wires a DashboardServer. Market and Sentiment are required; the
// archives, watchlist and hub are optional.
type Options struct {
	Market    *market.Store
	Sentiment *sentiment.Store
	Hub       *live.Hub
	Bars      store.BarArchive
	News      store.SentimentArchive
	Watchlist Watchlist
	PageSize  int
	Now       func() time.Time
	Logger    *slog.Logger

	// AllowedOrigins restricts CORS responses and WebSocket upgrades to
	// these origins. Empty allows any origin.
	AllowedOrigins []string
}

// DashboardServer serves the dashboard HTTP API.
type DashboardServer struct {
	market    *market.Store
	sentiment *sentiment.Store
	bars      store.BarArchive
	news      store.SentimentArchive
	watchlist Watchlist
	events    *live.Server
	origins   []string
	pageSize  int
	now       func() time.Time
	log       *slog.Logger
}

// NewDashboardServer creates a new dashboard HTTP server.
func NewDashboardServer(opts Options) *DashboardServer {
	s := &DashboardServer{
		market:    opts.Market,
		sentiment: opts.Sentiment,
		bars:      opts.Bars,
		news:      opts.News,
		watchlist: opts.Watchlist,
		origins:   opts.AllowedOrigins,
		pageSize:  opts.PageSize,
		now:       opts.Now,
		log:       opts.Logger,
	}
	if s.log == nil {
		s.log = util.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.pageSize <= 0 {
		s.pageSize = market.DefaultPageSize
	}
	if opts.Hub != nil {
		s.events = live.NewServer(opts.Hub, func() any { return s.view(dashboard.SortListing) }, s.origins, s.log)
	}
	return s
}

// RegisterRoutes registers all API routes on the given mux.
func (s *DashboardServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/dashboard/instruments", s.handleInstruments)
	mux.HandleFunc("POST /api/dashboard/instruments", s.handleListInstruments)
	mux.HandleFunc("GET /api/dashboard/search", s.handleSearch)
	mux.HandleFunc("GET /api/dashboard/suggest", s.handleSuggest)
	mux.HandleFunc("POST /api/dashboard/directory", s.handleLoadDirectory)
	mux.HandleFunc("GET /api/dashboard/detail/{symbol}", s.handleDetail)
	mux.HandleFunc("GET /api/dashboard/prediction/{symbol}", s.handlePrediction)
	mux.HandleFunc("GET /api/dashboard/history/{symbol}", s.handleSymbolHistory)
	mux.HandleFunc("GET /api/dashboard/symbols", s.handleArchivedSymbols)
	mux.HandleFunc("GET /api/dashboard/sentiment", s.handleSentiment)
	mux.HandleFunc("POST /api/dashboard/sentiment", s.handleFetchSentiment)
	mux.HandleFunc("GET /api/dashboard/sentiment/history", s.handleSentimentHistory)
	mux.HandleFunc("PUT /api/dashboard/sentiment/filter/{company}", s.handleSetFilter)
	mux.HandleFunc("POST /api/dashboard/sentiment/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/dashboard/market/{market}", s.handleSwitchMarket)
	mux.HandleFunc("GET /api/watchlist", s.handleGetWatchlist)
	mux.HandleFunc("PUT /api/watchlist/{symbol}", s.handleAddWatchlist)
	mux.HandleFunc("DELETE /api/watchlist/{symbol}", s.handleRemoveWatchlist)
	if s.events != nil {
		mux.Handle("GET /api/dashboard/events", s.events)
	}
}

// Handler returns an http.Handler with CORS middleware.
func (s *DashboardServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(s.origins, mux)
}

func corsMiddleware(origins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(origins) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && live.AllowOrigin(origins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		default:
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseSortMode extracts the sort mode from the "sort" query param.
func parseSortMode(r *http.Request) int {
	v := r.URL.Query().Get("sort")
	if v == "" {
		return dashboard.SortListing
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n >= dashboard.SortModeCount {
		return dashboard.SortListing
	}
	return n
}

// queryInt returns the named query parameter, or def when absent or bad.
func queryInt(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return n
}

// parseMarket reads the "market" query parameter, defaulting to fallback.
func parseMarket(r *http.Request, fallback domain.Market) (domain.Market, error) {
	v := r.URL.Query().Get("market")
	if v == "" {
		return fallback, nil
	}
	return domain.ParseMarket(v)
}

func (s *DashboardServer) view(sortMode int) dashboard.View {
	return dashboard.Build(s.market.Snapshot(), s.sentiment.Snapshot(), sortMode)
}

// ---------------------------------------------------------------------------
// Market handlers
// ---------------------------------------------------------------------------

func (s *DashboardServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.view(parseSortMode(r)))
}

func (s *DashboardServer) instrumentsResponse(sortMode int) InstrumentsResponse {
	st := s.market.Snapshot()
	insts := st.Instruments
	if insts == nil {
		insts = []domain.Instrument{}
	}
	return InstrumentsResponse{
		Market:      st.Market,
		Instruments: insts,
		Rows:        dashboard.Rows(dashboard.SortInstruments(insts, sortMode)),
		Pagination:  st.Pagination,
		IsLoading:   st.IsLoading,
		LastError:   st.LastError,
	}
}

func (s *DashboardServer) handleInstruments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.instrumentsResponse(parseSortMode(r)))
}

func (s *DashboardServer) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	m, err := parseMarket(r, s.market.CurrentMarket())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := queryInt(r, "page", 1)
	size := queryInt(r, "page_size", s.pageSize)
	s.market.ListInstruments(r.Context(), m, page, size)
	writeJSON(w, s.instrumentsResponse(parseSortMode(r)))
}

func (s *DashboardServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	writeJSON(w, SearchResponse{Query: q, Results: s.market.SearchInstruments(r.Context(), q)})
}

func (s *DashboardServer) handleSuggest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	hits := s.market.SuggestSymbols(q, queryInt(r, "limit", 10))
	if hits == nil {
		hits = []symbols.Suggestion{}
	}
	writeJSON(w, SuggestResponse{Query: q, Suggestions: hits})
}

func (s *DashboardServer) handleLoadDirectory(w http.ResponseWriter, r *http.Request) {
	s.market.LoadSymbolDirectory(r.Context())
	writeJSON(w, map[string]int{"entries": len(s.market.Directory())})
}

func (s *DashboardServer) handleDetail(w http.ResponseWriter, r *http.Request) {
	m, err := parseMarket(r, "")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	symbol := r.PathValue("symbol")
	s.market.LoadInstrumentDetail(r.Context(), symbol, m)
	st := s.market.Snapshot()
	writeJSON(w, DetailResponse{DetailView: dashboard.BuildDetail(st), LastError: st.LastError})
}

func (s *DashboardServer) handlePrediction(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	s.market.LoadPrediction(r.Context(), symbol, queryInt(r, "days", 0))
	writeJSON(w, PredictionResponse{
		Symbol:     symbol,
		Prediction: s.market.Prediction(),
		LastError:  s.market.LastError(),
	})
}

func (s *DashboardServer) handleSymbolHistory(w http.ResponseWriter, r *http.Request) {
	if s.bars == nil {
		writeError(w, http.StatusServiceUnavailable, "bar archive not configured")
		return
	}
	m, err := parseMarket(r, s.market.CurrentMarket())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h, err := dashboard.LoadSymbolHistory(r.Context(), s.bars, m, r.PathValue("symbol"), s.now().In(m.Location()), queryInt(r, "days", 365))
	if err != nil {
		s.log.Error("loading symbol history", "symbol", r.PathValue("symbol"), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	writeJSON(w, h)
}

func (s *DashboardServer) handleArchivedSymbols(w http.ResponseWriter, r *http.Request) {
	if s.bars == nil {
		writeJSON(w, SymbolsResponse{Symbols: []string{}})
		return
	}
	m, err := parseMarket(r, s.market.CurrentMarket())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	syms, err := s.bars.ListSymbols(r.Context(), m)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list symbols")
		return
	}
	if syms == nil {
		syms = []string{}
	}
	writeJSON(w, SymbolsResponse{Market: m, Symbols: syms})
}

// ---------------------------------------------------------------------------
// Sentiment handlers
// ---------------------------------------------------------------------------

func (s *DashboardServer) handleSentiment(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, dashboard.BuildSentiment(s.sentiment.Snapshot()))
}

func (s *DashboardServer) handleFetchSentiment(w http.ResponseWriter, r *http.Request) {
	m, err := parseMarket(r, s.sentiment.CurrentMarket())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.sentiment.FetchSentiment(r.Context(), m)
	writeJSON(w, dashboard.BuildSentiment(s.sentiment.Snapshot()))
}

func (s *DashboardServer) handleSentimentHistory(w http.ResponseWriter, r *http.Request) {
	if s.news == nil {
		writeError(w, http.StatusServiceUnavailable, "sentiment archive not configured")
		return
	}
	m, err := parseMarket(r, s.sentiment.CurrentMarket())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end := s.now()
	start := end.AddDate(0, 0, -queryInt(r, "days", 7))
	days, err := dashboard.LoadSentimentHistory(r.Context(), s.news, m, start, end)
	if err != nil {
		s.log.Error("loading sentiment history", "market", m, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read sentiment history")
		return
	}
	writeJSON(w, SentimentHistoryResponse{Market: m, Days: days})
}

func (s *DashboardServer) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	s.sentiment.SetCompanyFilter(r.PathValue("company"))
	writeJSON(w, dashboard.BuildSentiment(s.sentiment.Snapshot()))
}

func (s *DashboardServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if err := s.sentiment.IngestExternalUpdate(json.RawMessage(body)); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrValidation) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, dashboard.BuildSentiment(s.sentiment.Snapshot()))
}

// handleSwitchMarket moves both stores to the market in the path.
func (s *DashboardServer) handleSwitchMarket(w http.ResponseWriter, r *http.Request) {
	m, err := domain.ParseMarket(r.PathValue("market"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.market.SwitchMarket(r.Context(), m, queryInt(r, "page_size", s.pageSize))
	s.sentiment.SwitchMarket(r.Context(), m)
	writeJSON(w, MarketResponse{Market: s.market.CurrentMarket(), Sentiment: s.sentiment.CurrentMarket()})
}

// ---------------------------------------------------------------------------
// Watchlist handlers
// ---------------------------------------------------------------------------

func (s *DashboardServer) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	if s.watchlist == nil {
		writeJSON(w, WatchlistResponse{Symbols: []string{}})
		return
	}
	syms, err := s.watchlist.Symbols(r.Context())
	if err != nil {
		s.log.Warn("getting watchlist", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get watchlist")
		return
	}
	if syms == nil {
		syms = []string{}
	}
	writeJSON(w, WatchlistResponse{Symbols: syms})
}

func (s *DashboardServer) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	if s.watchlist == nil {
		writeError(w, http.StatusServiceUnavailable, "watchlist not configured")
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if err := s.watchlist.Add(r.Context(), symbol); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *DashboardServer) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	if s.watchlist == nil {
		writeError(w, http.StatusServiceUnavailable, "watchlist not configured")
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if err := s.watchlist.Remove(r.Context(), symbol); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
