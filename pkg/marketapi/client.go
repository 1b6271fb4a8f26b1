// Package marketapi is a Go client for the market-data service consumed by
// the dashboard stores: company listings, symbol search, daily series,
// forecasts and news sentiment.
package marketapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"marketdash/internal/domain"
	"marketdash/internal/normalize"
	"marketdash/internal/util"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 8 << 20
	maxLogBody     = 512
)

// Options configures a Client. Zero values fall back to sane defaults.
type Options struct {
	BaseURL         string
	Timeout         time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
	RateLimitPerMin int
	RateBurst       int
	HTTPClient      *http.Client
}

// Client talks to the market-data service over HTTP+JSON.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *util.RateLimiter
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// NewClient creates a market-data client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = util.Discard()
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  hc,
		limiter:     util.NewBurstRateLimiter(opts.RateLimitPerMin, opts.RateBurst),
		maxAttempts: attempts,
		retryDelay:  opts.RetryDelay,
		logger:      logger.With("component", "marketapi"),
	}
}

// BaseURL returns the service root the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// get issues a GET and returns the parsed JSON body. Transport failures and
// non-2xx statuses are NetworkFailure; undecodable bodies are ShapeMismatch.
// 5xx and transport errors are retried, 4xx are not.
func (c *Client) get(ctx context.Context, op, path string, query url.Values) (gjson.Result, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	reqID := uuid.NewString()
	log := c.logger.With("op", op, "request_id", reqID)

	var body []byte
	start := time.Now()
	err := util.Retry(ctx, c.maxAttempts, c.retryDelay, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return util.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", reqID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return util.Permanent(err)
			}
			log.Debug("request failed, retrying", "url", u, "error", err)
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			statusErr := fmt.Errorf("http %d: %s", resp.StatusCode, truncate(data))
			if resp.StatusCode >= 500 {
				return statusErr
			}
			return util.Permanent(statusErr)
		}
		body = data
		return nil
	})
	if err != nil {
		log.Warn("request failed", "url", u, "elapsed", time.Since(start), "error", err)
		return gjson.Result{}, domain.NewError(domain.KindNetwork, op, err)
	}
	log.Debug("request ok", "url", u, "bytes", len(body), "elapsed", time.Since(start))
	return normalize.Parse(op, body)
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxLogBody {
		s = s[:maxLogBody] + "..."
	}
	return s
}

// CompanyMappings fetches the full symbol→name directory. The service may
// answer with an object keyed by symbol or with an array of {symbol, name}.
func (c *Client) CompanyMappings(ctx context.Context) (map[string]string, error) {
	const op = "GET /api/company-mappings"
	root, err := c.get(ctx, op, "/api/company-mappings", nil)
	if err != nil {
		return nil, err
	}
	if d := root.Get("data"); d.Exists() && (d.IsObject() || d.IsArray()) {
		root = d
	}
	out := make(map[string]string)
	switch {
	case root.IsObject():
		root.ForEach(func(k, v gjson.Result) bool {
			if sym := strings.TrimSpace(k.String()); sym != "" {
				out[sym] = normalize.String(v)
			}
			return true
		})
	case root.IsArray():
		root.ForEach(func(_, v gjson.Result) bool {
			if sym := normalize.String(normalize.First(v, "symbol", "code")); sym != "" {
				out[sym] = normalize.String(v.Get("name"))
			}
			return true
		})
	default:
		return nil, domain.NewError(domain.KindShape, op, fmt.Errorf("expected mapping, got %s", root.Type))
	}
	return out, nil
}

// ListPage is one page of a market listing as reported by the service.
type ListPage struct {
	Instruments []domain.Instrument
	Page        int
	PageSize    int
	TotalItems  int
}

// Companies fetches one listing page for market. The response must carry
// data and pagination; pagination keys are accepted in camelCase or
// snake_case. Records for other markets are dropped.
func (c *Client) Companies(ctx context.Context, market domain.Market, page, pageSize int) (*ListPage, error) {
	const op = "GET /api/companies"
	q := url.Values{}
	q.Set("market", string(market))
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	root, err := c.get(ctx, op, "/api/companies", q)
	if err != nil {
		return nil, err
	}
	if err := normalize.RequireKeys(op, root, "data", "pagination"); err != nil {
		return nil, err
	}
	data := root.Get("data")
	if err := normalize.RequireArray(op, data); err != nil {
		return nil, err
	}

	out := &ListPage{}
	data.ForEach(func(_, v gjson.Result) bool {
		if m := normalize.String(v.Get("market")); m != "" && !strings.EqualFold(m, string(market)) {
			return true
		}
		inst := normalize.Instrument(v, market)
		if inst.Symbol != "" {
			out.Instruments = append(out.Instruments, inst)
		}
		return true
	})

	pg := root.Get("pagination")
	out.Page = int(normalize.Int(pg.Get("page")))
	out.PageSize = int(normalize.Int(normalize.First(pg, "pageSize", "page_size")))
	out.TotalItems = int(normalize.Int(normalize.First(pg, "totalItems", "total_items", "total")))
	return out, nil
}

// SearchStocks runs a free-text search. A bare array or {data: [...]} is
// accepted.
func (c *Client) SearchStocks(ctx context.Context, query string) ([]domain.Instrument, error) {
	const op = "GET /api/search-stocks"
	root, err := c.get(ctx, op, "/api/search-stocks", url.Values{"q": {query}})
	if err != nil {
		return nil, err
	}
	if root.IsObject() {
		root = root.Get("data")
	}
	if err := normalize.RequireArray(op, root); err != nil {
		return nil, err
	}
	var out []domain.Instrument
	root.ForEach(func(_, v gjson.Result) bool {
		if inst := normalize.Instrument(v, ""); inst.Symbol != "" {
			out = append(out, inst)
		}
		return true
	})
	return out, nil
}

// Series is the per-symbol payload: daily bars plus whatever descriptive
// metadata the service includes.
type Series struct {
	Bars               []domain.PriceBar
	Name               string
	Description        string
	MarketCap          string
	PriceEarningsRatio float64
	DividendYield      float64
}

// StockSeries fetches daily bars for symbol. The payload is either a bare
// bar array or an object carrying the bars under data or bars. Bars are
// returned oldest first; elements without a parseable date are skipped.
func (c *Client) StockSeries(ctx context.Context, symbol string, market domain.Market) (*Series, error) {
	const op = "GET /api/stocks/{symbol}"
	root, err := c.get(ctx, op, "/api/stocks/"+url.PathEscape(symbol), nil)
	if err != nil {
		return nil, err
	}
	out := &Series{}
	bars := root
	if root.IsObject() {
		bars = normalize.First(root, "data", "bars", "history")
		out.Name = normalize.String(root.Get("name"))
		out.Description = normalize.String(root.Get("description"))
		out.MarketCap = normalize.String(normalize.First(root, "marketCap", "market_cap"))
		out.PriceEarningsRatio = normalize.Float(normalize.First(root, "pe", "priceEarningsRatio", "pe_ratio"))
		out.DividendYield = normalize.Float(normalize.First(root, "dividend", "dividendYield", "dividend_yield"))
	}
	if err := normalize.RequireArray(op, bars); err != nil {
		return nil, err
	}
	loc := market.Location()
	bars.ForEach(func(_, v gjson.Result) bool {
		if bar, ok := normalize.PriceBar(v, loc); ok {
			out.Bars = append(out.Bars, bar)
		}
		return true
	})
	sortBars(out.Bars)
	return out, nil
}

func sortBars(bars []domain.PriceBar) {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})
}

// ForecastPoint is one predicted close.
type ForecastPoint struct {
	Date  string
	Price float64
}

// Forecast is the service's prediction for a symbol.
type Forecast struct {
	CurrentPrice float64
	Points       []ForecastPoint
}

// Predict requests a days-long forecast. useML selects the service's model
// path; the client only relays it.
func (c *Client) Predict(ctx context.Context, symbol string, days int, useML bool) (*Forecast, error) {
	const op = "GET /api/stocks/{symbol}/predict"
	q := url.Values{}
	q.Set("days", strconv.Itoa(days))
	q.Set("use_ml", strconv.FormatBool(useML))
	root, err := c.get(ctx, op, "/api/stocks/"+url.PathEscape(symbol)+"/predict", q)
	if err != nil {
		return nil, err
	}
	if !root.IsObject() {
		return nil, domain.NewError(domain.KindShape, op, fmt.Errorf("expected object, got %s", root.Type))
	}
	price := normalize.First(root, "current_price", "currentPrice")
	preds := root.Get("predictions")
	if !price.Exists() {
		return nil, domain.NewError(domain.KindShape, op, fmt.Errorf("missing key %q", "current_price"))
	}
	if err := normalize.RequireArray(op, preds); err != nil {
		return nil, err
	}
	out := &Forecast{CurrentPrice: normalize.Float(price)}
	preds.ForEach(func(_, v gjson.Result) bool {
		out.Points = append(out.Points, ForecastPoint{
			Date:  normalize.String(v.Get("date")),
			Price: normalize.Float(v.Get("price")),
		})
		return true
	})
	return out, nil
}

// SentimentAnalysis fetches scored news for market. Items without a
// parseable timestamp are dropped; the rest are returned in service order.
func (c *Client) SentimentAnalysis(ctx context.Context, market domain.Market) ([]domain.SentimentRecord, error) {
	const op = "GET /api/sentiment-analysis/{market}"
	root, err := c.get(ctx, op, "/api/sentiment-analysis/"+url.PathEscape(string(market)), nil)
	if err != nil {
		return nil, err
	}
	if err := normalize.RequireArray(op, root); err != nil {
		return nil, err
	}
	loc := market.Location()
	out := make([]domain.SentimentRecord, 0, len(root.Array()))
	dropped := 0
	root.ForEach(func(_, v gjson.Result) bool {
		if rec, ok := normalize.SentimentRecord(v, loc); ok {
			out = append(out, rec)
		} else {
			dropped++
		}
		return true
	})
	if dropped > 0 {
		c.logger.Debug("dropped sentiment items without timestamp", "market", market, "dropped", dropped)
	}
	return out, nil
}
