package dashboard

import (
	"marketdash/internal/domain"
	"marketdash/internal/market"
	"marketdash/internal/sentiment"
)

// InstrumentRow is one formatted line of the instruments table.
type InstrumentRow struct {
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	Price         string `json:"price"`
	Change        string `json:"change"`
	ChangePercent string `json:"changePercent"`
	Direction     int    `json:"direction"` // 1 up, -1 down, 0 flat
}

// DetailView is the inspected instrument with its bar statistics.
type DetailView struct {
	Detail     *domain.InstrumentDetail `json:"detail"`
	Bars       []domain.PriceBar        `json:"bars"`
	Stats      BarStats                 `json:"stats"`
	Prediction *domain.PredictionSeries `json:"prediction"`
}

// SentimentView is the filtered sentiment panel.
type SentimentView struct {
	Market        domain.Market            `json:"market"`
	CompanyFilter string                   `json:"companyFilter"`
	Companies     []string                 `json:"companies"`
	Records       []domain.SentimentRecord `json:"records"`
	Summary       *domain.SentimentSummary `json:"summary"`
	Groups        []ClassGroup             `json:"groups"`
	LastError     string                   `json:"lastError,omitempty"`
}

// View is everything a dashboard front-end renders.
type View struct {
	Market      domain.Market     `json:"market"`
	SortMode    int               `json:"sortMode"`
	SortLabel   string            `json:"sortLabel"`
	Instruments []InstrumentRow   `json:"instruments"`
	Pagination  domain.Pagination `json:"pagination"`
	Detail      *DetailView       `json:"detail,omitempty"`
	Sentiment   SentimentView     `json:"sentiment"`
	IsLoading   bool              `json:"isLoading"`
	LastError   string            `json:"lastError,omitempty"`
}

// Rows formats insts for display.
func Rows(insts []domain.Instrument) []InstrumentRow {
	rows := make([]InstrumentRow, 0, len(insts))
	for _, in := range insts {
		rows = append(rows, InstrumentRow{
			Symbol:        in.Symbol,
			Name:          in.Name,
			Price:         FormatPrice(in.Price),
			Change:        FormatChange(in.Change),
			ChangePercent: FormatPercent(in.ChangePercent),
			Direction:     in.Change.Sign(),
		})
	}
	return rows
}

// BuildSentiment builds the sentiment panel from a store snapshot.
func BuildSentiment(s sentiment.State) SentimentView {
	recs := s.Records
	if recs == nil {
		recs = []domain.SentimentRecord{}
	}
	return SentimentView{
		Market:        s.Market,
		CompanyFilter: s.CompanyFilter,
		Companies:     s.Companies,
		Records:       recs,
		Summary:       s.Summary,
		Groups:        GroupCompanies(recs),
		LastError:     s.LastError,
	}
}

// BuildDetail builds the detail panel, or nil when nothing is inspected.
func BuildDetail(m market.State) *DetailView {
	if m.Detail == nil {
		return nil
	}
	return &DetailView{
		Detail:     m.Detail,
		Bars:       m.PriceBars,
		Stats:      AggregateBars(m.PriceBars),
		Prediction: m.Prediction,
	}
}

// Build assembles the full view from both store snapshots.
func Build(m market.State, s sentiment.State, sortMode int) View {
	if sortMode < 0 || sortMode >= SortModeCount {
		sortMode = SortListing
	}
	lastErr := m.LastError
	if lastErr == "" {
		lastErr = s.LastError
	}
	return View{
		Market:      m.Market,
		SortMode:    sortMode,
		SortLabel:   SortModeLabel(sortMode),
		Instruments: Rows(SortInstruments(m.Instruments, sortMode)),
		Pagination:  m.Pagination,
		Detail:      BuildDetail(m),
		Sentiment:   BuildSentiment(s),
		IsLoading:   m.IsLoading || s.IsLoading,
		LastError:   lastErr,
	}
}
