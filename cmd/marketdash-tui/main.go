package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"marketdash/internal/app"
	"marketdash/internal/config"
	"marketdash/internal/dashboard"
	"marketdash/internal/domain"
	"marketdash/internal/live"
	"marketdash/internal/util"
)

// Styles.
var (
	positiveStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	neutralStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	negativeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	symbolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	symbolHlStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	sectionStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	priceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("1"))
	highlightBG    = lipgloss.Color("236") // dark grey background
)

// hlStyle returns a copy of s with the highlight background applied when hl is true.
func hlStyle(s lipgloss.Style, hl bool) lipgloss.Style {
	if hl {
		return s.Background(highlightBG)
	}
	return s
}

func classStyle(name string) lipgloss.Style {
	switch domain.Sentiment(name) {
	case domain.SentimentPositive:
		return positiveStyle
	case domain.SentimentNeutral:
		return neutralStyle
	case domain.SentimentNegative:
		return negativeStyle
	default:
		return lipgloss.NewStyle()
	}
}

func directionStyle(dir int) lipgloss.Style {
	switch {
	case dir > 0:
		return gainStyle
	case dir < 0:
		return lossStyle
	default:
		return priceStyle
	}
}

// maxRecords caps the sentiment records listed under the class groups.
const maxRecords = 12

// Messages.
type tickMsg time.Time
type eventMsg live.Event
type actionDoneMsg struct{ action string }

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model.
type model struct {
	app      *app.App
	ctx      context.Context
	cancel   context.CancelFunc
	events   <-chan live.Event
	subID    int
	refresh  time.Duration
	pageSize int
	logger   *slog.Logger

	view     dashboard.View
	sortMode int
	selected int
	now      time.Time

	viewport viewport.Model
	ready    bool
	width    int
	height   int
}

func initialModel(ctx context.Context, cancel context.CancelFunc, a *app.App) model {
	id, ch := a.Hub.Subscribe(256)
	m := model{
		app:      a,
		ctx:      ctx,
		cancel:   cancel,
		events:   ch,
		subID:    id,
		refresh:  a.Config.Dashboard.Refresh,
		pageSize: a.Config.Dashboard.PageSize,
		logger:   a.Log,
		now:      time.Now(),
	}
	m.rebuild()
	return m
}

func (m model) Init() tea.Cmd {
	a := m.app
	ctx := m.ctx
	warm := func() tea.Msg {
		if err := a.WarmUp(ctx); err != nil {
			a.Log.Warn("warm up interrupted", "error", err)
		}
		return actionDoneMsg{action: "warm-up"}
	}
	feed := func() tea.Msg {
		_ = a.RunFeed(ctx)
		return nil
	}
	return tea.Batch(tickCmd(m.refresh), m.waitForEvent(), warm, feed)
}

// waitForEvent blocks on the hub subscription and delivers the next store
// event to Update.
func (m model) waitForEvent() tea.Cmd {
	ch := m.events
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(evt)
	}
}

// run executes a store action off the UI goroutine. The store publishes its
// own events, so the result only matters for logging.
func (m model) run(action string, fn func(ctx context.Context)) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		fn(ctx)
		return actionDoneMsg{action: action}
	}
}

func (m *model) rebuild() {
	m.view = dashboard.Build(m.app.Market.Snapshot(), m.app.Sentiment.Snapshot(), m.sortMode)
	if m.selected >= len(m.view.Instruments) {
		m.selected = len(m.view.Instruments) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

func (m *model) redraw() {
	m.rebuild()
	if m.ready {
		m.viewport.SetContent(m.renderContent())
	}
}

// nextFilter cycles all -> each company -> all.
func nextFilter(current string, companies []string) string {
	if current == "" || current == "all" {
		if len(companies) > 0 {
			return companies[0]
		}
		return "all"
	}
	for i, c := range companies {
		if c == current && i+1 < len(companies) {
			return companies[i+1]
		}
	}
	return "all"
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	st := m.app.Market
	pg := m.view.Pagination

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.app.Hub.Unsubscribe(m.subID)
			m.cancel()
			return m, tea.Quit
		case "s":
			m.sortMode = (m.sortMode + 1) % dashboard.SortModeCount
			m.redraw()
			return m, nil
		case "t", "u":
			target := domain.MarketTW
			if msg.String() == "u" {
				target = domain.MarketUS
			}
			size := m.pageSize
			return m, m.run("switch-market", func(ctx context.Context) {
				st.SwitchMarket(ctx, target, size)
				m.app.Sentiment.SwitchMarket(ctx, target)
			})
		case "n", "p":
			page := pg.Page + 1
			if msg.String() == "p" {
				page = pg.Page - 1
			}
			if page < 1 || (pg.TotalPages > 0 && page > pg.TotalPages) {
				return m, nil
			}
			mk, size := m.view.Market, pg.PageSize
			return m, m.run("list", func(ctx context.Context) {
				st.ListInstruments(ctx, mk, page, size)
			})
		case "f":
			m.app.Sentiment.SetCompanyFilter(nextFilter(m.view.Sentiment.CompanyFilter, m.view.Sentiment.Companies))
			m.redraw()
			return m, nil
		case "r":
			mk, page, size := m.view.Market, max(pg.Page, 1), pg.PageSize
			sent := m.app.Sentiment
			return m, tea.Batch(
				m.run("list", func(ctx context.Context) { st.ListInstruments(ctx, mk, page, size) }),
				m.run("sentiment", func(ctx context.Context) { sent.FetchSentiment(ctx, mk) }),
			)
		case "up":
			if m.selected > 0 {
				m.selected--
				m.viewport.SetContent(m.renderContent())
			}
			return m, nil
		case "down":
			if m.selected < len(m.view.Instruments)-1 {
				m.selected++
				m.viewport.SetContent(m.renderContent())
			}
			return m, nil
		case "enter":
			if m.selected >= len(m.view.Instruments) {
				return m, nil
			}
			sym, mk := m.view.Instruments[m.selected].Symbol, m.view.Market
			return m, m.run("detail", func(ctx context.Context) {
				st.LoadInstrumentDetail(ctx, sym, mk)
			})
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := m.height - 2
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
			m.redraw()
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		return m, tickCmd(m.refresh)

	case eventMsg:
		m.logger.Debug("store event", "source", msg.Source, "kind", msg.Kind, "market", msg.Market)
		m.redraw()
		return m, m.waitForEvent()

	case actionDoneMsg:
		m.logger.Debug("action finished", "action", msg.action)
		m.redraw()
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m model) View() string {
	if !m.ready {
		return "Loading..."
	}

	v := m.view
	status := ""
	if v.IsLoading {
		status = "    loading..."
	}
	headerText := fmt.Sprintf(
		" %s  %s    page %d/%d  (%s items)    sort: %s    filter: %s%s ",
		v.Market,
		m.now.In(v.Market.Location()).Format("2006-01-02 15:04"),
		v.Pagination.Page,
		max(v.Pagination.TotalPages, 1),
		dashboard.FormatInt(int64(v.Pagination.TotalItems)),
		v.SortLabel,
		v.Sentiment.CompanyFilter,
		status,
	)
	headerBar := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("4")).
		Render(padOrTrunc(headerText, m.width))

	pct := m.viewport.ScrollPercent() * 100
	footerLeft := " q quit  t/u market  n/p page  s sort  f filter  r refresh  up/dn select  enter detail"
	footerRight := fmt.Sprintf("%.0f%% ", pct)
	gap := m.width - len(footerLeft) - len(footerRight)
	if gap < 0 {
		gap = 0
	}
	footerText := footerLeft + strings.Repeat(" ", gap) + footerRight
	footerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	if v.LastError != "" {
		footerText = " " + v.LastError
		footerStyle = errorStyle
	}
	footerBar := footerStyle.Render(padOrTrunc(footerText, m.width))

	return headerBar + "\n" + m.viewport.View() + "\n" + footerBar
}

func (m model) renderContent() string {
	var b strings.Builder
	renderInstruments(&b, m.view.Instruments, m.selected, m.width)
	if m.view.Detail != nil {
		b.WriteString("\n")
		renderDetail(&b, m.view.Detail, m.width)
	}
	b.WriteString("\n")
	renderSentiment(&b, m.view.Sentiment, m.width)
	return b.String()
}

func renderInstruments(b *strings.Builder, rows []dashboard.InstrumentRow, selected, width int) {
	b.WriteString(sectionStyle.Render(padOrTrunc(" Instruments", width)))
	b.WriteString("\n")
	if len(rows) == 0 {
		b.WriteString(dimStyle.Render("  no instruments"))
		b.WriteString("\n")
		return
	}
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-8s %-24s %12s %10s %9s", "Symbol", "Name", "Price", "Change", "Chg%")))
	b.WriteString("\n")
	for i, r := range rows {
		hl := i == selected
		sym := symbolStyle
		if hl {
			sym = symbolHlStyle
		}
		ds := directionStyle(r.Direction)
		b.WriteString(hlStyle(lipgloss.NewStyle(), hl).Render("  "))
		b.WriteString(hlStyle(sym, hl).Render(fmt.Sprintf("%-8s", r.Symbol)))
		b.WriteString(hlStyle(lipgloss.NewStyle(), hl).Render(fmt.Sprintf(" %-24s", padOrTrunc(r.Name, 24))))
		b.WriteString(hlStyle(priceStyle, hl).Render(fmt.Sprintf(" %12s", r.Price)))
		b.WriteString(hlStyle(ds, hl).Render(fmt.Sprintf(" %10s %9s", r.Change, r.ChangePercent)))
		b.WriteString("\n")
	}
}

func renderDetail(b *strings.Builder, d *dashboard.DetailView, width int) {
	title := fmt.Sprintf(" %s  %s", d.Detail.Symbol, d.Detail.Name)
	b.WriteString(sectionStyle.Render(padOrTrunc(title, width)))
	b.WriteString("\n")
	if d.Detail.Description != "" {
		b.WriteString("  " + dimStyle.Render(padOrTrunc(d.Detail.Description, width-2)) + "\n")
	}
	b.WriteString(fmt.Sprintf("  price %s  change %s (%s)  cap %s  P/E %.2f  yield %.2f%%\n",
		priceStyle.Render(dashboard.FormatPrice(d.Detail.Price)),
		dashboard.FormatChange(d.Detail.Change),
		dashboard.FormatPercent(d.Detail.ChangePercent),
		d.Detail.MarketCap,
		d.Detail.PriceEarningsRatio,
		d.Detail.DividendYield,
	))

	s := d.Stats
	if s.Days > 0 {
		b.WriteString(fmt.Sprintf("  %d days  O %.2f  H %.2f  L %.2f  C %.2f  vol %s  ",
			s.Days, s.Open, s.High, s.Low, s.Close, dashboard.FormatVolume(s.TotalVolume)))
		b.WriteString(gainStyle.Render(dashboard.FormatGain(s.MaxGain)))
		b.WriteString(" ")
		b.WriteString(lossStyle.Render(dashboard.FormatLoss(s.MaxLoss)))
		b.WriteString("\n")
	}

	p := d.Prediction
	if p.Len() == 0 {
		return
	}
	b.WriteString(colHeaderStyle.Render("  forecast"))
	b.WriteString("\n")
	for i, label := range p.Labels {
		actual, predicted := "-", "-"
		if i < len(p.Actual) && p.Actual[i] != nil {
			actual = fmt.Sprintf("%.2f", *p.Actual[i])
		}
		if i < len(p.Predicted) && p.Predicted[i] != nil {
			predicted = fmt.Sprintf("%.2f", *p.Predicted[i])
		}
		b.WriteString(fmt.Sprintf("  %-10s %10s %10s\n", label, actual, predicted))
	}
}

func renderSentiment(b *strings.Builder, s dashboard.SentimentView, width int) {
	title := fmt.Sprintf(" Sentiment  %s  [%s]", s.Market, s.CompanyFilter)
	b.WriteString(sectionStyle.Render(padOrTrunc(title, width)))
	b.WriteString("\n")
	if sum := s.Summary; sum != nil {
		b.WriteString(fmt.Sprintf("  %d records  avg %s  ", sum.Total, dashboard.FormatScore(sum.AverageImpact)))
		b.WriteString(positiveStyle.Render(fmt.Sprintf("+%d", sum.PositiveCount)))
		b.WriteString(" ")
		b.WriteString(neutralStyle.Render(fmt.Sprintf("=%d", sum.NeutralCount)))
		b.WriteString(" ")
		b.WriteString(negativeStyle.Render(fmt.Sprintf("-%d", sum.NegativeCount)))
		b.WriteString("\n")
	}

	for _, g := range s.Groups {
		b.WriteString("  ")
		b.WriteString(classStyle(g.Name).Render(fmt.Sprintf("%-9s", strings.ToUpper(g.Name))))
		b.WriteString(dimStyle.Render(fmt.Sprintf(" (%d)", g.Count)))
		b.WriteString("\n")
		for _, c := range g.Companies {
			b.WriteString(fmt.Sprintf("    %-16s %3d  %s  %s\n",
				c.Company, c.Records, dashboard.FormatScore(c.AverageImpact), dimStyle.Render(c.Latest)))
		}
	}

	if len(s.Records) > 0 {
		b.WriteString(colHeaderStyle.Render("  latest"))
		b.WriteString("\n")
	}
	for i, r := range s.Records {
		if i == maxRecords {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  ... %d more", len(s.Records)-maxRecords)))
			b.WriteString("\n")
			break
		}
		cls := classStyle(string(domain.Classify(r.ImpactScore)))
		line := fmt.Sprintf("  %s  %-12s ", r.Label, r.Company)
		b.WriteString(line)
		b.WriteString(cls.Render(dashboard.FormatScore(r.ImpactScore)))
		b.WriteString("  " + padOrTrunc(r.Text, max(width-len(line)-10, 10)) + "\n")
	}
}

// padOrTrunc pads s with spaces or truncates it to exactly w runes.
func padOrTrunc(s string, w int) string {
	if w <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) > w {
		return string(r[:w])
	}
	return s + strings.Repeat(" ", w-len(r))
}

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logPath := fmt.Sprintf("/tmp/marketdash-tui-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := util.NewLoggerTo(logFile, cfg.Logging.Level, "text")

	a, err := app.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing dashboard: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(
		initialModel(ctx, cancel, a),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
