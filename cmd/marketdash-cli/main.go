package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"marketdash/internal/app"
	"marketdash/internal/config"
	"marketdash/internal/dashboard"
	"marketdash/internal/domain"
	"marketdash/internal/util"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: marketdash-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version      Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  instruments  List one page of instruments\n")
	fmt.Fprintf(os.Stderr, "  search       Search instruments by free text\n")
	fmt.Fprintf(os.Stderr, "  suggest      Autocomplete a symbol or company name\n")
	fmt.Fprintf(os.Stderr, "  detail       Show an instrument with its bars and forecast\n")
	fmt.Fprintf(os.Stderr, "  sentiment    Show sentiment records and summary\n")
	fmt.Fprintf(os.Stderr, "  history      Show archived bars for a symbol\n")
	fmt.Fprintf(os.Stderr, "\nRun 'marketdash-cli <command> -h' for command options.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Printf("marketdash-cli %s\n", version)
		return
	}
	run, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	opts := &options{}
	fs.StringVar(&opts.market, "market", "", "market (TW or US); defaults to the configured market")
	fs.IntVar(&opts.page, "page", 1, "page number")
	fs.IntVar(&opts.size, "size", 0, "page size; defaults to the configured page size")
	fs.IntVar(&opts.days, "days", 0, "forecast horizon or history length in days")
	fs.StringVar(&opts.company, "company", "all", "company filter for sentiment")
	fs.BoolVar(&opts.json, "json", false, "print JSON instead of a table")
	_ = fs.Parse(args)
	opts.args = fs.Args()

	cfg, err := config.Load(config.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	logger := util.NewLoggerTo(os.Stderr, cfg.Logging.Level, "text")
	if opts.market != "" {
		cfg.Dashboard.Market = opts.market
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, a, opts); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

type options struct {
	market  string
	page    int
	size    int
	days    int
	company string
	json    bool
	args    []string
}

func (o *options) arg(name string) (string, error) {
	if len(o.args) == 0 || strings.TrimSpace(o.args[0]) == "" {
		return "", fmt.Errorf("missing <%s> argument", name)
	}
	return strings.Join(o.args, " "), nil
}

var commands = map[string]func(context.Context, *app.App, *options) error{
	"instruments": runInstruments,
	"search":      runSearch,
	"suggest":     runSuggest,
	"detail":      runDetail,
	"sentiment":   runSentiment,
	"history":     runHistory,
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRows(rows []dashboard.InstrumentRow) {
	fmt.Printf("%-8s %-24s %12s %10s %9s\n", "SYMBOL", "NAME", "PRICE", "CHANGE", "CHG%")
	for _, r := range rows {
		fmt.Printf("%-8s %-24s %12s %10s %9s\n", r.Symbol, r.Name, r.Price, r.Change, r.ChangePercent)
	}
}

func runInstruments(ctx context.Context, a *app.App, o *options) error {
	size := o.size
	if size <= 0 {
		size = a.Config.Dashboard.PageSize
	}
	a.Market.ListInstruments(ctx, a.Market.CurrentMarket(), o.page, size)
	if msg := a.Market.LastError(); msg != "" {
		return errors.New(msg)
	}
	st := a.Market.Snapshot()
	if o.json {
		return printJSON(struct {
			Instruments []domain.Instrument `json:"instruments"`
			Pagination  domain.Pagination   `json:"pagination"`
		}{st.Instruments, st.Pagination})
	}
	printRows(dashboard.Rows(st.Instruments))
	p := st.Pagination
	fmt.Printf("\npage %d/%d  (%s items)\n", p.Page, p.TotalPages, dashboard.FormatInt(int64(p.TotalItems)))
	return nil
}

func runSearch(ctx context.Context, a *app.App, o *options) error {
	q, err := o.arg("query")
	if err != nil {
		return err
	}
	res := a.Market.SearchInstruments(ctx, q)
	if o.json {
		return printJSON(res)
	}
	printRows(dashboard.Rows(res))
	return nil
}

func runSuggest(ctx context.Context, a *app.App, o *options) error {
	q, err := o.arg("query")
	if err != nil {
		return err
	}
	if err := a.Market.Restore(ctx); err != nil {
		a.Log.Warn("restoring symbol directory", "error", err)
	}
	if len(a.Market.Directory()) == 0 {
		a.Market.LoadSymbolDirectory(ctx)
	}
	hits := a.Market.SuggestSymbols(q, 10)
	if o.json {
		return printJSON(hits)
	}
	for _, h := range hits {
		fmt.Printf("%-8s %s\n", h.Symbol, h.Name)
	}
	return nil
}

func runDetail(ctx context.Context, a *app.App, o *options) error {
	sym, err := o.arg("symbol")
	if err != nil {
		return err
	}
	m := a.Market.CurrentMarket()
	a.Market.LoadInstrumentDetail(ctx, strings.ToUpper(sym), m)
	if o.days > 0 {
		a.Market.LoadPrediction(ctx, strings.ToUpper(sym), o.days)
	}
	if msg := a.Market.LastError(); msg != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", msg)
	}
	d := dashboard.BuildDetail(a.Market.Snapshot())
	if d == nil {
		return fmt.Errorf("no detail for %s", sym)
	}
	if o.json {
		return printJSON(d)
	}
	fmt.Printf("%s  %s  (%s)\n", d.Detail.Symbol, d.Detail.Name, m)
	fmt.Printf("price %s  change %s (%s)\n",
		dashboard.FormatPrice(d.Detail.Price), dashboard.FormatChange(d.Detail.Change), dashboard.FormatPercent(d.Detail.ChangePercent))
	s := d.Stats
	fmt.Printf("%d days  high %.2f  low %.2f  volume %s  max gain %s  max loss %s\n",
		s.Days, s.High, s.Low, dashboard.FormatVolume(s.TotalVolume), dashboard.FormatGain(s.MaxGain), dashboard.FormatLoss(s.MaxLoss))
	if p := d.Prediction; p.Len() > 0 {
		fmt.Printf("\n%-10s %10s %10s\n", "DATE", "ACTUAL", "PREDICTED")
		for i, label := range p.Labels {
			fmt.Printf("%-10s %10s %10s\n", label, optFloat(p.Actual, i), optFloat(p.Predicted, i))
		}
	}
	return nil
}

func optFloat(vals []*float64, i int) string {
	if i >= len(vals) || vals[i] == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *vals[i])
}

func runSentiment(ctx context.Context, a *app.App, o *options) error {
	a.Sentiment.FetchSentiment(ctx, a.Sentiment.CurrentMarket())
	if msg := a.Sentiment.LastError(); msg != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", msg)
	}
	a.Sentiment.SetCompanyFilter(o.company)
	v := dashboard.BuildSentiment(a.Sentiment.Snapshot())
	if o.json {
		return printJSON(v)
	}
	if s := v.Summary; s != nil {
		fmt.Printf("%s [%s]  %d records  avg %s  positive %d  neutral %d  negative %d\n\n",
			v.Market, v.CompanyFilter, s.Total, dashboard.FormatScore(s.AverageImpact), s.PositiveCount, s.NeutralCount, s.NegativeCount)
	}
	for _, r := range v.Records {
		fmt.Printf("%s  %-12s %6s  %s\n", r.Label, r.Company, dashboard.FormatScore(r.ImpactScore), r.Text)
	}
	return nil
}

func runHistory(ctx context.Context, a *app.App, o *options) error {
	sym, err := o.arg("symbol")
	if err != nil {
		return err
	}
	if a.Bars == nil {
		return fmt.Errorf("no bar archive configured (storage.data_dir)")
	}
	m := a.Market.CurrentMarket()
	h, err := dashboard.LoadSymbolHistory(ctx, a.Bars, m, strings.ToUpper(sym), time.Now().In(m.Location()), o.days)
	if err != nil {
		return err
	}
	if o.json {
		return printJSON(h)
	}
	fmt.Printf("%-10s %10s %10s %10s %10s %14s\n", "DATE", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME")
	for _, b := range h.Bars {
		fmt.Printf("%-10s %10.2f %10.2f %10.2f %10.2f %14s\n",
			b.Date.Format("2006-01-02"), b.Open, b.High, b.Low, b.Close, dashboard.FormatVolume(b.Volume))
	}
	fmt.Printf("\n%d days  max gain %s  max loss %s\n", h.Stats.Days, dashboard.FormatGain(h.Stats.MaxGain), dashboard.FormatLoss(h.Stats.MaxLoss))
	return nil
}
