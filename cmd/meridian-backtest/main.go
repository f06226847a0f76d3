// Command meridian-backtest runs the SMA-crossover backtest over a symbol list
// and prints the per-symbol performance table.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"meridian/internal/config"
	"meridian/internal/domain"
	"meridian/internal/gather"
	"meridian/internal/gather/us"
	"meridian/internal/store"
	"meridian/internal/strategy"
	"meridian/internal/strategy/builtins"
	"meridian/internal/util"
)

func main() {
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols (required unless -symbols-file is set)")
	symbolsFile := flag.String("symbols-file", "", "file with one symbol per line, or a CSV with a header row")
	timeframe := flag.String("timeframe", "", "H4, DAILY or MONTHLY (default from config)")
	start := flag.String("start", "", "first day, YYYY-MM-DD (default from config)")
	end := flag.String("end", "", "last day inclusive, YYYY-MM-DD (default from config)")
	trades := flag.Bool("trades", false, "print every trade")
	flag.Parse()

	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	symbols := us.NormalizeSymbols(strings.Split(*symbolsFlag, ","))
	if *symbolsFile != "" {
		fromFile, err := us.LoadSymbolFile(*symbolsFile)
		if err != nil {
			log.Fatalf("%v", err)
		}
		symbols = us.NormalizeSymbols(append(symbols, fromFile...))
	}
	if len(symbols) == 0 {
		fmt.Fprintln(os.Stderr, "meridian-backtest: -symbols or -symbols-file is required")
		flag.Usage()
		os.Exit(2)
	}

	bc := cfg.Backtest
	if *timeframe != "" {
		bc.Timeframe = *timeframe
	}
	if *start != "" {
		bc.StartDate = *start
	}
	if *end != "" {
		bc.EndDate = *end
	}
	tf, err := domain.ParseBacktestTimeframe(bc.Timeframe)
	if err != nil {
		log.Fatalf("%v", err)
	}
	from, to, err := bc.Dates()
	if err != nil {
		log.Fatalf("%v", err)
	}

	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening run store: %v", err)
	}
	defer runs.Close()

	client := us.NewAlpacaClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
	upstream := us.NewAlpacaSource(client, cfg.Alpaca.Feed, cfg.Alpaca.RateLimitPerMin)
	source := gather.NewCachingSource(store.NewParquetStore(cfg.Storage.DataDir), upstream)

	reg := strategy.NewRegistry()
	builtins.Register(reg, bc.FastWindow, bc.SlowWindow)
	sim := strategy.Simulator{StartingCash: bc.StartingCash, FeeRate: bc.FeeRate, Slippage: bc.Slippage}
	bt := strategy.NewBacktester(source, reg, sim, bc.MaxWorkers).WithRunStore(runs)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	began := time.Now()
	results, err := bt.Run(ctx, strategy.BacktestRequest{
		Strategy:  bc.Strategy,
		Symbols:   symbols,
		Timeframe: tf,
		Start:     from,
		End:       to,
	})
	if err != nil {
		log.Fatalf("backtest: %v", err)
	}
	logger.Info("backtest finished", "symbols", len(results), "dropped", len(symbols)-len(results), "elapsed", time.Since(began))

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SYMBOL\tRUN\tFINAL EQUITY\tRETURN %\tTRADES\tSHARPE\tMAX DD\tWIN RATE\t")
	for _, r := range results {
		m := r.Metrics
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\t%d\t%s\t%.4f\t%.2f\t\n",
			r.Symbol, r.RunID, m.FinalEquity, m.TotalReturnPct, m.TotalTrades,
			formatSharpe(m.SharpeRatio), m.MaxDrawdown, m.WinRate)
	}
	tw.Flush()

	if *trades {
		for _, r := range results {
			fmt.Printf("\n%s\n", r.Symbol)
			for _, t := range r.Trades {
				fmt.Printf("  %s  %-4s %6d @ %10.4f  total %12.2f  fees %8.2f\n",
					t.Date.Format(time.DateOnly), t.Type, t.Shares, t.Price, t.Total, t.Fees)
			}
		}
	}
}

func formatSharpe(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", v)
}
