// Command meridian-bars syncs historical bars for a symbol list from Alpaca
// into the parquet bar store, resuming where the previous run stopped.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"meridian/internal/broker"
	"meridian/internal/config"
	"meridian/internal/domain"
	"meridian/internal/gather/us"
	"meridian/internal/store"
)

func main() {
	symbolsFile := flag.String("symbols-file", "", "symbol list (default from config)")
	timeframe := flag.String("timeframe", "", "1Min, 4Hour, 1Day or 1Month (default from config)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/meridian-bars-%s.log", time.Now().Format(time.DateOnly))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("opening log file: %v", err)
	}
	defer logFile.Close()
	logger := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stdout, logFile), &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	sc := cfg.Sync
	if *symbolsFile != "" {
		sc.SymbolsFile = *symbolsFile
	}
	if *timeframe != "" {
		sc.Timeframe = *timeframe
	}

	var symbols []string
	if sc.SymbolsFile != "" {
		if symbols, err = us.LoadSymbolFile(sc.SymbolsFile); err != nil {
			log.Fatalf("%v", err)
		}
	} else {
		symbols = us.NormalizeSymbols(cfg.Strategy.Universe)
	}
	tf, err := domain.ParseBacktestTimeframe(sc.Timeframe)
	if err != nil {
		log.Fatalf("%v", err)
	}
	start, err := time.Parse(time.DateOnly, sc.StartDate)
	if err != nil {
		log.Fatalf("sync start_date: %v", err)
	}

	gatherer := us.NewBarSyncGatherer(
		us.NewAlpacaClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL),
		broker.NewAlpacaClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL),
		store.NewParquetStore(cfg.Storage.DataDir),
		us.BarSyncConfig{
			Symbols:    symbols,
			Timeframe:  tf,
			Start:      start,
			BatchSize:  sc.BatchSize,
			MaxWorkers: sc.MaxWorkers,
			Feed:       cfg.Alpaca.Feed,
			StateDir:   filepath.Join(cfg.Storage.DataDir, "sync"),
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting bar sync", "symbols", len(symbols), "timeframe", tf, "start", sc.StartDate, "logFile", logFileName)
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("bar sync: %v", err)
	}
}
