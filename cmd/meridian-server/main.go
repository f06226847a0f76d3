// Command meridian-server serves batch backtests, run history and the order
// audit log over HTTP and gRPC.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"meridian/internal/api"
	"meridian/internal/config"
	"meridian/internal/gather"
	"meridian/internal/gather/us"
	"meridian/internal/store"
	"meridian/internal/strategy"
	"meridian/internal/strategy/builtins"
	"meridian/internal/util"
)

func main() {
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	bc := cfg.Backtest
	start, end, err := bc.Dates()
	if err != nil {
		log.Fatalf("%v", err)
	}

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer db.Close()

	client := us.NewAlpacaClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
	source := gather.NewCachingSource(
		store.NewParquetStore(cfg.Storage.DataDir),
		us.NewAlpacaSource(client, cfg.Alpaca.Feed, cfg.Alpaca.RateLimitPerMin),
	)

	reg := strategy.NewRegistry()
	builtins.Register(reg, bc.FastWindow, bc.SlowWindow)
	sim := strategy.Simulator{StartingCash: bc.StartingCash, FeeRate: bc.FeeRate, Slippage: bc.Slippage}

	srv := api.NewServer(api.Options{
		Backtester: strategy.NewBacktester(source, reg, sim, bc.MaxWorkers).WithRunStore(db),
		Runs:       db,
		Orders:     db,
		Defaults:   api.BacktestDefaults{Strategy: bc.Strategy, Start: start, End: end},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("meridian-server starting", "http", cfg.Server.Addr(), "grpc", cfg.Server.GRPCAddr(), "strategies", reg.List())
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr(), cfg.Server.GRPCAddr()); err != nil {
		log.Fatalf("server: %v", err)
	}
}
