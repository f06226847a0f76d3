// Command meridian-trader runs the 130/30 long-short strategy against Alpaca
// or the in-memory simulator and serves its status and order log.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"meridian/internal/api"
	"meridian/internal/broker"
	"meridian/internal/config"
	"meridian/internal/engine"
	"meridian/internal/gather"
	"meridian/internal/gather/us"
	"meridian/internal/live"
	"meridian/internal/longshort"
	"meridian/internal/store"
	"meridian/internal/util"
)

func main() {
	flatten := flag.Bool("flatten", false, "close every open position and exit")
	httpAddr := flag.String("http", "", "HTTP listen address (default from config)")
	grpcAddr := flag.String("grpc", "", "gRPC listen address (default from config)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	orders, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening order log: %v", err)
	}
	defer orders.Close()

	sc := cfg.Strategy
	dataClient := us.NewAlpacaClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
	market := us.NewAlpacaSource(dataClient, cfg.Alpaca.Feed, cfg.Alpaca.RateLimitPerMin).
		WithPriceLookback(sc.PriceLookback)

	var (
		brk    broker.Broker
		prices gather.PriceSource = market
	)
	switch cfg.Trading.Broker {
	case "alpaca":
		brk = broker.NewAlpacaBroker(broker.NewAlpacaClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL))
	case "simulator":
		sim := broker.NewSimulatorBroker(cfg.Trading.SimulatorCash)
		brk = sim
		prices = mirroredPrices{src: market, sim: sim}
	default:
		log.Fatalf("unknown trading.broker %q (want alpaca or simulator)", cfg.Trading.Broker)
	}

	risk := engine.NewRiskManager(cfg.Trading.MaxPositionPct, cfg.Trading.MaxDailyLossPct)
	eng := engine.NewEngine(brk, orders, risk)
	rebalancer := longshort.NewRebalancer(
		longshort.NewRanker(market, sc.RankLookback),
		prices, eng, sc.Universe, sc.ShortPct,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *flatten {
		results, err := rebalancer.ClosePositions(ctx)
		if err != nil {
			log.Fatalf("flatten: %v", err)
		}
		failed := 0
		for _, r := range results {
			if !r.OK() {
				failed++
				fmt.Fprintf(os.Stderr, "close %s: %v\n", r.Intent.Symbol, r.Err)
			}
		}
		logger.Info("flatten finished", "orders", len(results), "failed", failed)
		if failed > 0 {
			os.Exit(1)
		}
		return
	}

	model := live.NewStatusModel()
	runner := longshort.NewRunner(rebalancer, eng, model, longshort.RunnerConfig{
		Interval:    sc.Interval,
		CloseBuffer: sc.CloseBuffer,
	})
	srv := api.NewServer(api.Options{Orders: orders, Status: model})

	logger.Info("starting meridian-trader",
		"broker", brk.Name(),
		"universe", len(sc.Universe),
		"interval", sc.Interval,
		"shortPct", sc.ShortPct,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error {
		return srv.ListenAndServe(gctx, firstNonEmpty(*httpAddr, cfg.Server.Addr()), firstNonEmpty(*grpcAddr, cfg.Server.GRPCAddr()))
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("trader: %v", err)
	}
	logger.Info("meridian-trader stopped")
}

// mirroredPrices reads prices from the market-data feed and copies each one
// into the simulator so paper fills happen at market prices.
type mirroredPrices struct {
	src gather.PriceSource
	sim *broker.SimulatorBroker
}

func (m mirroredPrices) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	p, err := m.src.LatestPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if p > 0 {
		m.sim.SetPrice(symbol, p)
	} else {
		slog.Debug("no price to mirror", "symbol", symbol)
	}
	return p, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
