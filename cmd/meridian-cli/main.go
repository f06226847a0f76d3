// Command meridian-cli talks to a running meridian-server or meridian-trader.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"meridian/pkg/meridian"
)

const version = "0.2.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: meridian-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version    Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  backtest   Run a batch backtest\n")
	fmt.Fprintf(os.Stderr, "  runs       List recent backtest runs\n")
	fmt.Fprintf(os.Stderr, "  orders     List the trader's order log\n")
	fmt.Fprintf(os.Stderr, "  status     Show the trader's current status\n")
	fmt.Fprintf(os.Stderr, "  watch      Follow the trader's status stream\n")
	fmt.Fprintf(os.Stderr, "\nEnvironment: MERIDIAN_URL (default http://localhost:8080), MERIDIAN_GRPC (default localhost:9090)\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "version":
		fmt.Printf("meridian-cli %s\n", version)
	case "backtest":
		err = runBacktest(ctx, args)
	case "runs":
		err = listRuns(ctx, args)
	case "orders":
		err = listOrders(ctx, args)
	case "status":
		err = showStatus(ctx)
	case "watch":
		err = watch(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func httpClient() *meridian.Client {
	return meridian.NewClient(envOr("MERIDIAN_URL", "http://localhost:8080"))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runBacktest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	symbols := fs.String("symbols", "", "comma-separated symbols")
	timeframe := fs.String("timeframe", "DAILY", "H4, DAILY or MONTHLY")
	start := fs.String("start", "", "first day, YYYY-MM-DD")
	end := fs.String("end", "", "last day inclusive, YYYY-MM-DD")
	useGRPC := fs.Bool("grpc", false, "call the gRPC backtest service instead of HTTP")
	fs.Parse(args)

	req := meridian.BacktestRequest{
		Symbols:   strings.Split(*symbols, ","),
		Timeframe: *timeframe,
		Start:     *start,
		End:       *end,
	}

	var (
		results []meridian.BacktestResult
		err     error
	)
	if *useGRPC {
		conn, derr := meridian.DialGRPC(envOr("MERIDIAN_GRPC", "localhost:9090"))
		if derr != nil {
			return derr
		}
		defer conn.Close()
		results, err = meridian.NewGRPCClient(conn).RunBacktest(ctx, req)
	} else {
		results, err = httpClient().RunBacktest(ctx, req)
	}
	if err != nil {
		return err
	}

	tw := newTable()
	fmt.Fprintln(tw, "SYMBOL\tRUN\tFINAL EQUITY\tRETURN %\tTRADES\tSHARPE\tMAX DD\tWIN RATE\t")
	for _, r := range results {
		m := r.Metrics
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\t%d\t%s\t%.4f\t%.2f\t\n",
			r.Symbol, r.RunID, m.FinalEquity, m.TotalReturnPct, m.TotalTrades,
			sharpe(m.SharpeRatio), m.MaxDrawdown, m.WinRate)
	}
	return tw.Flush()
}

func listRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum runs to list")
	fs.Parse(args)

	runs, err := httpClient().ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	tw := newTable()
	fmt.Fprintln(tw, "ID\tCREATED\tSTRATEGY\tSYMBOL\tTF\tRETURN %\tTRADES\tSHARPE\t")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%.2f\t%d\t%s\t\n",
			r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Strategy, r.Symbol, r.Timeframe,
			r.Metrics.TotalReturnPct, r.Metrics.TotalTrades, sharpe(r.Metrics.SharpeRatio))
	}
	return tw.Flush()
}

func listOrders(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("orders", flag.ExitOnError)
	status := fs.String("status", "", "noop, submitted or rejected")
	limit := fs.Int("limit", 50, "maximum orders to list")
	fs.Parse(args)

	orders, err := httpClient().ListOrders(ctx, *status, *limit)
	if err != nil {
		return err
	}
	tw := newTable()
	fmt.Fprintln(tw, "ID\tTIME\tSYMBOL\tSIDE\tQTY\tSTATUS\tDETAIL\t")
	for _, o := range orders {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\t\n",
			o.ID, o.CreatedAt.Local().Format(time.DateTime), o.Symbol, o.Side, o.Qty, o.Status, firstNonEmpty(o.Error, o.OrderID))
	}
	return tw.Flush()
}

func showStatus(ctx context.Context) error {
	ev, err := httpClient().Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s\n", ev.At.Local().Format(time.DateTime), ev.Status)
	if c := ev.LastCycle; c != nil {
		fmt.Printf("last cycle %s: equity %.2f, %d orders (%d rejected)\n",
			c.Started.Local().Format(time.TimeOnly), c.Equity, c.Orders, c.Rejected)
		fmt.Printf("  long  %d x %s\n", c.QtyPerLong, strings.Join(c.Long, " "))
		fmt.Printf("  short %d x %s\n", c.QtyPerShort, strings.Join(c.Short, " "))
	}
	tw := newTable()
	fmt.Fprintln(tw, "SYMBOL\tSIDE\tQTY\tVALUE\t")
	for _, p := range ev.Positions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t\n", p.Symbol, p.Side, p.Qty, p.MarketValue)
	}
	return tw.Flush()
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
}

func sharpe(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", *v)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
