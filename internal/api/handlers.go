package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"meridian/internal/domain"
	"meridian/internal/store"
	"meridian/internal/strategy"
	"meridian/pkg/meridian"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// badRequestError marks a request the caller must fix.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req meridian.BacktestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resp, err := s.runBacktest(r.Context(), req)
	if err != nil {
		var bad *badRequestError
		switch {
		case errors.As(err, &bad):
			writeError(w, http.StatusBadRequest, bad.Error())
		case errors.Is(err, errUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.log.Error("backtest failed", "symbols", req.Symbols, "err", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, resp)
}

var errUnavailable = errors.New("backtester not configured")

// runBacktest validates req, applies the defaults and runs it. It is shared
// by the HTTP and gRPC surfaces.
func (s *Server) runBacktest(ctx context.Context, req meridian.BacktestRequest) (*meridian.BacktestResponse, error) {
	if s.opts.Backtester == nil {
		return nil, errUnavailable
	}
	symbols := normalize(req.Symbols)
	if len(symbols) == 0 || req.Timeframe == "" {
		return nil, badRequest("symbols and timeframe are required")
	}
	tf, err := domain.ParseBacktestTimeframe(req.Timeframe)
	if err != nil {
		return nil, badRequest(err.Error())
	}

	d := s.opts.Defaults
	br := strategy.BacktestRequest{
		Strategy:  firstNonEmpty(req.Strategy, d.Strategy),
		Symbols:   symbols,
		Timeframe: tf,
		Start:     d.Start,
		End:       d.End,
	}
	if req.Start != "" {
		if br.Start, err = time.Parse(time.DateOnly, req.Start); err != nil {
			return nil, badRequest("start must be YYYY-MM-DD")
		}
	}
	if req.End != "" {
		end, err := time.Parse(time.DateOnly, req.End)
		if err != nil {
			return nil, badRequest("end must be YYYY-MM-DD")
		}
		br.End = end.Add(24*time.Hour - time.Nanosecond)
	}
	if br.End.Before(br.Start) {
		return nil, badRequest("end is before start")
	}

	results, err := s.opts.Backtester.Run(ctx, br)
	if err != nil {
		if errors.Is(err, strategy.ErrUnknownStrategy) {
			return nil, badRequest(err.Error())
		}
		return nil, err
	}

	resp := &meridian.BacktestResponse{Results: make([]meridian.BacktestResult, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, meridian.BacktestResult{
			Symbol:       res.Symbol,
			RunID:        res.RunID,
			Metrics:      wireMetrics(res.Metrics),
			Trades:       wireTrades(res.Trades),
			Equity:       wireEquity(res.Equity),
			DailyReturns: wireReturns(res.Returns),
		})
	}
	return resp, nil
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history not configured")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	runs, err := s.opts.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("listing runs", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	resp := meridian.RunsResponse{Runs: make([]meridian.Run, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, meridian.Run{
			ID:           run.ID,
			CreatedAt:    run.CreatedAt,
			Strategy:     run.Strategy,
			Symbol:       run.Symbol,
			Timeframe:    string(run.Timeframe),
			Start:        run.Start,
			End:          run.End,
			StartingCash: run.StartingCash,
			Metrics:      wireMetrics(run.Metrics),
		})
	}
	writeJSON(w, resp)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if s.opts.Orders == nil {
		writeError(w, http.StatusServiceUnavailable, "order log not configured")
		return
	}
	st := domain.ResultStatus(strings.ToLower(r.URL.Query().Get("status")))
	switch st {
	case "", domain.ResultNoop, domain.ResultSubmitted, domain.ResultRejected:
	default:
		writeError(w, http.StatusBadRequest, "status must be noop, submitted or rejected")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	recs, err := s.opts.Orders.ListOrders(r.Context(), st, limit)
	if err != nil {
		s.log.Error("listing orders", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	resp := meridian.OrdersResponse{Orders: make([]meridian.Order, 0, len(recs))}
	for _, rec := range recs {
		resp.Orders = append(resp.Orders, wireOrder(rec))
	}
	writeJSON(w, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "no strategy attached")
		return
	}
	writeJSON(w, s.opts.Status.Snapshot())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "no strategy attached")
		return
	}
	s.hub.ServeWS(w, r)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(meridian.ErrorResponse{Error: msg})
}

// parseLimit reads the "limit" query param, writing a 400 when it is invalid.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxListLimit), true
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func normalize(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func wireMetrics(m domain.PerformanceMetrics) meridian.Metrics {
	out := meridian.Metrics{
		FinalEquity:    m.FinalEquity,
		TotalReturnPct: m.TotalReturnPct,
		TotalTrades:    m.TotalTrades,
		MaxDrawdown:    m.MaxDrawdown,
		WinRate:        m.WinRate,
	}
	if !math.IsNaN(m.SharpeRatio) && !math.IsInf(m.SharpeRatio, 0) {
		sharpe := m.SharpeRatio
		out.SharpeRatio = &sharpe
	}
	return out
}

func wireTrades(trades []domain.Trade) []meridian.Trade {
	out := make([]meridian.Trade, 0, len(trades))
	for _, t := range trades {
		out = append(out, meridian.Trade{
			Date:     t.Date,
			BarIndex: t.BarIndex,
			Type:     string(t.Type),
			Shares:   t.Shares,
			Price:    t.Price,
			Total:    t.Total,
			Fees:     t.Fees,
		})
	}
	return out
}

func wireEquity(points []domain.EquityPoint) []meridian.EquityPoint {
	out := make([]meridian.EquityPoint, 0, len(points))
	for _, p := range points {
		out = append(out, meridian.EquityPoint{Date: p.Date, Equity: p.Equity})
	}
	return out
}

func wireReturns(returns []domain.DailyReturn) []meridian.DailyReturn {
	out := make([]meridian.DailyReturn, 0, len(returns))
	for _, r := range returns {
		out = append(out, meridian.DailyReturn{Date: r.Date, Return: r.Return})
	}
	return out
}

func wireOrder(rec store.OrderRecord) meridian.Order {
	return meridian.Order{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt,
		Symbol:    rec.Symbol,
		Side:      string(rec.Side),
		Qty:       rec.Qty,
		Status:    string(rec.Status),
		OrderID:   rec.OrderID,
		Error:     rec.Error,
	}
}
