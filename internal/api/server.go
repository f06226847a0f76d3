// Package api provides the HTTP and gRPC servers for meridian, exposing
// batch backtests, run history, the order audit log and the live strategy
// status stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"meridian/internal/live"
	"meridian/internal/store"
	"meridian/internal/strategy"
)

// BacktestDefaults fill the optional fields of a backtest request.
type BacktestDefaults struct {
	Strategy string
	Start    time.Time
	End      time.Time
}

// Options wires the server's collaborators. Every field is optional; the
// routes of a missing collaborator answer 503.
type Options struct {
	Backtester *strategy.Backtester
	Runs       store.RunStore
	Orders     store.OrderStore
	Status     *live.StatusModel
	Defaults   BacktestDefaults
}

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	opts Options
	hub  *Hub
	log  *slog.Logger
}

// NewServer creates a new Server.
func NewServer(opts Options) *Server {
	s := &Server{
		opts: opts,
		log:  slog.Default().With("component", "api"),
	}
	if opts.Status != nil {
		s.hub = NewHub(opts.Status)
	}
	return s
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/backtest", s.handleBacktest)
	mux.HandleFunc("GET /api/backtest/runs", s.handleRuns)
	mux.HandleFunc("GET /api/orders", s.handleOrders)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /ws/status", s.handleWS)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// RegisterGRPC registers the backtest service and, when a status model is
// attached, the status stream on gs.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&backtestServiceDesc, &BacktestService{srv: s})
	if s.opts.Status != nil {
		live.NewServer(s.opts.Status, s.log).RegisterGRPC(gs)
	}
}

// RunHub runs the WebSocket hub until ctx is cancelled. It returns at once
// when no status model is attached.
func (s *Server) RunHub(ctx context.Context) {
	if s.hub != nil {
		s.hub.Run(ctx)
	}
}

// ListenAndServe starts the HTTP listener and, when grpcAddr is not empty,
// the gRPC listener. It blocks until ctx is cancelled or a listener fails,
// then shuts both down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, httpAddr, grpcAddr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.RunHub(ctx)

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 2)
	go func() {
		s.log.Info("HTTP server listening", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()

	var gs *grpc.Server
	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			httpServer.Close()
			return fmt.Errorf("grpc listen %s: %w", grpcAddr, err)
		}
		gs = grpc.NewServer()
		s.RegisterGRPC(gs)
		go func() {
			s.log.Info("gRPC server listening", "addr", grpcAddr)
			if err := gs.Serve(lis); err != nil {
				errc <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	s.log.Info("shutting down API server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if gs != nil {
		stopped := make(chan struct{})
		go func() { gs.GracefulStop(); close(stopped) }()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			gs.Stop()
		}
	}
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		s.log.Error("shutdown error", "err", serr)
	}
	return err
}
