package meridian

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestRunBacktest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/backtest" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var req BacktestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		if len(req.Symbols) != 2 || req.Timeframe != "DAILY" {
			t.Errorf("request body = %+v", req)
		}
		sharpe := 1.25
		json.NewEncoder(w).Encode(BacktestResponse{Results: []BacktestResult{
			{Symbol: "AAPL", Metrics: Metrics{FinalEquity: 101000, SharpeRatio: &sharpe}},
			{Symbol: "MSFT", Metrics: Metrics{FinalEquity: 100000}},
		}})
	}))
	defer srv.Close()

	results, err := NewClient(srv.URL).RunBacktest(context.Background(), BacktestRequest{
		Symbols:   []string{"AAPL", "MSFT"},
		Timeframe: "DAILY",
	})
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Metrics.SharpeRatio == nil || *results[0].Metrics.SharpeRatio != 1.25 {
		t.Errorf("AAPL sharpe = %v, want 1.25", results[0].Metrics.SharpeRatio)
	}
	if results[1].Metrics.SharpeRatio != nil {
		t.Errorf("MSFT sharpe = %v, want nil", *results[1].Metrics.SharpeRatio)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "symbols and timeframe are required"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).RunBacktest(context.Background(), BacktestRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "symbols and timeframe are required" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestListQueries(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.URL.RequestURI())
		switch r.URL.Path {
		case "/api/backtest/runs":
			json.NewEncoder(w).Encode(RunsResponse{Runs: []Run{{ID: 7, Symbol: "AAPL"}}})
		case "/api/orders":
			json.NewEncoder(w).Encode(OrdersResponse{Orders: []Order{{ID: 1, Status: "rejected"}}})
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL)
	ctx := context.Background()

	runs, err := c.ListRuns(ctx, 5)
	if err != nil || len(runs) != 1 || runs[0].ID != 7 {
		t.Errorf("ListRuns = %+v, %v", runs, err)
	}
	orders, err := c.ListOrders(ctx, "rejected", 0)
	if err != nil || len(orders) != 1 {
		t.Errorf("ListOrders = %+v, %v", orders, err)
	}

	want := []string{"/api/backtest/runs?limit=5", "/api/orders?status=rejected"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Errorf("request %d = %v, want %q", i, got, want[i])
		}
	}
}

func TestStructKeepsNullSharpe(t *testing.T) {
	in := BacktestResponse{Results: []BacktestResult{{Symbol: "AAPL", Metrics: Metrics{TotalTrades: 4}}}}
	s, err := EncodeStruct(in)
	if err != nil {
		t.Fatal(err)
	}
	var out BacktestResponse
	if err := DecodeStruct(s, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 1 || out.Results[0].Metrics.TotalTrades != 4 {
		t.Errorf("decoded %+v", out)
	}
	if out.Results[0].Metrics.SharpeRatio != nil {
		t.Error("null sharpe decoded as a number")
	}
}
