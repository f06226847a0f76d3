package meridian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("meridian api: %d %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for the meridian-server HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new meridian API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// RunBacktest runs a batch backtest and returns the per-symbol results.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest) ([]BacktestResult, error) {
	var resp BacktestResponse
	if err := c.do(ctx, http.MethodPost, "/api/backtest", nil, req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// ListRuns returns the most recent persisted runs. limit <= 0 uses the
// server default.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp RunsResponse
	if err := c.do(ctx, http.MethodGet, "/api/backtest/runs", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// ListOrders returns order audit entries, optionally filtered by status.
func (c *Client) ListOrders(ctx context.Context, status string, limit int) ([]Order, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp OrdersResponse
	if err := c.do(ctx, http.MethodGet, "/api/orders", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// Status returns the live strategy's current state.
func (c *Client) Status(ctx context.Context) (*StatusEvent, error) {
	var ev StatusEvent
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
