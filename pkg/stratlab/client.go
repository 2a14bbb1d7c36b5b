// Package stratlab provides a Go SDK for the stratlab-server REST API.
// Strategy definitions and backtest results travel as raw JSON so the SDK
// does not pin the block schema; summary fields are typed.
package stratlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client provides access to the stratlab-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new stratlab API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Bar is one OHLCV sample returned by the bars endpoint.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// BacktestJob is the pollable state of a submitted backtest.
type BacktestJob struct {
	ID          string          `json:"backtestId"`
	StrategyID  string          `json:"strategyId"`
	Symbol      string          `json:"symbol"`
	Status      string          `json:"status"`
	Results     json.RawMessage `json:"results,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Terminal reports whether the job has finished, successfully or not.
func (j *BacktestJob) Terminal() bool {
	return j.Status == "completed" || j.Status == "failed"
}

// Portfolio is a virtual portfolio snapshot.
type Portfolio struct {
	ID             string          `json:"portfolioId"`
	UserID         string          `json:"userId,omitempty"`
	Name           string          `json:"name"`
	InitialCapital float64         `json:"initialCapital"`
	Cash           float64         `json:"cash"`
	TotalValue     float64         `json:"totalValue"`
	PnL            float64         `json:"pnl"`
	PnLPct         float64         `json:"pnlPct"`
	Holdings       json.RawMessage `json:"holdings"`
	Trades         json.RawMessage `json:"trades"`
	EquityCurve    json.RawMessage `json:"equityCurve"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// ---------------------------------------------------------------------------
// Strategies
// ---------------------------------------------------------------------------

// CreateStrategy validates and stores a strategy definition, returning the
// assigned id and the stored document.
func (c *Client) CreateStrategy(ctx context.Context, strategy json.RawMessage) (string, json.RawMessage, error) {
	var stored json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/api/v1/strategies", strategy, &stored); err != nil {
		return "", nil, err
	}
	var idOnly struct {
		ID string `json:"strategyId"`
	}
	if err := json.Unmarshal(stored, &idOnly); err != nil {
		return "", nil, fmt.Errorf("decoding stored strategy: %w", err)
	}
	return idOnly.ID, stored, nil
}

// GetStrategy retrieves a stored strategy definition.
func (c *Client) GetStrategy(ctx context.Context, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/v1/strategies/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteStrategy removes a stored strategy.
func (c *Client) DeleteStrategy(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/strategies/"+url.PathEscape(id), nil, nil)
}

// ---------------------------------------------------------------------------
// Backtests
// ---------------------------------------------------------------------------

// SubmitBacktest schedules a backtest and returns its job id immediately.
func (c *Client) SubmitBacktest(ctx context.Context, strategyID, symbol string, start, end time.Time, initialCapital float64) (string, error) {
	req := map[string]any{
		"strategyId":     strategyID,
		"symbol":         symbol,
		"startDate":      start.Format("2006-01-02"),
		"endDate":        end.Format("2006-01-02"),
		"initialCapital": initialCapital,
	}
	var resp struct {
		BacktestID string `json:"backtestId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests", req, &resp); err != nil {
		return "", err
	}
	return resp.BacktestID, nil
}

// GetBacktest polls a backtest job.
func (c *Client) GetBacktest(ctx context.Context, id string) (*BacktestJob, error) {
	var resp struct {
		Backtest *BacktestJob `json:"backtest"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Backtest == nil {
		return nil, fmt.Errorf("backtest %s: empty response envelope", id)
	}
	return resp.Backtest, nil
}

// WaitBacktest polls a backtest job until it reaches a terminal state or
// ctx expires.
func (c *Client) WaitBacktest(ctx context.Context, id string, pollEvery time.Duration) (*BacktestJob, error) {
	if pollEvery <= 0 {
		pollEvery = time.Second
	}
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	for {
		job, err := c.GetBacktest(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ---------------------------------------------------------------------------
// Portfolios
// ---------------------------------------------------------------------------

// CreatePortfolio registers a new virtual portfolio.
func (c *Client) CreatePortfolio(ctx context.Context, userID, name string, initialCapital float64) (*Portfolio, error) {
	req := map[string]any{"userId": userID, "name": name, "initialCapital": initialCapital}
	var p Portfolio
	if err := c.do(ctx, http.MethodPost, "/api/v1/portfolios", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// portfolioEnvelope is the response shape of portfolio mutations.
type portfolioEnvelope struct {
	Success   bool       `json:"success"`
	Portfolio *Portfolio `json:"portfolio"`
}

// DeployStrategy attaches a stored strategy to a portfolio.
func (c *Client) DeployStrategy(ctx context.Context, portfolioID, strategyID string) (*Portfolio, error) {
	req := map[string]any{"strategyId": strategyID}
	var resp portfolioEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/v1/portfolios/"+url.PathEscape(portfolioID)+"/deploy", req, &resp); err != nil {
		return nil, err
	}
	if resp.Portfolio == nil {
		return nil, fmt.Errorf("deploy %s: empty response envelope", portfolioID)
	}
	return resp.Portfolio, nil
}

// Tick feeds one bar to the portfolio's deployed strategy.
func (c *Client) Tick(ctx context.Context, portfolioID string, bar Bar) (*Portfolio, error) {
	var resp portfolioEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/v1/portfolios/"+url.PathEscape(portfolioID)+"/tick", bar, &resp); err != nil {
		return nil, err
	}
	if resp.Portfolio == nil {
		return nil, fmt.Errorf("tick %s: empty response envelope", portfolioID)
	}
	return resp.Portfolio, nil
}

// ResetPortfolio restores a portfolio to its just-created state so a new
// strategy can be deployed.
func (c *Client) ResetPortfolio(ctx context.Context, portfolioID string) (*Portfolio, error) {
	var p Portfolio
	if err := c.do(ctx, http.MethodPost, "/api/v1/portfolios/"+url.PathEscape(portfolioID)+"/reset", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPortfolio retrieves a portfolio snapshot.
func (c *Client) GetPortfolio(ctx context.Context, id string) (*Portfolio, error) {
	var p Portfolio
	if err := c.do(ctx, http.MethodGet, "/api/v1/portfolios/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// GetBars retrieves stored daily bars for a symbol.
func (c *Client) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("start", start.Format("2006-01-02"))
	q.Set("end", end.Format("2006-01-02"))

	var resp struct {
		Bars []Bar `json:"bars"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/bars?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Bars, nil
}

// GetSymbols lists symbols available in the server's bar store.
func (c *Client) GetSymbols(ctx context.Context) ([]string, error) {
	var resp struct {
		Symbols []string `json:"symbols"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/symbols", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Symbols, nil
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// do runs one JSON request/response cycle against the API.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		payload = bytes.NewReader(b)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
