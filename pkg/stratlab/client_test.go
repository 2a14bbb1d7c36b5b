package stratlab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080"
	c := NewClient(baseURL)

	if c == nil {
		t.Fatal("expected non-nil client")
	}
	if c.baseURL != baseURL {
		t.Errorf("expected baseURL %q, got %q", baseURL, c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestCreateStrategy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/strategies" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var strat map[string]any
		if err := json.NewDecoder(r.Body).Decode(&strat); err != nil {
			t.Fatalf("decoding strategy: %v", err)
		}
		strat["strategyId"] = "strat-42"
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(strat)
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	id, stored, err := c.CreateStrategy(context.Background(), json.RawMessage(`{"name":"sma cross","blocks":[]}`))
	if err != nil {
		t.Fatalf("CreateStrategy: %v", err)
	}
	if id != "strat-42" {
		t.Errorf("id = %q, want strat-42", id)
	}
	if len(stored) == 0 {
		t.Error("empty stored document")
	}
}

func TestAPIErrorMapping(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "strategy not found"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	_, err := c.GetStrategy(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if apiErr.Message != "strategy not found" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestWaitBacktestPollsToCompletion(t *testing.T) {
	var polls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := "running"
		if polls >= 3 {
			status = "completed"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"backtest": map[string]any{"backtestId": "job-1", "status": status},
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	job, err := c.WaitBacktest(context.Background(), "job-1", time.Millisecond)
	if err != nil {
		t.Fatalf("WaitBacktest: %v", err)
	}
	if job.Status != "completed" {
		t.Errorf("status = %q", job.Status)
	}
	if polls < 3 {
		t.Errorf("polls = %d, want >= 3", polls)
	}
}

func TestGetBarsBuildsQuery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("symbol") != "AAPL" || q.Get("start") != "2024-01-01" || q.Get("end") != "2024-02-01" {
			t.Errorf("query = %v", q)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"symbol": "AAPL",
			"bars": []Bar{{
				Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC),
				Open: 185, High: 186, Low: 184, Close: 185.5, Volume: 1000,
			}},
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	bars, err := c.GetBars(context.Background(), "AAPL", start, end)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != 185.5 {
		t.Errorf("bars = %+v", bars)
	}
}

func TestHealth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer ts.Close()

	if err := NewClient(ts.URL).Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}
