package rest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(serverURL string) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient("test-key",
		WithBaseURL(serverURL),
		WithLogger(logger),
		WithRetries(2, 10*time.Millisecond),
	)
}

func TestMarketStatusNow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/marketstatus/now" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"market": "open",
			"serverTime": "2026-08-31T14:30:00-04:00",
			"afterHours": false,
			"exchanges": {"nasdaq": "open", "nyse": "open", "otc": "closed"},
			"currencies": {"fx": "open", "crypto": "open"}
		}`))
	}))
	defer server.Close()

	status, err := testClient(server.URL).MarketStatusNow(context.Background())
	if err != nil {
		t.Fatalf("MarketStatusNow failed: %v", err)
	}
	if status.Market != "open" {
		t.Errorf("Market = %q, want open", status.Market)
	}
	if status.Exchanges.OTC != "closed" {
		t.Errorf("Exchanges.OTC = %q, want closed", status.Exchanges.OTC)
	}
	if status.Currencies.Crypto != "open" {
		t.Errorf("Currencies.Crypto = %q, want open", status.Currencies.Crypto)
	}
}

func TestMarketStatusNow_Unauthorized(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := testClient(server.URL).MarketStatusNow(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	// 401 is not retryable.
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}

func TestMarketStatusNow_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"market": "closed"}`))
	}))
	defer server.Close()

	status, err := testClient(server.URL).MarketStatusNow(context.Background())
	if err != nil {
		t.Fatalf("MarketStatusNow failed after retries: %v", err)
	}
	if status.Market != "closed" {
		t.Errorf("Market = %q, want closed", status.Market)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}
