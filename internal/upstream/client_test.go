package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Client: &http.Client{Timeout: 5 * time.Second},
		Backoff: BackoffConfig{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	}
}

func TestFetchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/vnd.api+json" {
			t.Errorf("unexpected accept header %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/vnd.api+json; charset=utf-8")
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Accept = "application/vnd.api+json"
	c := NewClient("test", cfg)

	body, err := c.FetchJSON(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"data":[]}` {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestFetchJSONRejectsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	c := NewClient("test", testConfig())
	if _, err := c.FetchJSON(context.Background(), srv.URL); !errors.Is(err, ErrNotJSON) {
		t.Fatalf("expected ErrNotJSON, got %v", err)
	}
}

func TestFetchJSONRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	c := NewClient("test", testConfig())
	if _, err := c.FetchJSON(context.Background(), srv.URL); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestFetchJSONDoesNotRetryNotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient("test", testConfig())
	if _, err := c.FetchJSON(context.Background(), srv.URL); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestNotFoundDoesNotOpenCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ok":true}`))
		case "/gone":
			w.WriteHeader(http.StatusGone)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient("test", testConfig())
	for i := 0; i < 15; i++ {
		if _, err := c.FetchJSON(context.Background(), fmt.Sprintf("%s/missing/%d", srv.URL, i)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := c.FetchJSON(context.Background(), srv.URL+"/gone"); err == nil {
			t.Fatal("expected an error for 410")
		}
	}

	if _, err := c.FetchJSON(context.Background(), srv.URL+"/good"); err != nil {
		t.Fatalf("expected healthy url to succeed after many 4xx, got %v", err)
	}
}

func TestRetriesWaitForRateLimiter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.RequestsPerSecond = 10
	cfg.Burst = 1
	c := NewClient("test", cfg)

	start := time.Now()
	if _, err := c.FetchJSON(context.Background(), srv.URL); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	// Three attempts at 10/s with a burst of one need at least two refills.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("retries bypassed the rate limiter, took %v", elapsed)
	}
}
