package feed

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lysyi3m/rss-sieve/app/backoff"
)

var testRetry = backoff.Policy{MaxAttempts: 3, Base: time.Millisecond, Cap: 5 * time.Millisecond, Jitter: true}

func newTestFetcher() *Fetcher {
	return NewFetcher(NewClient(nil, "rss-sieve-test"), time.Second)
}

func TestFetcher_NewContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "rss-sieve-test" {
			t.Errorf("Expected User-Agent 'rss-sieve-test', got %q", ua)
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 03 Jul 2023 10:00:00 GMT")
		w.Write([]byte("<rss></rss>"))
	}))
	defer server.Close()

	outcome := newTestFetcher().Run(context.Background(), FetchRequest{FeedID: "test", URL: server.URL, Retry: testRetry})

	if outcome.Kind != FetchNewContent {
		t.Fatalf("Expected new content, got %s (%v)", outcome.Kind, outcome.Err)
	}
	if string(outcome.Body) != "<rss></rss>" {
		t.Errorf("Unexpected body %q", outcome.Body)
	}
	if outcome.Token.ETag != `"v1"` || outcome.Token.LastModified != "Mon, 03 Jul 2023 10:00:00 GMT" {
		t.Errorf("Unexpected token %+v", outcome.Token)
	}
}

func TestFetcher_NotModified(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("<rss></rss>"))
	}))
	defer server.Close()

	fetcher := newTestFetcher()
	first := fetcher.Run(context.Background(), FetchRequest{URL: server.URL, Retry: testRetry})
	if first.Kind != FetchNewContent {
		t.Fatalf("Expected new content, got %s", first.Kind)
	}

	for range 3 {
		outcome := fetcher.Run(context.Background(), FetchRequest{URL: server.URL, Token: first.Token, Retry: testRetry})
		if outcome.Kind != FetchUnchanged {
			t.Fatalf("Expected unchanged, got %s", outcome.Kind)
		}
		if outcome.Token != first.Token {
			t.Errorf("Expected token to be kept, got %+v", outcome.Token)
		}
		if len(outcome.Body) != 0 {
			t.Errorf("Expected no body on unchanged")
		}
	}

	if got := requests.Load(); got != 4 {
		t.Errorf("Expected 4 requests, got %d", got)
	}
}

func TestFetcher_RetriesTransientStatus(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("<rss></rss>"))
	}))
	defer server.Close()

	outcome := newTestFetcher().Run(context.Background(), FetchRequest{URL: server.URL, Retry: testRetry})

	if outcome.Kind != FetchNewContent {
		t.Fatalf("Expected new content after retries, got %s (%v)", outcome.Kind, outcome.Err)
	}
	if outcome.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", outcome.Attempts)
	}
}

func TestFetcher_RetriesExhausted(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	outcome := newTestFetcher().Run(context.Background(), FetchRequest{URL: server.URL, Retry: testRetry})

	if outcome.Kind != FetchFailed {
		t.Fatalf("Expected error outcome, got %s", outcome.Kind)
	}
	if !errors.Is(outcome.Err, ErrTransientNetwork) {
		t.Errorf("Expected transient error, got %v", outcome.Err)
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("Expected 3 requests, got %d", got)
	}
}

func TestFetcher_PermanentStatus(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	outcome := newTestFetcher().Run(context.Background(), FetchRequest{URL: server.URL, Retry: testRetry})

	if outcome.Kind != FetchFailed {
		t.Fatalf("Expected error outcome, got %s", outcome.Kind)
	}
	if !errors.Is(outcome.Err, ErrPermanentResponse) {
		t.Errorf("Expected permanent error, got %v", outcome.Err)
	}

	var fetchErr *FetchError
	if !errors.As(outcome.Err, &fetchErr) || fetchErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected FetchError with status 404, got %v", outcome.Err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("Expected a single request, got %d", got)
	}
}

func TestFetcher_BodyTooLarge(t *testing.T) {
	var requests atomic.Int32
	body := bytes.Repeat([]byte("a"), maxBodySize+1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write(body)
	}))
	defer server.Close()

	outcome := newTestFetcher().Run(context.Background(), FetchRequest{URL: server.URL, Retry: testRetry})

	if outcome.Kind != FetchFailed {
		t.Fatalf("Expected error outcome, got %s", outcome.Kind)
	}

	var fetchErr *FetchError
	if !errors.As(outcome.Err, &fetchErr) || fetchErr.Kind != FetchErrorTooLarge {
		t.Fatalf("Expected FetchError of kind %s, got %v", FetchErrorTooLarge, outcome.Err)
	}
	if !strings.Contains(outcome.Err.Error(), "exceeds") {
		t.Errorf("Expected size error message, got %v", outcome.Err)
	}
	if errors.Is(outcome.Err, ErrMalformedFeed) {
		t.Error("Expected oversized body not to be reported as a malformed feed")
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("Expected a single request, got %d", got)
	}
}

func TestFetcher_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	outcome := newTestFetcher().Run(context.Background(), FetchRequest{
		URL:     server.URL,
		Timeout: 20 * time.Millisecond,
		Retry:   backoff.Policy{MaxAttempts: 2, Base: time.Millisecond, Cap: time.Millisecond},
	})

	var fetchErr *FetchError
	if !errors.As(outcome.Err, &fetchErr) {
		t.Fatalf("Expected FetchError, got %v", outcome.Err)
	}
	if fetchErr.Kind != FetchErrorTimeout {
		t.Errorf("Expected timeout kind, got %s", fetchErr.Kind)
	}
	if outcome.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", outcome.Attempts)
	}
}

func TestFetcher_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	outcome := newTestFetcher().Run(context.Background(), FetchRequest{URL: url, Retry: testRetry})

	if !errors.Is(outcome.Err, ErrTransientNetwork) {
		t.Errorf("Expected transient network error, got %v", outcome.Err)
	}
	if outcome.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", outcome.Attempts)
	}
}

func TestFetchError_Transient(t *testing.T) {
	tests := []struct {
		err       *FetchError
		transient bool
	}{
		{&FetchError{Kind: FetchErrorNetwork}, true},
		{&FetchError{Kind: FetchErrorTimeout}, true},
		{&FetchError{Kind: FetchErrorStatus, StatusCode: 500}, true},
		{&FetchError{Kind: FetchErrorStatus, StatusCode: 502}, true},
		{&FetchError{Kind: FetchErrorStatus, StatusCode: 408}, true},
		{&FetchError{Kind: FetchErrorStatus, StatusCode: 429}, true},
		{&FetchError{Kind: FetchErrorStatus, StatusCode: 400}, false},
		{&FetchError{Kind: FetchErrorStatus, StatusCode: 410}, false},
		{&FetchError{Kind: FetchErrorRequest}, false},
		{&FetchError{Kind: FetchErrorTooLarge}, false},
	}

	for _, tt := range tests {
		if got := tt.err.Transient(); got != tt.transient {
			t.Errorf("%s %d: expected transient=%v, got %v", tt.err.Kind, tt.err.StatusCode, tt.transient, got)
		}
		if errors.Is(tt.err, ErrTransientNetwork) != tt.transient {
			t.Errorf("%s %d: errors.Is(ErrTransientNetwork) mismatch", tt.err.Kind, tt.err.StatusCode)
		}
		if errors.Is(tt.err, ErrPermanentResponse) == tt.transient {
			t.Errorf("%s %d: errors.Is(ErrPermanentResponse) mismatch", tt.err.Kind, tt.err.StatusCode)
		}
	}
}
