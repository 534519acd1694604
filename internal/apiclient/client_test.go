package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestDoJSONDecodesSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"Review"}`))
	}))
	defer server.Close()

	var out struct {
		Status string `json:"status"`
	}
	if err := New(server.URL, nil).DoJSON(context.Background(), http.MethodGet, "/x", "tok", nil, &out); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if out.Status != "Review" {
		t.Fatalf("unexpected body: %+v", out)
	}
}

func TestDoJSONReturnsHTTPErrorWithCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid or expired token"}`))
	}))
	defer server.Close()

	err := New(server.URL, nil).DoJSON(context.Background(), http.MethodPost, "/x", "stale", map[string]string{}, nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.ErrorCode() != "unauthenticated" || httpErr.Message != "Invalid or expired token" {
		t.Fatalf("unexpected error: %+v", httpErr)
	}
}

func TestDoJSONRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if err := New(server.URL, nil).DoJSON(context.Background(), http.MethodPost, "/x", "", nil, nil); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected one retry, got %d calls", got)
	}
}
