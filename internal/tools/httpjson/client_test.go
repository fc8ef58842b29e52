package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/quill/internal/retry"
)

var fast = retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := New(Config{Retry: fast})
	data, err := c.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != `{"ok":true}` || calls.Load() != 3 {
		t.Errorf("data = %s after %d calls", data, calls.Load())
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad coordinates", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := New(Config{Retry: fast}).Get(context.Background(), server.URL)
	var status *StatusError
	if !errors.As(err, &status) || status.Code != http.StatusBadRequest {
		t.Fatalf("error = %v", err)
	}
	if !strings.Contains(err.Error(), "bad coordinates") || calls.Load() != 1 {
		t.Errorf("error = %v after %d calls", err, calls.Load())
	}
}

func TestPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("request = %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer server.Close()

	data, err := New(Config{Retry: fast}).PostJSON(context.Background(), server.URL, map[string]string{"query": "go"})
	if err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	var echoed map[string]string
	if err := json.Unmarshal(data, &echoed); err != nil || echoed["query"] != "go" {
		t.Errorf("echo = %s", data)
	}
}

func TestResponseLimits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("big") != "" {
			w.Write([]byte(`"` + strings.Repeat("x", 64) + `"`))
			return
		}
		w.Write([]byte(`<html>`))
	}))
	defer server.Close()

	c := New(Config{Retry: fast, MaxResponseBytes: 32})
	if _, err := c.Get(context.Background(), server.URL+"?big=1"); err == nil {
		t.Error("expected size limit error")
	}
	if _, err := c.Get(context.Background(), server.URL); err == nil || !strings.Contains(err.Error(), "not JSON") {
		t.Errorf("expected non-JSON error, got %v", err)
	}
}

func TestTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&StatusError{Code: 429}, true},
		{&StatusError{Code: 503}, true},
		{&StatusError{Code: 404}, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := Transient(tt.err); got != tt.want {
			t.Errorf("Transient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
