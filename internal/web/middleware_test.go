package web

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/quill/internal/observability"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoggingMiddleware(t *testing.T) {
	t.Run("logs request with nil logger", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		wrapped := LoggingMiddleware(nil)(handler)

		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("logs request with logger", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})

		wrapped := LoggingMiddleware(testLogger())(handler)

		req := httptest.NewRequest("POST", "/api/test", nil)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
		}
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = observability.RequestIDFromContext(r.Context())
	}))

	t.Run("reuses caller id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if seen != "req-42" || rec.Header().Get(RequestIDHeader) != "req-42" {
			t.Errorf("context id = %q, header = %q", seen, rec.Header().Get(RequestIDHeader))
		}
	})

	t.Run("generates id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

		if seen == "" || seen != rec.Header().Get(RequestIDHeader) {
			t.Errorf("context id = %q, header = %q", seen, rec.Header().Get(RequestIDHeader))
		}
	})
}

func TestMetricsMiddleware(t *testing.T) {
	t.Run("nil metrics passes through", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
		rec := httptest.NewRecorder()
		MetricsMiddleware(nil, nil)(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if rec.Code != http.StatusTeapot {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
		}
	})

	t.Run("records status per route", func(t *testing.T) {
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		route := func(*http.Request) string { return "GET /api/document" }

		rec := httptest.NewRecorder()
		MetricsMiddleware(metrics, route)(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/api/document?id=x", nil))

		got := testutil.ToFloat64(metrics.HTTPRequestCounter.WithLabelValues("GET", "GET /api/document", "404"))
		if got != 1 {
			t.Errorf("request count = %v, want 1", got)
		}
	})
}

func TestCORSMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("allows wildcard origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/history", nil)
		req.Header.Set("Origin", "http://example.com")
		rec := httptest.NewRecorder()
		CORSMiddleware([]string{"*"})(okHandler).ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
	})

	t.Run("rejects disallowed origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/history", nil)
		req.Header.Set("Origin", "http://evil.com")
		rec := httptest.NewRecorder()
		CORSMiddleware([]string{"http://allowed.com"})(okHandler).ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("handles preflight request", func(t *testing.T) {
		called := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		})
		req := httptest.NewRequest("OPTIONS", "/api/chat", nil)
		req.Header.Set("Origin", "http://allowed.com")
		rec := httptest.NewRecorder()
		CORSMiddleware([]string{"http://allowed.com"})(handler).ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
		}
		if called {
			t.Error("preflight reached the handler")
		}
	})
}

func TestResponseWriter(t *testing.T) {
	t.Run("prevents double WriteHeader", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := wrap(rec)

		rw.WriteHeader(http.StatusAccepted)
		rw.WriteHeader(http.StatusInternalServerError)

		if rw.status != http.StatusAccepted || rec.Code != http.StatusAccepted {
			t.Errorf("status = %d, recorder = %d, want %d", rw.status, rec.Code, http.StatusAccepted)
		}
	})

	t.Run("Write sets default status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := wrap(rec)

		if _, err := rw.Write([]byte("hello")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if rw.status != http.StatusOK {
			t.Errorf("status = %d, want %d", rw.status, http.StatusOK)
		}
	})

	t.Run("forwards Flush", func(t *testing.T) {
		rec := httptest.NewRecorder()
		var w http.ResponseWriter = wrap(rec)

		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer is not a Flusher")
		}
		f.Flush()
		if !rec.Flushed {
			t.Error("Flush was not forwarded")
		}
	})
}
