package weather

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/retry"
	"github.com/haasonsaas/quill/internal/tools/httpjson"
)

const forecast = `{"latitude":37.77,"longitude":-122.42,"current":{"temperature_2m":17.3},"daily":{"sunrise":["2026-10-18T07:14"],"sunset":["2026-10-18T18:31"]}}`

func TestExecuteReturnsForecast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("latitude") != "37.77" || q.Get("longitude") != "-122.42" {
			t.Errorf("coordinates = %s,%s", q.Get("latitude"), q.Get("longitude"))
		}
		if q.Get("current") != "temperature_2m" || q.Get("daily") != "sunrise,sunset" || q.Get("timezone") != "auto" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(forecast))
	}))
	defer server.Close()

	tool := New(server.URL, nil)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"latitude":37.77,"longitude":-122.42}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Content != forecast || result.IsError {
		t.Errorf("result = %+v", result)
	}
}

func TestExecuteRetriesUpstreamFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(forecast))
	}))
	defer server.Close()

	client := httpjson.New(httpjson.Config{Retry: retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond}})
	if _, err := New(server.URL, client).Execute(context.Background(), json.RawMessage(`{"latitude":0,"longitude":0}`)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestSchemaRejectsOutOfRangeCoordinates(t *testing.T) {
	registry := agent.NewToolRegistry()
	registry.MustRegister(New("", nil))

	if _, err := registry.Validate("getWeather", json.RawMessage(`{"latitude":37.77,"longitude":-122.42}`)); err != nil {
		t.Fatalf("valid arguments rejected: %v", err)
	}
	for _, params := range []string{
		`{"latitude":91,"longitude":0}`,
		`{"latitude":0}`,
		`{"latitude":0,"longitude":0,"city":"sf"}`,
	} {
		if _, err := registry.Validate("getWeather", json.RawMessage(params)); err == nil {
			t.Errorf("Validate(%s) succeeded", params)
		}
	}
}

func TestForecastURLUsesDefaultEndpoint(t *testing.T) {
	u := New("", nil).forecastURL(Args{Latitude: 1.5, Longitude: 2})
	if !strings.HasPrefix(u, DefaultEndpoint+"?") {
		t.Errorf("url = %s", u)
	}
}
