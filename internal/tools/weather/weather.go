// Package weather implements the getWeather tool backed by the open-meteo
// forecast API.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/tools/httpjson"
)

// DefaultEndpoint is the open-meteo forecast API.
const DefaultEndpoint = "https://api.open-meteo.com/v1/forecast"

// Args are the getWeather arguments.
type Args struct {
	Latitude  float64 `json:"latitude" jsonschema:"minimum=-90,maximum=90,description=Latitude in decimal degrees"`
	Longitude float64 `json:"longitude" jsonschema:"minimum=-180,maximum=180,description=Longitude in decimal degrees"`
}

// Tool fetches the current, hourly and daily forecast for a coordinate.
type Tool struct {
	endpoint string
	client   *httpjson.Client
}

// New returns the tool. An empty endpoint uses DefaultEndpoint.
func New(endpoint string, client *httpjson.Client) *Tool {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = httpjson.New(httpjson.Config{})
	}
	return &Tool{endpoint: endpoint, client: client}
}

func (t *Tool) Name() string { return "getWeather" }

func (t *Tool) Description() string { return "Get the current weather at a location" }

func (t *Tool) Schema() json.RawMessage { return agent.SchemaFor[Args]() }

// Execute returns the forecast payload unchanged.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args Args
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	data, err := t.client.Get(ctx, t.forecastURL(args))
	if err != nil {
		return nil, fmt.Errorf("fetch forecast: %w", err)
	}
	return &agent.ToolResult{Content: string(data)}, nil
}

func (t *Tool) forecastURL(args Args) string {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(args.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(args.Longitude, 'f', -1, 64))
	q.Set("current", "temperature_2m")
	q.Set("hourly", "temperature_2m")
	q.Set("daily", "sunrise,sunset")
	q.Set("timezone", "auto")
	return t.endpoint + "?" + q.Encode()
}
