package tools

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/quill/internal/agent/agenttest"
	"github.com/haasonsaas/quill/internal/storage"
)

func names(t *testing.T, cfg Config) map[string]bool {
	t.Helper()
	deps := Deps{Store: storage.NewMemoryStore(), Gateway: agenttest.Gateway(agenttest.NewProvider())}
	out := make(map[string]bool)
	for _, tool := range NewRegistry(cfg, deps).Declarations() {
		out[tool.Name()] = true
	}
	return out
}

func TestNewRegistryRegistersCoreTools(t *testing.T) {
	got := names(t, Config{})
	for _, name := range []string{"getWeather", "createDocument", "updateDocument", "requestSuggestions"} {
		if !got[name] {
			t.Errorf("%s not registered", name)
		}
	}
	if got["searchWeb"] {
		t.Error("searchWeb registered without an endpoint")
	}
}

func TestNewRegistrySearchNeedsEndpoint(t *testing.T) {
	if !names(t, Config{SearchEndpoint: "http://search.local/search"})["searchWeb"] {
		t.Error("searchWeb not registered")
	}
}

func TestToolSchemasAreObjects(t *testing.T) {
	deps := Deps{Store: storage.NewMemoryStore(), Gateway: agenttest.Gateway(agenttest.NewProvider())}
	for _, tool := range NewRegistry(Config{SearchEndpoint: "http://x"}, deps).Declarations() {
		var schema struct {
			Type                 string          `json:"type"`
			AdditionalProperties json.RawMessage `json:"additionalProperties"`
			Required             []string        `json:"required"`
		}
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			t.Fatalf("%s schema: %v", tool.Name(), err)
		}
		if schema.Type != "object" || string(schema.AdditionalProperties) != "false" || len(schema.Required) == 0 {
			t.Errorf("%s schema = %s", tool.Name(), tool.Schema())
		}
	}
}

func TestRegistryRejectsMissingArguments(t *testing.T) {
	deps := Deps{Store: storage.NewMemoryStore(), Gateway: agenttest.Gateway(agenttest.NewProvider())}
	registry := NewRegistry(Config{}, deps)
	if _, err := registry.Validate("updateDocument", json.RawMessage(`{"id":"d1"}`)); err == nil {
		t.Error("Validate() accepted updateDocument without description")
	}
	if _, err := registry.Validate("createDocument", json.RawMessage(`{"title":"Essay"}`)); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
