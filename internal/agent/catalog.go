package agent

// Model is one entry of the model catalog offered to clients.
type Model struct {
	ID            string   `json:"id" yaml:"id"`
	Label         string   `json:"label" yaml:"label"`
	APIIdentifier string   `json:"apiIdentifier" yaml:"api_identifier"`
	Provider      string   `json:"provider,omitempty" yaml:"provider"`
	Description   string   `json:"description,omitempty" yaml:"description"`
	Tools         []string `json:"tools,omitempty" yaml:"tools"`
}

// Catalog is the ordered list of selectable models.
type Catalog []Model

// Find returns the model with id.
func (c Catalog) Find(id string) (Model, bool) {
	for _, m := range c {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// DefaultCatalog mirrors the models offered when none are configured.
func DefaultCatalog() Catalog {
	tools := []string{"getWeather", "createDocument", "updateDocument", "requestSuggestions"}
	return Catalog{
		{
			ID:            "claude-haiku",
			Label:         "Claude Haiku",
			APIIdentifier: "claude-3-haiku-20240307",
			Provider:      "anthropic",
			Description:   "Small model for fast, lightweight tasks",
			Tools:         tools,
		},
		{
			ID:            "claude-haiku-search",
			Label:         "Claude Haiku with Search",
			APIIdentifier: "claude-3-haiku-20240307",
			Provider:      "anthropic",
			Description:   "Small model with web search",
			Tools:         append(append([]string{}, tools...), "searchWeb"),
		},
	}
}
