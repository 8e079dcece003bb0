package providers

import (
	"net/http"
	"os"
)

// Params are the raw values needed to construct a provider.
// Extracted from config.Config by the caller to avoid an import cycle.
type Params struct {
	APIKey       string
	APIBase      string
	ExtraHeaders map[string]string
	DefaultModel string
	ProviderName string // registry name, e.g. "ollama", "openrouter"
	HTTPClient   *http.Client
}

// withEnvKey fills APIKey from the spec's env var when it is not configured.
func (p Params) withEnvKey() Params {
	if p.APIKey != "" {
		return p
	}
	if spec := Resolve(p.ProviderName, "", p.APIBase, p.DefaultModel); spec != nil && spec.EnvKey != "" {
		p.APIKey = os.Getenv(spec.EnvKey)
	}
	return p
}

// NewChat creates the chat backend for p.
func NewChat(p Params) *OpenAIProvider {
	return NewOpenAIProvider(p.withEnvKey())
}

// NewEmbedder creates the embedding backend for p. DefaultModel is the
// embedding model.
func NewEmbedder(p Params) *OpenAIProvider {
	return NewOpenAIProvider(p.withEnvKey())
}
