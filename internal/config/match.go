package config

import (
	"github.com/lynassistant/lyn/internal/providers"
)

// ChatParams returns the provider parameters for the chat model.
func (c *Config) ChatParams() providers.Params {
	return providers.Params{
		APIKey:       c.Provider.APIKey,
		APIBase:      c.Provider.APIBase,
		ExtraHeaders: c.Provider.ExtraHeaders,
		DefaultModel: c.Agent.Model,
		ProviderName: c.Provider.Name,
	}
}

// EmbeddingParams returns the provider parameters for the embedding model.
// Unset embedding provider fields inherit from the chat provider, unless a
// different provider is named, in which case they come from its registry entry.
func (c *Config) EmbeddingParams() providers.Params {
	p := c.ChatParams()
	p.DefaultModel = c.Embeddings.Model

	ep := c.Embeddings.Provider
	if ep.Name != "" && ep.Name != p.ProviderName {
		p = providers.Params{ProviderName: ep.Name, DefaultModel: c.Embeddings.Model}
	}
	if ep.APIKey != "" {
		p.APIKey = ep.APIKey
	}
	if ep.APIBase != "" {
		p.APIBase = ep.APIBase
	}
	if len(ep.ExtraHeaders) > 0 {
		p.ExtraHeaders = ep.ExtraHeaders
	}
	return p
}

// ProviderSpec resolves the registry entry used for chat.
func (c *Config) ProviderSpec() *providers.ProviderSpec {
	return providers.Resolve(c.Provider.Name, c.Provider.APIKey, c.Provider.APIBase, c.Agent.Model)
}
