// Package config defines the configuration schema for lyn.
//
// JSON and YAML keys use camelCase. Environment variables prefixed with
// LYN_ override file values; see ApplyEnv.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lynassistant/lyn/internal/protocol"
)

// AgentConfig tunes the conversation engine.
type AgentConfig struct {
	Model               string  `json:"model" yaml:"model"`
	MaxTokens           int     `json:"maxTokens" yaml:"maxTokens"`
	Temperature         float64 `json:"temperature" yaml:"temperature"`
	SimilarityThreshold float64 `json:"similarityThreshold" yaml:"similarityThreshold"`
	OffProtocolCalls    string  `json:"offProtocolCalls" yaml:"offProtocolCalls"` // "execute" or "reject"
	CallTimeout         float64 `json:"callTimeout" yaml:"callTimeout"`           // seconds, fractions allowed, 0 disables
	ToolMarker          string  `json:"toolMarker" yaml:"toolMarker"`             // prefix of tool calls in model output
	Summarize           bool    `json:"summarize" yaml:"summarize"`
	Workspace           string  `json:"workspace" yaml:"workspace"`
}

func defaultAgentConfig() AgentConfig {
	return AgentConfig{
		Model:               "llama3.2:1b",
		MaxTokens:           2048,
		Temperature:         0.7,
		SimilarityThreshold: 0.75,
		OffProtocolCalls:    "execute",
		CallTimeout:         120,
		ToolMarker:          protocol.Marker,
		Summarize:           true,
		Workspace:           "~/.lyn/workspace",
	}
}

// ProviderConfig holds the connection settings for one OpenAI-compatible backend.
type ProviderConfig struct {
	Name         string            `json:"name,omitempty" yaml:"name,omitempty"` // registry name, e.g. "ollama"
	APIKey       string            `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	APIBase      string            `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	ExtraHeaders map[string]string `json:"extraHeaders,omitempty" yaml:"extraHeaders,omitempty"`
}

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	Backend       string `json:"backend" yaml:"backend"` // "none", "memory" or "redis"
	RedisAddr     string `json:"redisAddr,omitempty" yaml:"redisAddr,omitempty"`
	RedisPassword string `json:"redisPassword,omitempty" yaml:"redisPassword,omitempty"`
	RedisDB       int    `json:"redisDB,omitempty" yaml:"redisDB,omitempty"`
	TTL           int    `json:"ttl" yaml:"ttl"` // seconds, 0 keeps entries forever
}

// EmbeddingsConfig selects the embedding model. Provider fields left empty
// inherit from the chat provider.
type EmbeddingsConfig struct {
	Model    string         `json:"model" yaml:"model"`
	Provider ProviderConfig `json:"provider" yaml:"provider"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
}

func defaultEmbeddingsConfig() EmbeddingsConfig {
	return EmbeddingsConfig{
		Model: "nomic-embed-text",
		Cache: CacheConfig{Backend: "memory", TTL: 24 * 60 * 60},
	}
}

// MemoryConfig selects where interaction summaries are kept.
type MemoryConfig struct {
	Backend     string `json:"backend" yaml:"backend"` // "file", "pgvector" or "none"
	PostgresDSN string `json:"postgresDSN,omitempty" yaml:"postgresDSN,omitempty"`
	Dimensions  int    `json:"dimensions" yaml:"dimensions"`
	RecallLimit int    `json:"recallLimit" yaml:"recallLimit"`
}

func defaultMemoryConfig() MemoryConfig {
	return MemoryConfig{Backend: "file", Dimensions: 768, RecallLimit: 5}
}

// GatewayConfig holds gateway server settings.
type GatewayConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

func defaultGatewayConfig() GatewayConfig {
	return GatewayConfig{Host: "127.0.0.1", Port: 18790}
}

// Addr returns host:port.
func (g GatewayConfig) Addr() string { return fmt.Sprintf("%s:%d", g.Host, g.Port) }

// LogConfig controls the default slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
}

// Config is the root configuration object, loaded from ~/.lyn/config.json.
type Config struct {
	Agent      AgentConfig      `json:"agent" yaml:"agent"`
	Provider   ProviderConfig   `json:"provider" yaml:"provider"`
	Embeddings EmbeddingsConfig `json:"embeddings" yaml:"embeddings"`
	Memory     MemoryConfig     `json:"memory" yaml:"memory"`
	Gateway    GatewayConfig    `json:"gateway" yaml:"gateway"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() Config {
	return Config{
		Agent:      defaultAgentConfig(),
		Provider:   ProviderConfig{Name: "ollama"},
		Embeddings: defaultEmbeddingsConfig(),
		Memory:     defaultMemoryConfig(),
		Gateway:    defaultGatewayConfig(),
		Log:        LogConfig{Level: "info", Format: "text"},
	}
}

// WorkspacePath returns the expanded absolute path to the workspace.
func (c *Config) WorkspacePath() string {
	ws := c.Agent.Workspace
	if ws == "" {
		return filepath.Join(DataDir(), "workspace")
	}
	if strings.HasPrefix(ws, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			ws = filepath.Join(home, ws[2:])
		}
	}
	return ws
}

// CallTimeout returns the per-call deadline as a duration.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Agent.CallTimeout * float64(time.Second))
}

// CacheTTL returns the embedding cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Embeddings.Cache.TTL) * time.Second
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.Agent.SimilarityThreshold < -1 || c.Agent.SimilarityThreshold > 1:
		return fmt.Errorf("agent.similarityThreshold %v outside [-1, 1]", c.Agent.SimilarityThreshold)
	case c.Agent.OffProtocolCalls != "execute" && c.Agent.OffProtocolCalls != "reject":
		return fmt.Errorf("agent.offProtocolCalls: unknown policy %q", c.Agent.OffProtocolCalls)
	case c.Agent.CallTimeout < 0:
		return fmt.Errorf("agent.callTimeout must not be negative")
	}
	if _, err := protocol.NewCodec(c.Agent.ToolMarker); err != nil {
		return fmt.Errorf("agent.toolMarker: %w", err)
	}
	switch c.Memory.Backend {
	case "file", "none":
	case "pgvector":
		if c.Memory.PostgresDSN == "" {
			return fmt.Errorf("memory.postgresDSN is required for the pgvector backend")
		}
		if c.Memory.Dimensions <= 0 {
			return fmt.Errorf("memory.dimensions must be positive for the pgvector backend")
		}
	default:
		return fmt.Errorf("memory.backend: unknown backend %q", c.Memory.Backend)
	}
	switch c.Embeddings.Cache.Backend {
	case "none", "memory":
	case "redis":
		if c.Embeddings.Cache.RedisAddr == "" {
			return fmt.Errorf("embeddings.cache.redisAddr is required for the redis cache")
		}
	default:
		return fmt.Errorf("embeddings.cache.backend: unknown backend %q", c.Embeddings.Cache.Backend)
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}
	return nil
}
