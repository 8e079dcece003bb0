package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envOverrides lists the settings that can be set from the environment,
// e.g. LYN_MODEL or LYN_SIMILARITY_THRESHOLD. Unset variables leave the
// file value in place.
type envOverrides struct {
	Model               *string        `envconfig:"LYN_MODEL"`
	Temperature         *float64       `envconfig:"LYN_TEMPERATURE"`
	MaxTokens           *int           `envconfig:"LYN_MAX_TOKENS"`
	SimilarityThreshold *float64       `envconfig:"LYN_SIMILARITY_THRESHOLD"`
	OffProtocolCalls    *string        `envconfig:"LYN_OFF_PROTOCOL_CALLS"`
	CallTimeout         *time.Duration `envconfig:"LYN_CALL_TIMEOUT"`
	Workspace           *string        `envconfig:"LYN_WORKSPACE"`
	ToolMarker          *string        `envconfig:"LYN_TOOL_MARKER"`

	Provider *string `envconfig:"LYN_PROVIDER"`
	APIKey   *string `envconfig:"LYN_API_KEY"`
	APIBase  *string `envconfig:"LYN_API_BASE"`

	EmbeddingModel *string `envconfig:"LYN_EMBEDDING_MODEL"`
	CacheBackend   *string `envconfig:"LYN_CACHE_BACKEND"`
	RedisAddr      *string `envconfig:"LYN_REDIS_ADDR"`
	RedisPassword  *string `envconfig:"LYN_REDIS_PASSWORD"`

	MemoryBackend *string `envconfig:"LYN_MEMORY_BACKEND"`
	PostgresDSN   *string `envconfig:"LYN_POSTGRES_DSN"`

	GatewayHost *string `envconfig:"LYN_GATEWAY_HOST"`
	GatewayPort *int    `envconfig:"LYN_GATEWAY_PORT"`

	LogLevel  *string `envconfig:"LYN_LOG_LEVEL"`
	LogFormat *string `envconfig:"LYN_LOG_FORMAT"`
}

// LoadDotEnv loads the given .env files (or ./.env) into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// ApplyEnv overlays LYN_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("process env config: %w", err)
	}

	set(&c.Agent.Model, env.Model)
	set(&c.Agent.Temperature, env.Temperature)
	set(&c.Agent.MaxTokens, env.MaxTokens)
	set(&c.Agent.SimilarityThreshold, env.SimilarityThreshold)
	set(&c.Agent.OffProtocolCalls, env.OffProtocolCalls)
	set(&c.Agent.Workspace, env.Workspace)
	set(&c.Agent.ToolMarker, env.ToolMarker)
	if env.CallTimeout != nil {
		c.Agent.CallTimeout = env.CallTimeout.Seconds()
	}

	set(&c.Provider.Name, env.Provider)
	set(&c.Provider.APIKey, env.APIKey)
	set(&c.Provider.APIBase, env.APIBase)

	set(&c.Embeddings.Model, env.EmbeddingModel)
	set(&c.Embeddings.Cache.Backend, env.CacheBackend)
	set(&c.Embeddings.Cache.RedisAddr, env.RedisAddr)
	set(&c.Embeddings.Cache.RedisPassword, env.RedisPassword)

	set(&c.Memory.Backend, env.MemoryBackend)
	set(&c.Memory.PostgresDSN, env.PostgresDSN)

	set(&c.Gateway.Host, env.GatewayHost)
	set(&c.Gateway.Port, env.GatewayPort)

	set(&c.Log.Level, env.LogLevel)
	set(&c.Log.Format, env.LogFormat)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
