package tools

import (
	"encoding/json"

	"github.com/lynassistant/lyn/internal/schema"
)

// Schema is the advertised form of a tool.
type Schema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

func SchemaOf(t schema.Tool) Schema {
	return Schema{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()}
}

// DiscoverySchema is the schema of the discovery meta-tool.
func DiscoverySchema() Schema { return SchemaOf(DiscoverTool{}) }

// Builtins returns the tools shipped with lyn.
func Builtins() []schema.Tool {
	return []schema.Tool{NewCalculator(), NewClock()}
}
