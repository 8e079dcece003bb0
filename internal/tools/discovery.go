package tools

import (
	"context"
	"encoding/json"
)

// DiscoverToolName is the reserved name of the discovery meta-tool.
const DiscoverToolName = "discover_tool"

const discoverToolDescription = "This tool allows you to find out about all the different things you can do. " +
	"If you ever feel uncertain, even for a moment, about whether there's a better way to accomplish something or if you " +
	"lack the perfect information, use this tool to explore your options. To use this tool, provide a concise description " +
	"of what you need or are trying to achieve. Think of it as your go-to for uncovering any potential assistance. " +
	"This tool will then return a list of available tools that fit your description."

// CapabilityArg is the only parameter of the discovery meta-tool.
const CapabilityArg = "capability_description"

// DiscoverTool is the always-available pseudo-tool whose calls trigger a
// registry search. It is advertised but never registered or executed.
type DiscoverTool struct{}

func (DiscoverTool) Name() string        { return DiscoverToolName }
func (DiscoverTool) Description() string { return discoverToolDescription }
func (DiscoverTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"capability_description": {
				"type": "string",
				"description": "A clear description of the capability or task you need a tool for. Example: \"calculate the result of a mathematical expression\" or \"get the current date and time\"."
			}
		},
		"required": ["capability_description"]
	}`)
}

func (DiscoverTool) Execute(context.Context, map[string]any) (string, error) {
	return "", ErrDiscoveryNotExecutable
}

// CapabilityDescription extracts the capability text from discovery arguments.
func CapabilityDescription(args map[string]any) (string, error) {
	v, ok := args[CapabilityArg]
	if !ok {
		return "", invalidArgs("%s is required", CapabilityArg)
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidArgs("%s must be a string, got %T", CapabilityArg, v)
	}
	return s, nil
}
