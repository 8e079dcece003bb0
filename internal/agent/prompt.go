package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lynassistant/lyn/internal/tools"
)

// streamSystemPrompt is used by the single-pass streaming mode.
const streamSystemPrompt = "You are a helpful assistant."

// SystemPrompt builds the tool-advertising system message for one phase,
// instructing the model to prefix calls with marker.
func SystemPrompt(marker string, schemas []tools.Schema) string {
	var list strings.Builder
	if len(schemas) == 0 {
		list.WriteString("No tools available for this turn.")
	}
	for i, s := range schemas {
		if i > 0 {
			list.WriteByte('\n')
		}
		fmt.Fprintf(&list, "- %s: %s", s.Name, s.Description)
		if params := compactJSON(s.Parameters); params != "" {
			fmt.Fprintf(&list, "\n  parameters: %s", params)
		}
	}

	return "You are a helpful assistant. You have access to the following tools for this specific turn:\n" +
		list.String() + "\n" +
		"If you need to use one of these tools, respond ONLY with the following JSON structure prefixed by '" + marker + "':\n" +
		"```json\n" +
		"{\n  \"tool_name\": \"<name_of_tool>\",\n  \"arguments\": { <arguments_json_object> }\n}\n" +
		"```\n" +
		"Pay close attention to the required arguments for the tool based on its description.\n" +
		"If you need a capability not listed, use the '" + tools.DiscoverToolName + "'.\n" +
		"Otherwise, respond directly to the user."
}

func matchNote(toolName, capability string) string {
	return fmt.Sprintf("Okay, I found the '%s' tool that might help with '%s'. "+
		"You can use it now, or ask to discover another tool.", toolName, capability)
}

func noMatchNote(capability string) string {
	return fmt.Sprintf("Sorry, I couldn't find a tool for '%s'. "+
		"You can try describing the capability differently using '%s'.", capability, tools.DiscoverToolName)
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return ""
	}
	return buf.String()
}
