// Package protocol implements the text call-marker convention that lets a
// model request a tool call inside its otherwise free-text output:
//
//	@@TOOL_CALL@@{"tool_name": "calculator", "arguments": {"expression": "2+2"}}
//
// Parse is the only place raw model output is inspected; callers switch on
// the returned Reply.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lynassistant/lyn/internal/schema"
	"github.com/lynassistant/lyn/internal/shared/llmutils"
)

// Marker is the default prefix of a model response that carries a tool call.
const Marker = "@@TOOL_CALL@@"

// ErrEmptyMarker is returned by NewCodec for a blank marker.
var ErrEmptyMarker = errors.New("tool call marker must not be empty")

// Codec parses and formats tool calls under one marker string.
type Codec struct {
	marker string
}

// Default is the Codec for Marker.
var Default = Codec{marker: Marker}

// NewCodec returns a Codec for marker. Surrounding whitespace is not allowed
// because detection trims leading whitespace from model output.
func NewCodec(marker string) (Codec, error) {
	if strings.TrimSpace(marker) == "" {
		return Codec{}, ErrEmptyMarker
	}
	if strings.TrimSpace(marker) != marker {
		return Codec{}, fmt.Errorf("tool call marker %q has surrounding whitespace", marker)
	}
	return Codec{marker: marker}, nil
}

// Marker returns the prefix this codec detects.
func (c Codec) Marker() string { return c.marker }

// Reply is either a DirectAnswer or a ToolCall.
type Reply interface {
	reply()
}

// DirectAnswer is a final answer. Text is the model output verbatim.
type DirectAnswer struct {
	Text string
}

// ToolCall is a parsed call request.
type ToolCall struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

func (DirectAnswer) reply() {}
func (ToolCall) reply()     {}

var (
	errNotObject     = errors.New("payload is not a JSON object")
	errMissingName   = errors.New("tool_name is missing or empty")
	errArgsNotObject = errors.New("arguments must be a JSON object")
)

type wireCall struct {
	ToolName  *string         `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Parse classifies raw model output with the Default codec.
func Parse(raw string) (Reply, error) { return Default.Parse(raw) }

// IsToolCall reports whether raw would be treated as a tool call by Parse.
func IsToolCall(raw string) bool { return Default.IsToolCall(raw) }

// Format renders call in the wire format understood by Parse.
func Format(call ToolCall) (string, error) { return Default.Format(call) }

// Parse classifies raw model output. Reasoning blocks (<think>…</think>) and
// leading whitespace are ignored when looking for the marker; anything that
// does not then start with the marker is a DirectAnswer.
// A marker followed by an unusable payload yields *schema.ToolCallParseError.
func (c Codec) Parse(raw string) (Reply, error) {
	body, ok := strings.CutPrefix(normalize(raw), c.marker)
	if !ok {
		return DirectAnswer{Text: raw}, nil
	}

	call, err := decode(body)
	if err != nil {
		return nil, &schema.ToolCallParseError{Raw: raw, Err: err}
	}
	return call, nil
}

func (c Codec) IsToolCall(raw string) bool {
	return strings.HasPrefix(normalize(raw), c.marker)
}

func (c Codec) Format(call ToolCall) (string, error) {
	if call.Arguments == nil {
		call.Arguments = map[string]any{}
	}
	b, err := json.Marshal(call)
	if err != nil {
		return "", fmt.Errorf("marshal tool call: %w", err)
	}
	return c.marker + string(b), nil
}

func normalize(raw string) string {
	return strings.TrimLeft(llmutils.StripThink(raw), " \t\r\n")
}

func decode(body string) (ToolCall, error) {
	payload := []byte(unfence(strings.TrimSpace(body)))
	if len(payload) == 0 || payload[0] != '{' {
		return ToolCall{}, errNotObject
	}

	var w wireCall
	if err := json.Unmarshal(payload, &w); err != nil {
		return ToolCall{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if w.ToolName == nil || strings.TrimSpace(*w.ToolName) == "" {
		return ToolCall{}, errMissingName
	}

	args := map[string]any{}
	if len(w.Arguments) > 0 && !bytes.Equal(w.Arguments, []byte("null")) {
		if w.Arguments[0] != '{' {
			return ToolCall{}, errArgsNotObject
		}
		if err := json.Unmarshal(w.Arguments, &args); err != nil {
			return ToolCall{}, fmt.Errorf("%w: %v", errArgsNotObject, err)
		}
	}
	return ToolCall{ToolName: *w.ToolName, Arguments: args}, nil
}

// unfence strips a surrounding ``` or ```json code fence.
func unfence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
