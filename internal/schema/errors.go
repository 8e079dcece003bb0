package schema

import (
	"errors"
	"fmt"
)

var (
	ErrToolCallParseFailed      = errors.New("tool call parse failed")
	ErrToolNotFound             = errors.New("tool not found")
	ErrToolExecutionFailed      = errors.New("tool execution failed")
	ErrDiscoveryEmbeddingFailed = errors.New("discovery embedding failed")
	ErrBackend                  = errors.New("backend error")
	ErrRegistrationConflict     = errors.New("tool registration conflict")
	// ErrOffProtocolCall is returned when the model calls a tool that was not
	// advertised for the current phase and the engine is set to reject it.
	ErrOffProtocolCall = errors.New("off-protocol tool call")
)

// ToolCallParseError reports a malformed call-marker payload.
// Raw holds the full model output that failed to parse.
type ToolCallParseError struct {
	Raw string
	Err error
}

func (e *ToolCallParseError) Error() string {
	return fmt.Sprintf("tool call parse failed: %v (raw: %q)", e.Err, e.Raw)
}

func (e *ToolCallParseError) Unwrap() error        { return e.Err }
func (e *ToolCallParseError) Is(target error) bool { return target == ErrToolCallParseFailed }

type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string        { return fmt.Sprintf("tool not found: %q", e.Name) }
func (e *ToolNotFoundError) Is(target error) bool { return target == ErrToolNotFound }

// ToolExecutionError wraps a failure returned by Tool.Execute.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error        { return e.Err }
func (e *ToolExecutionError) Is(target error) bool { return target == ErrToolExecutionFailed }

type DiscoveryEmbeddingError struct {
	Capability string
	Err        error
}

func (e *DiscoveryEmbeddingError) Error() string {
	return fmt.Sprintf("embed capability %q: %v", e.Capability, e.Err)
}

func (e *DiscoveryEmbeddingError) Unwrap() error        { return e.Err }
func (e *DiscoveryEmbeddingError) Is(target error) bool { return target == ErrDiscoveryEmbeddingFailed }

// BackendError is a transport or API failure from the LLM or embedding backend.
// Backend is "llm" or "embedding"; Op names the call ("generate", "stream", "embed").
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error        { return e.Err }
func (e *BackendError) Is(target error) bool { return target == ErrBackend }

type RegistrationConflictError struct {
	Name string
}

func (e *RegistrationConflictError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

func (e *RegistrationConflictError) Is(target error) bool { return target == ErrRegistrationConflict }
