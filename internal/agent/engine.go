// Package agent implements the two-phase tool-augmented conversation engine.
package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/lynassistant/lyn/internal/metrics"
	"github.com/lynassistant/lyn/internal/protocol"
	"github.com/lynassistant/lyn/internal/schema"
	"github.com/lynassistant/lyn/internal/shared/llmutils"
	"github.com/lynassistant/lyn/internal/tools"
)

// DefaultSimilarityThreshold is the minimum cosine similarity for a capability match.
const DefaultSimilarityThreshold = 0.75

// OffProtocolPolicy decides what happens when the model calls a tool that was
// not advertised for the current phase.
type OffProtocolPolicy string

const (
	// OffProtocolExecute looks the tool up and runs it anyway.
	OffProtocolExecute OffProtocolPolicy = "execute"
	// OffProtocolReject fails the turn with schema.ErrOffProtocolCall.
	OffProtocolReject OffProtocolPolicy = "reject"
)

func (p OffProtocolPolicy) Valid() bool {
	return p == OffProtocolExecute || p == OffProtocolReject
}

// Path names the terminal state a turn ended in.
type Path string

const (
	PathDirectAnswer Path = "direct_answer"
	PathToolExecuted Path = "tool_executed"
)

// Settings tune the engine. The zero value is not usable; start from DefaultSettings.
type Settings struct {
	Threshold   float64
	OffProtocol OffProtocolPolicy
	// CallTimeout bounds each backend call and tool execution; 0 disables it.
	CallTimeout time.Duration
	// Marker prefixes tool calls in model output and in the advertised instructions.
	Marker      string
	Chat        schema.ChatOptions
}

func DefaultSettings() Settings {
	return Settings{
		Threshold:   DefaultSimilarityThreshold,
		OffProtocol: OffProtocolExecute,
		CallTimeout: 2 * time.Minute,
		Marker:      protocol.Marker,
		Chat:        schema.ChatOptions{Temperature: -1},
	}
}

// Request is one user turn. History is caller-owned prior conversation,
// inserted between the system prompt and the prompt; the engine never keeps it.
type Request struct {
	Prompt  string          `json:"prompt"`
	History schema.Messages `json:"-"`
}

// Result describes how a turn was answered.
type Result struct {
	Answer     string  `json:"answer"`
	Path       Path    `json:"path"`
	Tool       string  `json:"tool,omitempty"`
	Capability string  `json:"capability,omitempty"`
	Matched    string  `json:"matched,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
	Phases     int     `json:"phases"`
}

// Engine turns a prompt into an answer, discovering and running at most one
// tool on the way. It holds no per-request state and is safe for concurrent use.
type Engine struct {
	llm        schema.LLMProvider
	embedder   schema.Embedder
	registry   *tools.Registry
	summarizer *Summarizer
	memory     schema.MemoryStore
	codec      protocol.Codec
	settings   Settings
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithSummarizer enables background summarisation of completed turns.
func WithSummarizer(s *Summarizer) Option { return func(e *Engine) { e.summarizer = s } }

// WithMemory enables Recall over stored summaries.
func WithMemory(m schema.MemoryStore) Option { return func(e *Engine) { e.memory = m } }

// NewEngine validates its collaborators and returns a ready Engine.
func NewEngine(llm schema.LLMProvider, embedder schema.Embedder, registry *tools.Registry, settings Settings, opts ...Option) (*Engine, error) {
	switch {
	case llm == nil:
		return nil, errors.New("engine: llm provider is required")
	case embedder == nil:
		return nil, errors.New("engine: embedder is required")
	case registry == nil:
		return nil, errors.New("engine: tool registry is required")
	case settings.Threshold < -1 || settings.Threshold > 1:
		return nil, fmt.Errorf("engine: similarity threshold %v outside [-1, 1]", settings.Threshold)
	case !settings.OffProtocol.Valid():
		return nil, fmt.Errorf("engine: unknown off-protocol policy %q", settings.OffProtocol)
	}
	codec, err := protocol.NewCodec(settings.Marker)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e := &Engine{llm: llm, embedder: embedder, registry: registry, codec: codec, settings: settings}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Registry() *tools.Registry { return e.registry }
func (e *Engine) Settings() Settings        { return e.settings }

// Process answers prompt and returns only the final text.
func (e *Engine) Process(ctx context.Context, prompt string) (string, error) {
	res, err := e.Run(ctx, Request{Prompt: prompt})
	return res.Answer, err
}

// Run executes the two-phase protocol for one turn. Every failure is terminal
// and returned as a typed error; nothing is retried. On success the turn is
// handed to the summarizer without waiting for it.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	res, err := e.run(ctx, req)
	if err != nil {
		metrics.RecordTurn("none", err)
		slog.Warn("turn failed", "phases", res.Phases, "err", err)
		return res, err
	}
	metrics.RecordTurn(string(res.Path), nil)
	slog.Info("turn done", "path", res.Path, "tool", res.Tool, "phases", res.Phases)

	if e.summarizer != nil {
		e.summarizer.Schedule(req.Prompt, res.Answer)
	}
	return res, nil
}

func (e *Engine) run(ctx context.Context, req Request) (Result, error) {
	var res Result

	// Phase 1: only the discovery meta-tool is advertised.
	discovery := tools.DiscoverySchema()
	first := e.conversation(SystemPrompt(e.codec.Marker(), []tools.Schema{discovery}), req)
	raw1, err := e.generate(ctx, "first", first)
	res.Phases = 1
	if err != nil {
		return res, err
	}

	reply, err := e.codec.Parse(raw1)
	if err != nil {
		return res, err
	}
	call, isCall := reply.(protocol.ToolCall)
	if !isCall {
		res.Answer, res.Path = reply.(protocol.DirectAnswer).Text, PathDirectAnswer
		return res, nil
	}

	if call.ToolName != tools.DiscoverToolName {
		slog.Warn("model called a tool that was not advertised", "phase", "first", "tool", call.ToolName)
		return e.offProtocol(ctx, call, res)
	}

	capability, err := tools.CapabilityDescription(call.Arguments)
	if err != nil {
		return res, &schema.ToolCallParseError{Raw: raw1, Err: err}
	}
	res.Capability = capability

	match, found, err := e.discover(ctx, capability)
	if err != nil {
		return res, err
	}

	advertised := []tools.Schema{discovery}
	note := noMatchNote(capability)
	if found {
		advertised = append(advertised, tools.SchemaOf(match.Tool))
		note = matchNote(match.Tool.Name(), capability)
		res.Matched, res.Similarity = match.Tool.Name(), match.Similarity
	}

	// Phase 2: system, history, user, first assistant reply, discovery note.
	second := e.conversation(SystemPrompt(e.codec.Marker(), advertised), req)
	second.AddAssistant(raw1)
	second.AddSystem(note)

	raw2, err := e.generate(ctx, "second", second)
	res.Phases = 2
	if err != nil {
		return res, err
	}
	reply, err = e.codec.Parse(raw2)
	if err != nil {
		return res, err
	}
	call, isCall = reply.(protocol.ToolCall)
	if !isCall {
		res.Answer, res.Path = reply.(protocol.DirectAnswer).Text, PathDirectAnswer
		return res, nil
	}

	if call.ToolName != res.Matched && call.ToolName != tools.DiscoverToolName {
		slog.Warn("model called a tool that was not advertised", "phase", "second", "tool", call.ToolName)
		return e.offProtocol(ctx, call, res)
	}
	return e.execute(ctx, call, res)
}

func (e *Engine) offProtocol(ctx context.Context, call protocol.ToolCall, res Result) (Result, error) {
	if e.settings.OffProtocol == OffProtocolReject {
		return res, fmt.Errorf("%w: %q was not advertised in phase %d", schema.ErrOffProtocolCall, call.ToolName, res.Phases)
	}
	return e.execute(ctx, call, res)
}

// conversation starts a phase prompt: system message, caller history, user prompt.
func (e *Engine) conversation(system string, req Request) schema.Messages {
	m := schema.NewMessages(schema.NewSystemMessage(system))
	m.Append(req.History)
	m.AddUser(req.Prompt)
	return m
}

func (e *Engine) generate(ctx context.Context, phase string, prompt schema.Messages) (string, error) {
	cctx, cancel := e.callContext(ctx)
	defer cancel()

	start := time.Now()
	resp, err := e.llm.Generate(cctx, prompt, e.settings.Chat)
	metrics.RecordPhase(phase, time.Since(start))
	if err != nil {
		return "", asBackendError("llm", "generate", err)
	}
	slog.Debug("llm reply", "phase", phase, "reply", llmutils.Truncate(resp.Content, 200))
	return resp.Content, nil
}

func (e *Engine) discover(ctx context.Context, capability string) (tools.Match, bool, error) {
	cctx, cancel := e.callContext(ctx)
	defer cancel()

	vec, err := e.embedder.Embed(cctx, capability)
	if err != nil {
		metrics.Discoveries.WithLabelValues("error").Inc()
		return tools.Match{}, false, &schema.DiscoveryEmbeddingError{Capability: capability, Err: asBackendError("embedding", "embed", err)}
	}

	match, found := e.registry.FindByCapability(vec, e.settings.Threshold)
	if !found {
		metrics.Discoveries.WithLabelValues("no_match").Inc()
		slog.Info("no suitable tool found", "capability", capability)
		return tools.Match{}, false, nil
	}
	metrics.Discoveries.WithLabelValues("match").Inc()
	slog.Info("found matching tool", "tool", match.Tool.Name(), "capability", capability, "similarity", match.Similarity)
	return match, true, nil
}

func (e *Engine) execute(ctx context.Context, call protocol.ToolCall, res Result) (Result, error) {
	res.Tool = call.ToolName
	tool, ok := e.registry.GetByName(call.ToolName)
	if !ok {
		return res, &schema.ToolNotFoundError{Name: call.ToolName}
	}

	cctx, cancel := e.callContext(ctx)
	defer cancel()

	out, err := runTool(cctx, tool, call.Arguments)
	metrics.RecordToolExecution(call.ToolName, err)
	if err != nil {
		return res, &schema.ToolExecutionError{Tool: call.ToolName, Err: err}
	}
	slog.Debug("tool executed", "tool", call.ToolName, "result", llmutils.Truncate(out, 200))
	res.Answer, res.Path = out, PathToolExecuted
	return res, nil
}

// runTool executes tool, converting a panic into an error.
func runTool(ctx context.Context, tool schema.Tool, args map[string]any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return tool.Execute(ctx, args)
}

// ProcessStream answers prompt in a single pass without tools, relaying
// fragments as the model produces them. Streamed turns are not summarised.
func (e *Engine) ProcessStream(ctx context.Context, prompt string) (iter.Seq2[string, error], error) {
	return e.RunStream(ctx, Request{Prompt: prompt})
}

// RunStream is ProcessStream with caller-owned history. It fails fast only
// when ctx is already done. The backend stream and its call deadline are
// opened on the first pull and released when the range loop ends, so a
// sequence that is never ranged over holds nothing. Open failures arrive
// as the first yielded error.
func (e *Engine) RunStream(ctx context.Context, req Request) (iter.Seq2[string, error], error) {
	if err := ctx.Err(); err != nil {
		metrics.RecordTurn("stream", err)
		return nil, asBackendError("llm", "stream", err)
	}
	prompt := e.conversation(streamSystemPrompt, req)

	return func(yield func(string, error) bool) {
		cctx, cancel := e.callContext(ctx)
		defer cancel()
		start := time.Now()
		var streamErr error
		defer func() {
			metrics.RecordPhase("stream", time.Since(start))
			metrics.RecordTurn("stream", streamErr)
		}()

		seq, err := e.llm.GenerateStream(cctx, prompt, e.settings.Chat)
		if err != nil {
			streamErr = asBackendError("llm", "stream", err)
			yield("", streamErr)
			return
		}
		for chunk, err := range seq {
			if err != nil {
				streamErr = asBackendError("llm", "stream", err)
				yield("", streamErr)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}, nil
}

// Recall returns the stored summaries most similar to query.
func (e *Engine) Recall(ctx context.Context, query string, limit int) ([]schema.ScoredMemory, error) {
	if e.memory == nil {
		return nil, nil
	}
	cctx, cancel := e.callContext(ctx)
	defer cancel()
	vec, err := e.embedder.Embed(cctx, query)
	if err != nil {
		return nil, asBackendError("embedding", "embed", err)
	}
	return e.memory.Search(cctx, vec, limit)
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.settings.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.settings.CallTimeout)
}

// asBackendError keeps typed backend errors and wraps anything else.
func asBackendError(backend, op string, err error) error {
	if errors.Is(err, schema.ErrBackend) {
		return err
	}
	return &schema.BackendError{Backend: backend, Op: op, Err: err}
}
