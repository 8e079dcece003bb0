package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lynassistant/lyn/internal/protocol"
	"github.com/lynassistant/lyn/internal/schema"
	"github.com/lynassistant/lyn/internal/testkit"
	"github.com/lynassistant/lyn/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestEngine(t *testing.T, llm schema.LLMProvider, mutate func(*Settings), opts ...Option) (*Engine, *testkit.Embedder) {
	t.Helper()
	emb := testkit.NewEmbedder()
	reg, err := tools.NewRegistryBuilder().WithBuiltins().Build(context.Background(), emb)
	require.NoError(t, err)

	s := DefaultSettings()
	if mutate != nil {
		mutate(&s)
	}
	e, err := NewEngine(llm, emb, reg, s, opts...)
	require.NoError(t, err)
	return e, emb
}

func call(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	wire, err := protocol.Format(protocol.ToolCall{ToolName: name, Arguments: args})
	require.NoError(t, err)
	return wire
}

func discover(t *testing.T, capability string) string {
	return call(t, tools.DiscoverToolName, map[string]any{tools.CapabilityArg: capability})
}

// ─── Terminal paths ─────────────────────────────────────────────────────────

func TestEngine_DirectAnswerFirstPhase(t *testing.T) {
	llm := testkit.NewLLM("Paris is the capital of France.")
	e, _ := newTestEngine(t, llm, nil)

	res, err := e.Run(context.Background(), Request{Prompt: "capital of France?"})
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", res.Answer)
	assert.Equal(t, PathDirectAnswer, res.Path)
	assert.Equal(t, 1, res.Phases)

	prompts := llm.Prompts()
	require.Len(t, prompts, 1)
	msgs := prompts[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "- discover_tool:")
	assert.NotContains(t, msgs[0].Content, "- calculator:")
	assert.Contains(t, msgs[0].Content, protocol.Marker)
	assert.Equal(t, schema.NewUserMessage("capital of France?"), msgs[1])
}

func TestEngine_DiscoverThenExecute(t *testing.T) {
	first := discover(t, "evaluate a math expression")
	llm := testkit.NewLLM(first, call(t, "calculator", map[string]any{"expression": "6 * 7"}))
	e, _ := newTestEngine(t, llm, nil)

	res, err := e.Run(context.Background(), Request{Prompt: "what is six times seven?"})
	require.NoError(t, err)
	assert.Equal(t, "42", res.Answer)
	assert.Equal(t, PathToolExecuted, res.Path)
	assert.Equal(t, "calculator", res.Tool)
	assert.Equal(t, "calculator", res.Matched)
	assert.Equal(t, "evaluate a math expression", res.Capability)
	assert.Equal(t, 2, res.Phases)

	prompts := llm.Prompts()
	require.Len(t, prompts, 2)
	msgs := prompts[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "- discover_tool:")
	assert.Contains(t, msgs[0].Content, "- calculator:")
	assert.NotContains(t, msgs[0].Content, "- datetime:")
	assert.Equal(t, schema.NewUserMessage("what is six times seven?"), msgs[1])
	assert.Equal(t, schema.NewAssistantMessage(first), msgs[2])
	assert.Equal(t, schema.NewSystemMessage(
		"Okay, I found the 'calculator' tool that might help with 'evaluate a math expression'. "+
			"You can use it now, or ask to discover another tool."), msgs[3])
}

func TestEngine_DiscoverThenDirectAnswer(t *testing.T) {
	llm := testkit.NewLLM(discover(t, "current date and time"), "It is late.")
	e, _ := newTestEngine(t, llm, nil)

	res, err := e.Run(context.Background(), Request{Prompt: "what time is it?"})
	require.NoError(t, err)
	assert.Equal(t, "It is late.", res.Answer)
	assert.Equal(t, PathDirectAnswer, res.Path)
	assert.Equal(t, "datetime", res.Matched)
	assert.Equal(t, 2, res.Phases)
}

func TestEngine_NoMatch(t *testing.T) {
	llm := testkit.NewLLM(discover(t, "tell me a joke"), "Why did the chicken cross the road?")
	e, _ := newTestEngine(t, llm, nil)

	res, err := e.Run(context.Background(), Request{Prompt: "joke please"})
	require.NoError(t, err)
	assert.Equal(t, PathDirectAnswer, res.Path)
	assert.Empty(t, res.Matched)

	msgs := llm.Prompts()[1].Messages
	assert.Contains(t, msgs[0].Content, "- discover_tool:")
	assert.NotContains(t, msgs[0].Content, "- calculator:")
	assert.NotContains(t, msgs[0].Content, "- datetime:")
	assert.Equal(t, "Sorry, I couldn't find a tool for 'tell me a joke'. "+
		"You can try describing the capability differently using 'discover_tool'.", msgs[3].Content)
}

func TestEngine_Process(t *testing.T) {
	llm := testkit.NewLLM(discover(t, "math"), call(t, "calculator", map[string]any{"expression": "sqrt(16)"}))
	e, _ := newTestEngine(t, llm, nil)

	got, err := e.Process(context.Background(), "root of 16")
	require.NoError(t, err)
	assert.Equal(t, "4", got)
}

func TestEngine_HistoryIsThreaded(t *testing.T) {
	llm := testkit.NewLLM("sure")
	e, _ := newTestEngine(t, llm, nil)

	history := schema.NewMessages(schema.NewUserMessage("earlier"), schema.NewAssistantMessage("reply"))
	_, err := e.Run(context.Background(), Request{Prompt: "now", History: history})
	require.NoError(t, err)

	msgs := llm.Prompts()[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "earlier", msgs[1].Content)
	assert.Equal(t, "reply", msgs[2].Content)
	assert.Equal(t, "now", msgs[3].Content)
	assert.Equal(t, 2, history.Len(), "caller history is not modified")
}

// ─── Failures ───────────────────────────────────────────────────────────────

func TestEngine_ParseFailureIsTerminal(t *testing.T) {
	raw := protocol.Marker + `{"tool_name": "discover_tool", "arguments": `
	llm := testkit.NewLLM(raw, "never used")
	e, _ := newTestEngine(t, llm, nil)

	_, err := e.Run(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, schema.ErrToolCallParseFailed)
	var perr *schema.ToolCallParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, raw, perr.Raw)
	assert.Len(t, llm.Prompts(), 1, "no retry")
}

func TestEngine_DiscoveryArgumentsInvalid(t *testing.T) {
	for _, args := range []map[string]any{{}, {tools.CapabilityArg: 12}} {
		llm := testkit.NewLLM(call(t, tools.DiscoverToolName, args))
		e, _ := newTestEngine(t, llm, nil)
		_, err := e.Run(context.Background(), Request{Prompt: "x"})
		require.ErrorIs(t, err, schema.ErrToolCallParseFailed)
	}
}

func TestEngine_SecondPhaseParseFailure(t *testing.T) {
	llm := testkit.NewLLM(discover(t, "math"), protocol.Marker+"not json")
	e, _ := newTestEngine(t, llm, nil)
	res, err := e.Run(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, schema.ErrToolCallParseFailed)
	assert.Equal(t, 2, res.Phases)
}

func TestEngine_DiscoveryEmbeddingFailed(t *testing.T) {
	llm := testkit.NewLLM(discover(t, "math"))
	e, emb := newTestEngine(t, llm, nil)
	emb.Err = errors.New("embedding server down")

	_, err := e.Run(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, schema.ErrDiscoveryEmbeddingFailed)
	assert.ErrorIs(t, err, schema.ErrBackend)
	var derr *schema.DiscoveryEmbeddingError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "math", derr.Capability)
}

func TestEngine_BackendError(t *testing.T) {
	llm := testkit.NewLLM()
	llm.Errs = map[int]error{0: errors.New("connection refused")}
	e, _ := newTestEngine(t, llm, nil)

	_, err := e.Run(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, schema.ErrBackend)

	llm = testkit.NewLLM(discover(t, "math"))
	llm.Errs = map[int]error{1: errors.New("timeout")}
	e, _ = newTestEngine(t, llm, nil)
	res, err := e.Run(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, schema.ErrBackend)
	assert.Equal(t, 2, res.Phases)
}

func TestEngine_ToolNotFound(t *testing.T) {
	llm := testkit.NewLLM(discover(t, "math"), call(t, "weather", map[string]any{}))
	e, _ := newTestEngine(t, llm, nil)

	_, err := e.Run(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, schema.ErrToolNotFound)
	var nf *schema.ToolNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "weather", nf.Name)
}

func TestEngine_DiscoveryCalledAgainIsNotExecutable(t *testing.T) {
	llm := testkit.NewLLM(discover(t, "math"), discover(t, "more math"))
	e, _ := newTestEngine(t, llm, nil)

	_, err := e.Run(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, schema.ErrToolNotFound)
}

func TestEngine_ToolExecutionFailed(t *testing.T) {
	llm := testkit.NewLLM(discover(t, "math"), call(t, "calculator", map[string]any{"expression": "1/0"}))
	e, _ := newTestEngine(t, llm, nil)

	res, err := e.Run(context.Background(), Request{Prompt: "divide one by zero"})
	require.ErrorIs(t, err, schema.ErrToolExecutionFailed)
	assert.ErrorIs(t, err, tools.ErrDivisionByZero)
	assert.Empty(t, res.Answer)
	var xerr *schema.ToolExecutionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, "calculator", xerr.Tool)
}

// ─── Off-protocol calls ─────────────────────────────────────────────────────

func TestEngine_OffProtocolExecute(t *testing.T) {
	llm := testkit.NewLLM(call(t, "calculator", map[string]any{"expression": "2 + 2"}))
	e, _ := newTestEngine(t, llm, nil)

	res, err := e.Run(context.Background(), Request{Prompt: "2+2"})
	require.NoError(t, err)
	assert.Equal(t, "4", res.Answer)
	assert.Equal(t, PathToolExecuted, res.Path)
	assert.Equal(t, 1, res.Phases)
}

func TestEngine_OffProtocolReject(t *testing.T) {
	reject := func(s *Settings) { s.OffProtocol = OffProtocolReject }

	llm := testkit.NewLLM(call(t, "calculator", map[string]any{"expression": "2 + 2"}))
	e, _ := newTestEngine(t, llm, reject)
	_, err := e.Run(context.Background(), Request{Prompt: "2+2"})
	require.ErrorIs(t, err, schema.ErrOffProtocolCall)

	// Second phase: the clock is registered but only the calculator was found.
	llm = testkit.NewLLM(discover(t, "math"), call(t, "datetime", map[string]any{}))
	e, _ = newTestEngine(t, llm, reject)
	_, err = e.Run(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, schema.ErrOffProtocolCall)
}

// ─── Deadlines and concurrency ──────────────────────────────────────────────

type blockingLLM struct{}

func (blockingLLM) Generate(ctx context.Context, _ schema.Messages, _ schema.ChatOptions) (schema.LLMResponse, error) {
	<-ctx.Done()
	return schema.LLMResponse{}, ctx.Err()
}

func (blockingLLM) GenerateStream(context.Context, schema.Messages, schema.ChatOptions) (iter.Seq2[string, error], error) {
	return nil, errors.New("not supported")
}

func (blockingLLM) DefaultModel() string { return "blocking" }

func TestEngine_CallTimeout(t *testing.T) {
	e, _ := newTestEngine(t, blockingLLM{}, func(s *Settings) { s.CallTimeout = 20 * time.Millisecond })

	_, err := e.Run(context.Background(), Request{Prompt: "x"})
	require.ErrorIs(t, err, schema.ErrBackend)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// echoLLM discovers the calculator, then evaluates the user's prompt.
type echoLLM struct{}

func (echoLLM) Generate(_ context.Context, p schema.Messages, _ schema.ChatOptions) (schema.LLMResponse, error) {
	var user string
	for _, m := range p.Messages {
		if m.Role == schema.RoleUser {
			user = m.Content
		}
	}
	if p.Len() == 2 {
		wire, _ := protocol.Format(protocol.ToolCall{ToolName: tools.DiscoverToolName,
			Arguments: map[string]any{tools.CapabilityArg: "calculate"}})
		return schema.LLMResponse{Content: wire}, nil
	}
	wire, _ := protocol.Format(protocol.ToolCall{ToolName: "calculator",
		Arguments: map[string]any{"expression": user}})
	return schema.LLMResponse{Content: wire}, nil
}

func (echoLLM) GenerateStream(context.Context, schema.Messages, schema.ChatOptions) (iter.Seq2[string, error], error) {
	return nil, errors.New("not supported")
}

func (echoLLM) DefaultModel() string { return "echo" }

func TestEngine_ConcurrentTurnsAreIndependent(t *testing.T) {
	e, _ := newTestEngine(t, echoLLM{}, nil)

	const n = 32
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = e.Process(context.Background(), fmt.Sprintf("%d * 2", i))
		}()
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprint(i*2), results[i])
	}
}

// ─── Streaming ──────────────────────────────────────────────────────────────

func TestEngine_ProcessStream(t *testing.T) {
	llm := testkit.NewLLM()
	llm.Chunks = []string{"Once", " upon", " a time"}
	store := testkit.NewStore()
	sum := NewSummarizer(llm, nil, store, DefaultSummarizerConfig())
	e, _ := newTestEngine(t, llm, nil, WithSummarizer(sum))

	seq, err := e.ProcessStream(context.Background(), "tell a story")
	require.NoError(t, err)

	var sb strings.Builder
	for chunk, err := range seq {
		require.NoError(t, err)
		sb.WriteString(chunk)
	}
	assert.Equal(t, "Once upon a time", sb.String())

	msgs := llm.Prompts()[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.NewSystemMessage("You are a helpful assistant."), msgs[0])
	assert.Equal(t, schema.NewUserMessage("tell a story"), msgs[1])

	require.NoError(t, sum.Close(context.Background()))
	assert.Empty(t, store.Memories(), "streamed turns are not summarised")
}

func TestEngine_ProcessStreamIsPullDriven(t *testing.T) {
	llm := testkit.NewLLM()
	llm.Chunks = []string{"a", "b", "c", "d", "e"}
	e, _ := newTestEngine(t, llm, nil)

	seq, err := e.ProcessStream(context.Background(), "x")
	require.NoError(t, err)
	assert.Zero(t, llm.Pulled(), "nothing is produced before the consumer pulls")

	var got []string
	for chunk, err := range seq {
		require.NoError(t, err)
		got = append(got, chunk)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 2, llm.Pulled())
}

func TestEngine_ProcessStreamError(t *testing.T) {
	llm := testkit.NewLLM()
	llm.Chunks = []string{"partial"}
	llm.StreamEr = errors.New("connection reset")
	e, _ := newTestEngine(t, llm, nil)

	seq, err := e.ProcessStream(context.Background(), "x")
	require.NoError(t, err)

	var chunks []string
	var streamErr error
	for chunk, err := range seq {
		if err != nil {
			streamErr = err
			break
		}
		chunks = append(chunks, chunk)
	}
	assert.Equal(t, []string{"partial"}, chunks)
	assert.ErrorIs(t, streamErr, schema.ErrBackend)
}

// openCountingLLM counts stream opens and refuses every one of them.
type openCountingLLM struct {
	blockingLLM
	opens atomic.Int32
}

func (l *openCountingLLM) GenerateStream(context.Context, schema.Messages, schema.ChatOptions) (iter.Seq2[string, error], error) {
	l.opens.Add(1)
	return nil, errors.New("connection refused")
}

func TestEngine_ProcessStreamOpensOnFirstPull(t *testing.T) {
	llm := &openCountingLLM{}
	e, _ := newTestEngine(t, llm, nil)

	seq, err := e.ProcessStream(context.Background(), "x")
	require.NoError(t, err)
	assert.Zero(t, llm.opens.Load(), "an unconsumed sequence never opens a backend stream")

	var streamErr error
	for _, err := range seq {
		streamErr = err
	}
	assert.Equal(t, int32(1), llm.opens.Load())
	require.ErrorIs(t, streamErr, schema.ErrBackend)
	assert.ErrorContains(t, streamErr, "connection refused")
}

func TestEngine_ProcessStreamCancelledContext(t *testing.T) {
	llm := &openCountingLLM{}
	e, _ := newTestEngine(t, llm, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.ProcessStream(ctx, "x")
	require.ErrorIs(t, err, schema.ErrBackend)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, llm.opens.Load())
}

// ─── Summarisation and recall ───────────────────────────────────────────────

func TestEngine_SummarisesInBackground(t *testing.T) {
	llm := testkit.NewLLM("Hello!")
	llm.Summary = "User greeted; assistant said hello."
	store := testkit.NewStore()
	emb := testkit.NewEmbedder()
	sum := NewSummarizer(llm, emb, store, DefaultSummarizerConfig())
	e, _ := newTestEngine(t, llm, nil, WithSummarizer(sum), WithMemory(store))

	got, err := e.Process(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", got)

	select {
	case m := <-store.Stored():
		assert.Equal(t, "hi", m.Prompt)
		assert.Equal(t, "Hello!", m.Answer)
		assert.Equal(t, "User greeted; assistant said hello.", m.Summary)
		assert.NotEmpty(t, m.Embedding)
	case <-time.After(5 * time.Second):
		t.Fatal("summary was not stored")
	}
	require.NoError(t, sum.Close(context.Background()))

	prompts := llm.SummaryPrompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, schema.NewUserMessage(
		"Summarize the following interaction concisely:\n\nUser: hi\nAssistant: Hello!\n\nSummary:"),
		prompts[0].Messages[0])
}

func TestEngine_SummaryFailureKeepsAnswer(t *testing.T) {
	llm := testkit.NewLLM("answer")
	llm.SumErr = errors.New("summary model offline")
	store := testkit.NewStore()
	sum := NewSummarizer(llm, nil, store, DefaultSummarizerConfig())
	e, _ := newTestEngine(t, llm, nil, WithSummarizer(sum))

	got, err := e.Process(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "answer", got)
	require.NoError(t, sum.Close(context.Background()))
	assert.Empty(t, store.Memories())
}

func TestEngine_FailedTurnIsNotSummarised(t *testing.T) {
	llm := testkit.NewLLM(protocol.Marker + "{")
	store := testkit.NewStore()
	sum := NewSummarizer(llm, nil, store, DefaultSummarizerConfig())
	e, _ := newTestEngine(t, llm, nil, WithSummarizer(sum))

	_, err := e.Process(context.Background(), "q")
	require.Error(t, err)
	require.NoError(t, sum.Close(context.Background()))
	assert.Empty(t, llm.SummaryPrompts())
}

func TestEngine_Recall(t *testing.T) {
	ctx := context.Background()
	store := testkit.NewStore()
	emb := testkit.NewEmbedder()
	for _, s := range []string{"talked about the weather forecast", "calculated a math sum"} {
		v, err := emb.Embed(ctx, s)
		require.NoError(t, err)
		require.NoError(t, store.Store(ctx, schema.Memory{Summary: s, Embedding: v}))
	}
	e, _ := newTestEngine(t, testkit.NewLLM(), nil, WithMemory(store))

	got, err := e.Recall(ctx, "will it rain", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "talked about the weather forecast", got[0].Summary)

	e, _ = newTestEngine(t, testkit.NewLLM(), nil)
	got, err = e.Recall(ctx, "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// ─── Construction ───────────────────────────────────────────────────────────

func TestNewEngine_Validation(t *testing.T) {
	emb := testkit.NewEmbedder()
	reg := tools.NewRegistry()
	llm := testkit.NewLLM()

	_, err := NewEngine(nil, emb, reg, DefaultSettings())
	assert.Error(t, err)
	_, err = NewEngine(llm, nil, reg, DefaultSettings())
	assert.Error(t, err)
	_, err = NewEngine(llm, emb, nil, DefaultSettings())
	assert.Error(t, err)

	s := DefaultSettings()
	s.Threshold = 1.5
	_, err = NewEngine(llm, emb, reg, s)
	assert.Error(t, err)

	s = DefaultSettings()
	s.OffProtocol = "ignore"
	_, err = NewEngine(llm, emb, reg, s)
	assert.Error(t, err)

	s = DefaultSettings()
	s.Marker = ""
	_, err = NewEngine(llm, emb, reg, s)
	assert.ErrorIs(t, err, protocol.ErrEmptyMarker)
}

func TestEngine_CustomMarker(t *testing.T) {
	codec, err := protocol.NewCodec("<<CALL>>")
	require.NoError(t, err)
	disc, err := codec.Format(protocol.ToolCall{ToolName: tools.DiscoverToolName,
		Arguments: map[string]any{tools.CapabilityArg: "evaluate a math expression"}})
	require.NoError(t, err)
	calc, err := codec.Format(protocol.ToolCall{ToolName: "calculator",
		Arguments: map[string]any{"expression": "6 * 7"}})
	require.NoError(t, err)

	llm := testkit.NewLLM(disc, calc)
	e, _ := newTestEngine(t, llm, func(s *Settings) { s.Marker = "<<CALL>>" })

	res, err := e.Run(context.Background(), Request{Prompt: "what is 6 times 7?"})
	require.NoError(t, err)
	assert.Equal(t, "42", res.Answer)
	assert.Equal(t, PathToolExecuted, res.Path)

	system := llm.Prompts()[0].Messages[0].Content
	assert.Contains(t, system, "prefixed by '<<CALL>>'")
	assert.NotContains(t, system, protocol.Marker)
}
