package dependency

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lynassistant/lyn/internal/config"
	"github.com/lynassistant/lyn/internal/protocol"
	"github.com/lynassistant/lyn/internal/testkit"
	"github.com/lynassistant/lyn/internal/tools"
)

// fakeOpenAI serves chat completions and embeddings in the OpenAI wire format.
func fakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	emb := testkit.NewEmbedder()
	discover, err := protocol.Format(protocol.ToolCall{
		ToolName:  tools.DiscoverToolName,
		Arguments: map[string]any{tools.CapabilityArg: "evaluate a math expression"},
	})
	require.NoError(t, err)
	calc, err := protocol.Format(protocol.ToolCall{
		ToolName:  "calculator",
		Arguments: map[string]any{"expression": "2 + 3"},
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		vec, _ := emb.Embed(r.Context(), req.Input)
		writeJSON(w, map[string]any{
			"object": "list",
			"model":  "nomic-embed-text",
			"data":   []any{map[string]any{"object": "embedding", "index": 0, "embedding": vec}},
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []json.RawMessage `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		content := "a short summary"
		switch len(req.Messages) {
		case 2:
			content = discover
		case 4:
			content = calc
		}
		writeJSON(w, map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "llama3.2:1b",
			"choices": []any{map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(t *testing.T, apiBase string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Provider.APIBase = apiBase
	cfg.Agent.Workspace = t.TempDir()
	return &cfg
}

func TestNew_WiresEngineEndToEnd(t *testing.T) {
	srv := fakeOpenAI(t)
	cfg := testConfig(t, srv.URL+"/v1")

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Registry().Len())
	assert.Equal(t, "llama3.2:1b", c.Provider().DefaultModel())
	assert.Equal(t, "nomic-embed-text", c.Embedder().Model())
	require.NotNil(t, c.Summarizer())

	got, err := c.Engine().Process(context.Background(), "what is two plus three?")
	require.NoError(t, err)
	assert.Equal(t, "5", got)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))

	data, err := os.ReadFile(filepath.Join(cfg.WorkspacePath(), "memory", "history.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "a short summary")
}

func TestNew_SummariesDisabledWithoutMemory(t *testing.T) {
	srv := fakeOpenAI(t)
	cfg := testConfig(t, srv.URL+"/v1")
	cfg.Memory.Backend = "none"
	cfg.Embeddings.Cache.Backend = "none"

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, c.Summarizer())
	require.NoError(t, c.Close(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.OffProtocolCalls = "maybe"
	_, err := New(context.Background(), &cfg)
	assert.Error(t, err)
}

func TestNew_EmbeddingBackendDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"message": "model not loaded"}}`, http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := New(context.Background(), testConfig(t, srv.URL+"/v1"))
	assert.ErrorContains(t, err, "build tool registry")
}
