// Package gateway serves the engine over HTTP and WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/lynassistant/lyn/internal/agent"
	"github.com/lynassistant/lyn/internal/metrics"
	"github.com/lynassistant/lyn/internal/schema"
	"github.com/lynassistant/lyn/internal/tools"
)

const maxBodyBytes = 1 << 20

// Options configures the gateway.
type Options struct {
	Addr            string
	RecallLimit     int
	ShutdownTimeout time.Duration
	Version         string
}

// Server exposes one Engine. Every request is an independent turn.
type Server struct {
	engine   *agent.Engine
	opts     Options
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewServer(engine *agent.Engine, opts Options) *Server {
	if opts.RecallLimit <= 0 {
		opts.RecallLimit = 5
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	metrics.Init()
	return &Server{
		engine:   engine,
		opts:     opts,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		log:      slog.Default().With("component", "gateway"),
	}
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/memory", s.handleMemory)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Run listens on Options.Addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. Open WebSocket streams are closed when shutdown starts.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	base, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancelBase)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("gateway listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		s.log.Info("stopping gateway")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

type chatRequest struct {
	Prompt  string           `json:"prompt"`
	History []schema.Message `json:"history,omitempty"`
}

func (c chatRequest) toRequest() (agent.Request, error) {
	if c.Prompt == "" {
		return agent.Request{}, badRequest{"prompt is required"}
	}
	history := schema.NewMessages()
	for i, m := range c.History {
		if !m.Role.Valid() {
			return agent.Request{}, badRequest{fmt.Sprintf("history[%d]: unknown role %q", i, m.Role)}
		}
		history.Messages = append(history.Messages, m)
	}
	return agent.Request{Prompt: c.Prompt, History: history}, nil
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badRequest{"invalid JSON body: " + err.Error()}
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var body chatRequest
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	req, err := body.toRequest()
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.engine.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type toolsResponse struct {
	Discovery tools.Schema   `json:"discovery"`
	Tools     []tools.Schema `json:"tools"`
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toolsResponse{
		Discovery: tools.DiscoverySchema(),
		Tools:     s.engine.Registry().SchemasExcludingDiscovery(),
	})
}

type memoryResponse struct {
	Query   string                `json:"query"`
	Results []schema.ScoredMemory `json:"results"`
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.writeError(w, badRequest{"query parameter q is required"})
		return
	}
	limit := s.opts.RecallLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, badRequest{"limit must be a positive integer"})
			return
		}
		limit = n
	}

	results, err := s.engine.Recall(r.Context(), q, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if results == nil {
		results = []schema.ScoredMemory{}
	}
	writeJSON(w, http.StatusOK, memoryResponse{Query: q, Results: results})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"tools":   s.engine.Registry().Len(),
		"version": s.opts.Version,
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "kind", kind, "err", err)
	} else {
		s.log.Warn("request rejected", "kind", kind, "err", err)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
