package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine metrics
	Turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lyn_turns_total",
			Help: "Total number of processed user turns",
		},
		[]string{"path", "status"}, // path: direct_answer|tool_executed|stream|none
	)

	PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lyn_phase_duration_seconds",
			Help:    "Duration of one engine phase (LLM round trip) in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"phase"}, // phase: first|second|stream
	)

	Discoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lyn_discovery_total",
			Help: "Capability discovery outcomes",
		},
		[]string{"outcome"}, // outcome: match|no_match|error
	)

	ToolExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lyn_tool_executions_total",
			Help: "Total number of tool executions",
		},
		[]string{"tool", "status"},
	)

	Summaries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lyn_summaries_total",
			Help: "Background interaction summaries",
		},
		[]string{"status"}, // status: stored|error|dropped
	)

	// Backend metrics
	BackendCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lyn_backend_calls_total",
			Help: "Calls into the LLM and embedding backends",
		},
		[]string{"backend", "op", "status"},
	)

	BackendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lyn_backend_latency_seconds",
			Help:    "Backend call latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"backend", "op"},
	)

	EmbeddingCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lyn_embedding_cache_total",
			Help: "Embedding cache lookups",
		},
		[]string{"result"}, // result: hit|miss|error
	)
)

var initOnce sync.Once

// Init registers all metrics with Prometheus. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(Turns)
		prometheus.MustRegister(PhaseDuration)
		prometheus.MustRegister(Discoveries)
		prometheus.MustRegister(ToolExecutions)
		prometheus.MustRegister(Summaries)

		prometheus.MustRegister(BackendCalls)
		prometheus.MustRegister(BackendLatency)
		prometheus.MustRegister(EmbeddingCache)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordBackendCall records one call into a backend.
func RecordBackendCall(backend, op string, latency time.Duration, err error) {
	BackendCalls.WithLabelValues(backend, op, status(err)).Inc()
	BackendLatency.WithLabelValues(backend, op).Observe(latency.Seconds())
}

// RecordTurn records the outcome of one engine turn.
func RecordTurn(path string, err error) {
	Turns.WithLabelValues(path, status(err)).Inc()
}

func RecordPhase(phase string, d time.Duration) {
	PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func RecordToolExecution(tool string, err error) {
	ToolExecutions.WithLabelValues(tool, status(err)).Inc()
}
