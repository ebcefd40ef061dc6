package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scope3_pipeline_duration_seconds",
			Help:    "End-to-end turn duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 90},
		},
		[]string{"strategy"},
	)

	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope3_turns_total",
			Help: "Total number of answered or failed turns",
		},
		[]string{"strategy", "status"},
	)

	RouteDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope3_route_decisions_total",
			Help: "Retrieval strategy chosen by the router",
		},
		[]string{"strategy", "router"},
	)

	RepairIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scope3_cypher_repair_iterations",
			Help:    "Evaluator calls spent in the proactive repair loop",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	RepairErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scope3_cypher_repair_errors_total",
			Help: "Evaluator calls that failed inside the repair loop",
		},
	)

	ShortCircuits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope3_cypher_short_circuits_total",
			Help: "Questions answered by a hand-specified query",
		},
		[]string{"intent"},
	)

	FallbackQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope3_cypher_fallback_total",
			Help: "Heuristic fallback queries issued, by reason",
		},
		[]string{"reason"},
	)

	ReactiveRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope3_cypher_reactive_repairs_total",
			Help: "Repair-and-retry attempts after an execution failure",
		},
		[]string{"outcome"},
	)

	EvidenceCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scope3_evidence_count",
			Help:    "Evidence identifiers persisted per turn",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
		[]string{"strategy"},
	)

	DeterministicAnswers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope3_deterministic_answers_total",
			Help: "Answers formed from evidence without a generation call",
		},
		[]string{"kind"},
	)

	VectorIndexUnavailable = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scope3_vector_index_unavailable_total",
			Help: "Semantic retrievals degraded because the vector index is missing",
		},
	)

	HistoryWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope3_history_write_failures_total",
			Help: "Turns that could not be persisted",
		},
		[]string{"backend"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope3_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope3_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope3_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scope3_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PipelineDuration,
			TurnsTotal,
			RouteDecisions,
			RepairIterations,
			RepairErrors,
			ShortCircuits,
			FallbackQueries,
			ReactiveRepairs,
			EvidenceCount,
			DeterministicAnswers,
			VectorIndexUnavailable,
			HistoryWriteFailures,
			LLMTokensUsed,
			CacheHits,
			CacheMisses,
			CircuitState,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
