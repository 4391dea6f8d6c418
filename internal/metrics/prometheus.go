// Package metrics registers the prometheus collectors for the tree
// orchestration core, following the teacher's flat var-block-plus-Init
// layout (internal/metrics/prometheus.go) with the trading vecs replaced
// by the tree/node/research/search vecs this domain actually produces.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler (TreeBuilder) metrics.
	TreesStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psychohistory_trees_started_total",
			Help: "Total number of tree builds started",
		},
		[]string{},
	)

	TreesCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psychohistory_trees_completed_total",
			Help: "Total number of tree builds that reached tree_completed",
		},
		[]string{"status"}, // status: completed|aborted
	)

	TreeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "psychohistory_tree_duration_seconds",
			Help:    "Wall-clock duration of a complete tree build",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{},
	)

	TreeNodeCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "psychohistory_tree_node_count",
			Help:    "Total nodes in a completed tree",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{},
	)

	SchedulerActiveNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "psychohistory_scheduler_active_node_pipelines",
			Help: "Currently dispatched node pipelines across all in-flight batches",
		},
		[]string{},
	)

	// NodeProcessor (per-node pipeline) metrics.
	NodesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psychohistory_nodes_processed_total",
			Help: "Total nodes processed by the pipeline",
		},
		[]string{"outcome"}, // outcome: completed|fallback|failed
	)

	NodeProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "psychohistory_node_processing_duration_seconds",
			Help:    "Duration of one node's two-phase pipeline",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 90},
		},
		[]string{},
	)

	SynthesisRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psychohistory_synthesis_retries_total",
			Help: "Total Phase 2 synthesis retry attempts due to schema errors",
		},
		[]string{},
	)

	// AgenticResearcher metrics.
	ResearchIterations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "psychohistory_research_iterations",
			Help:    "Tool-calling iterations consumed per research invocation",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
		[]string{},
	)

	ResearchSourcesGathered = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "psychohistory_research_sources_gathered",
			Help:    "Sources accumulated per research invocation before dedup cap",
			Buckets: []float64{0, 1, 3, 5, 10, 20},
		},
		[]string{},
	)

	ResearchConfidence = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psychohistory_research_confidence_total",
			Help: "Research invocations by self-reported confidence",
		},
		[]string{"confidence"}, // low|medium|high
	)

	ResearchBudgetExceeded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psychohistory_research_budget_exceeded_total",
			Help: "Research invocations that hit the iteration or wall-clock cap",
		},
		[]string{"kind"}, // iterations|wall_clock
	)

	// Search client metrics.
	SearchCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psychohistory_search_calls_total",
			Help: "Total search provider calls",
		},
		[]string{"status"}, // success|retried|failed
	)

	SearchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "psychohistory_search_latency_seconds",
			Help:    "Search provider call latency including rate-limiter wait",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{},
	)

	SearchRateLimiterWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "psychohistory_search_rate_limiter_wait_seconds",
			Help:    "Time spent waiting for a sliding-window search permit",
			Buckets: []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{},
	)

	SearchCircuitBreakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psychohistory_search_circuit_breaker_trips_total",
			Help: "Total times the search client's circuit breaker opened",
		},
		[]string{},
	)

	// LLM provider metrics.
	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psychohistory_llm_calls_total",
			Help: "Total LLM completion calls",
		},
		[]string{"provider", "method", "status"}, // method: complete|complete_json|complete_with_tools
	)

	LLMLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "psychohistory_llm_latency_seconds",
			Help:    "LLM completion latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"provider", "method"},
	)

	// Stream endpoint metrics.
	StreamConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "psychohistory_stream_connections_active",
			Help: "Currently open /generate-tree/stream connections",
		},
		[]string{},
	)

	StreamAdmissionRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psychohistory_stream_admission_rejected_total",
			Help: "Stream requests rejected by the admission limiter",
		},
		[]string{},
	)

	// Tool dispatch metrics (internal/tools registry, shared with the
	// researcher's search/finish_research tool calls).
	ToolExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psychohistory_tool_executions_total",
			Help: "Total number of tool executions",
		},
		[]string{"tool", "status"}, // status: success|error
	)

	ToolLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "psychohistory_tool_latency_seconds",
			Help:    "Tool execution duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"tool"},
	)

	// Kafka mirror sink metrics.
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psychohistory_kafka_messages_total",
			Help: "Total tree events mirrored to Kafka",
		},
		[]string{"status"}, // produced|failed
	)
)

// Init registers every collector declared above. Call once at startup.
func Init() {
	prometheus.MustRegister(
		TreesStarted,
		TreesCompleted,
		TreeDuration,
		TreeNodeCount,
		SchedulerActiveNodes,
		NodesProcessed,
		NodeProcessingDuration,
		SynthesisRetries,
		ResearchIterations,
		ResearchSourcesGathered,
		ResearchConfidence,
		ResearchBudgetExceeded,
		SearchCalls,
		SearchLatency,
		SearchRateLimiterWait,
		SearchCircuitBreakerTrips,
		LLMCalls,
		LLMLatency,
		StreamConnectionsActive,
		StreamAdmissionRejected,
		ToolExecutions,
		ToolLatency,
		KafkaMessages,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTreeStarted increments the trees-started counter (called from
// Builder.Build at the tree_started emission).
func RecordTreeStarted() {
	TreesStarted.WithLabelValues().Inc()
}

// RecordTreeCompleted records a successful tree_completed: total node
// count and wall-clock duration.
func RecordTreeCompleted(totalNodes int, duration time.Duration) {
	TreesCompleted.WithLabelValues("completed").Inc()
	TreeDuration.WithLabelValues().Observe(duration.Seconds())
	TreeNodeCount.WithLabelValues().Observe(float64(totalNodes))
}

// RecordTreeAborted records a scheduler-fatal abort.
func RecordTreeAborted() {
	TreesCompleted.WithLabelValues("aborted").Inc()
}

// RecordNodeProcessed records one node pipeline's terminal outcome.
func RecordNodeProcessed(outcome string, duration time.Duration) {
	NodesProcessed.WithLabelValues(outcome).Inc()
	NodeProcessingDuration.WithLabelValues().Observe(duration.Seconds())
}

// RecordResearch records one AgenticResearcher invocation's shape.
func RecordResearch(iterations, sources int, confidence string) {
	ResearchIterations.WithLabelValues().Observe(float64(iterations))
	ResearchSourcesGathered.WithLabelValues().Observe(float64(sources))
	ResearchConfidence.WithLabelValues(confidence).Inc()
}

// RecordSearchCall records one search client call's outcome and latency.
func RecordSearchCall(status string, latency, limiterWait time.Duration) {
	SearchCalls.WithLabelValues(status).Inc()
	SearchLatency.WithLabelValues().Observe(latency.Seconds())
	SearchRateLimiterWait.WithLabelValues().Observe(limiterWait.Seconds())
}

// RecordLLMCall records one LLM provider call.
func RecordLLMCall(provider, method string, latency time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	LLMCalls.WithLabelValues(provider, method, status).Inc()
	LLMLatency.WithLabelValues(provider, method).Observe(latency.Seconds())
}

// RecordToolExecution records one internal/tools dispatch.
func RecordToolExecution(tool string, latency time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ToolExecutions.WithLabelValues(tool, status).Inc()
	ToolLatency.WithLabelValues(tool).Observe(latency.Seconds())
}

// RecordKafkaMirror records one Kafka mirror publish attempt.
func RecordKafkaMirror(err error) {
	status := "produced"
	if err != nil {
		status = "failed"
	}
	KafkaMessages.WithLabelValues(status).Inc()
}
