// Package metrics exposes the Prometheus instruments shared by the pool, the
// fetcher and the workflow engine.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "paper_survey"

var (
	registry = prometheus.NewRegistry()

	// PoolUnits counts finished pool units by pool name and outcome.
	PoolUnits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pool_units_total",
		Help:      "Pool units completed, by pool and outcome.",
	}, []string{"pool", "outcome"})

	// PoolInFlight tracks units currently executing per pool.
	PoolInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_in_flight",
		Help:      "Pool units currently executing.",
	}, []string{"pool"})

	// FetchAttempts counts individual HTTP attempts made by the fetcher.
	FetchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_attempts_total",
		Help:      "Resource fetch attempts, by outcome.",
	}, []string{"outcome"})

	// FetchDuration observes whole fetches including retries.
	FetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Duration of resource fetches including retries.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	// WorkflowStates counts state visits.
	WorkflowStates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_states_total",
		Help:      "Workflow state executions, by state.",
	}, []string{"state"})

	// ToolCalls counts tool invocations made by the agent loop.
	ToolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool invocations, by tool and outcome.",
	}, []string{"tool", "outcome"})

	// LLMCalls counts reasoning-model requests by outcome.
	LLMCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_calls_total",
		Help:      "Reasoning model requests, by outcome.",
	}, []string{"outcome"})

	// LLMTokens counts tokens reported by the providers.
	LLMTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_tokens_total",
		Help:      "Tokens consumed, by kind (prompt or completion).",
	}, []string{"kind"})

	// LLMDuration observes request latency.
	LLMDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_request_duration_seconds",
		Help:      "Duration of reasoning model requests.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	// ReportSections counts drafted report sections by outcome.
	ReportSections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "report_sections_total",
		Help:      "Drafted report sections, by outcome.",
	}, []string{"outcome"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		PoolUnits,
		PoolInFlight,
		FetchAttempts,
		FetchDuration,
		WorkflowStates,
		ToolCalls,
		LLMCalls,
		LLMTokens,
		LLMDuration,
		ReportSections,
	)
}

// Outcome returns the label value for err.
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Registry returns the private registry holding every instrument.
func Registry() *prometheus.Registry {
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until the server fails.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
