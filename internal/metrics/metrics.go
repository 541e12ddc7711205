// Package metrics provides Prometheus instrumentation for the moderation
// pipeline. It exposes gauges for in-flight aggregation state, counters for
// stage throughput and skipped units, and histograms for external model
// latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SignalsTotal counts signal events ingested by the aggregator,
	// labeled by kind: "images", "transcribed_audio", or "text".
	SignalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modwatch_signals_total",
		Help: "Total number of signal events ingested",
	}, []string{"kind"})

	// PendingAggregations tracks the current number of incomplete
	// aggregations held in memory.
	PendingAggregations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "modwatch_pending_aggregations",
		Help: "Current number of incomplete message aggregations",
	})

	// ReadyEventsTotal counts completed aggregations.
	ReadyEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "modwatch_ready_events_total",
		Help: "Total number of ready events emitted",
	})

	// EvictedAggregationsTotal counts aggregations dropped by the TTL sweep
	// because a required signal never arrived.
	EvictedAggregationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "modwatch_evicted_aggregations_total",
		Help: "Total number of pending aggregations evicted by TTL",
	})

	// InferenceLatency records the latency of inference endpoint calls.
	InferenceLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "modwatch_inference_latency_seconds",
		Help:    "Inference endpoint call latency in seconds",
		Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60},
	})

	// TranscriptionLatency records the latency of speech model calls.
	TranscriptionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "modwatch_transcription_latency_seconds",
		Help:    "Speech model call latency in seconds",
		Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// AnswerLinesSkipped counts model answer lines dropped during parsing,
	// labeled by reason: "malformed", "out_of_range".
	AnswerLinesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modwatch_answer_lines_skipped_total",
		Help: "Total number of unparseable or out-of-range model answer lines",
	}, []string{"reason"})

	// ViolationsTotal counts rule violations detected, labeled by rule type.
	ViolationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modwatch_violations_total",
		Help: "Total number of rule violations detected",
	}, []string{"type"})

	// NotificationsTotal counts moderator notifications, labeled by outcome:
	// "sent", "skipped_policy", "failed".
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modwatch_notifications_total",
		Help: "Total number of moderator notifications by outcome",
	}, []string{"outcome"})

	// EnforcementsTotal counts enforcement actions, labeled by action:
	// "auto_ban", "ban", "unban".
	EnforcementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modwatch_enforcements_total",
		Help: "Total number of enforcement actions performed",
	}, []string{"action"})

	// DedupHitsTotal counts violation deliveries dropped because the
	// idempotency claim already existed.
	DedupHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "modwatch_dedup_hits_total",
		Help: "Total number of duplicate violation deliveries dropped",
	})
)

func init() {
	prometheus.MustRegister(
		SignalsTotal,
		PendingAggregations,
		ReadyEventsTotal,
		EvictedAggregationsTotal,
		InferenceLatency,
		TranscriptionLatency,
		AnswerLinesSkipped,
		ViolationsTotal,
		NotificationsTotal,
		EnforcementsTotal,
		DedupHitsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a metrics HTTP listener on addr in a background goroutine.
// A failure to bind is logged by the caller, not fatal to the service.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
