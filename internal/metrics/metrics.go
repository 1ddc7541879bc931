// Package metrics exposes the process-wide prometheus collectors for the
// engine, reworked from the teacher's call-center metric names into the
// turn/verification/interrupt vocabulary of this engine (§9 Ambient stack).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_sessions_active",
		Help: "Currently open sessions",
	})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_turns_total",
		Help: "Turns processed, by outcome",
	}, []string{"outcome"}) // completed, interrupted, error

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_stage_duration_seconds",
		Help:    "Per-stage latency within a turn",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"}) // transcribe, generate, synthesize, verify

	TimeToFirstAudio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_time_to_first_audio_seconds",
		Help:    "Latency from end-of-utterance to first synthesized audio chunk",
		Buckets: []float64{0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_errors_total",
		Help: "Error counts by stage and error type",
	}, []string{"stage", "error_type"})

	InterruptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_interrupts_total",
		Help: "Barge-in interruptions, by turn phase interrupted",
	}, []string{"phase"}) // processing, speaking

	WakeDetections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_wake_detections_total",
		Help: "Wake/interrupt phrase detections, by kind",
	}, []string{"kind"}) // wake, interrupt

	VerificationConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_verification_confidence",
		Help:    "Claim-verification confidence score per turn",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	VerificationRewrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_verification_rewrites_total",
		Help: "Replies rewritten with an unverified-content disclaimer",
	})

	EmbeddingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_embedding_duration_seconds",
		Help:    "Embedding generation latency for write-through memory",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5},
	})

	RAGDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_rag_duration_seconds",
		Help:    "Context-enrichment retrieval latency (embed + search)",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5},
	})

	TranscriptWEREstimate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_transcript_wer_estimate",
		Help: "Latest word error rate estimate against a reference transcript, where available",
	})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_breaker_state",
		Help: "Circuit breaker state per upstream (0=closed, 1=half_open, 2=open)",
	}, []string{"upstream"})
)
