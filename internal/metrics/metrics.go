// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the orchestration engine.
type Metrics struct {
	registry *prometheus.Registry

	// Turn processing
	TurnsTotal    *prometheus.CounterVec
	TurnRetries   prometheus.Counter
	TurnRollbacks prometheus.Counter
	TurnDuration  prometheus.Histogram

	// Audio pipeline
	RecordingsTotal     *prometheus.CounterVec
	TranscriptionsTotal *prometheus.CounterVec

	// Speech synthesis
	SynthesisTotal     *prometheus.CounterVec
	SynthesisCacheHits prometheus.Counter
	CooldownTrips      prometheus.Counter

	// Cache reconciliation
	ReconcileEvents *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered on a
// dedicated registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "intervox"
	}

	registry := prometheus.NewRegistry()

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turn processing cycles by outcome",
		},
		[]string{"outcome"},
	)

	turnRetries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_retries_total",
			Help:      "Automatic retries of failed turn-processing calls",
		},
	)

	turnRollbacks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_rollbacks_total",
			Help:      "Optimistic turns rolled back after a remote conflict",
		},
	)

	turnDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Turn processing round-trip duration",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	recordingsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_total",
			Help:      "Microphone capture attempts by outcome",
		},
		[]string{"outcome"},
	)

	transcriptionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Transcription requests by outcome",
		},
		[]string{"outcome"},
	)

	synthesisTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_total",
			Help:      "Speech synthesis requests by outcome",
		},
		[]string{"outcome"},
	)

	synthesisCacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_cache_hits_total",
			Help:      "Prompts served from the playback cache",
		},
	)

	cooldownTrips := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_cooldown_trips_total",
			Help:      "Times repeated synthesis failures tripped the cooldown",
		},
	)

	reconcileEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_events_total",
			Help:      "Realtime change-feed events merged by namespace and action",
		},
		[]string{"namespace", "action"},
	)

	registry.MustRegister(
		turnsTotal, turnRetries, turnRollbacks, turnDuration,
		recordingsTotal, transcriptionsTotal,
		synthesisTotal, synthesisCacheHits, cooldownTrips,
		reconcileEvents,
	)

	return &Metrics{
		registry:            registry,
		TurnsTotal:          turnsTotal,
		TurnRetries:         turnRetries,
		TurnRollbacks:       turnRollbacks,
		TurnDuration:        turnDuration,
		RecordingsTotal:     recordingsTotal,
		TranscriptionsTotal: transcriptionsTotal,
		SynthesisTotal:      synthesisTotal,
		SynthesisCacheHits:  synthesisCacheHits,
		CooldownTrips:       cooldownTrips,
		ReconcileEvents:     reconcileEvents,
	}
}

// Registry returns the underlying registry so the hosting layer can expose
// it however it chooses.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
