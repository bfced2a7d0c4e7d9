// Package metrics exposes the Prometheus collectors for the ingestion,
// dispatch, container, detection, and callback stages, following the
// promauto/GaugeVec pattern the teacher uses for its own collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector this service registers. The HTTP surface
// that exposes them on a /metrics endpoint is wired by internal/app.
type Metrics struct {
	PacketsReceived  prometheus.Counter
	PacketsMalformed prometheus.Counter
	PacketsDeferred  prometheus.Counter
	PacketsLost      prometheus.Counter

	DispatcherStressPeak   prometheus.Gauge
	DispatcherLoopDuration prometheus.Histogram

	ContainersActive    prometheus.Gauge
	ContainersDestroyed prometheus.Counter

	DetectorWindowsAdmitted prometheus.Counter
	DetectorWindowsSkipped  prometheus.Counter
	FingerprintDuration     prometheus.Histogram

	MatchesAccepted *prometheus.CounterVec
	MatchesRejected *prometheus.CounterVec

	CallbackAttempts *prometheus.CounterVec
	CallbackFailures *prometheus.CounterVec
}

// New creates and registers all collectors against the default registry.
func New() *Metrics {
	return &Metrics{
		PacketsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "callsentry_packets_received_total",
			Help: "Total RTP datagrams received on the unicast socket.",
		}),
		PacketsMalformed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "callsentry_packets_malformed_total",
			Help: "Total datagrams dropped for failing RTP header parsing.",
		}),
		PacketsDeferred: promauto.NewCounter(prometheus.CounterOpts{
			Name: "callsentry_packets_deferred_total",
			Help: "Total packets held back pending a container bind.",
		}),
		PacketsLost: promauto.NewCounter(prometheus.CounterOpts{
			Name: "callsentry_packets_lost_total",
			Help: "Total packets dropped after exceeding their lose_time.",
		}),
		DispatcherStressPeak: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "callsentry_dispatcher_stress_peak",
			Help: "High-water mark of the dispatcher's pending batch size.",
		}),
		DispatcherLoopDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "callsentry_dispatcher_loop_duration_seconds",
			Help:    "Wall-clock duration of one dispatcher routing pass.",
			Buckets: prometheus.DefBuckets,
		}),
		ContainersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "callsentry_containers_active",
			Help: "Number of audio containers currently tracking a call.",
		}),
		ContainersDestroyed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "callsentry_containers_destroyed_total",
			Help: "Total audio containers torn down.",
		}),
		DetectorWindowsAdmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "callsentry_detector_windows_admitted_total",
			Help: "Total sample windows admitted into the fingerprint pool.",
		}),
		DetectorWindowsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "callsentry_detector_windows_skipped_total",
			Help: "Total sample windows skipped by the admission gate.",
		}),
		FingerprintDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "callsentry_fingerprint_duration_seconds",
			Help:    "Wall-clock duration of one fingerprint computation.",
			Buckets: prometheus.DefBuckets,
		}),
		MatchesAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "callsentry_matches_accepted_total",
			Help: "Total accepted template matches by template name.",
		}, []string{"template"}),
		MatchesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "callsentry_matches_rejected_total",
			Help: "Total rejected match attempts by template name.",
		}, []string{"template"}),
		CallbackAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "callsentry_callback_attempts_total",
			Help: "Total outbound callback attempts by event type.",
		}, []string{"event"}),
		CallbackFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "callsentry_callback_failures_total",
			Help: "Total outbound callbacks that exhausted their retries.",
		}, []string{"event"}),
	}
}
