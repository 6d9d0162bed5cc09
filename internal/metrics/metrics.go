package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Submission outcome labels
const (
	OutcomeSuppressed = "suppressed"
	OutcomeAskMe      = "ask_me"
	OutcomeAutoApply  = "auto_apply"
	OutcomeInvalid    = "invalid"
	OutcomeError      = "error"
	OutcomeDuplicate  = "duplicate"
)

// Callback operation labels
const (
	OperationApply  = "apply"
	OperationRevert = "revert"
)

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plan_adjust",
			Name:      "submissions_total",
			Help:      "Candidate submissions handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plan_adjust",
			Name:      "transitions_total",
			Help:      "Candidate state transitions, partitioned by target status.",
		},
		[]string{"status"},
	)

	callbackFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plan_adjust",
			Name:      "plan_store_failures_total",
			Help:      "Failed plan store callbacks, partitioned by operation.",
		},
		[]string{"operation"},
	)

	sweepDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "plan_adjust",
			Name:      "sweep_seconds",
			Help:      "Grace-period sweep latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	sweepAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "plan_adjust",
			Name:      "sweep_applied_total",
			Help:      "Candidates auto-applied by the sweep.",
		},
	)

	decisionLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "plan_adjust",
			Name:      "decision_latency_seconds",
			Help:      "Time between candidate creation and the user's decision.",
			Buckets:   prometheus.ExponentialBuckets(30, 2, 12),
		},
	)
)

// Register attaches plan-adjust collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		submissionsTotal,
		transitionsTotal,
		callbackFailuresTotal,
		sweepDurationSeconds,
		sweepAppliedTotal,
		decisionLatencySeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSubmission counts a submission by outcome.
func ObserveSubmission(outcome string) {
	submissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTransition counts a candidate entering status.
func ObserveTransition(status string) {
	transitionsTotal.WithLabelValues(status).Inc()
}

// ObserveCallbackFailure counts a failed plan store call.
func ObserveCallbackFailure(operation string) {
	callbackFailuresTotal.WithLabelValues(operation).Inc()
}

// ObserveDecisionLatency records how long a user took to decide.
func ObserveDecisionLatency(latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	decisionLatencySeconds.Observe(latency.Seconds())
}

// ObserveSweep records a sweep duration and how many candidates it applied.
func ObserveSweep(duration time.Duration, applied int) {
	if duration < 0 {
		duration = 0
	}
	sweepDurationSeconds.Observe(duration.Seconds())
	if applied > 0 {
		sweepAppliedTotal.Add(float64(applied))
	}
}
