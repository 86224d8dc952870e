// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journey_stage_transitions_total",
			Help: "Total number of committed stage transitions",
		},
		[]string{"from", "to"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journey_stage_failures_total",
			Help: "Total number of failed stage actions",
		},
		[]string{"stage", "error_code"},
	)

	APICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journey_api_calls_total",
			Help: "Total number of remote API calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "journey_api_call_duration_seconds",
			Help: "Duration of remote API calls in seconds",
		},
		[]string{"operation"},
	)

	PollAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journey_poll_attempts_total",
			Help: "Total number of poll ticks per logical wait",
		},
		[]string{"wait"},
	)

	PollOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journey_poll_outcomes_total",
			Help: "Poll loop resolutions per logical wait and outcome",
		},
		[]string{"wait", "outcome"},
	)

	RunOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journey_run_outcomes_total",
			Help: "Terminal run resolutions, business declines included",
		},
		[]string{"outcome"},
	)
)
