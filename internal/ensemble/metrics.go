package ensemble

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StepsTotal counts completed sampler steps.
	StepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gravfit",
			Subsystem: "ensemble",
			Name:      "steps_total",
			Help:      "Total number of completed ensemble steps",
		},
	)

	// ProposalsTotal counts stretch-move proposals.
	// Labels: result (accepted, rejected)
	ProposalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gravfit",
			Subsystem: "ensemble",
			Name:      "proposals_total",
			Help:      "Total number of stretch-move proposals by result",
		},
		[]string{"result"},
	)

	// EvaluationsTotal counts log-probability evaluations.
	EvaluationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gravfit",
			Subsystem: "ensemble",
			Name:      "logprob_evaluations_total",
			Help:      "Total number of log-probability evaluations",
		},
	)

	// StepDuration tracks the wall time of one ensemble step.
	StepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gravfit",
			Subsystem: "ensemble",
			Name:      "step_duration_seconds",
			Help:      "Duration of one ensemble step in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		},
	)

	// AcceptanceFraction is the mean acceptance fraction of the last run.
	AcceptanceFraction = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gravfit",
			Subsystem: "ensemble",
			Name:      "acceptance_fraction",
			Help:      "Mean acceptance fraction of the most recent run",
		},
	)
)
