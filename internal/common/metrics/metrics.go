// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StepsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nurture_steps_dispatched_total",
			Help: "Total number of follow-up steps dispatched by channel and status",
		},
		[]string{"channel", "status"},
	)

	StepsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nurture_steps_skipped_total",
			Help: "Total number of follow-up steps skipped by reason",
		},
		[]string{"reason"},
	)

	StepsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nurture_steps_failed_total",
			Help: "Total number of follow-up steps failed by error code",
		},
		[]string{"channel", "error_code"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "nurture_step_duration_seconds",
			Help: "Duration of trigger handling in seconds",
		},
		[]string{"channel"},
	)

	StepsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nurture_steps_active",
			Help: "Number of trigger handlers currently running",
		},
	)

	PlansGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nurture_plans_generated_total",
			Help: "Total number of plans generated by strategy and source",
		},
		[]string{"strategy", "source"},
	)

	JobsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nurture_jobs_scheduled_total",
			Help: "Total number of follow-up jobs written to the job store",
		},
	)

	JobsMisfired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nurture_jobs_misfired_total",
			Help: "Total number of jobs that exceeded the misfire grace window",
		},
	)

	EventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nurture_events_recorded_total",
			Help: "Total number of interaction events recorded by kind",
		},
		[]string{"kind"},
	)

	EventRecordFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nurture_event_record_failures_total",
			Help: "Total number of interaction events dropped due to store errors",
		},
	)

	PixelOpens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nurture_pixel_opens_total",
			Help: "Total number of tracking pixel hits that recorded an open",
		},
	)

	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nurture_escalations_total",
			Help: "Total number of leads escalated for human follow-up",
		},
	)
)
