package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	runsTotalMetric       = "buildgate_runs_total"
	runDurationMetric     = "buildgate_run_duration_seconds"
	stepDurationMetric    = "buildgate_step_duration_seconds"
	eventsTotalMetric     = "buildgate_events_total"
	webhookRejectedMetric = "buildgate_webhook_rejected_total"
	runsInFlightMetric    = "buildgate_runs_in_flight"

	pipelineLabel = "pipeline"
	statusLabel   = "status"
	actionLabel   = "action"
	outcomeLabel  = "outcome"
	decisionLabel = "decision"
	reasonLabel   = "reason"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: runsTotalMetric,
			Help: "The total number of finished pipeline runs",
		}, []string{pipelineLabel, statusLabel})
	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    runDurationMetric,
			Help:    "Pipeline run duration seconds",
			Buckets: DefaultBuckets(),
		}, []string{pipelineLabel, statusLabel})
	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    stepDurationMetric,
			Help:    "Step duration seconds",
			Buckets: DefaultBuckets(),
		}, []string{pipelineLabel, actionLabel, outcomeLabel})
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: eventsTotalMetric,
			Help: "Repository events seen, by trigger decision",
		}, []string{pipelineLabel, decisionLabel})
	webhookRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: webhookRejectedMetric,
			Help: "Webhook deliveries rejected before matching",
		}, []string{reasonLabel})
	runsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: runsInFlightMetric,
			Help: "Pipeline runs currently executing",
		})
)

// DefaultBuckets spans quick logins up to long image builds.
func DefaultBuckets() []float64 {
	return []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200}
}

// AddRunFinished records a run reaching a terminal status
func AddRunFinished(pipeline, status string, duration time.Duration) {
	runsTotal.With(prometheus.Labels{pipelineLabel: pipeline, statusLabel: status}).Inc()
	runDuration.WithLabelValues(pipeline, status).Observe(duration.Seconds())
}

// AddStep records one step result
func AddStep(pipeline, action, outcome string, duration time.Duration) {
	stepDuration.WithLabelValues(pipeline, action, outcome).Observe(duration.Seconds())
}

// AddEvent counts an event by whether it was accepted
func AddEvent(pipeline string, accepted bool) {
	decision := "ignored"
	if accepted {
		decision = "accepted"
	}
	eventsTotal.WithLabelValues(pipeline, decision).Inc()
}

// AddWebhookRejected counts a delivery refused for reason
func AddWebhookRejected(reason string) {
	webhookRejected.WithLabelValues(reason).Inc()
}

// RunStarted and RunDone track in-flight runs.
func RunStarted() { runsInFlight.Inc() }

func RunDone() { runsInFlight.Dec() }
