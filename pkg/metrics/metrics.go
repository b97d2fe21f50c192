package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects registry metrics. A nil *Recorder records nothing.
type Recorder struct {
	artifactOperationTotal    *prometheus.CounterVec
	artifactOperationDuration *prometheus.HistogramVec
	admissionTotal            *prometheus.CounterVec
	admissionScore            prometheus.Histogram
	oracleDuration            *prometheus.HistogramVec
	authEventTotal            *prometheus.CounterVec
	tokenCleanupTotal         prometheus.Counter
}

// NewRecorder creates a Recorder and registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		artifactOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mlreg_artifact_operation_total",
				Help: "Total number of artifact operations performed",
			},
			[]string{"operation", "success"},
		),
		artifactOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mlreg_artifact_operation_duration_seconds",
				Help:    "Duration of artifact operations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation", "success"},
		),
		admissionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mlreg_admission_total",
				Help: "Admission decisions by outcome",
			},
			[]string{"decision"},
		),
		admissionScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mlreg_admission_net_score",
				Help:    "Net scores seen by the admission controller",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		oracleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mlreg_oracle_request_duration_seconds",
				Help:    "Duration of rating oracle requests in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"success"},
		),
		authEventTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mlreg_auth_event_total",
				Help: "Authentication events by action",
			},
			[]string{"action"},
		),
		tokenCleanupTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mlreg_token_cleanup_removed_total",
				Help: "Expired token records removed by the cleanup sweep",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			r.artifactOperationTotal,
			r.artifactOperationDuration,
			r.admissionTotal,
			r.admissionScore,
			r.oracleDuration,
			r.authEventTotal,
			r.tokenCleanupTotal,
		)
	}

	return r
}

// RecordArtifactOperation records a registry operation with its outcome.
func (r *Recorder) RecordArtifactOperation(operation string, success bool, duration time.Duration) {
	if r == nil {
		return
	}
	label := strconv.FormatBool(success)
	r.artifactOperationTotal.WithLabelValues(operation, label).Inc()
	r.artifactOperationDuration.WithLabelValues(operation, label).Observe(duration.Seconds())
}

// RecordAdmission records an admission decision and the score it was based on.
func (r *Recorder) RecordAdmission(accepted bool, score float64) {
	if r == nil {
		return
	}
	decision := "rejected"
	if accepted {
		decision = "accepted"
	}
	r.admissionTotal.WithLabelValues(decision).Inc()
	r.admissionScore.Observe(score)
}

// RecordOracleRequest records a call to the rating oracle.
func (r *Recorder) RecordOracleRequest(success bool, duration time.Duration) {
	if r == nil {
		return
	}
	r.oracleDuration.WithLabelValues(strconv.FormatBool(success)).Observe(duration.Seconds())
}

// RecordAuthEvent counts an authentication event such as login or logout.
func (r *Recorder) RecordAuthEvent(action string) {
	if r == nil {
		return
	}
	r.authEventTotal.WithLabelValues(action).Inc()
}

// RecordTokenCleanup adds the number of expired tokens removed by a sweep.
func (r *Recorder) RecordTokenCleanup(removed int) {
	if r == nil || removed <= 0 {
		return
	}
	r.tokenCleanupTotal.Add(float64(removed))
}
