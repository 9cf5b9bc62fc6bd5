// Package metrics exposes Prometheus instrumentation for the mixer.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mixRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mixer_requests_total",
		Help: "Mix requests by outcome",
	}, []string{"outcome"}) // outcome=success|validation|fetch|timing|transcode|storage|internal

	rungAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mixer_rung_attempts_total",
		Help: "Transcoder invocations per fallback rung by result",
	}, []string{"rung", "result"}) // result=success|failure

	transcodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mixer_transcode_duration_seconds",
		Help:    "Wall time of transcoder invocations per fallback rung",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
	}, []string{"rung"})

	workspacesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mixer_workspaces_active",
		Help: "Workspaces currently acquired",
	})

	workspaceSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mixer_workspace_sweeps_total",
		Help: "Stale workspaces handled by the janitor by result",
	}, []string{"result"}) // result=removed|error
)

// RecordRequest counts a finished mix request.
func RecordRequest(outcome string) {
	mixRequests.WithLabelValues(outcome).Inc()
}

// RecordRung counts one transcoder attempt on the given 1-based rung.
func RecordRung(rung int, ok bool, elapsed time.Duration) {
	label := strconv.Itoa(rung)
	result := "failure"
	if ok {
		result = "success"
	}
	rungAttempts.WithLabelValues(label, result).Inc()
	transcodeDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// WorkspaceAcquired tracks a newly acquired workspace.
func WorkspaceAcquired() {
	workspacesActive.Inc()
}

// WorkspaceReleased tracks a released workspace.
func WorkspaceReleased() {
	workspacesActive.Dec()
}

// RecordSweep counts a stale workspace removal attempt.
func RecordSweep(ok bool) {
	if ok {
		workspaceSweeps.WithLabelValues("removed").Inc()
		return
	}
	workspaceSweeps.WithLabelValues("error").Inc()
}
