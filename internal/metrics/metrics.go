// Package metrics records per-run pipeline measurements in a Prometheus
// registry. The pipeline is a batch job, so the registry is exported as a
// node_exporter textfile rather than served.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "statepop"

// Recorder holds the run metrics. A nil *Recorder discards everything.
type Recorder struct {
	registry *prometheus.Registry

	recordsFetched   prometheus.Gauge
	recordsFiltered  prometheus.Gauge
	groups           prometheus.Gauge
	stageDuration    *prometheus.GaugeVec
	artifactsWritten prometheus.Counter
	lastRunSuccess   prometheus.Gauge
	lastRunTimestamp prometheus.Gauge
}

// New registers the run metrics on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		recordsFetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_fetched",
			Help:      "Records in the fetched payload.",
		}),
		recordsFiltered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_filtered",
			Help:      "Records kept by the filter stage.",
		}),
		groups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "groups",
			Help:      "Distinct keys produced by the group stage.",
		}),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage in the last run.",
		}, []string{"stage"}),
		artifactsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_written_total",
			Help:      "Artifacts persisted by the run.",
		}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run completed, 0 otherwise.",
		}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	r.registry.MustRegister(
		r.recordsFetched,
		r.recordsFiltered,
		r.groups,
		r.stageDuration,
		r.artifactsWritten,
		r.lastRunSuccess,
		r.lastRunTimestamp,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// StageTimer starts timing stage; call the returned func when it ends.
func (r *Recorder) StageTimer(stage string) func() {
	if r == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		r.stageDuration.WithLabelValues(stage).Set(time.Since(start).Seconds())
	}
}

func (r *Recorder) SetFetched(n int) {
	if r != nil {
		r.recordsFetched.Set(float64(n))
	}
}

func (r *Recorder) SetFiltered(n int) {
	if r != nil {
		r.recordsFiltered.Set(float64(n))
	}
}

func (r *Recorder) SetGroups(n int) {
	if r != nil {
		r.groups.Set(float64(n))
	}
}

func (r *Recorder) ArtifactWritten() {
	if r != nil {
		r.artifactsWritten.Inc()
	}
}

// Finish records the outcome of the run.
func (r *Recorder) Finish(success bool, at time.Time) {
	if r == nil {
		return
	}
	if success {
		r.lastRunSuccess.Set(1)
	} else {
		r.lastRunSuccess.Set(0)
	}
	r.lastRunTimestamp.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
