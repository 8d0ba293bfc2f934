package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once           sync.Once
	stageDuration  *prom.HistogramVec
	runDuration    prom.Histogram
	taskResults    *prom.CounterVec
	runOutcome     *prom.CounterVec
	patchesApplied prom.Counter
	patchRollbacks prom.Counter
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "packforge",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "packforge",
			Name:      "run_duration_seconds",
			Help:      "Total pipeline run duration",
			Buckets:   prom.DefBuckets,
		})
		pr.taskResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "packforge",
			Name:      "task_results_total",
			Help:      "Task result counts by outcome",
		}, []string{"task", "result"})
		pr.runOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "packforge",
			Name:      "run_outcomes_total",
			Help:      "Pipeline run outcomes by final status",
		}, []string{"outcome"})
		pr.patchesApplied = prom.NewCounter(prom.CounterOpts{
			Namespace: "packforge",
			Name:      "patches_applied_total",
			Help:      "Patch files successfully applied to SDK targets",
		})
		pr.patchRollbacks = prom.NewCounter(prom.CounterOpts{
			Namespace: "packforge",
			Name:      "patch_rollbacks_total",
			Help:      "Patch set applications aborted and rolled back to baseline",
		})
		reg.MustRegister(pr.stageDuration, pr.runDuration, pr.taskResults, pr.runOutcome, pr.patchesApplied, pr.patchRollbacks)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTaskResult(taskName string, result ResultLabel) {
	if p == nil || p.taskResults == nil {
		return
	}
	p.taskResults.WithLabelValues(taskName, string(result)).Inc()
}

func (p *PrometheusRecorder) IncRunOutcome(outcome string) {
	if p == nil || p.runOutcome == nil {
		return
	}
	p.runOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) AddPatchesApplied(n int) {
	if p == nil || p.patchesApplied == nil {
		return
	}
	p.patchesApplied.Add(float64(n))
}

func (p *PrometheusRecorder) IncPatchRollbacks() {
	if p == nil || p.patchRollbacks == nil {
		return
	}
	p.patchRollbacks.Inc()
}
