// Package metrics defines observability hooks for pipeline runs.
package metrics

import "time"

// ResultLabel enumerates task result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailed  ResultLabel = "failed"
)

// Recorder defines observability hooks for run, stage and patch metrics.
// Implementations may forward to Prometheus. All methods must be safe on
// the NoopRecorder so injection stays optional.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveRunDuration(d time.Duration)
	IncTaskResult(task string, result ResultLabel)
	IncRunOutcome(outcome string) // outcome: success|failed
	AddPatchesApplied(n int)
	IncPatchRollbacks()
}

// NoopRecorder is a Recorder that does nothing (default when metrics are
// not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) ObserveRunDuration(time.Duration)           {}
func (NoopRecorder) IncTaskResult(string, ResultLabel)          {}
func (NoopRecorder) IncRunOutcome(string)                       {}
func (NoopRecorder) AddPatchesApplied(int)                      {}
func (NoopRecorder) IncPatchRollbacks()                         {}
