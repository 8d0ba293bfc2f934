// Package history persists pipeline run events and patch records.
package history

import (
	"context"
	"time"

	"github.com/packforge/packforge/internal/patch"
)

// Event is one recorded pipeline event.
type Event struct {
	ID        int64
	RunID     string
	Type      string
	Timestamp time.Time
	Fields    map[string]string
}

// Run summarizes one pipeline invocation.
type Run struct {
	ID         string
	Project    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Outcome    string // running|success|failed
}

// Event types emitted by the pipeline.
const (
	EventRunStarted    = "run_started"
	EventRunFinished   = "run_finished"
	EventStageStarted  = "stage_started"
	EventStageFinished = "stage_finished"
	EventTaskStarted   = "task_started"
	EventTaskSucceeded = "task_succeeded"
	EventTaskFailed    = "task_failed"
)

// Store defines the interface for persisting and retrieving pipeline
// history. It also serves as the patch engine's record store.
type Store interface {
	patch.RecordStore

	// StartRun records the beginning of a pipeline run.
	StartRun(ctx context.Context, runID, project string) error

	// FinishRun records the outcome of a pipeline run.
	FinishRun(ctx context.Context, runID, outcome string) error

	// Append adds an event to a run.
	Append(ctx context.Context, runID, eventType string, fields map[string]string) error

	// RecentRuns lists the most recent runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]Run, error)

	// RunEvents retrieves all events for a run in append order.
	RunEvents(ctx context.Context, runID string) ([]Event, error)

	// Close closes the store and releases resources.
	Close() error
}
