// Package pipeline sequences a packforge run: baseline preparation, the
// pre-build task stage, the platform packaging steps and the post-build
// task stage. Tasks run strictly sequentially because they share and mutate
// the same SDK instance and output directory.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/packforge/packforge/internal/backup"
	"github.com/packforge/packforge/internal/events"
	"github.com/packforge/packforge/internal/history"
	"github.com/packforge/packforge/internal/metrics"
	"github.com/packforge/packforge/internal/patch"
	"github.com/packforge/packforge/internal/sdk"
	"github.com/packforge/packforge/internal/task"
)

// Platforms selects the packaging steps to run between the task stages.
type Platforms struct {
	PC      bool
	Mac     bool
	Android bool
}

// Options wires a pipeline's collaborators.
type Options struct {
	Registry   *task.Registry
	Enabled    []string
	Sections   map[string]map[string]any // validated per-task config
	ProjectDir string
	OutputDir  string
	SDK        sdk.Instance
	Manager    sdk.Manager
	Backups    *backup.Store
	Patches    *patch.Engine
	Platforms  Platforms
	History    history.Store    // optional
	Publisher  events.Publisher // optional
	Recorder   metrics.Recorder // optional
	Log        *slog.Logger
}

// Pipeline drives one run.
type Pipeline struct {
	opts  Options
	runID string
	log   *slog.Logger
	tasks *TaskResults
}

// TaskResult records one task hook invocation for reporting.
type TaskResult struct {
	Name     string
	Stage    task.Stage
	Duration time.Duration
	Err      error
}

// TaskResults accumulates the run's task outcomes.
type TaskResults struct {
	Results []TaskResult
}

// New creates a pipeline with a fresh run ID.
func New(opts Options) *Pipeline {
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	runID := uuid.NewString()
	return &Pipeline{
		opts:  opts,
		runID: runID,
		log:   log.With("run_id", runID),
		tasks: &TaskResults{},
	}
}

// RunID returns the unique ID of this run.
func (p *Pipeline) RunID() string { return p.runID }

// Results returns the task outcomes accumulated so far.
func (p *Pipeline) Results() []TaskResult { return p.tasks.Results }

// Run executes the full pipeline. Any error aborts the run; completed tasks
// are not rolled back (only the patch engine is transactional).
func (p *Pipeline) Run(ctx context.Context) error {
	started := time.Now()
	p.event(history.EventRunStarted, map[string]string{"project": p.opts.ProjectDir})
	if p.opts.History != nil {
		if err := p.opts.History.StartRun(ctx, p.runID, p.opts.ProjectDir); err != nil {
			p.log.Warn("failed to record run start", "error", err)
		}
	}

	err := p.run(ctx)

	outcome := "success"
	if err != nil {
		outcome = "failed"
	}
	p.opts.Recorder.ObserveRunDuration(time.Since(started))
	p.opts.Recorder.IncRunOutcome(outcome)
	p.event(history.EventRunFinished, map[string]string{"outcome": outcome})
	if p.opts.History != nil {
		if ferr := p.opts.History.FinishRun(ctx, p.runID, outcome); ferr != nil {
			p.log.Warn("failed to record run finish", "error", ferr)
		}
	}
	return err
}

func (p *Pipeline) run(ctx context.Context) error {
	if err := p.prepareBaselines(); err != nil {
		return err
	}

	if err := p.RunStage(ctx, task.StagePreBuild); err != nil {
		return err
	}

	if err := p.runPackagers(ctx); err != nil {
		return err
	}

	return p.RunStage(ctx, task.StagePostBuild)
}

// prepareBaselines guarantees every mutation this run can perform starts
// from a restorable baseline, and undoes leftovers from previous runs. For
// enabled tasks a baseline is captured on first encounter; files declared
// by disabled tasks are restored too when an earlier run backed them up, so
// a different task selection cannot leak state forward.
func (p *Pipeline) prepareBaselines() error {
	store := p.opts.Backups
	reg := p.opts.Registry

	enabledFiles := make(map[string]bool)
	for _, f := range reg.AffectedFiles(p.opts.Enabled) {
		enabledFiles[f] = true
	}

	all := reg.AffectedFiles(reg.Names())
	if len(all) > 0 {
		p.log.Info("preparing baselines for affected files", "count", len(all))
	}

	for _, f := range all {
		switch {
		case enabledFiles[f]:
			if !fileExists(store.Resolve(f)) && !store.HasBaseline(f) {
				p.log.Warn("affected file not found in SDK instance", "path", f)
				continue
			}
			if err := store.EnsureBaseline(f); err != nil {
				return err
			}
			if err := store.Restore(f); err != nil {
				return err
			}
		case store.HasBaseline(f):
			// Declared only by disabled tasks, but a previous run mutated
			// it: put the baseline back.
			if err := store.Restore(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunStage executes the enabled tasks implementing the given stage in
// scheduler order. The first failing task aborts the stage; no task is
// skipped or retried.
func (p *Pipeline) RunStage(ctx context.Context, stage task.Stage) error {
	ordered := p.opts.Registry.Schedule(stage, p.opts.Enabled)
	if len(ordered) == 0 {
		return nil
	}

	p.log.Info("running stage", "stage", stage, "tasks", len(ordered))
	p.event(history.EventStageStarted, map[string]string{"stage": string(stage)})
	stageStart := time.Now()

	for _, t := range ordered {
		if err := p.runTask(ctx, t, stage); err != nil {
			p.opts.Recorder.ObserveStageDuration(string(stage), time.Since(stageStart))
			p.event(history.EventStageFinished, map[string]string{"stage": string(stage), "outcome": "failed"})
			return err
		}
	}

	p.opts.Recorder.ObserveStageDuration(string(stage), time.Since(stageStart))
	p.event(history.EventStageFinished, map[string]string{"stage": string(stage), "outcome": "success"})
	return nil
}

func (p *Pipeline) runTask(ctx context.Context, t task.Task, stage task.Stage) error {
	desc := t.Descriptor()
	log := p.log.With("task", desc.Name, "stage", stage)

	// Each hook starts from a known-good state regardless of what earlier
	// runs or earlier stages did to the task's files.
	for _, f := range desc.AffectedFiles {
		if !fileExists(p.opts.Backups.Resolve(f)) && !p.opts.Backups.HasBaseline(f) {
			log.Warn("affected file not found in SDK instance", "path", f)
			continue
		}
		if err := p.opts.Backups.EnsureBaseline(f); err != nil {
			return err
		}
		if err := p.opts.Backups.Restore(f); err != nil {
			return err
		}
	}

	log.Info("running task")
	p.event(history.EventTaskStarted, map[string]string{"task": desc.Name, "stage": string(stage)})
	started := time.Now()

	tc := &task.Context{
		ProjectDir: p.opts.ProjectDir,
		OutputDir:  p.opts.OutputDir,
		SDK:        p.opts.SDK,
		Backups:    p.opts.Backups,
		Patches:    p.opts.Patches,
		Config:     p.opts.Sections[desc.Name],
		Stage:      stage,
		Log:        log,
	}

	err := task.Hook(ctx, t, tc)
	duration := time.Since(started)
	p.tasks.Results = append(p.tasks.Results, TaskResult{Name: desc.Name, Stage: stage, Duration: duration, Err: err})

	if err != nil {
		p.opts.Recorder.IncTaskResult(desc.Name, metrics.ResultFailed)
		p.event(history.EventTaskFailed, map[string]string{"task": desc.Name, "stage": string(stage), "error": err.Error()})
		return &task.TaskError{Task: desc.Name, Stage: stage, Cause: err}
	}

	p.opts.Recorder.IncTaskResult(desc.Name, metrics.ResultSuccess)
	p.event(history.EventTaskSucceeded, map[string]string{"task": desc.Name, "stage": string(stage)})
	log.Debug("task finished", "duration", duration)
	return nil
}

// runPackagers invokes the external platform packagers for the selected
// platforms. Their implementation is entirely the SDK manager's concern.
func (p *Pipeline) runPackagers(ctx context.Context) error {
	if p.opts.Manager == nil {
		p.log.Debug("no SDK manager configured, skipping packaging steps")
		return nil
	}

	if p.opts.Platforms.Android {
		p.log.Info("building android package")
		if err := p.opts.Manager.BuildAndroid(ctx, p.opts.SDK, p.opts.ProjectDir, p.opts.OutputDir); err != nil {
			return fmt.Errorf("android packaging: %w", err)
		}
	}

	var desktop []string
	if p.opts.Platforms.PC {
		desktop = append(desktop, "pc")
	}
	if p.opts.Platforms.Mac {
		desktop = append(desktop, "mac")
	}
	if len(desktop) > 0 {
		p.log.Info("building desktop packages", "platforms", desktop)
		if err := p.opts.Manager.BuildDesktop(ctx, p.opts.SDK, p.opts.ProjectDir, p.opts.OutputDir, desktop); err != nil {
			return fmt.Errorf("desktop packaging: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) event(eventType string, fields map[string]string) {
	p.opts.Publisher.Publish(eventType, p.runID, fields)
	if p.opts.History != nil {
		if err := p.opts.History.Append(context.Background(), p.runID, eventType, fields); err != nil {
			p.log.Warn("failed to record event", "type", eventType, "error", err)
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
