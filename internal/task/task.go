// Package task defines the task model for the packforge build pipeline.
// Tasks run before and after the platform packaging steps and may mutate
// files inside the SDK instance directory, guarded by the backup store.
package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/packforge/packforge/internal/backup"
	"github.com/packforge/packforge/internal/patch"
	"github.com/packforge/packforge/internal/sdk"
)

// Stage identifies one of the two points in the pipeline at which tasks run.
type Stage string

const (
	StagePreBuild  Stage = "pre-build"
	StagePostBuild Stage = "post-build"
)

// IsValid reports whether the stage is one of the known pipeline stages.
func (s Stage) IsValid() bool {
	return s == StagePreBuild || s == StagePostBuild
}

// Origin identifies where a task implementation was discovered.
type Origin string

const (
	// OriginBuiltin marks tasks compiled into packforge.
	OriginBuiltin Origin = "builtin"

	// OriginManifest marks tasks loaded from a manifest file in the
	// configured tasks directory.
	OriginManifest Origin = "manifest"
)

// Descriptor describes a task's identity and scheduling metadata.
type Descriptor struct {
	// Name is the snake_case task key derived from the implementing type
	// name (e.g. "set_extended_memory_limit").
	Name string

	// Priority orders tasks within a stage. Higher values run earlier.
	Priority int

	// AffectedFiles lists paths relative to the SDK instance root that this
	// task may mutate. The backup store captures a baseline for each before
	// the task ever runs.
	AffectedFiles []string

	// Origin records the discovery source, used to break priority ties
	// deterministically (built-ins before manifest tasks).
	Origin Origin

	// Source is the manifest file path for manifest tasks, empty for
	// built-ins.
	Source string
}

// Task is a unit of work scheduled around the packaging steps. Every task
// must additionally implement at least one of PreBuilder or PostBuilder.
type Task interface {
	Descriptor() Descriptor
}

// PreBuilder is implemented by tasks that run before packaging.
type PreBuilder interface {
	Task
	PreBuild(ctx context.Context, tc *Context) error
}

// PostBuilder is implemented by tasks that run after packaging.
type PostBuilder interface {
	Task
	PostBuild(ctx context.Context, tc *Context) error
}

// ConfigValidator is optionally implemented by tasks that own a configuration
// subsection. It receives the raw subsection keyed by the task's name and
// returns a normalized copy, or an error describing the offending field.
type ConfigValidator interface {
	ValidateConfig(raw map[string]any) (map[string]any, error)
}

// HasStage reports whether t implements the hook for the given stage.
func HasStage(t Task, stage Stage) bool {
	switch stage {
	case StagePreBuild:
		_, ok := t.(PreBuilder)
		return ok
	case StagePostBuild:
		_, ok := t.(PostBuilder)
		return ok
	}
	return false
}

// Context carries the collaborators and validated configuration a task hook
// needs. It is constructed once per pipeline run and shared by all tasks.
type Context struct {
	// ProjectDir is the application project being built.
	ProjectDir string

	// OutputDir receives packaged artifacts.
	OutputDir string

	// SDK is the externally provisioned SDK instance the pipeline mutates.
	SDK sdk.Instance

	// Backups guards every mutation of SDK files.
	Backups *backup.Store

	// Patches applies directory-mirrored patch sets transactionally.
	Patches *patch.Engine

	// Config is the task's validated configuration subsection.
	Config map[string]any

	// Stage is the stage this hook is being invoked for.
	Stage Stage

	// Log is the pipeline logger, pre-scoped with the task name.
	Log *slog.Logger
}

// ConfigString returns a string config value, or def when absent or not a
// string.
func (c *Context) ConfigString(key, def string) string {
	if v, ok := c.Config[key].(string); ok {
		return v
	}
	return def
}

// Hook runs the task hook matching the context's stage. Tasks that do not
// implement the stage are a no-op, mirroring the scheduler's capability
// filtering.
func Hook(ctx context.Context, t Task, tc *Context) error {
	switch tc.Stage {
	case StagePreBuild:
		if pre, ok := t.(PreBuilder); ok {
			return pre.PreBuild(ctx, tc)
		}
	case StagePostBuild:
		if post, ok := t.(PostBuilder); ok {
			return post.PostBuild(ctx, tc)
		}
	default:
		return fmt.Errorf("unknown stage %q", tc.Stage)
	}
	return nil
}
