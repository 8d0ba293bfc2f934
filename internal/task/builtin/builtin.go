// Package builtin provides the tasks compiled into packforge. They are thin
// consumers of the core: scheduling, baselines and patch transactions all
// live in the task, backup and patch packages.
package builtin

import (
	"github.com/packforge/packforge/internal/fetch"
	"github.com/packforge/packforge/internal/notary"
	"github.com/packforge/packforge/internal/sdk"
	"github.com/packforge/packforge/internal/task"
)

// Deps are the external collaborators the built-in tasks delegate to.
type Deps struct {
	// Manager is the external SDK manager CLI boundary (used by clean).
	Manager sdk.Manager

	// Notarizer is the external notarization service boundary.
	Notarizer notary.Notarizer

	// Resolver resolves patch-set sources that are git URLs.
	Resolver *fetch.Resolver

	// PCBuild reports whether the pc platform is being built this run; the
	// memory-limit task is a no-op without it.
	PCBuild bool
}

// Factories returns the built-in task factories in their fixed declaration
// order. This order is the deterministic tie-breaker for equal priorities.
func Factories(deps Deps) []task.Factory {
	return []task.Factory{
		func() task.Task { return NewPatchTask(deps.Resolver) },
		func() task.Task { return NewOverwriteKeystoreTask() },
		func() task.Task { return NewSetExtendedMemoryLimitTask(deps.PCBuild) },
		func() task.Task { return NewNotarizeTask(deps.Notarizer) },
		func() task.Task { return NewCleanTask(deps.Manager) },
	}
}
