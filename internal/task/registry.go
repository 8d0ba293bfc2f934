package task

import (
	"fmt"
	"sort"
)

// Factory constructs a built-in task. Built-ins are registered in a fixed
// declaration order which doubles as the priority tie-breaker.
type Factory func() Task

// Registry maps task names to their single constructed instance for this
// pipeline run. Names are unique; any collision between built-in and custom
// sources is a fatal discovery error.
type Registry struct {
	order []string
	tasks map[string]Task
}

// Discover builds a registry from the built-in set and, when customDir is
// non-empty, the task manifests found under it. Built-ins keep their
// declaration order; manifest tasks follow in lexicographic file order.
func Discover(builtins []Factory, customDir string) (*Registry, error) {
	r := &Registry{tasks: make(map[string]Task)}

	for _, factory := range builtins {
		t := factory()
		if err := r.add(t); err != nil {
			return nil, err
		}
	}

	if customDir != "" {
		custom, err := LoadManifests(customDir)
		if err != nil {
			return nil, err
		}
		for _, t := range custom {
			if err := r.add(t); err != nil {
				return nil, err
			}
		}
	}

	return r, nil
}

func (r *Registry) add(t Task) error {
	desc := t.Descriptor()
	if desc.Name == "" {
		return &DiscoveryError{Source: desc.Source, Reason: "task has no name"}
	}
	if !HasStage(t, StagePreBuild) && !HasStage(t, StagePostBuild) {
		return &DiscoveryError{
			Name:   desc.Name,
			Source: desc.Source,
			Reason: "task defines neither a pre-build nor a post-build hook",
		}
	}
	if prev, exists := r.tasks[desc.Name]; exists {
		return &DiscoveryError{
			Name:   desc.Name,
			Source: desc.Source,
			Reason: fmt.Sprintf("name already registered by %s task", prev.Descriptor().Origin),
		}
	}
	r.order = append(r.order, desc.Name)
	r.tasks[desc.Name] = t
	return nil
}

// Names returns all registered task names in discovery order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns the task registered under name.
func (r *Registry) Get(name string) (Task, bool) {
	t, ok := r.tasks[name]
	return t, ok
}

// discoveryIndex returns the position of name in discovery order.
func (r *Registry) discoveryIndex(name string) int {
	for i, n := range r.order {
		if n == name {
			return i
		}
	}
	return len(r.order)
}

// Enabled resolves the configured enable flags against the registry. Flags
// naming unknown tasks are a discovery error; registered tasks without a
// flag are disabled. The returned names preserve discovery order.
func (r *Registry) Enabled(flags map[string]bool) ([]string, error) {
	for name := range flags {
		if _, ok := r.tasks[name]; !ok {
			return nil, &DiscoveryError{Name: name, Reason: "enabled task is not registered"}
		}
	}

	var enabled []string
	for _, name := range r.order {
		if flags[name] {
			enabled = append(enabled, name)
		}
	}
	return enabled, nil
}

// ValidateConfigs maps each enabled task's raw configuration subsection
// through the task's validator, returning the normalized sections. The
// first failure aborts: no task executes with any invalid configuration.
// It also rejects affected-file overlap between enabled tasks, which would
// make baseline ownership ambiguous.
func (r *Registry) ValidateConfigs(enabled []string, sections map[string]map[string]any) (map[string]map[string]any, error) {
	validated := make(map[string]map[string]any, len(enabled))
	claimed := make(map[string]string)

	for _, name := range enabled {
		t := r.tasks[name]

		for _, file := range t.Descriptor().AffectedFiles {
			if owner, ok := claimed[file]; ok {
				return nil, &DiscoveryError{
					Name:   name,
					Reason: fmt.Sprintf("affected file %q is already declared by task %q", file, owner),
				}
			}
			claimed[file] = name
		}

		raw := sections[name]
		if raw == nil {
			raw = map[string]any{}
		}
		if v, ok := t.(ConfigValidator); ok {
			normalized, err := v.ValidateConfig(raw)
			if err != nil {
				if cve, isCVE := err.(*ConfigValidationError); isCVE {
					return nil, cve
				}
				return nil, &ConfigValidationError{Task: name, Reason: "validation failed", Cause: err}
			}
			raw = normalized
		}
		validated[name] = raw
	}
	return validated, nil
}

// Schedule orders the enabled tasks that implement the given stage:
// priority descending, ties broken by discovery order. The result is fully
// deterministic across runs with identical registry contents.
func (r *Registry) Schedule(stage Stage, enabled []string) []Task {
	var tasks []Task
	for _, name := range enabled {
		t := r.tasks[name]
		if HasStage(t, stage) {
			tasks = append(tasks, t)
		}
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		pi, pj := tasks[i].Descriptor().Priority, tasks[j].Descriptor().Priority
		if pi != pj {
			return pi > pj
		}
		return r.discoveryIndex(tasks[i].Descriptor().Name) < r.discoveryIndex(tasks[j].Descriptor().Name)
	})
	return tasks
}

// AffectedFiles collects the declared affected files of the given tasks in
// discovery order, deduplicated.
func (r *Registry) AffectedFiles(names []string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, name := range r.order {
		if !contains(names, name) {
			continue
		}
		for _, f := range r.tasks[name].Descriptor().AffectedFiles {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	return files
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
