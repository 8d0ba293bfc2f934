package task

import "fmt"

// DiscoveryError reports a malformed or conflicting task definition found
// while building the registry. Discovery errors are fatal and occur before
// any task executes.
type DiscoveryError struct {
	// Name is the derived task key, when one could be derived.
	Name string

	// Source is the manifest file that produced the definition, empty for
	// built-ins.
	Source string

	Reason string
}

func (e *DiscoveryError) Error() string {
	switch {
	case e.Name != "" && e.Source != "":
		return fmt.Sprintf("task discovery: %s (%s): %s", e.Name, e.Source, e.Reason)
	case e.Name != "":
		return fmt.Sprintf("task discovery: %s: %s", e.Name, e.Reason)
	case e.Source != "":
		return fmt.Sprintf("task discovery: %s: %s", e.Source, e.Reason)
	}
	return "task discovery: " + e.Reason
}

// ConfigValidationError reports a bad per-task configuration subsection.
// Validation failure for any enabled task aborts the pipeline before any
// task executes.
type ConfigValidationError struct {
	Task   string
	Reason string
	Cause  error
}

func (e *ConfigValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("task %s: invalid config: %s: %v", e.Task, e.Reason, e.Cause)
	}
	return fmt.Sprintf("task %s: invalid config: %s", e.Task, e.Reason)
}

func (e *ConfigValidationError) Unwrap() error { return e.Cause }

// TaskError wraps a failure from a task hook with enough context for the
// operator: task name and stage. Completed tasks in the same stage are not
// rolled back; only the patch engine offers that guarantee.
type TaskError struct {
	Task  string
	Stage Stage
	Cause error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed during %s: %v", e.Task, e.Stage, e.Cause)
}

func (e *TaskError) Unwrap() error { return e.Cause }
