package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/packforge/packforge/internal/fetch"
	"github.com/packforge/packforge/internal/task"
)

// patchConfig is the typed view of the patch task's subsection.
type patchConfig struct {
	Path string `mapstructure:"path"`
}

// PatchTask applies the configured patch set to the SDK instance before the
// packaging steps run. It registers under "patch" and runs early so later
// tasks see the patched SDK.
type PatchTask struct {
	resolver *fetch.Resolver
}

// NewPatchTask creates the patch task. resolver may be nil when remote
// patch-set sources are not configured.
func NewPatchTask(resolver *fetch.Resolver) *PatchTask {
	return &PatchTask{resolver: resolver}
}

func (t *PatchTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:     task.DeriveName("PatchTask"),
		Priority: 1000,
		Origin:   task.OriginBuiltin,
	}
}

// ValidateConfig requires a patch-set path and normalizes it: tilde
// expansion and an existence check for local directories. Git URLs are
// resolved lazily at run time.
func (t *PatchTask) ValidateConfig(raw map[string]any) (map[string]any, error) {
	var pc patchConfig
	if err := mapstructure.Decode(raw, &pc); err != nil {
		return nil, &task.ConfigValidationError{Task: "patch", Reason: "decode config", Cause: err}
	}
	if pc.Path == "" {
		return nil, &task.ConfigValidationError{Task: "patch", Reason: "field \"path\" missing"}
	}
	path := pc.Path

	if !fetch.IsRemote(path) {
		expanded, err := expandUser(path)
		if err != nil {
			return nil, &task.ConfigValidationError{Task: "patch", Reason: "expand path", Cause: err}
		}
		abs, err := filepath.Abs(expanded)
		if err != nil {
			return nil, &task.ConfigValidationError{Task: "patch", Reason: "resolve path", Cause: err}
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return nil, &task.ConfigValidationError{
				Task:   "patch",
				Reason: fmt.Sprintf("directory %q does not exist", abs),
			}
		}
		path = abs
	}

	normalized := make(map[string]any, len(raw))
	for k, v := range raw {
		normalized[k] = v
	}
	normalized["path"] = path
	return normalized, nil
}

// PreBuild resolves the patch-set source and hands it to the patch engine.
// The engine guarantees idempotence and whole-set rollback on failure.
func (t *PatchTask) PreBuild(ctx context.Context, tc *task.Context) error {
	source := tc.ConfigString("path", "")

	setRoot := source
	if fetch.IsRemote(source) {
		if t.resolver == nil {
			return fmt.Errorf("patch set %q is remote but no resolver is configured", source)
		}
		resolved, err := t.resolver.Resolve(ctx, source)
		if err != nil {
			return err
		}
		setRoot = resolved
	}

	applied, err := tc.Patches.ApplySet(ctx, setRoot)
	if err != nil {
		return err
	}
	tc.Log.Info("patch set applied", "files", applied, "root", setRoot)
	return nil
}

// expandUser replaces a leading ~ with the current user's home directory.
func expandUser(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
