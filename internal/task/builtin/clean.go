package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/packforge/packforge/internal/sdk"
	"github.com/packforge/packforge/internal/task"
)

// universalSuffix marks the Android package variant that is kept; all other
// apk variants are redundant subsets of it.
const universalSuffix = "-universal-release.apk"

// CleanTask removes build leftovers from the SDK instance and drops the
// non-universal Android packages from the output directory. It carries the
// lowest priority so it always runs last.
type CleanTask struct {
	manager sdk.Manager
}

// NewCleanTask creates the clean task.
func NewCleanTask(m sdk.Manager) *CleanTask {
	return &CleanTask{manager: m}
}

func (t *CleanTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:     task.DeriveName("CleanTask"),
		Priority: -1000,
		Origin:   task.OriginBuiltin,
	}
}

// PostBuild delegates instance cleanup to the SDK manager, then prunes the
// output directory.
func (t *CleanTask) PostBuild(ctx context.Context, tc *task.Context) error {
	if t.manager != nil {
		if err := t.manager.Clean(ctx, tc.SDK); err != nil {
			return fmt.Errorf("clean sdk instance: %w", err)
		}
	}

	apks, err := filepath.Glob(filepath.Join(tc.OutputDir, "*.apk"))
	if err != nil {
		return fmt.Errorf("enumerate apk artifacts: %w", err)
	}
	for _, apk := range apks {
		if strings.HasSuffix(apk, universalSuffix) {
			continue
		}
		tc.Log.Debug("removing redundant package", "artifact", filepath.Base(apk))
		if err := os.Remove(apk); err != nil {
			return fmt.Errorf("remove %s: %w", apk, err)
		}
	}
	return nil
}
