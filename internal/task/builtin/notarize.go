package builtin

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/packforge/packforge/internal/notary"
	"github.com/packforge/packforge/internal/task"
)

// NotarizeTask submits the packaged mac artifact to the external signing
// and notarization service after the build. The whole submit-poll-staple
// workflow belongs to the collaborator.
type NotarizeTask struct {
	notarizer notary.Notarizer
}

// NewNotarizeTask creates the notarize task.
func NewNotarizeTask(n notary.Notarizer) *NotarizeTask {
	return &NotarizeTask{notarizer: n}
}

func (t *NotarizeTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:     task.DeriveName("NotarizeTask"),
		Priority: 0,
		Origin:   task.OriginBuiltin,
	}
}

// PostBuild locates the *-mac.zip artifact and hands it, with the task's
// config subsection, to the notarization service.
func (t *NotarizeTask) PostBuild(ctx context.Context, tc *task.Context) error {
	if t.notarizer == nil {
		return fmt.Errorf("no notarization service configured")
	}

	matches, err := filepath.Glob(filepath.Join(tc.OutputDir, "*-mac.zip"))
	if err != nil {
		return fmt.Errorf("locate mac artifact: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no *-mac.zip artifact found in %s", tc.OutputDir)
	}

	tc.Log.Info("submitting artifact for notarization", "artifact", filepath.Base(matches[0]))
	return t.notarizer.Notarize(ctx, matches[0], tc.Config)
}
