package builtin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packforge/packforge/internal/sdk"
	"github.com/packforge/packforge/internal/task"
)

// fakeNotarizer records the artifact it was handed.
type fakeNotarizer struct {
	artifact string
	config   map[string]any
}

func (f *fakeNotarizer) Notarize(ctx context.Context, artifactPath string, config map[string]any) error {
	f.artifact = artifactPath
	f.config = config
	return nil
}

func TestNotarizeSubmitsMacArtifact(t *testing.T) {
	outputDir := t.TempDir()
	artifact := filepath.Join(outputDir, "app-1.0-mac.zip")
	require.NoError(t, os.WriteFile(artifact, []byte("zip"), 0o644))

	fake := &fakeNotarizer{}
	nt := NewNotarizeTask(fake)
	tc := &task.Context{
		OutputDir: outputDir,
		SDK:       sdk.NewInstance(t.TempDir(), "1.0.0"),
		Config:    map[string]any{"bundle_id": "com.example.app"},
		Stage:     task.StagePostBuild,
		Log:       slog.Default(),
	}
	require.NoError(t, nt.PostBuild(context.Background(), tc))
	assert.Equal(t, artifact, fake.artifact)
	assert.Equal(t, "com.example.app", fake.config["bundle_id"])
}

func TestNotarizeMissingArtifactFails(t *testing.T) {
	nt := NewNotarizeTask(&fakeNotarizer{})
	tc := &task.Context{
		OutputDir: t.TempDir(),
		SDK:       sdk.NewInstance(t.TempDir(), "1.0.0"),
		Stage:     task.StagePostBuild,
		Log:       slog.Default(),
	}
	assert.Error(t, nt.PostBuild(context.Background(), tc))
}

func TestFactoriesDeclarationOrder(t *testing.T) {
	factories := Factories(Deps{})
	var names []string
	for _, factory := range factories {
		names = append(names, factory().Descriptor().Name)
	}
	assert.Equal(t, []string{
		"patch",
		"overwrite_keystore",
		"set_extended_memory_limit",
		"notarize",
		"clean",
	}, names)
}
