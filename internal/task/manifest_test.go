package task

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packforge/packforge/internal/sdk"
)

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadManifestsLexicographicOrder(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "b.yaml", "type: BetaTask\nhooks:\n  pre_build: [\"true\"]\n")
	writeManifest(t, dir, "a.yaml", "type: AlphaTask\nhooks:\n  pre_build: [\"true\"]\n")
	writeManifest(t, dir, "notes.txt", "not a manifest")

	tasks, err := LoadManifests(dir)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "alpha", tasks[0].Descriptor().Name)
	assert.Equal(t, "beta", tasks[1].Descriptor().Name)
}

func TestLoadManifestRejectsBadType(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "bad.yaml", "type: NotASuffix\nhooks:\n  pre_build: [\"true\"]\n")

	_, err := LoadManifests(dir)
	var de *DiscoveryError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Reason, "NotASuffix")
}

func TestLoadManifestRejectsMissingHooks(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "nohooks.yaml", "type: IdleTask\npriority: 5\n")

	_, err := LoadManifests(dir)
	var de *DiscoveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "idle", de.Name)
}

func TestManifestCapabilityMatchesDeclaredHooks(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "pre.yaml", "type: PreOnlyTask\nhooks:\n  pre_build: [\"true\"]\n")
	writeManifest(t, dir, "post.yaml", "type: PostOnlyTask\nhooks:\n  post_build: [\"true\"]\n")
	writeManifest(t, dir, "both.yaml", "type: BothTask\nhooks:\n  pre_build: [\"true\"]\n  post_build: [\"true\"]\n")

	tasks, err := LoadManifests(dir)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	byName := make(map[string]Task)
	for _, task := range tasks {
		byName[task.Descriptor().Name] = task
	}

	assert.True(t, HasStage(byName["pre_only"], StagePreBuild))
	assert.False(t, HasStage(byName["pre_only"], StagePostBuild))
	assert.False(t, HasStage(byName["post_only"], StagePreBuild))
	assert.True(t, HasStage(byName["post_only"], StagePostBuild))
	assert.True(t, HasStage(byName["both"], StagePreBuild))
	assert.True(t, HasStage(byName["both"], StagePostBuild))
}

func TestManifestSchemaValidation(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "strict.yaml", `type: StrictTask
hooks:
  pre_build: ["true"]
config:
  required: [token]
  defaults:
    region: eu-west-1
`)

	tasks, err := LoadManifests(dir)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	validator, ok := tasks[0].(ConfigValidator)
	require.True(t, ok)

	_, err = validator.ValidateConfig(map[string]any{})
	var cve *ConfigValidationError
	require.ErrorAs(t, err, &cve)
	assert.Equal(t, "strict", cve.Task)

	normalized, err := validator.ValidateConfig(map[string]any{"token": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", normalized["region"])
	assert.Equal(t, "abc", normalized["token"])
}

func TestManifestHookRunsWithEnvironment(t *testing.T) {
	dir := t.TempDir()
	project := t.TempDir()
	outFile := filepath.Join(project, "env.txt")

	writeManifest(t, dir, "env.yaml", `type: EnvProbeTask
hooks:
  pre_build: ["sh", "-c", "echo $PACKFORGE_TASK:$PACKFORGE_STAGE > env.txt"]
`)

	tasks, err := LoadManifests(dir)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	pre, ok := tasks[0].(PreBuilder)
	require.True(t, ok)

	tc := &Context{
		ProjectDir: project,
		OutputDir:  t.TempDir(),
		SDK:        sdk.NewInstance(t.TempDir(), "1.0.0"),
		Config:     map[string]any{"key": "value"},
		Stage:      StagePreBuild,
		Log:        slog.Default(),
	}
	require.NoError(t, pre.PreBuild(context.Background(), tc))

	content, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "env_probe:pre-build\n", string(content))
}

func TestManifestHookFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "fail.yaml", "type: FailTask\nhooks:\n  pre_build: [\"false\"]\n")

	tasks, err := LoadManifests(dir)
	require.NoError(t, err)

	pre := tasks[0].(PreBuilder)
	tc := &Context{
		ProjectDir: t.TempDir(),
		OutputDir:  t.TempDir(),
		SDK:        sdk.NewInstance(t.TempDir(), "1.0.0"),
		Stage:      StagePreBuild,
		Log:        slog.Default(),
	}
	assert.Error(t, pre.PreBuild(context.Background(), tc))
}
