package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packforge/packforge/internal/config"
	"github.com/packforge/packforge/internal/fetch"
)

func testEnvironment(t *testing.T, tasksPath string) *environment {
	t.Helper()
	return &environment{
		cfg:      &config.Config{Tasks: config.TasksConfig{Path: tasksPath}},
		resolver: fetch.NewResolver(filepath.Join(t.TempDir(), "sources"), nil),
	}
}

func TestTasksDirWithoutConfiguredPath(t *testing.T) {
	dir, err := testEnvironment(t, "").tasksDir(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dir)
}

func TestTasksDirLocalDirectory(t *testing.T) {
	local := t.TempDir()
	dir, err := testEnvironment(t, local).tasksDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, local, dir)
}

// The configured source goes through the resolver, so a bad path surfaces
// as a resolver error rather than a manifest-scan failure on the raw value.
func TestTasksDirMissingDirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent")
	_, err := testEnvironment(t, missing).tasksDir(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve tasks source")
	assert.Contains(t, err.Error(), missing)
}
