package builtin

import (
	"context"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packforge/packforge/internal/sdk"
	"github.com/packforge/packforge/internal/task"
)

func TestKeystoreValidateConfigPrefersConfigOverEnv(t *testing.T) {
	t.Setenv(KeystoreEnvVar, base64.StdEncoding.EncodeToString([]byte("from-env")))

	kt := NewOverwriteKeystoreTask()
	normalized, err := kt.ValidateConfig(map[string]any{
		"keystore": base64.StdEncoding.EncodeToString([]byte("from-config")),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("from-config"), normalized["keystore"])
}

func TestKeystoreValidateConfigFallsBackToEnv(t *testing.T) {
	t.Setenv(KeystoreEnvVar, base64.StdEncoding.EncodeToString([]byte("from-env")))

	kt := NewOverwriteKeystoreTask()
	normalized, err := kt.ValidateConfig(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, []byte("from-env"), normalized["keystore"])
}

func TestKeystoreValidateConfigMissingEverywhere(t *testing.T) {
	t.Setenv(KeystoreEnvVar, "")

	kt := NewOverwriteKeystoreTask()
	_, err := kt.ValidateConfig(map[string]any{})
	var cve *task.ConfigValidationError
	require.ErrorAs(t, err, &cve)
	assert.Equal(t, "overwrite_keystore", cve.Task)
	assert.Contains(t, cve.Reason, KeystoreEnvVar)
}

func TestKeystoreValidateConfigRejectsBadBase64(t *testing.T) {
	kt := NewOverwriteKeystoreTask()
	_, err := kt.ValidateConfig(map[string]any{"keystore": "not/valid base64!!"})
	var cve *task.ConfigValidationError
	require.ErrorAs(t, err, &cve)
	assert.Contains(t, cve.Reason, "base64")
}

func TestKeystorePreBuildWritesDecodedPayload(t *testing.T) {
	sdkRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sdkRoot, "packaging"), 0o755))

	kt := NewOverwriteKeystoreTask()
	tc := &task.Context{
		SDK:    sdk.NewInstance(sdkRoot, "1.0.0"),
		Config: map[string]any{"keystore": []byte("keystore-bytes")},
		Stage:  task.StagePreBuild,
		Log:    slog.Default(),
	}
	require.NoError(t, kt.PreBuild(context.Background(), tc))

	written, err := os.ReadFile(filepath.Join(sdkRoot, "packaging", "android.keystore"))
	require.NoError(t, err)
	assert.Equal(t, []byte("keystore-bytes"), written)
}

func TestKeystoreAffectedFilesDeclared(t *testing.T) {
	kt := NewOverwriteKeystoreTask()
	desc := kt.Descriptor()
	assert.Equal(t, "overwrite_keystore", desc.Name)
	assert.Equal(t, []string{"packaging/android.keystore"}, desc.AffectedFiles)
}
