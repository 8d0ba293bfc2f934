package builtin

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"

	"github.com/packforge/packforge/internal/task"
)

// keystoreConfig is the typed view of the task's subsection.
type keystoreConfig struct {
	Keystore string `mapstructure:"keystore"`
}

// KeystoreEnvVar supplies the keystore payload when the config field is not
// set. The config field wins when both are given.
const KeystoreEnvVar = "PACKFORGE_KEYSTORE"

// keystorePath is the fixed file inside the SDK's packaging subsystem that
// the task replaces.
const keystorePath = "packaging/android.keystore"

// OverwriteKeystoreTask replaces the SDK's default signing keystore with a
// caller-supplied one before the Android packaging step.
type OverwriteKeystoreTask struct{}

// NewOverwriteKeystoreTask creates the keystore task.
func NewOverwriteKeystoreTask() *OverwriteKeystoreTask {
	return &OverwriteKeystoreTask{}
}

func (t *OverwriteKeystoreTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:          task.DeriveName("OverwriteKeystoreTask"),
		Priority:      0,
		AffectedFiles: []string{keystorePath},
		Origin:        task.OriginBuiltin,
	}
}

// ValidateConfig resolves the base64 keystore payload from the config field
// or the environment and decodes it. An enabled task without either source
// is a configuration error.
func (t *OverwriteKeystoreTask) ValidateConfig(raw map[string]any) (map[string]any, error) {
	var kc keystoreConfig
	if err := mapstructure.Decode(raw, &kc); err != nil {
		return nil, &task.ConfigValidationError{Task: "overwrite_keystore", Reason: "decode config", Cause: err}
	}

	encoded := kc.Keystore
	if encoded == "" {
		encoded = os.Getenv(KeystoreEnvVar)
	}
	if encoded == "" {
		return nil, &task.ConfigValidationError{
			Task: "overwrite_keystore",
			Reason: fmt.Sprintf(
				"no keystore specified; set the \"keystore\" config option or the %s environment variable",
				KeystoreEnvVar,
			),
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &task.ConfigValidationError{Task: "overwrite_keystore", Reason: "keystore is not valid base64", Cause: err}
	}

	normalized := make(map[string]any, len(raw))
	for k, v := range raw {
		normalized[k] = v
	}
	normalized["keystore"] = decoded
	return normalized, nil
}

// PreBuild writes the decoded keystore over the SDK's default. The path is
// declared in AffectedFiles, so the scheduler has already captured its
// baseline and restored it.
func (t *OverwriteKeystoreTask) PreBuild(ctx context.Context, tc *task.Context) error {
	payload, ok := tc.Config["keystore"].([]byte)
	if !ok {
		return fmt.Errorf("keystore config was not validated")
	}

	tc.Log.Info("overwriting default keystore")
	target := tc.SDK.Path(keystorePath)
	if err := os.WriteFile(target, payload, 0o600); err != nil {
		return fmt.Errorf("write keystore %s: %w", target, err)
	}
	return nil
}
