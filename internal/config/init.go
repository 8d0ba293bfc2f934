package config

import (
	"fmt"
	"os"
)

// exampleConfig is the scaffold written by `packforge init`.
const exampleConfig = `# packforge configuration
build:
  pc: true
  mac: true
  android: true

sdk:
  version: latest
  manager: sdkctl
  # registry: https://sdk.example.com

tasks:
  # path: ./tasks          # directory of custom task manifests
  patch: true
  overwrite_keystore: false
  set_extended_memory_limit: true
  notarize: false
  clean: true

patch:
  path: ./patches

# overwrite_keystore:
#   keystore: ${PACKFORGE_KEYSTORE}

# notarize:
#   bundle_id: com.example.app
#   apple_id: dev@example.com

# events:
#   nats_url: nats://localhost:4222
#   subject: packforge.events
`

// Init writes an example configuration file. It refuses to overwrite an
// existing file unless force is set.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
