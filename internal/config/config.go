// Package config loads and validates the packforge configuration document.
// The document has fixed sections for the build platforms, the SDK and the
// task selection; every other top-level key is an opaque per-task
// configuration subsection owned by the task of the same name.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// reserved names the fixed top-level sections; everything else is a task
// subsection.
var reserved = map[string]bool{
	"build":  true,
	"sdk":    true,
	"tasks":  true,
	"events": true,
	"notary": true,
}

// Config is the full packforge configuration for one run.
type Config struct {
	Build  BuildConfig  `yaml:"build"`
	SDK    SDKConfig    `yaml:"sdk"`
	Tasks  TasksConfig  `yaml:"tasks"`
	Events EventsConfig `yaml:"events"`
	Notary NotaryConfig `yaml:"notary"`

	// Sections holds the raw per-task configuration subsections keyed by
	// task name. The core never interprets them; each task validates its
	// own.
	Sections map[string]map[string]any `yaml:"-"`
}

// BuildConfig selects the platforms to package. Every platform defaults to
// enabled.
type BuildConfig struct {
	PC      *bool `yaml:"pc"`
	Mac     *bool `yaml:"mac"`
	Android *bool `yaml:"android"`
}

// PCEnabled reports whether the pc platform is built.
func (b BuildConfig) PCEnabled() bool { return b.PC == nil || *b.PC }

// MacEnabled reports whether the mac platform is built.
func (b BuildConfig) MacEnabled() bool { return b.Mac == nil || *b.Mac }

// AndroidEnabled reports whether the android platform is built.
func (b BuildConfig) AndroidEnabled() bool { return b.Android == nil || *b.Android }

// SDKConfig identifies the SDK instance and the external manager CLI.
type SDKConfig struct {
	// Version selects the SDK version; "latest" resolves to the newest
	// installed one.
	Version string `yaml:"version"`

	// Registry optionally overrides the manager's version registry.
	Registry string `yaml:"registry"`

	// Manager is the manager CLI binary name.
	Manager string `yaml:"manager"`
}

// TasksConfig holds the custom task directory and the per-task enable
// flags. The flags share the section with the path key, so it decodes by
// hand.
type TasksConfig struct {
	// Path optionally points at a directory (or git URL) of task
	// manifests.
	Path string

	// Enabled maps task names to their enable flag.
	Enabled map[string]bool
}

// UnmarshalYAML decodes the mixed tasks section: "path" is a string, every
// other key must be a boolean enable flag.
func (t *TasksConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return err
	}

	t.Enabled = make(map[string]bool)
	for key, v := range raw {
		if key == "path" {
			if v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("tasks.path must be a string, got %v", v)
			}
			t.Path = s
			continue
		}
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("tasks.%s must be true or false, got %v", key, v)
		}
		t.Enabled[key] = b
	}
	return nil
}

// EventsConfig optionally mirrors pipeline events to a NATS subject.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// NotaryConfig names the external notarization CLI.
type NotaryConfig struct {
	Binary string `yaml:"binary"`
}

// Load reads, expands and validates the configuration file. Environment
// variables are loaded from .env files first (existing env wins), then
// expanded inside the document, so secrets never need to live in it.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Collect the task subsections: every unreserved top-level mapping.
	var all map[string]any
	if err := yaml.Unmarshal([]byte(expanded), &all); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Sections = make(map[string]map[string]any)
	for key, v := range all {
		if reserved[key] {
			continue
		}
		section, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("section %q must be a mapping", key)
		}
		cfg.Sections[key] = section
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SDK.Version == "" {
		c.SDK.Version = "latest"
	}
	if c.SDK.Manager == "" {
		c.SDK.Manager = "sdkctl"
	}
	if c.Notary.Binary == "" {
		c.Notary.Binary = "notarize-tool"
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "packforge.events"
	}
	if c.Tasks.Enabled == nil {
		c.Tasks.Enabled = make(map[string]bool)
	}
	if c.Tasks.Path != "" {
		c.Tasks.Path = expandUser(c.Tasks.Path)
	}
}

// StateDir returns the directory for the history database and source
// cache, creating it if needed.
func StateDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		base = "."
	}
	dir := filepath.Join(base, "packforge")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}

func expandUser(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
