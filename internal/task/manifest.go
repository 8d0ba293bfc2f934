package task

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk definition of a user-supplied task. Each YAML
// file in the tasks directory declares one task: a type name ending in
// "Task" (the registry key derives from it exactly like a built-in's),
// scheduling metadata and the exec hooks to run per stage.
type Manifest struct {
	// Type is the task's type name, e.g. "OptimizeImagesTask".
	Type string `yaml:"type"`

	// Priority orders the task within a stage; higher runs earlier.
	Priority int `yaml:"priority"`

	// AffectedFiles lists SDK-relative paths the hooks may mutate.
	AffectedFiles []string `yaml:"affected_files"`

	// Hooks holds one argv per stage. At least one must be present.
	Hooks ManifestHooks `yaml:"hooks"`

	// Config optionally constrains the task's configuration subsection.
	Config *ManifestSchema `yaml:"config"`
}

// ManifestHooks are the per-stage commands of a manifest task.
type ManifestHooks struct {
	PreBuild  []string `yaml:"pre_build"`
	PostBuild []string `yaml:"post_build"`
}

// ManifestSchema is the declarative config validation of a manifest task:
// required keys must be present in the task's subsection, defaults fill in
// missing keys.
type ManifestSchema struct {
	Required []string       `yaml:"required"`
	Defaults map[string]any `yaml:"defaults"`
}

// LoadManifests scans dir for task manifests (*.yaml, *.yml) in
// lexicographic file order. A manifest whose type name does not end in
// "Task" or that declares no hook is a discovery error naming the file and
// type.
func LoadManifests(dir string) ([]Task, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &DiscoveryError{Source: dir, Reason: fmt.Sprintf("read tasks directory: %v", err)}
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)

	var tasks []Task
	for _, file := range files {
		t, err := loadManifest(file)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func loadManifest(path string) (Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DiscoveryError{Source: path, Reason: fmt.Sprintf("read manifest: %v", err)}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &DiscoveryError{Source: path, Reason: fmt.Sprintf("parse manifest: %v", err)}
	}

	if m.Type == "" {
		return nil, &DiscoveryError{Source: path, Reason: "manifest has no type"}
	}
	if !strings.HasSuffix(m.Type, typeSuffix) {
		return nil, &DiscoveryError{Source: path, Reason: fmt.Sprintf("type %q does not end in %q", m.Type, typeSuffix)}
	}

	name := DeriveName(m.Type)
	if name == "" {
		return nil, &DiscoveryError{Source: path, Reason: fmt.Sprintf("type %q derives an empty task name", m.Type)}
	}

	base := &execTask{
		desc: Descriptor{
			Name:          name,
			Priority:      m.Priority,
			AffectedFiles: m.AffectedFiles,
			Origin:        OriginManifest,
			Source:        path,
		},
		hooks:  m.Hooks,
		schema: m.Config,
	}

	switch {
	case len(m.Hooks.PreBuild) > 0 && len(m.Hooks.PostBuild) > 0:
		return &duplexExecTask{base}, nil
	case len(m.Hooks.PreBuild) > 0:
		return &preBuildExecTask{base}, nil
	case len(m.Hooks.PostBuild) > 0:
		return &postBuildExecTask{base}, nil
	default:
		return nil, &DiscoveryError{
			Name:   name,
			Source: path,
			Reason: fmt.Sprintf("type %q defines neither a pre-build nor a post-build hook", m.Type),
		}
	}
}

// execTask runs manifest-declared commands with the task's configuration
// and pipeline paths exported in the environment. The wrapper types below
// expose only the hooks a manifest actually declares, so capability
// detection by interface assertion matches the manifest contents.
type execTask struct {
	desc   Descriptor
	hooks  ManifestHooks
	schema *ManifestSchema
}

func (t *execTask) Descriptor() Descriptor { return t.desc }

// ValidateConfig applies the manifest's declarative schema: defaults for
// missing keys, then required-key checks.
func (t *execTask) ValidateConfig(raw map[string]any) (map[string]any, error) {
	normalized := make(map[string]any, len(raw))
	for k, v := range raw {
		normalized[k] = v
	}
	if t.schema == nil {
		return normalized, nil
	}
	for k, v := range t.schema.Defaults {
		if _, ok := normalized[k]; !ok {
			normalized[k] = v
		}
	}
	for _, key := range t.schema.Required {
		if _, ok := normalized[key]; !ok {
			return nil, &ConfigValidationError{
				Task:   t.desc.Name,
				Reason: fmt.Sprintf("field %q missing", key),
			}
		}
	}
	return normalized, nil
}

func (t *execTask) runHook(ctx context.Context, tc *Context, argv []string) error {
	cfgJSON, err := json.Marshal(tc.Config)
	if err != nil {
		return fmt.Errorf("encode task config: %w", err)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = tc.ProjectDir
	cmd.Env = append(os.Environ(),
		"PACKFORGE_TASK="+t.desc.Name,
		"PACKFORGE_STAGE="+string(tc.Stage),
		"PACKFORGE_PROJECT_DIR="+tc.ProjectDir,
		"PACKFORGE_OUTPUT_DIR="+tc.OutputDir,
		"PACKFORGE_SDK_DIR="+tc.SDK.Root(),
		"PACKFORGE_CONFIG="+string(cfgJSON),
	)

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("pipe hook output: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return fmt.Errorf("start hook %q: %w", argv[0], err)
	}
	_ = pw.Close()

	scanner := bufio.NewScanner(pr)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			tc.Log.Debug(line, "hook", argv[0])
		}
	}
	_ = pr.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("hook %q: %w", strings.Join(argv, " "), err)
	}
	return nil
}

type preBuildExecTask struct{ *execTask }

func (t *preBuildExecTask) PreBuild(ctx context.Context, tc *Context) error {
	return t.runHook(ctx, tc, t.hooks.PreBuild)
}

type postBuildExecTask struct{ *execTask }

func (t *postBuildExecTask) PostBuild(ctx context.Context, tc *Context) error {
	return t.runHook(ctx, tc, t.hooks.PostBuild)
}

type duplexExecTask struct{ *execTask }

func (t *duplexExecTask) PreBuild(ctx context.Context, tc *Context) error {
	return t.runHook(ctx, tc, t.hooks.PreBuild)
}

func (t *duplexExecTask) PostBuild(ctx context.Context, tc *Context) error {
	return t.runHook(ctx, tc, t.hooks.PostBuild)
}
