package sdk

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// ExecManager implements Manager by shelling out to the SDK manager CLI.
// The binary name and registry are configured, not hardcoded.
type ExecManager struct {
	binary   string
	registry string
	log      *slog.Logger
}

// NewExecManager creates a manager for the given CLI binary. registry may be
// empty to use the manager's default.
func NewExecManager(binary, registry string, log *slog.Logger) *ExecManager {
	if log == nil {
		log = slog.Default()
	}
	return &ExecManager{binary: binary, registry: registry, log: log}
}

// Available reports whether the manager CLI can be invoked.
func (m *ExecManager) Available(ctx context.Context) bool {
	return exec.CommandContext(ctx, m.binary, "--help").Run() == nil
}

func (m *ExecManager) args(rest ...string) []string {
	var args []string
	if m.registry != "" {
		args = append(args, "-r", m.registry)
	}
	return append(args, rest...)
}

// Resolve locates the instance directory for a version by asking the
// manager CLI. "latest" picks the newest version the manager knows about.
func (m *ExecManager) Resolve(ctx context.Context, version string) (Instance, error) {
	if version == "" || version == "latest" {
		out, err := exec.CommandContext(ctx, m.binary, m.args("list", "--all")...).Output()
		if err != nil {
			return nil, fmt.Errorf("list sdk versions: %w", err)
		}
		lines := nonEmptyLines(string(out))
		if len(lines) == 0 {
			return nil, fmt.Errorf("sdk manager reported no available versions")
		}
		version = lines[0]
	}

	out, err := exec.CommandContext(ctx, m.binary, m.args("show", version)...).Output()
	if err != nil {
		return nil, fmt.Errorf("show sdk %s: %w", version, err)
	}
	for _, line := range nonEmptyLines(string(out)) {
		if rest, ok := strings.CutPrefix(line, "Install Location:"); ok {
			return NewInstance(strings.TrimSpace(rest), version), nil
		}
	}
	return nil, fmt.Errorf("sdk %s: install location not reported by manager", version)
}

// BuildAndroid produces the Android packages for a project.
func (m *ExecManager) BuildAndroid(ctx context.Context, inst Instance, projectDir, outputDir string) error {
	args := m.args("launch", inst.Version(), "-h", "android_build",
		projectDir, "assembleRelease", "--destination", outputDir)
	return m.run(ctx, args)
}

// BuildDesktop produces the desktop packages for a project.
func (m *ExecManager) BuildDesktop(ctx context.Context, inst Instance, projectDir, outputDir string, platforms []string) error {
	args := m.args("launch", inst.Version(), "-h", "distribute",
		projectDir, "--destination", outputDir)
	for _, p := range platforms {
		args = append(args, "--package", p)
	}
	return m.run(ctx, args)
}

// Clean removes build leftovers from the instance directory.
func (m *ExecManager) Clean(ctx context.Context, inst Instance) error {
	return m.run(ctx, m.args("clean", inst.Version()))
}

// run executes the manager CLI, streaming its combined output to the debug
// log line by line.
func (m *ExecManager) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, m.binary, args...)
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("pipe %s: %w", m.binary, err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return fmt.Errorf("start %s: %w", m.binary, err)
	}
	_ = pw.Close() // child keeps its own copy

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			m.log.Debug(line, "cmd", m.binary)
		}
	}
	_ = pr.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s %s: %w", m.binary, strings.Join(args, " "), err)
	}
	return nil
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
