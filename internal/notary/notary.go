// Package notary is the boundary to the external signing and notarization
// service. The workflow itself (submit, poll, staple) is owned by an
// external tool; packforge only hands it the artifact and its configuration.
package notary

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Notarizer submits a packaged artifact for notarization and blocks until
// the service accepts or rejects it.
type Notarizer interface {
	Notarize(ctx context.Context, artifactPath string, config map[string]any) error
}

// ExecNotarizer implements Notarizer by invoking an external notarization
// CLI with a staged YAML configuration file.
type ExecNotarizer struct {
	binary string
	log    *slog.Logger
}

// NewExecNotarizer creates a notarizer for the given CLI binary.
func NewExecNotarizer(binary string, log *slog.Logger) *ExecNotarizer {
	if log == nil {
		log = slog.Default()
	}
	return &ExecNotarizer{binary: binary, log: log}
}

// Available reports whether the notarization CLI can be invoked.
func (n *ExecNotarizer) Available(ctx context.Context) bool {
	return exec.CommandContext(ctx, n.binary, "--help").Run() == nil
}

// Notarize writes the task's config subsection to a temporary YAML file and
// runs the external tool's full submit-poll-staple flow against the
// artifact. The staged config is removed afterwards.
func (n *ExecNotarizer) Notarize(ctx context.Context, artifactPath string, config map[string]any) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal notarization config: %w", err)
	}

	dir, err := os.MkdirTemp("", "packforge-notary-*")
	if err != nil {
		return fmt.Errorf("stage notarization config: %w", err)
	}
	defer os.RemoveAll(dir)

	cfgPath := filepath.Join(dir, "notary.yml")
	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("stage notarization config: %w", err)
	}

	cmd := exec.CommandContext(ctx, n.binary, "-c", cfgPath, artifactPath, "full-run")
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("pipe %s: %w", n.binary, err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return fmt.Errorf("start %s: %w", n.binary, err)
	}
	_ = pw.Close()

	scanner := bufio.NewScanner(pr)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			n.log.Debug(line, "cmd", n.binary)
		}
	}
	_ = pr.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("notarize %s: %w", filepath.Base(artifactPath), err)
	}
	return nil
}
