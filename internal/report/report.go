// Package report renders a per-run build report. The report is composed as
// Markdown and converted to a standalone HTML page.
package report

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/packforge/packforge/internal/pipeline"
	"github.com/packforge/packforge/internal/task"
)

// Report describes one finished run.
type Report struct {
	RunID      string
	ProjectDir string
	OutputDir  string
	SDKVersion string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string
	Results    []pipeline.TaskResult
	Artifacts  []string
}

// DisplayName turns a registry name like "set_extended_memory_limit" into a
// human-readable heading. Casers are stateful, so one is created per call.
func DisplayName(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}

// Markdown renders the report as a Markdown document.
func (r *Report) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Build Report\n\n")
	fmt.Fprintf(&b, "- **Run:** `%s`\n", r.RunID)
	fmt.Fprintf(&b, "- **Project:** `%s`\n", r.ProjectDir)
	fmt.Fprintf(&b, "- **SDK version:** %s\n", r.SDKVersion)
	fmt.Fprintf(&b, "- **Started:** %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Duration:** %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "- **Outcome:** %s\n\n", r.Outcome)

	for _, stage := range []task.Stage{task.StagePreBuild, task.StagePostBuild} {
		results := r.stageResults(stage)
		if len(results) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s Tasks\n\n", DisplayName(string(stage)))
		fmt.Fprintf(&b, "| Task | Duration | Result |\n")
		fmt.Fprintf(&b, "| --- | --- | --- |\n")
		for _, res := range results {
			outcome := "ok"
			if res.Err != nil {
				outcome = fmt.Sprintf("failed: %s", res.Err)
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n",
				DisplayName(res.Name), res.Duration.Round(time.Millisecond), outcome)
		}
		fmt.Fprintf(&b, "\n")
	}

	if len(r.Artifacts) > 0 {
		fmt.Fprintf(&b, "## Artifacts\n\n")
		for _, a := range r.Artifacts {
			fmt.Fprintf(&b, "- `%s`\n", a)
		}
		fmt.Fprintf(&b, "\n")
	}

	return b.String()
}

func (r *Report) stageResults(stage task.Stage) []pipeline.TaskResult {
	var out []pipeline.TaskResult
	for _, res := range r.Results {
		if res.Stage == stage {
			out = append(out, res)
		}
	}
	return out
}

// HTML converts the Markdown report into a complete HTML page.
func (r *Report) HTML() ([]byte, error) {
	md := goldmark.New(
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)
	var body bytes.Buffer
	if err := md.Convert([]byte(r.Markdown()), &body); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&page, "<title>Build Report %s</title>\n", html.EscapeString(r.RunID))
	page.WriteString("<style>body{font-family:sans-serif;max-width:60rem;margin:2rem auto;padding:0 1rem}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.3rem .6rem}code{background:#f4f4f4;padding:.1rem .3rem}</style>\n")
	page.WriteString("</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}

// Write renders the HTML report into the output directory and returns the
// written path.
func (r *Report) Write() (string, error) {
	out, err := r.HTML()
	if err != nil {
		return "", err
	}
	path := filepath.Join(r.OutputDir, fmt.Sprintf("build-report-%s.html", r.RunID))
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("write report %s: %w", path, err)
	}
	return path, nil
}

// CollectArtifacts lists the distributable files present in the output
// directory, relative to it.
func CollectArtifacts(outputDir string) []string {
	var artifacts []string
	for _, pattern := range []string{"*.zip", "*.apk", "*.aab", "*.tar.bz2"} {
		matches, err := filepath.Glob(filepath.Join(outputDir, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			artifacts = append(artifacts, filepath.Base(m))
		}
	}
	return artifacts
}
