package builtin

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/packforge/packforge/internal/task"
	"github.com/packforge/packforge/internal/winpe"
	"github.com/packforge/packforge/internal/ziputil"
)

// SetExtendedMemoryLimitTask flips the large-address-aware flag on the
// Windows executables inside the packaged pc artifact, raising their
// addressable memory to 4 GB. This is a fixed-offset header patch, not a
// diff-based one, so it bypasses the patch engine.
type SetExtendedMemoryLimitTask struct {
	active bool
}

// NewSetExtendedMemoryLimitTask creates the task. It is inactive when the
// pc platform is not built this run.
func NewSetExtendedMemoryLimitTask(pcBuild bool) *SetExtendedMemoryLimitTask {
	return &SetExtendedMemoryLimitTask{active: pcBuild}
}

func (t *SetExtendedMemoryLimitTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:     task.DeriveName("SetExtendedMemoryLimitTask"),
		Priority: 0,
		Origin:   task.OriginBuiltin,
	}
}

// PostBuild patches the launcher, its windows copy and the interpreter
// executable inside the *-pc.zip artifact. Executables that already carry
// the flag are left alone.
func (t *SetExtendedMemoryLimitTask) PostBuild(ctx context.Context, tc *task.Context) error {
	if !t.active {
		tc.Log.Debug("pc platform not built, skipping")
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(tc.OutputDir, "*-pc.zip"))
	if err != nil {
		return fmt.Errorf("locate pc artifact: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no *-pc.zip artifact found in %s", tc.OutputDir)
	}
	artifact := matches[0]

	names, err := ziputil.ListMembers(artifact)
	if err != nil {
		return err
	}
	targets, err := findExecutables(names)
	if err != nil {
		return err
	}

	replacements := make(map[string][]byte)
	for _, name := range targets {
		image, err := ziputil.ReadMember(artifact, name)
		if err != nil {
			return err
		}
		patched, alreadySet, err := winpe.SetLargeAddressAware(image)
		if err != nil {
			return fmt.Errorf("patch %s: %w", name, err)
		}
		if alreadySet {
			tc.Log.Info("extended memory flag already set, skipping", "executable", name)
			continue
		}
		tc.Log.Info("setting extended memory flag", "executable", name)
		replacements[name] = patched
	}

	if err := ziputil.ReplaceMembers(artifact, replacements); err != nil {
		return fmt.Errorf("rewrite %s: %w", filepath.Base(artifact), err)
	}
	return nil
}

// findExecutables locates the three executables to patch: the top-level
// launcher, its copy under lib/windows-i686, and the interpreter there.
func findExecutables(names []string) ([]string, error) {
	root := strings.TrimSuffix(ziputil.CommonPrefix(names), "/")

	var mainExe string
	for _, name := range names {
		if len(strings.Split(name, "/")) == 2 && filepath.Ext(name) == ".exe" {
			mainExe = name
			break
		}
	}
	if mainExe == "" {
		return nil, fmt.Errorf("no top-level launcher executable found in artifact")
	}

	subExe := root + "/lib/windows-i686/" + filepath.Base(mainExe)
	interpExe := root + "/lib/windows-i686/pythonw.exe"

	var haveSub, haveInterp bool
	for _, name := range names {
		if name == subExe {
			haveSub = true
		}
		if name == interpExe {
			haveInterp = true
		}
	}
	if !haveSub || !haveInterp {
		return nil, fmt.Errorf("expected executables missing from artifact (sub=%v interpreter=%v)", haveSub, haveInterp)
	}

	return []string{mainExe, subExe, interpExe}, nil
}
