// Package sdk is the narrow boundary to the externally provisioned SDK the
// application is packaged with. packforge never installs or manages SDK
// versions itself; it reads and writes specific files inside an instance
// directory and shells out to the external manager CLI for packaging and
// cleanup.
package sdk

import (
	"context"
	"path/filepath"
)

// Instance is one installed SDK version's directory.
type Instance interface {
	// Root is the absolute path of the instance directory.
	Root() string

	// Version is the SDK version string of this instance.
	Version() string

	// Path joins a path relative to the instance root.
	Path(rel string) string
}

// Manager drives the external SDK manager CLI. Packaging commands and
// instance cleanup belong to the manager; packforge only sequences them.
type Manager interface {
	// Resolve locates the instance directory for a version. "latest"
	// resolves to the newest installed version.
	Resolve(ctx context.Context, version string) (Instance, error)

	// BuildAndroid produces the Android packages for a project into the
	// output directory.
	BuildAndroid(ctx context.Context, inst Instance, projectDir, outputDir string) error

	// BuildDesktop produces the desktop packages (any of "pc", "mac") for a
	// project into the output directory.
	BuildDesktop(ctx context.Context, inst Instance, projectDir, outputDir string, platforms []string) error

	// Clean removes build leftovers from the instance directory.
	Clean(ctx context.Context, inst Instance) error
}

type instance struct {
	root    string
	version string
}

// NewInstance wraps an instance directory and version.
func NewInstance(root, version string) Instance {
	return &instance{root: root, version: version}
}

func (i *instance) Root() string    { return i.root }
func (i *instance) Version() string { return i.version }

func (i *instance) Path(rel string) string {
	return filepath.Join(i.root, rel)
}
