// Package fetch resolves patch-set and task-manifest sources. A source is
// either a local directory, which passes through unchanged, or a git URL,
// which is cloned shallowly into a cache directory and refreshed on each
// resolve.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
)

// Resolver resolves sources into local directories.
type Resolver struct {
	cacheDir string
	log      *slog.Logger
}

// NewResolver creates a resolver that clones remote sources under cacheDir.
func NewResolver(cacheDir string, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{cacheDir: cacheDir, log: log}
}

// IsRemote reports whether the source looks like a git URL rather than a
// local path.
func IsRemote(source string) bool {
	return strings.HasPrefix(source, "https://") ||
		strings.HasPrefix(source, "http://") ||
		strings.HasPrefix(source, "git@") ||
		strings.HasPrefix(source, "ssh://")
}

// Resolve returns a local directory for the source. Local paths are
// required to exist; remote sources are cloned (or updated) in the cache.
func (r *Resolver) Resolve(ctx context.Context, source string) (string, error) {
	if !IsRemote(source) {
		info, err := os.Stat(source)
		if err != nil {
			return "", fmt.Errorf("source %s: %w", source, err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("source %s is not a directory", source)
		}
		return source, nil
	}
	return r.clone(ctx, source)
}

func (r *Resolver) clone(ctx context.Context, url string) (string, error) {
	sum := sha256.Sum256([]byte(url))
	dest := filepath.Join(r.cacheDir, hex.EncodeToString(sum[:8]))

	if _, err := os.Stat(filepath.Join(dest, ".git")); err == nil {
		repo, err := git.PlainOpen(dest)
		if err == nil {
			wt, werr := repo.Worktree()
			if werr == nil {
				perr := wt.PullContext(ctx, &git.PullOptions{})
				if perr == nil || perr == git.NoErrAlreadyUpToDate {
					r.log.Debug("updated cached source", "url", url, "path", dest)
					return dest, nil
				}
			}
		}
		// Cache is unusable; re-clone from scratch.
		r.log.Warn("discarding stale source cache", "url", url, "path", dest)
		if err := os.RemoveAll(dest); err != nil {
			return "", fmt.Errorf("clear source cache %s: %w", dest, err)
		}
	}

	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	r.log.Info("cloning source", "url", url, "path", dest)
	_, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
	})
	if err != nil {
		return "", fmt.Errorf("clone %s: %w", url, err)
	}
	return dest, nil
}
