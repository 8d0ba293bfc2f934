// Package patch applies directory-mirrored patch sets to baseline SDK files.
// A patch set is a directory tree of diff-match-patch text files whose
// relative paths mirror the target files inside the SDK instance directory.
// The whole set applies as one transaction: outputs are staged in memory and
// flushed only after every patch file has computed its result, so a mid-set
// failure leaves every target at its baseline.
package patch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/packforge/packforge/internal/backup"
)

// DefaultMatchThreshold bounds fuzzy context matching. 0 requires exact
// context, 1 matches anything; the default mirrors diff-match-patch.
const DefaultMatchThreshold = 0.5

// PatchApplyError reports a patch file that could not be applied: the target
// is missing or binary, the patch text is malformed, or a hunk could not be
// located within the fuzzy tolerance. Any PatchApplyError aborts the entire
// set with rollback to baseline.
type PatchApplyError struct {
	Path   string // patch file path relative to the set root
	Reason string
	Cause  error
}

func (e *PatchApplyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("patch %s: %s: %v", e.Path, e.Reason, e.Cause)
	}
	return fmt.Sprintf("patch %s: %s", e.Path, e.Reason)
}

func (e *PatchApplyError) Unwrap() error { return e.Cause }

// Record remembers the patch content last successfully applied to a target,
// so unchanged sets can be short-circuited. Records are an optimization
// only; correctness never depends on them.
type Record struct {
	Path        string
	Fingerprint string // sha256 of the patch text
	OutputHash  string // sha256 of the patched output
	AppliedAt   time.Time
}

// RecordStore persists patch records keyed by target path. Implementations
// must return (nil, nil) when no record exists.
type RecordStore interface {
	GetPatchRecord(ctx context.Context, path string) (*Record, error)
	PutPatchRecord(ctx context.Context, rec Record) error
}

// Observer receives patch engine outcomes for metrics.
type Observer interface {
	AddPatchesApplied(n int)
	IncPatchRollbacks()
}

// Engine applies patch sets against a backup store's SDK instance.
type Engine struct {
	backups   *backup.Store
	records   RecordStore
	threshold float64
	observer  Observer
	log       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecords attaches a record store enabling the unchanged-patch
// short-circuit.
func WithRecords(rs RecordStore) Option {
	return func(e *Engine) { e.records = rs }
}

// WithMatchThreshold overrides the fuzzy match tolerance.
func WithMatchThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// WithLogger overrides the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine creates an engine scoped to the backup store's instance
// directory.
func NewEngine(backups *backup.Store, opts ...Option) *Engine {
	e := &Engine{
		backups:   backups,
		threshold: DefaultMatchThreshold,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// staged is one computed patch result awaiting flush.
type staged struct {
	rel         string
	target      string
	output      []byte
	mode        fs.FileMode
	fingerprint string
	outputHash  string
	skipped     bool
}

// ApplySet applies every patch file under setRoot to its mirrored target
// inside the SDK instance directory. It returns the number of targets at
// their patched state (including short-circuited no-ops). An empty patch
// directory is a successful no-op.
func (e *Engine) ApplySet(ctx context.Context, setRoot string) (int, error) {
	files, err := enumerate(setRoot)
	if err != nil {
		return 0, fmt.Errorf("enumerate patch set %s: %w", setRoot, err)
	}
	if len(files) == 0 {
		e.log.Debug("patch set is empty", "root", setRoot)
		return 0, nil
	}
	e.log.Debug("found patch files", "count", len(files), "root", setRoot)

	results := make([]staged, 0, len(files))
	restored := make([]string, 0, len(files))

	rollback := func() {
		for _, rel := range restored {
			if rerr := e.backups.Restore(rel); rerr != nil {
				e.log.Error("rollback restore failed", "path", rel, "error", rerr)
			}
		}
		if e.observer != nil {
			e.observer.IncPatchRollbacks()
		}
	}

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			rollback()
			return 0, err
		}

		st, err := e.prepare(ctx, setRoot, rel, &restored)
		if err != nil {
			rollback()
			return 0, err
		}
		results = append(results, st)
	}

	// Every patch in the set computed successfully; flush staged outputs.
	for _, st := range results {
		if st.skipped {
			continue
		}
		if err := writeFileAtomic(st.target, st.output, st.mode); err != nil {
			rollback()
			return 0, fmt.Errorf("flush %s: %w", st.rel, err)
		}
	}

	if e.records != nil {
		for _, st := range results {
			rec := Record{
				Path:        st.rel,
				Fingerprint: st.fingerprint,
				OutputHash:  st.outputHash,
				AppliedAt:   time.Now(),
			}
			if err := e.records.PutPatchRecord(ctx, rec); err != nil {
				// Records are an optimization; a failed write only costs a
				// future short-circuit.
				e.log.Warn("failed to store patch record", "path", st.rel, "error", err)
			}
		}
	}

	if e.observer != nil {
		e.observer.AddPatchesApplied(len(results))
	}
	return len(results), nil
}

// prepare computes the staged result for a single patch file. Targets it
// restores are appended to restored for rollback.
func (e *Engine) prepare(ctx context.Context, setRoot, rel string, restored *[]string) (staged, error) {
	patchText, err := os.ReadFile(filepath.Join(setRoot, rel))
	if err != nil {
		return staged{}, &PatchApplyError{Path: rel, Reason: "read patch file", Cause: err}
	}
	fingerprint := hashBytes(patchText)

	target := e.backups.Resolve(rel)
	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return staged{}, &PatchApplyError{Path: rel, Reason: "target file does not exist; patches cannot create files"}
		}
		return staged{}, &PatchApplyError{Path: rel, Reason: "stat target", Cause: err}
	}

	// Unchanged patch and the live file already holds its output: skip the
	// restore+reapply round trip.
	if rec := e.lookupRecord(ctx, rel); rec != nil && rec.Fingerprint == fingerprint {
		if live, lerr := os.ReadFile(target); lerr == nil && hashBytes(live) == rec.OutputHash {
			e.log.Debug("patch unchanged, skipping", "path", rel)
			return staged{rel: rel, target: target, fingerprint: fingerprint, outputHash: rec.OutputHash, skipped: true}, nil
		}
	}

	// Undo any prior patch before reapplying so a changed patch always
	// applies against the baseline, never against previous output.
	if err := e.backups.EnsureBaseline(rel); err != nil {
		return staged{}, err
	}
	if err := e.backups.Restore(rel); err != nil {
		return staged{}, err
	}
	*restored = append(*restored, rel)

	baseline, err := os.ReadFile(target)
	if err != nil {
		return staged{}, &PatchApplyError{Path: rel, Reason: "read target", Cause: err}
	}
	if bytes.IndexByte(baseline, 0) >= 0 {
		return staged{}, &PatchApplyError{Path: rel, Reason: "target is a binary file; only text files can be patched"}
	}

	dmp := diffmatchpatch.New()
	dmp.MatchThreshold = e.threshold

	patches, err := dmp.PatchFromText(string(patchText))
	if err != nil {
		return staged{}, &PatchApplyError{Path: rel, Reason: "parse patch file", Cause: err}
	}

	output, applied := dmp.PatchApply(patches, string(baseline))
	for i, ok := range applied {
		if !ok {
			return staged{}, &PatchApplyError{
				Path:   rel,
				Reason: fmt.Sprintf("hunk %d/%d could not be located within fuzzy tolerance %.2f", i+1, len(applied), e.threshold),
			}
		}
	}

	out := []byte(output)
	return staged{
		rel:         rel,
		target:      target,
		output:      out,
		mode:        info.Mode().Perm(),
		fingerprint: fingerprint,
		outputHash:  hashBytes(out),
	}, nil
}

func (e *Engine) lookupRecord(ctx context.Context, rel string) *Record {
	if e.records == nil {
		return nil
	}
	rec, err := e.records.GetPatchRecord(ctx, rel)
	if err != nil {
		e.log.Warn("failed to load patch record", "path", rel, "error", err)
		return nil
	}
	return rec
}

// enumerate lists patch files under root as sorted relative paths. A
// missing root is an empty set.
func enumerate(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return rerr
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func writeFileAtomic(path string, data []byte, mode fs.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
