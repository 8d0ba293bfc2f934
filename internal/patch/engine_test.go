package patch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packforge/packforge/internal/backup"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// makePatch produces the patch text transforming before into after.
func makePatch(t *testing.T, before, after string) string {
	t.Helper()
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(before, after)
	require.NotEmpty(t, patches)
	return dmp.PatchToText(patches)
}

func TestApplySetPatchesTargets(t *testing.T) {
	sdkRoot := t.TempDir()
	setRoot := t.TempDir()
	writeFile(t, filepath.Join(sdkRoot, "renpy/common/00start.rpy"), "label start:\n    return\n")
	writeFile(t, filepath.Join(setRoot, "renpy/common/00start.rpy"),
		makePatch(t, "label start:\n    return\n", "label start:\n    jump custom\n"))

	backups := backup.NewStore(sdkRoot)
	engine := NewEngine(backups)

	applied, err := engine.ApplySet(context.Background(), setRoot)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, "label start:\n    jump custom\n", readFile(t, filepath.Join(sdkRoot, "renpy/common/00start.rpy")))
}

func TestApplySetIsIdempotent(t *testing.T) {
	sdkRoot := t.TempDir()
	setRoot := t.TempDir()
	writeFile(t, filepath.Join(sdkRoot, "a.rpy"), "one\ntwo\nthree\n")
	writeFile(t, filepath.Join(setRoot, "a.rpy"), makePatch(t, "one\ntwo\nthree\n", "one\nTWO\nthree\n"))

	backups := backup.NewStore(sdkRoot)
	engine := NewEngine(backups)

	for i := 0; i < 3; i++ {
		_, err := engine.ApplySet(context.Background(), setRoot)
		require.NoError(t, err, "iteration %d", i)
		assert.Equal(t, "one\nTWO\nthree\n", readFile(t, filepath.Join(sdkRoot, "a.rpy")))
	}
}

func TestChangedPatchAppliesAgainstBaseline(t *testing.T) {
	sdkRoot := t.TempDir()
	setRoot := t.TempDir()
	baseline := "alpha\nbeta\ngamma\n"
	writeFile(t, filepath.Join(sdkRoot, "a.rpy"), baseline)
	writeFile(t, filepath.Join(setRoot, "a.rpy"), makePatch(t, baseline, "alpha\nBETA\ngamma\n"))

	backups := backup.NewStore(sdkRoot)
	engine := NewEngine(backups)

	_, err := engine.ApplySet(context.Background(), setRoot)
	require.NoError(t, err)
	require.Equal(t, "alpha\nBETA\ngamma\n", readFile(t, filepath.Join(sdkRoot, "a.rpy")))

	// Replace the patch; the new one targets the baseline, not the previous
	// output.
	writeFile(t, filepath.Join(setRoot, "a.rpy"), makePatch(t, baseline, "alpha\nbeta\nGAMMA\n"))

	_, err = engine.ApplySet(context.Background(), setRoot)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\nGAMMA\n", readFile(t, filepath.Join(sdkRoot, "a.rpy")))
}

func TestApplySetRollsBackOnFailure(t *testing.T) {
	sdkRoot := t.TempDir()
	setRoot := t.TempDir()

	writeFile(t, filepath.Join(sdkRoot, "f1.rpy"), "f1 content\n")
	writeFile(t, filepath.Join(sdkRoot, "f2.rpy"), "f2 content\n")
	writeFile(t, filepath.Join(setRoot, "f1.rpy"), makePatch(t, "f1 content\n", "f1 patched\n"))
	writeFile(t, filepath.Join(setRoot, "f2.rpy"), "not a valid patch @@garbage")

	backups := backup.NewStore(sdkRoot)
	engine := NewEngine(backups)

	_, err := engine.ApplySet(context.Background(), setRoot)
	var pae *PatchApplyError
	require.ErrorAs(t, err, &pae)
	assert.Equal(t, "f2.rpy", pae.Path)

	// Nothing may be flushed: both targets stay at baseline.
	assert.Equal(t, "f1 content\n", readFile(t, filepath.Join(sdkRoot, "f1.rpy")))
	assert.Equal(t, "f2 content\n", readFile(t, filepath.Join(sdkRoot, "f2.rpy")))
}

func TestApplySetMissingTarget(t *testing.T) {
	sdkRoot := t.TempDir()
	setRoot := t.TempDir()
	writeFile(t, filepath.Join(setRoot, "ghost.rpy"), makePatch(t, "a\n", "b\n"))

	engine := NewEngine(backup.NewStore(sdkRoot))

	_, err := engine.ApplySet(context.Background(), setRoot)
	var pae *PatchApplyError
	require.ErrorAs(t, err, &pae)
	assert.Equal(t, "ghost.rpy", pae.Path)
	assert.Contains(t, pae.Reason, "cannot create files")
}

func TestApplySetBinaryTarget(t *testing.T) {
	sdkRoot := t.TempDir()
	setRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sdkRoot, "blob.bin"), []byte{0x4d, 0x00, 0x5a}, 0o644))
	writeFile(t, filepath.Join(setRoot, "blob.bin"), makePatch(t, "a\n", "b\n"))

	engine := NewEngine(backup.NewStore(sdkRoot))

	_, err := engine.ApplySet(context.Background(), setRoot)
	var pae *PatchApplyError
	require.ErrorAs(t, err, &pae)
	assert.Contains(t, pae.Reason, "binary")
}

func TestApplySetEmptyDirectoryIsNoOp(t *testing.T) {
	engine := NewEngine(backup.NewStore(t.TempDir()))

	applied, err := engine.ApplySet(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, applied)
}

// memoryRecords is an in-memory RecordStore for short-circuit tests.
type memoryRecords struct {
	records map[string]Record
	gets    int
	puts    int
}

func newMemoryRecords() *memoryRecords {
	return &memoryRecords{records: make(map[string]Record)}
}

func (m *memoryRecords) GetPatchRecord(ctx context.Context, path string) (*Record, error) {
	m.gets++
	if rec, ok := m.records[path]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (m *memoryRecords) PutPatchRecord(ctx context.Context, rec Record) error {
	m.puts++
	m.records[rec.Path] = rec
	return nil
}

func TestApplySetShortCircuitsUnchangedPatch(t *testing.T) {
	sdkRoot := t.TempDir()
	setRoot := t.TempDir()
	writeFile(t, filepath.Join(sdkRoot, "a.rpy"), "one\ntwo\n")
	writeFile(t, filepath.Join(setRoot, "a.rpy"), makePatch(t, "one\ntwo\n", "one\nTWO\n"))

	records := newMemoryRecords()
	engine := NewEngine(backup.NewStore(sdkRoot), WithRecords(records))

	_, err := engine.ApplySet(context.Background(), setRoot)
	require.NoError(t, err)
	firstPuts := records.puts
	require.Positive(t, firstPuts)

	// Re-applying the identical set must not rewrite the target.
	before, err := os.Stat(filepath.Join(sdkRoot, "a.rpy"))
	require.NoError(t, err)

	_, err = engine.ApplySet(context.Background(), setRoot)
	require.NoError(t, err)

	after, err := os.Stat(filepath.Join(sdkRoot, "a.rpy"))
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
	assert.Equal(t, "one\nTWO\n", readFile(t, filepath.Join(sdkRoot, "a.rpy")))
}

// countingObserver records metric callbacks.
type countingObserver struct {
	applied   int
	rollbacks int
}

func (c *countingObserver) AddPatchesApplied(n int) { c.applied += n }
func (c *countingObserver) IncPatchRollbacks()      { c.rollbacks++ }

func TestObserverSeesOutcomes(t *testing.T) {
	sdkRoot := t.TempDir()
	setRoot := t.TempDir()
	writeFile(t, filepath.Join(sdkRoot, "a.rpy"), "x\n")
	writeFile(t, filepath.Join(setRoot, "a.rpy"), makePatch(t, "x\n", "y\n"))

	obs := &countingObserver{}
	engine := NewEngine(backup.NewStore(sdkRoot), WithObserver(obs))

	_, err := engine.ApplySet(context.Background(), setRoot)
	require.NoError(t, err)
	assert.Equal(t, 1, obs.applied)
	assert.Zero(t, obs.rollbacks)

	writeFile(t, filepath.Join(setRoot, "a.rpy"), "@@broken")
	_, err = engine.ApplySet(context.Background(), setRoot)
	require.Error(t, err)
	assert.Equal(t, 1, obs.rollbacks)
}
