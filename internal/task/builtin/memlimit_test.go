package builtin

import (
	"archive/zip"
	"context"
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packforge/packforge/internal/sdk"
	"github.com/packforge/packforge/internal/task"
	"github.com/packforge/packforge/internal/winpe"
	"github.com/packforge/packforge/internal/ziputil"
)

// minimalPE builds the smallest image the header patch accepts.
func minimalPE(characteristics uint16) []byte {
	image := make([]byte, 96)
	image[0] = 'M'
	image[1] = 'Z'
	binary.LittleEndian.PutUint32(image[60:64], 64)
	copy(image[64:68], "PE\x00\x00")
	binary.LittleEndian.PutUint16(image[86:88], characteristics)
	return image
}

func writePCArtifact(t *testing.T, outputDir string) string {
	t.Helper()
	artifact := filepath.Join(outputDir, "app-1.0-pc.zip")
	f, err := os.Create(artifact)
	require.NoError(t, err)
	w := zip.NewWriter(f)

	members := map[string][]byte{
		"app-1.0-pc/app.exe":                       minimalPE(0x0102),
		"app-1.0-pc/lib/windows-i686/app.exe":      minimalPE(0x0102),
		"app-1.0-pc/lib/windows-i686/pythonw.exe":  minimalPE(0x0102),
		"app-1.0-pc/renpy/common/00start.rpy":      []byte("label start:\n"),
		"app-1.0-pc/lib/linux-x86_64/app":          []byte{0x7f, 'E', 'L', 'F'},
	}
	for name, data := range members {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return artifact
}

func TestMemoryLimitPatchesAllExecutables(t *testing.T) {
	outputDir := t.TempDir()
	artifact := writePCArtifact(t, outputDir)

	mt := NewSetExtendedMemoryLimitTask(true)
	tc := &task.Context{
		OutputDir: outputDir,
		SDK:       sdk.NewInstance(t.TempDir(), "1.0.0"),
		Stage:     task.StagePostBuild,
		Log:       slog.Default(),
	}
	require.NoError(t, mt.PostBuild(context.Background(), tc))

	for _, name := range []string{
		"app-1.0-pc/app.exe",
		"app-1.0-pc/lib/windows-i686/app.exe",
		"app-1.0-pc/lib/windows-i686/pythonw.exe",
	} {
		image, err := ziputil.ReadMember(artifact, name)
		require.NoError(t, err)
		_, alreadySet, err := winpe.SetLargeAddressAware(image)
		require.NoError(t, err)
		assert.True(t, alreadySet, "flag not set on %s", name)
	}

	// Non-executable members pass through untouched.
	script, err := ziputil.ReadMember(artifact, "app-1.0-pc/renpy/common/00start.rpy")
	require.NoError(t, err)
	assert.Equal(t, "label start:\n", string(script))
}

func TestMemoryLimitIdempotent(t *testing.T) {
	outputDir := t.TempDir()
	writePCArtifact(t, outputDir)

	mt := NewSetExtendedMemoryLimitTask(true)
	tc := &task.Context{
		OutputDir: outputDir,
		SDK:       sdk.NewInstance(t.TempDir(), "1.0.0"),
		Stage:     task.StagePostBuild,
		Log:       slog.Default(),
	}
	require.NoError(t, mt.PostBuild(context.Background(), tc))
	require.NoError(t, mt.PostBuild(context.Background(), tc))
}

func TestMemoryLimitInactiveWithoutPCBuild(t *testing.T) {
	mt := NewSetExtendedMemoryLimitTask(false)
	tc := &task.Context{
		OutputDir: t.TempDir(), // deliberately empty, no artifact needed
		SDK:       sdk.NewInstance(t.TempDir(), "1.0.0"),
		Stage:     task.StagePostBuild,
		Log:       slog.Default(),
	}
	assert.NoError(t, mt.PostBuild(context.Background(), tc))
}

func TestMemoryLimitMissingArtifactFails(t *testing.T) {
	mt := NewSetExtendedMemoryLimitTask(true)
	tc := &task.Context{
		OutputDir: t.TempDir(),
		SDK:       sdk.NewInstance(t.TempDir(), "1.0.0"),
		Stage:     task.StagePostBuild,
		Log:       slog.Default(),
	}
	assert.Error(t, mt.PostBuild(context.Background(), tc))
}
