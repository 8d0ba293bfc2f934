package ziputil

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArchive(t *testing.T, members map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, content := range members {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestReadMember(t *testing.T) {
	path := writeArchive(t, map[string]string{"dir/a.txt": "alpha"})

	data, err := ReadMember(path, "dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	_, err = ReadMember(path, "missing")
	assert.Error(t, err)
}

func TestListMembers(t *testing.T) {
	path := writeArchive(t, map[string]string{
		"root/a.txt": "a",
		"root/b.txt": "b",
	})

	names, err := ListMembers(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"root/a.txt", "root/b.txt"}, names)
}

func TestCommonPrefix(t *testing.T) {
	assert.Equal(t, "app-1.0-pc/", CommonPrefix([]string{
		"app-1.0-pc/app.exe",
		"app-1.0-pc/lib/windows-i686/app.exe",
	}))
	assert.Equal(t, "", CommonPrefix(nil))
	assert.Equal(t, "", CommonPrefix([]string{"abc", "xyz"}))
}

func TestReplaceMembers(t *testing.T) {
	path := writeArchive(t, map[string]string{
		"root/a.txt": "old-a",
		"root/b.txt": "keep-b",
	})

	err := ReplaceMembers(path, map[string][]byte{"root/a.txt": []byte("new-a")})
	require.NoError(t, err)

	a, err := ReadMember(path, "root/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "new-a", string(a))

	b, err := ReadMember(path, "root/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "keep-b", string(b))
}

func TestReplaceMembersEmptyIsNoOp(t *testing.T) {
	path := writeArchive(t, map[string]string{"a": "x"})
	info, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, ReplaceMembers(path, nil))

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), after.ModTime())
}
