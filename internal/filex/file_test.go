package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestEnsureParentDir_CreatesNestedDirectory(t *testing.T) {
	tmp := t.TempDir()
	target := filepath.Join(tmp, "data", "local", "gophnotes.db")

	got, err := EnsureParentDir(target)
	require.NoError(t, err)
	require.Equal(t, target, got)

	fi, err := os.Stat(filepath.Dir(target))
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		perm := fi.Mode().Perm()
		require.Equal(t, os.FileMode(0o700), perm&0o700)
	}
}

func TestEnsureParentDir_RelativePathResolvesAgainstCWD(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	got, err := EnsureParentDir(filepath.Join("logs", "client.log"))
	require.NoError(t, err)

	// TempDir may be behind a symlink on some systems
	wantDir, err := filepath.EvalSymlinks(filepath.Join(tmp, "logs"))
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(filepath.Dir(got))
	require.NoError(t, err)
	require.Equal(t, wantDir, gotDir)
	require.Equal(t, "client.log", filepath.Base(got))
}

func TestEnsureParentDir_Idempotent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "db", "x.db")

	first, err := EnsureParentDir(target)
	require.NoError(t, err)
	second, err := EnsureParentDir(target)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestEnsureParentDir_FailsIfFileBlocksDirectory(t *testing.T) {
	tmp := t.TempDir()
	blocker := filepath.Join(tmp, "db")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o660))

	_, err := EnsureParentDir(filepath.Join(blocker, "x.db"))
	require.Error(t, err, "should fail when a file exists where the directory should be")
}
