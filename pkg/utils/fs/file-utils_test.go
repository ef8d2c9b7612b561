package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPidFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mockhttp.pid")

	require.NoError(t, WritePidFile(path, 4242))

	pid, err := ReadPidFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestReadPidFile_Missing(t *testing.T) {
	_, err := ReadPidFile(filepath.Join(t.TempDir(), "absent.pid"))
	assert.Error(t, err)
}

func TestReadPidFile_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	_, err := ReadPidFile(path)
	assert.ErrorContains(t, err, "invalid PID content")
}

func TestGetUserAppDataDir_UsesXDG(t *testing.T) {
	if os.Getenv("AppData") != "" {
		t.Skip("windows layout")
	}
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	t.Setenv("HOME", base)

	dir, err := GetUserAppDataDir("mockhttp")
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, "mockhttp", filepath.Base(dir))
}
