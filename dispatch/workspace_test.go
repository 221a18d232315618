package dispatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceTaskDir(t *testing.T) {
	ws, err := NewWorkspace(filepath.Join(t.TempDir(), "work"), testLogger())
	require.NoError(t, err)

	dir, err := ws.TaskDir("task_1")
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Idempotent for the retry path.
	again, err := ws.TaskDir("task_1")
	require.NoError(t, err)
	assert.Equal(t, dir, again)

	ws.Cleanup("task_1")
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestWorkspaceSweep(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(root, testLogger())
	require.NoError(t, err)

	stale, err := ws.TaskDir("stale_task")
	require.NoError(t, err)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh, err := ws.TaskDir("fresh_task")
	require.NoError(t, err)

	// Loose files are left alone, only task directories are swept.
	file := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(file, old, old))

	ws.Sweep(time.Hour)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale dir should be removed")
	_, err = os.Stat(fresh)
	assert.NoError(t, err, "fresh dir should survive")
	_, err = os.Stat(file)
	assert.NoError(t, err, "plain files should survive")
}

func TestOverloadedDisabledLimits(t *testing.T) {
	reason, busy := overloaded(Limits{})
	assert.False(t, busy)
	assert.Empty(t, reason)
}
