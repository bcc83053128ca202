package lockfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_TryAcquire_WritesInfo(t *testing.T) {
	tmpDir := t.TempDir()

	lk := New(tmpDir)
	require.NoError(t, lk.TryAcquire())
	defer lk.Release()

	data, err := os.ReadFile(lk.Path())
	require.NoError(t, err)

	var info Info
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, os.Getpid(), info.PID)
	assert.False(t, info.StartedAt.IsZero())
}

func TestLock_TryAcquire_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	nested := filepath.Join(tmpDir, "nested", "deep")

	lk := New(nested)
	require.NoError(t, lk.TryAcquire())
	defer lk.Release()

	_, err := os.Stat(lk.Path())
	require.NoError(t, err)
}

func TestLock_Release_RemovesFile(t *testing.T) {
	tmpDir := t.TempDir()

	lk := New(tmpDir)
	require.NoError(t, lk.TryAcquire())
	require.NoError(t, lk.Release())

	_, err := os.Stat(lk.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestLock_Release_NotLocked_NoError(t *testing.T) {
	tmpDir := t.TempDir()

	lk := New(tmpDir)
	assert.NoError(t, lk.Release())
}

func TestLock_TryAcquire_ReclaimsStaleLock(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "server.lock.json")

	stale := Info{PID: 4194304, StartedAt: time.Now()}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(lockPath, data, 0o644))

	lk := New(tmpDir)
	require.NoError(t, lk.TryAcquire())
	defer lk.Release()

	data, err = os.ReadFile(lockPath)
	require.NoError(t, err)
	var info Info
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, os.Getpid(), info.PID)
}

func TestLock_TryAcquire_SecondHolderFails(t *testing.T) {
	tmpDir := t.TempDir()

	first := New(tmpDir)
	require.NoError(t, first.TryAcquire())
	defer first.Release()

	second := New(tmpDir)
	err := second.TryAcquire()
	require.Error(t, err)
}

func TestProcessAlive_CurrentProcess(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
}

func TestProcessAlive_StalePID(t *testing.T) {
	assert.False(t, processAlive(4194304))
}

func TestProcessAlive_InvalidPID(t *testing.T) {
	assert.False(t, processAlive(0))
	assert.False(t, processAlive(-1))
}
