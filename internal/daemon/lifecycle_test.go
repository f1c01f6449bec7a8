package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleManagerStartStop(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "data")
	lm := NewLifecycleManager(tmpDir, zerolog.Nop())
	assert.Equal(t, filepath.Join(tmpDir, "conductor.pid"), lm.PIDFile())

	require.NoError(t, lm.Start())

	pid, err := ReadPID(lm.PIDFile())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, IsRunning(lm.PIDFile()))

	require.NoError(t, lm.Stop())
	_, err = os.Stat(lm.PIDFile())
	assert.True(t, os.IsNotExist(err))

	// Removing an absent PID file is not an error
	assert.NoError(t, lm.Stop())
}

func TestLifecycleManagerRestartOverOwnPID(t *testing.T) {
	lm := NewLifecycleManager(t.TempDir(), zerolog.Nop())
	require.NoError(t, lm.Start())
	assert.NoError(t, lm.Start())
	require.NoError(t, lm.Stop())
}

func TestReadPID(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadPID(filepath.Join(tmpDir, "missing.pid"))
		assert.Error(t, err)
		assert.False(t, IsRunning(filepath.Join(tmpDir, "missing.pid")))
	})

	t.Run("invalid content", func(t *testing.T) {
		path := filepath.Join(tmpDir, "invalid.pid")
		require.NoError(t, os.WriteFile(path, []byte("invalid"), 0644))
		_, err := ReadPID(path)
		assert.Error(t, err)
		assert.False(t, IsRunning(path))
	})

	t.Run("trailing newline", func(t *testing.T) {
		path := filepath.Join(tmpDir, "newline.pid")
		require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644))
		pid, err := ReadPID(path)
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)
	})
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(0))
	assert.False(t, ProcessAlive(-1))
}
