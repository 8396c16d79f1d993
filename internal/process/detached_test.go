package process

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/loykin/mulyo/internal/logger"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o755)
}

func TestSpawnDetachedWritesLogs(t *testing.T) {
	requireUnix(t)
	script := writeScript(t, "bg.sh", "echo hello; echo oops >&2", true)
	paths, err := logger.Resolve(filepath.Join(t.TempDir(), "logs"), "bg.sh")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(paths.Out, []byte("previous\n"), 0o640))

	pid, err := SpawnDetached(DetachedSpec{Exe: script, Logs: paths})
	require.NoError(t, err)
	require.Greater(t, pid, 0)
	t.Cleanup(func() {
		var ws syscall.WaitStatus
		_, _ = syscall.Wait4(pid, &ws, 0, nil)
	})

	waitUntil(t, 5*time.Second, func() bool {
		b, _ := os.ReadFile(paths.Err)
		return strings.Contains(string(b), "oops")
	}, "stderr log written")
	out, err := os.ReadFile(paths.Out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "previous\n"), "log opened in append mode")
}

func TestSpawnDetachedNewSession(t *testing.T) {
	requireUnix(t)
	paths, err := logger.Resolve(t.TempDir(), "sleeper")
	require.NoError(t, err)
	pid, err := SpawnDetached(DetachedSpec{Exe: "/bin/sh", Args: []string{"-c", "sleep 5"}, Logs: paths})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = syscall.Kill(pid, syscall.SIGKILL)
		var ws syscall.WaitStatus
		_, _ = syscall.Wait4(pid, &ws, 0, nil)
	})

	sid, err := unix.Getsid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, sid, "detached child leads its own session")
}

func TestSpawnDetachedMissingExe(t *testing.T) {
	requireUnix(t)
	paths, err := logger.Resolve(t.TempDir(), "x")
	require.NoError(t, err)
	_, err = SpawnDetached(DetachedSpec{Exe: filepath.Join(t.TempDir(), "nope"), Logs: paths})
	var se *SpawnError
	assert.ErrorAs(t, err, &se)
}
