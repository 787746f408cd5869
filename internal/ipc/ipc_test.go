package ipc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Socket paths are limited to ~100 bytes, so tests use a short temp dir.
func shortDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "cv")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestSocketPath(t *testing.T) {
	t.Setenv("CLIPVAULT_SOCKET", "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, "/run/user/1000/clipvault.sock", SocketPath())

	t.Setenv("CLIPVAULT_SOCKET", "/tmp/custom.sock")
	assert.Equal(t, "/tmp/custom.sock", SocketPath())
}

func TestListen(t *testing.T) {
	path := filepath.Join(shortDir(t), "d.sock")
	assert.False(t, IsRunning(path))

	// A stale socket file does not block Listen.
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	ln, err := Listen(path)
	require.NoError(t, err)
	defer ln.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	assert.True(t, IsRunning(path))
	_, err = Listen(path)
	assert.Error(t, err, "second daemon must not steal the socket")

	c, err := Dial(context.Background(), path)
	require.NoError(t, err)
	c.Close()
}
