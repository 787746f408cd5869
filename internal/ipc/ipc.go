// Package ipc provides helpers for the local Unix-socket channel used by CLI
// sub-commands to talk to a running clipvault daemon.
//
// The daemon serves gRPC and HTTP/JSON on the same socket. CLI sub-commands
// dial it; there is no fallback when it is absent.
package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const socketName = "clipvault.sock"

// RuntimeDir returns the per-user directory for the socket and PID files:
// $XDG_RUNTIME_DIR, or a private directory under the temp dir.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "clipvault-"+strconv.Itoa(os.Getuid()))
}

// SocketPath returns the IPC socket path.
//
//   - $CLIPVAULT_SOCKET when set
//   - $XDG_RUNTIME_DIR/clipvault.sock on Linux sessions
//   - $TMPDIR/clipvault-<uid>/clipvault.sock otherwise
func SocketPath() string {
	if s := os.Getenv("CLIPVAULT_SOCKET"); s != "" {
		return s
	}
	return filepath.Join(RuntimeDir(), socketName)
}

// IsRunning reports whether a daemon appears to be listening on path. It does
// a cheap dial-and-close; no data is exchanged.
func IsRunning(path string) bool {
	c, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen creates a listener on path, readable and writable only by the
// current user. A socket file left by a crashed daemon is removed; a live
// daemon is an error.
func Listen(path string) (net.Listener, error) {
	if IsRunning(path) {
		return nil, fmt.Errorf("clipvault is already running on %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// Dial connects to the daemon socket at path.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}
