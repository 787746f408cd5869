package capture

import (
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Builtin candidate names.
const (
	WaylandHelper   = "wayland-helper"
	ClipboardHelper = "clipboard-helper"
)

// BuiltinConfig configures the built-in candidates.
type BuiltinConfig struct {
	// WaylandCommand is an external helper command line speaking the
	// capture protocol, used when a Wayland session is present.
	WaylandCommand string
	// Self is the clipvault executable, run as "clipvault capture-helper".
	Self       string
	RuntimeDir string
	Handler    Handler
	Logger     *slog.Logger

	// Getenv and LookPath default to os.Getenv and exec.LookPath.
	Getenv   func(string) string
	LookPath func(string) (string, error)
}

// Builtin returns the built-in candidates:
//
//	wayland-helper   (20) WAYLAND_DISPLAY is set and WaylandCommand resolves in PATH
//	clipboard-helper (10) a display is available; runs Self capture-helper
func Builtin(cfg BuiltinConfig) []Candidate {
	getenv := cfg.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	lookPath := cfg.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	wayland := strings.Fields(cfg.WaylandCommand)

	return []Candidate{
		{
			Name:     WaylandHelper,
			Priority: 20,
			Probe: func() bool {
				if getenv("WAYLAND_DISPLAY") == "" || len(wayland) == 0 {
					return false
				}
				_, err := lookPath(wayland[0])
				return err == nil
			},
			New: func() Backend {
				path, err := lookPath(wayland[0])
				if err != nil {
					path = wayland[0]
				}
				return NewHelper(HelperConfig{
					Name:       WaylandHelper,
					Command:    path,
					Args:       wayland[1:],
					RuntimeDir: cfg.RuntimeDir,
					Handler:    cfg.Handler,
					Logger:     cfg.Logger,
				})
			},
		},
		{
			Name:     ClipboardHelper,
			Priority: 10,
			Probe: func() bool {
				if cfg.Self == "" {
					return false
				}
				switch runtime.GOOS {
				case "darwin", "windows":
					return true
				}
				return getenv("DISPLAY") != "" || getenv("WAYLAND_DISPLAY") != ""
			},
			New: func() Backend {
				return NewHelper(HelperConfig{
					Name:       ClipboardHelper,
					Command:    cfg.Self,
					Args:       []string{"capture-helper"},
					RuntimeDir: cfg.RuntimeDir,
					Handler:    cfg.Handler,
					Logger:     cfg.Logger,
				})
			},
		},
	}
}
