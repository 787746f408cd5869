// clipvault: clipboard history daemon and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.klb.dev/clipvault/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "clipvault",
		Short: "Clipboard history daemon",
		Long: `clipvault records every clipboard selection into a local, optionally
encrypted history and lets you search, pin, annotate and restore it.

Run "clipvault serve" once per session. The other commands talk to the
running daemon over its Unix socket.

Config file search order (first found wins):
  /etc/clipvault/clipvault.toml
  $HOME/.config/clipvault/clipvault.toml
  path supplied via --config

All flags can be set via CLIPVAULT_<FLAG> env vars or config-file keys.
See "clipvault serve --help" for the full flag reference.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newCaptureHelperCmd(),
		newListCmd(),
		newGetCmd(),
		newAddCmd(),
		newPinCmd(true),
		newPinCmd(false),
		newDeleteCmd(),
		newWipeCmd(),
		newKeywordsCmd(),
		newMonitorCmd(),
		newStatusCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clipvault %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
