package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipvault/internal/clip"
	"go.klb.dev/clipvault/internal/helper"
	"go.klb.dev/clipvault/internal/logging"
)

// newCaptureHelperCmd is the process the daemon spawns to watch the
// clipboard. It writes capture frames to stdout and JSON logs to stderr.
func newCaptureHelperCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "capture-helper",
		Short:   "Watch the clipboard and report changes on stdout (internal)",
		Hidden:  true,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.SetupHelper(logging.ParseLevel(v.GetString("log-level")))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			backend := clip.New()
			defer backend.Close()
			return helper.New(backend, os.Stdout, v.GetString("source")).Run(ctx)
		},
	}

	f := cmd.Flags()
	f.String("source", "", "source application reported with every selection")
	f.String("log-level", "info", "log level: debug|info|warn|error")
	addConfigFlag(cmd)

	return cmd
}
