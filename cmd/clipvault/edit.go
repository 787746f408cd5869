package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipvault/internal/grpcservice"
)

func newPinCmd(pinned bool) *cobra.Command {
	v := viper.New()

	use, short := "pin <id>...", "Pin selections to the top of the history"
	if !pinned {
		use, short = "unpin <id>...", "Unpin selections"
	}

	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		Args:    cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeConn, err := dialDaemon(v)
			if err != nil {
				return err
			}
			defer closeConn()

			for _, id := range args {
				if _, err := client.SetPinned(cmd.Context(), &grpcservice.PinRequest{ID: id, Pinned: pinned}); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newDeleteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Delete selections and their content",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeConn, err := dialDaemon(v)
			if err != nil {
				return err
			}
			defer closeConn()

			for _, id := range args {
				if _, err := client.Remove(cmd.Context(), &grpcservice.IDRequest{ID: id}); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newWipeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "wipe",
		Short:   "Delete the whole history, pinned selections included",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !v.GetBool("yes") {
				return fmt.Errorf("refusing to wipe the history without --yes")
			}
			client, closeConn, err := dialDaemon(v)
			if err != nil {
				return err
			}
			defer closeConn()

			if _, err := client.RemoveAll(cmd.Context(), &grpcservice.Empty{}); err != nil {
				return fmt.Errorf("wipe: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "confirm")
	addClientFlags(cmd)
	return cmd
}

func newKeywordsCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "keywords <id> [words...]",
		Short: "Show or replace the search keywords of a selection",
		Long: `Without words, prints the selection's keywords. With words, replaces
them; list matches keywords by substring. --clear removes them.`,
		Args:    cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeConn, err := dialDaemon(v)
			if err != nil {
				return err
			}
			defer closeConn()

			id, words := args[0], args[1:]
			if len(words) == 0 && !v.GetBool("clear") {
				resp, err := client.GetKeywords(cmd.Context(), &grpcservice.IDRequest{ID: id})
				if err != nil {
					return fmt.Errorf("keywords: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Keywords)
				return nil
			}

			req := &grpcservice.KeywordsRequest{ID: id, Keywords: strings.Join(words, " ")}
			if _, err := client.SetKeywords(cmd.Context(), req); err != nil {
				return fmt.Errorf("keywords: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Bool("clear", false, "remove all keywords")
	addClientFlags(cmd)
	return cmd
}

func newMonitorCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:       "monitor on|off",
		Short:     "Turn clipboard recording on or off",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		PreRunE:   func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			client, closeConn, err := dialDaemon(v)
			if err != nil {
				return err
			}
			defer closeConn()

			if _, err := client.SetMonitoring(cmd.Context(), &grpcservice.MonitoringRequest{Enabled: enabled}); err != nil {
				return fmt.Errorf("monitor: %w", err)
			}
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("want on or off, got %q", s)
}
