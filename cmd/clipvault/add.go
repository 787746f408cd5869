package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipvault/internal/grpcservice"
)

func newAddCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record stdin as a selection (like pbcopy, without touching the clipboard)",
		Long: `Reads stdin and stores it in the history as a one-offer selection, as if
it had been copied. Adding content that is already stored moves it to the
top instead.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runAdd(cmd, v) },
	}

	f := cmd.Flags()
	f.String("mime", "text/plain;charset=utf-8", "MIME type of the data")
	f.String("source", "", "source application to record (default: this CLI)")
	addClientFlags(cmd)

	return cmd
}

func runAdd(cmd *cobra.Command, v *viper.Viper) error {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	client, closeConn, err := dialDaemon(v)
	if err != nil {
		return err
	}
	defer closeConn()

	resp, err := client.Add(cmd.Context(), &grpcservice.AddRequest{
		Source: v.GetString("source"),
		Offers: []grpcservice.Offer{{MimeType: v.GetString("mime"), Data: data}},
	})
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	if resp.Rejected {
		return fmt.Errorf("selection not stored: %s", resp.Reason)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Selection.ID)
	return nil
}
