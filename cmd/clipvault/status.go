package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipvault/internal/grpcservice"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Show daemon state",
		Long:    `Displays whether recording is on, whether stored content is encrypted, which capture helper is running and how many selections are stored.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runStatus(cmd, v) },
	}

	cmd.Flags().Bool("json", false, "output raw JSON")
	addClientFlags(cmd)

	return cmd
}

func runStatus(cmd *cobra.Command, v *viper.Viper) error {
	client, closeConn, err := dialDaemon(v)
	if err != nil {
		return err
	}
	defer closeConn()

	resp, err := client.Status(cmd.Context(), &grpcservice.Empty{})
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	out := cmd.OutOrStdout()
	if v.GetBool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printStatus(out, resp, socketPath(v))
	return nil
}

func printStatus(out io.Writer, resp *grpcservice.StatusResponse, sock string) {
	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Version:\t%s\n", resp.Version)
	fmt.Fprintf(w, "Socket:\t%s\n", sock)
	fmt.Fprintf(w, "Monitoring:\t%s\n", onOff(resp.Monitoring))

	encryption := "pending"
	switch {
	case resp.EncryptionProbed && resp.EncryptionAvailable:
		encryption = "available"
	case resp.EncryptionProbed:
		encryption = "unavailable"
		if resp.EncryptionError != "" {
			encryption += " (" + resp.EncryptionError + ")"
		}
	}
	fmt.Fprintf(w, "Encryption:\t%s\n", encryption)

	capture := "none"
	if resp.Capture != "" {
		capture = resp.Capture
		if !resp.CaptureAlive {
			capture += " (exited)"
		}
	}
	fmt.Fprintf(w, "Capture:\t%s\n", capture)
	fmt.Fprintf(w, "Selections:\t%d\n", resp.Selections)
	fmt.Fprintf(w, "Watchers:\t%d\n", resp.Watchers)
	_ = w.Flush()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
