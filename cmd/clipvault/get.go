package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipvault/internal/grpcservice"
	"go.klb.dev/clipvault/internal/selection"
)

func newGetCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a stored selection to stdout, or put it back on the clipboard",
		Long: `Writes the preferred offer of a stored selection to stdout. --mime picks
a specific offer instead. With --copy the whole selection is restored to the
system clipboard by the daemon and nothing is printed.

  clipvault get --mime image/png 3f2a... > screenshot.png`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, args []string) error { return runGet(cmd, v, args[0]) },
	}

	f := cmd.Flags()
	f.String("mime", "", "MIME type of the offer to print (default: the preferred offer)")
	f.Bool("copy", false, "restore the selection to the system clipboard")
	addClientFlags(cmd)

	return cmd
}

func runGet(cmd *cobra.Command, v *viper.Viper, id string) error {
	client, closeConn, err := dialDaemon(v)
	if err != nil {
		return err
	}
	defer closeConn()

	if v.GetBool("copy") {
		if _, err := client.Restore(cmd.Context(), &grpcservice.IDRequest{ID: id}); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		return nil
	}

	resp, err := client.Retrieve(cmd.Context(), &grpcservice.IDRequest{ID: id})
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	return writeOffer(cmd.OutOrStdout(), resp.Selection(), v.GetString("mime"))
}

// writeOffer writes the data of the offer with the given MIME type, or of the
// preferred offer when mime is empty.
func writeOffer(out io.Writer, sel selection.Selection, mime string) error {
	var (
		o  selection.Offer
		ok bool
	)
	if mime == "" {
		if o, ok = sel.Preferred(); !ok {
			return nil
		}
	} else if o, ok = sel.Offer(mime); !ok {
		return fmt.Errorf("no %s offer (available: %s)", mime, strings.Join(sel.MimeTypes(), ", "))
	}
	_, err := out.Write(o.Data)
	return err
}
