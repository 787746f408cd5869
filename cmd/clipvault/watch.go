package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipvault/internal/grpcservice"
)

func newWatchCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print history events as JSON lines until interrupted",
		Long: `Streams history changes from the daemon, one JSON object per line:

  {"type":"inserted","selection_id":"...","at":"..."}

--type limits the stream to the named event types (inserted, bubbled,
pinned, unpinned, removed, cleared, keywords, monitoring).`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runWatch(cmd, v) },
	}

	cmd.Flags().StringSlice("type", nil, "event types to show (default: all)")
	addClientFlags(cmd)

	return cmd
}

func runWatch(cmd *cobra.Command, v *viper.Viper) error {
	client, closeConn, err := dialDaemon(v)
	if err != nil {
		return err
	}
	defer closeConn()

	stream, err := client.Watch(cmd.Context(), &grpcservice.WatchRequest{Types: v.GetStringSlice("type")})
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
			return nil
		}
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
}
