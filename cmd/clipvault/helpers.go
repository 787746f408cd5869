package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.klb.dev/clipvault/internal/grpcservice"
	"go.klb.dev/clipvault/internal/ipc"
)

func socketPath(v *viper.Viper) string {
	if p := v.GetString("socket"); p != "" {
		return p
	}
	return ipc.SocketPath()
}

// dialDaemon connects to the running daemon's Unix socket. The returned
// close function releases the connection.
func dialDaemon(v *viper.Viper) (*grpcservice.Client, func(), error) {
	path := socketPath(v)
	if !ipc.IsRunning(path) {
		return nil, nil, fmt.Errorf("clipvault daemon is not running (socket %s); start it with \"clipvault serve\"", path)
	}
	conn, err := grpc.NewClient("unix://"+path, dialOpts(v.GetString("token"), defaultSource())...)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return grpcservice.NewClient(conn), func() { _ = conn.Close() }, nil
}

// dialOpts returns gRPC dial options for the local IPC socket (insecure).
func dialOpts(token, source string) []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if token != "" || source != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&clientCreds{token: token, source: source}))
	}
	return opts
}

type clientCreds struct {
	token  string
	source string
}

func (c *clientCreds) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	md := make(map[string]string, 2)
	if c.token != "" {
		md["authorization"] = "Bearer " + c.token
	}
	if c.source != "" {
		md[grpcservice.SourceHeader] = c.source
	}
	return md, nil
}

func (c *clientCreds) RequireTransportSecurity() bool { return false }

// defaultSource names this CLI process in the daemon's logs.
func defaultSource() string {
	h, err := os.Hostname()
	if err != nil {
		return "clipvault-cli"
	}
	return "clipvault-cli@" + h
}
