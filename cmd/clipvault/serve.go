package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/soheilhy/cmux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"go.klb.dev/clipvault/internal/capture"
	"go.klb.dev/clipvault/internal/clip"
	"go.klb.dev/clipvault/internal/crypto"
	"go.klb.dev/clipvault/internal/grpcservice"
	"go.klb.dev/clipvault/internal/history"
	"go.klb.dev/clipvault/internal/hub"
	"go.klb.dev/clipvault/internal/ipc"
	"go.klb.dev/clipvault/internal/selection"
	"go.klb.dev/clipvault/internal/store"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the clipboard history daemon",
		Long: `Starts the clipvault daemon. It launches a capture helper that reports
every clipboard change, records selections into the history database and
serves the history API (gRPC and HTTP/JSON) on a Unix socket.

Config file search order:
  /etc/clipvault/clipvault.toml
  $HOME/.config/clipvault/clipvault.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → CLIPVAULT_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runServe(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.String("data-dir", defaultDataDir(), "directory holding the history database and content files")
	f.String("socket", "", "Unix socket to listen on (default: $XDG_RUNTIME_DIR/clipvault.sock)")
	f.String("token", "", "shared secret required from clients (empty = no auth)")
	f.Bool("monitor", true, "record clipboard changes")
	f.Bool("encrypt", true, "encrypt stored content when a key is available")
	f.String("keyring", "os", "where the encryption key lives: os|file|none")
	f.String("wayland-helper", "", "external capture helper command used on Wayland")
	f.Int("query-workers", 4, "maximum number of concurrent history queries")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	setupLogging(v)
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataDir := v.GetString("data-dir")
	sock := socketPath(v)

	slog.Info("clipvault starting",
		"version", Version,
		"data_dir", dataDir,
		"socket", sock,
		"monitor", v.GetBool("monitor"),
		"encrypt", v.GetBool("encrypt"),
		"keyring", v.GetString("keyring"),
	)

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	keys, err := openKeystore(v.GetString("keyring"), dataDir)
	if err != nil {
		return err
	}
	enc := crypto.New(keys)

	st, err := store.Open(dataDir, store.WithCipher(enc))
	if err != nil {
		return err
	}
	defer st.Close()

	if n, err := st.SweepOrphans(ctx); err != nil {
		slog.Warn("orphan sweep failed", "err", err)
	} else if n > 0 {
		slog.Info("removed orphaned content files", "count", n)
	}

	h := hub.New()
	hist := history.New(st, enc, h,
		history.WithMonitoring(v.GetBool("monitor")),
		history.WithEncrypt(v.GetBool("encrypt")),
		history.WithQueryWorkers(v.GetInt("query-workers")),
	)
	// The keyring may block on a desktop prompt; selections arriving before
	// the probe finishes are rejected.
	go hist.ProbeEncryption()

	ln, err := ipc.Listen(sock)
	if err != nil {
		return err
	}
	slog.Info("IPC socket listening", "path", sock)

	board := &lazyClipboard{}
	defer board.Close()

	svc := grpcservice.New(hist, h,
		grpcservice.WithToken(v.GetString("token")),
		grpcservice.WithClipboard(board),
		grpcservice.WithVersion(Version),
	)
	gwMux, err := grpcservice.NewGatewayMux(svc)
	if err != nil {
		_ = ln.Close()
		return err
	}

	backend := startCapture(ctx, v, hist)
	if backend != nil {
		defer func() {
			if err := backend.Stop(); err != nil && !errors.Is(err, capture.ErrNotRunning) {
				slog.Warn("stopping capture helper", "err", err)
			}
		}()
	}

	m := cmux.New(ln)
	grpcLn := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpLn := m.Match(cmux.Any())

	gsrv := grpc.NewServer()
	svc.Register(gsrv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gsrv.Serve(grpcLn); err != nil && gctx.Err() == nil {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := serveHTTPGateway(httpLn, gwMux); err != nil && !errors.Is(err, http.ErrServerClosed) && gctx.Err() == nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := m.Serve(); err != nil && !errors.Is(err, net.ErrClosed) && gctx.Err() == nil {
			return fmt.Errorf("socket: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("clipvault shutting down")
		gsrv.Stop()
		return ln.Close()
	})

	err = g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// startCapture selects and starts the best capture backend. It returns nil
// when none can run; the daemon then serves the history without recording.
func startCapture(ctx context.Context, v *viper.Viper, hist *history.Service) capture.Backend {
	self, err := os.Executable()
	if err != nil {
		slog.Warn("cannot locate own executable for the capture helper", "err", err)
	}

	cand, ok := capture.Select(capture.Builtin(capture.BuiltinConfig{
		WaylandCommand: v.GetString("wayland-helper"),
		Self:           self,
		RuntimeDir:     ipc.RuntimeDir(),
		Handler:        hist.HandleSelection,
		Logger:         slog.Default(),
	}))
	if !ok {
		slog.Warn("no capture backend available; clipboard changes will not be recorded")
		return nil
	}

	backend := cand.New()
	if err := backend.Start(ctx); err != nil {
		slog.Error("capture helper failed to start", "backend", cand.Name, "err", err)
		return nil
	}
	hist.AttachCapture(backend)
	slog.Info("capture helper started", "backend", cand.Name)
	return backend
}

// lazyClipboard opens the system clipboard on the first restore. The capture
// helper does the watching, so the daemon only needs write access.
type lazyClipboard struct {
	once sync.Once
	b    clip.Backend
}

func (l *lazyClipboard) Write(offers []selection.Offer) error {
	l.once.Do(func() { l.b = clip.New() })
	return l.b.Write(offers)
}

func (l *lazyClipboard) Close() {
	l.once.Do(func() {})
	if l.b != nil {
		l.b.Close()
	}
}
