// Package helper is the capture helper side of the capture protocol: it
// watches the system clipboard and writes one frame per change to stdout.
// It runs as the hidden "clipvault capture-helper" command.
package helper

import (
	"context"
	"io"
	"log/slog"

	"go.klb.dev/clipvault/internal/clip"
	"go.klb.dev/clipvault/internal/selection"
	"go.klb.dev/clipvault/internal/wire"
)

// Watcher forwards clipboard changes from a clip.Backend as wire frames.
type Watcher struct {
	backend clip.Backend
	w       *wire.Writer
	source  string

	last    selection.Selection
	started bool
}

// New returns a Watcher writing frames to out. source is reported as the
// selection's source application when non-empty.
func New(backend clip.Backend, out io.Writer, source string) *Watcher {
	return &Watcher{
		backend: backend,
		w:       wire.NewWriter(out),
		source:  source,
	}
}

// Run blocks until ctx is cancelled or a frame cannot be written, which
// means the host has gone away.
func (w *Watcher) Run(ctx context.Context) error {
	slog.Info("capture helper watching clipboard", "backend", w.backend.Name())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.backend.Watch():
		}

		if err := w.Poll(); err != nil {
			return err
		}
	}
}

// Poll reads the clipboard once and writes a frame if it changed since the
// last frame. A clipboard with nothing on it is sent as a clear selection.
func (w *Watcher) Poll() error {
	offers, err := w.backend.Read()
	if err != nil {
		slog.Error("clipboard read failed", "err", err)
		return nil
	}

	sel := selection.Selection{Offers: offers, Source: w.source}
	if w.started && sel.Equal(w.last) {
		return nil
	}
	w.last = sel
	w.started = true

	slog.Debug("clipboard changed", "offers", len(offers), "bytes", sel.Size())
	return w.w.WriteSelection(sel)
}
