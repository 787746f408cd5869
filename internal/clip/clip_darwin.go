//go:build darwin

package clip

// #cgo CFLAGS: -x objective-c
// #cgo LDFLAGS: -framework Cocoa
// #import <Cocoa/Cocoa.h>
//
// NSInteger clipvault_changeCount() {
//     return [[NSPasteboard generalPasteboard] changeCount];
// }
import "C"

import (
	"log/slog"
	"time"

	"golang.design/x/clipboard"

	"go.klb.dev/clipvault/internal/selection"
)

const darwinPollInterval = 100 * time.Millisecond

type darwinBackend struct {
	lastChange C.NSInteger
	watchCh    chan struct{}
	done       chan struct{}
}

// New returns the macOS clipboard backend.
// clipboard.Init is called here rather than in init() so that CLI sub-commands
// (list, get, status) that never construct a Backend don't log spurious
// warnings on headless systems.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard init failed", "err", err)
	}
	b := &darwinBackend{
		lastChange: C.clipvault_changeCount(),
		watchCh:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go b.poll()
	return b
}

func (b *darwinBackend) Name() string { return "macOS NSPasteboard" }

func (b *darwinBackend) poll() {
	t := time.NewTicker(darwinPollInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			cc := C.clipvault_changeCount()
			if cc != b.lastChange {
				b.lastChange = cc
				select {
				case b.watchCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (b *darwinBackend) Read() ([]selection.Offer, error) {
	return nativeOffers(clipboard.Read(clipboard.FmtText), clipboard.Read(clipboard.FmtImage)), nil
}

func (b *darwinBackend) Write(offers []selection.Offer) error {
	return writeNative(offers)
}

func (b *darwinBackend) Watch() <-chan struct{} { return b.watchCh }
func (b *darwinBackend) Close()                 { close(b.done) }
