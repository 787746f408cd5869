// Package clip provides a unified interface to the system clipboard across
// platforms. Build constraints select the appropriate implementation:
//
//	clip_darwin.go    macOS via golang.design/x/clipboard + cgo changeCount
//	clip_linux.go     Linux via golang.design/x/clipboard, polling only
//	clip_other.go     headless stub everywhere else
//
// Memory is an in-process Backend for tests.
package clip

import (
	"errors"

	"go.klb.dev/clipvault/internal/selection"
)

// ErrUnsupported is returned by Write when no offer has a format the system
// clipboard can hold.
var ErrUnsupported = errors.New("clip: no offer in a supported format")

// Backend is the interface that all platform clipboard implementations satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Read returns the current clipboard contents, one offer per format.
	// Returns nil, nil if the clipboard is empty.
	Read() ([]selection.Offer, error)

	// Write replaces the clipboard contents with the best offer it can hold.
	Write(offers []selection.Offer) error

	// Watch returns a channel that receives a signal whenever the clipboard
	// changes. The channel is never closed. The caller should call Read()
	// when it receives from the channel.
	Watch() <-chan struct{}

	// Close releases any resources held by the backend.
	Close()
}

// Format is a clipboard format the native backends can read and write.
type Format int

const (
	FormatText Format = iota
	FormatImage
)

// pickWritable chooses the offer to put on a clipboard that only holds plain
// text or PNG images: the preferred text offer, else a PNG image.
func pickWritable(offers []selection.Offer) (selection.Offer, Format, bool) {
	i := selection.PreferredIndex(offers)
	if i >= 0 && selection.IsPlainTextMime(offers[i].MimeType) && !offers[i].IsEmpty() {
		return offers[i], FormatText, true
	}
	for _, o := range offers {
		if o.MimeType == "image/png" && !o.IsEmpty() {
			return o, FormatImage, true
		}
	}
	for _, o := range offers {
		if selection.IsTextMime(o.MimeType) && !o.IsEmpty() {
			return o, FormatText, true
		}
	}
	return selection.Offer{}, 0, false
}

func nativeOffers(text, img []byte) []selection.Offer {
	var offers []selection.Offer
	if len(text) > 0 {
		offers = append(offers,
			selection.Offer{MimeType: "text/plain;charset=utf-8", Data: text},
			selection.Offer{MimeType: "text/plain", Data: text},
		)
	}
	if len(img) > 0 {
		offers = append(offers, selection.Offer{MimeType: "image/png", Data: img})
	}
	return offers
}
