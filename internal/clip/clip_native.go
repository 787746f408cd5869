//go:build linux || darwin

package clip

import (
	"golang.design/x/clipboard"

	"go.klb.dev/clipvault/internal/selection"
)

func writeNative(offers []selection.Offer) error {
	o, format, ok := pickWritable(offers)
	if !ok {
		return ErrUnsupported
	}
	switch format {
	case FormatImage:
		clipboard.Write(clipboard.FmtImage, o.Data)
	default:
		clipboard.Write(clipboard.FmtText, o.Data)
	}
	return nil
}
