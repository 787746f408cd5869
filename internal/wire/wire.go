// Package wire implements the capture protocol spoken between clipvault and
// a capture helper process.
//
// The helper writes one frame per clipboard change to its stdout:
//
//	[ u32 big-endian length L ][ L bytes of protobuf Selection ]
//
// The payload is the protobuf encoding of:
//
//	message Selection {
//	  repeated Offer offers = 1;
//	  string source = 2;
//	}
//	message Offer {
//	  string mime_type = 1;
//	  bytes  data      = 2;
//	}
//
// Frames may arrive split across reads in any way; the Decoder reassembles
// them. A malformed or oversized payload is reported and skipped without
// losing sync.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"go.klb.dev/clipvault/internal/selection"
)

const (
	// MaxFrameSize is the largest payload the decoder will buffer (64 MiB).
	MaxFrameSize = 64 * 1024 * 1024

	headerSize = 4
	readChunk  = 64 * 1024
)

var (
	// ErrMalformed is returned for a complete frame whose payload does not parse.
	ErrMalformed = errors.New("wire: malformed frame")
	// ErrFrameTooLarge is returned when a header declares more than MaxFrameSize bytes.
	ErrFrameTooLarge = errors.New("wire: frame too large")
)

const (
	fieldSelectionOffers = 1
	fieldSelectionSource = 2
	fieldOfferMimeType   = 1
	fieldOfferData       = 2
)

// Marshal encodes sel as a protobuf Selection message.
func Marshal(sel selection.Selection) []byte {
	var b []byte
	for _, o := range sel.Offers {
		var ob []byte
		ob = protowire.AppendTag(ob, fieldOfferMimeType, protowire.BytesType)
		ob = protowire.AppendString(ob, o.MimeType)
		ob = protowire.AppendTag(ob, fieldOfferData, protowire.BytesType)
		ob = protowire.AppendBytes(ob, o.Data)

		b = protowire.AppendTag(b, fieldSelectionOffers, protowire.BytesType)
		b = protowire.AppendBytes(b, ob)
	}
	if sel.Source != "" {
		b = protowire.AppendTag(b, fieldSelectionSource, protowire.BytesType)
		b = protowire.AppendString(b, sel.Source)
	}
	return b
}

// Unmarshal decodes a protobuf Selection message. Unknown fields are skipped.
func Unmarshal(b []byte) (selection.Selection, error) {
	var sel selection.Selection
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return selection.Selection{}, fmt.Errorf("selection tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldSelectionOffers && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return selection.Selection{}, fmt.Errorf("offer: %w", protowire.ParseError(n))
			}
			o, err := unmarshalOffer(v)
			if err != nil {
				return selection.Selection{}, err
			}
			sel.Offers = append(sel.Offers, o)
			b = b[n:]
		case num == fieldSelectionSource && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return selection.Selection{}, fmt.Errorf("source: %w", protowire.ParseError(n))
			}
			sel.Source = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return selection.Selection{}, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return sel, nil
}

func unmarshalOffer(b []byte) (selection.Offer, error) {
	var o selection.Offer
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return selection.Offer{}, fmt.Errorf("offer tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldOfferMimeType && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return selection.Offer{}, fmt.Errorf("mime_type: %w", protowire.ParseError(n))
			}
			o.MimeType = string(v)
			b = b[n:]
		case num == fieldOfferData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return selection.Offer{}, fmt.Errorf("data: %w", protowire.ParseError(n))
			}
			o.Data = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return selection.Offer{}, fmt.Errorf("offer field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return o, nil
}

// AppendFrame appends the length-prefixed encoding of sel to dst.
func AppendFrame(dst []byte, sel selection.Selection) []byte {
	payload := Marshal(sel)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// Decoder reassembles frames from an arbitrarily chunked byte stream.
// It is not safe for concurrent use.
type Decoder struct {
	buf []byte
	// skip counts payload bytes of an oversized frame still to be discarded.
	skip int64
}

// Feed appends p to the internal buffer and returns every selection completed
// by it. Frames whose payload fails to parse are skipped; their errors are
// joined and returned alongside the selections that did parse. The payload of
// a frame larger than MaxFrameSize is discarded as it arrives, without being
// buffered, and decoding resumes at the following header.
func (d *Decoder) Feed(p []byte) ([]selection.Selection, error) {
	if d.skip > 0 {
		n := min(d.skip, int64(len(p)))
		d.skip -= n
		p = p[n:]
	}
	d.buf = append(d.buf, p...)

	var (
		out  []selection.Selection
		errs []error
	)
	for len(d.buf) >= headerSize {
		size := binary.BigEndian.Uint32(d.buf)
		if size > MaxFrameSize {
			errs = append(errs, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size))
			drop := min(int64(size), int64(len(d.buf)-headerSize))
			d.buf = d.buf[headerSize+int(drop):]
			d.skip = int64(size) - drop
			continue
		}
		end := headerSize + int(size)
		if len(d.buf) < end {
			break
		}

		sel, err := Unmarshal(d.buf[headerSize:end])
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrMalformed, err))
		} else {
			out = append(out, sel)
		}
		d.buf = d.buf[end:]
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out, errors.Join(errs...)
}

// Buffered returns the number of bytes waiting for the rest of their frame.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Skipping returns the number of oversized-frame bytes still to be discarded.
func (d *Decoder) Skipping() int64 { return d.skip }

// ReadFrom reads r until EOF, calling fn for every decoded selection and
// onErr for every decode error. It returns nil on EOF.
func (d *Decoder) ReadFrom(r io.Reader, fn func(selection.Selection), onErr func(error)) error {
	chunk := make([]byte, readChunk)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			sels, derr := d.Feed(chunk[:n])
			for _, sel := range sels {
				fn(sel)
			}
			if derr != nil && onErr != nil {
				onErr(derr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Writer writes frames to an underlying writer. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

// NewWriter returns a Writer that frames selections onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteSelection writes one frame.
func (w *Writer) WriteSelection(sel selection.Selection) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = AppendFrame(w.buf[:0], sel)
	if _, err := w.w.Write(w.buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
