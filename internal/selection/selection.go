// Package selection defines the clipboard selection model shared by the
// capture protocol, the store and the history service.
//
// A Selection is one clipboard-change event. It carries one Offer per MIME
// type the source application advertised:
//
//	Selection{Offers: [text/plain "hello", text/html "<b>hello</b>"]}
//
// The package also holds the pure functions derived from offers: kind
// classification, text previews, URL hosts and the preferred-offer choice.
package selection

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
)

// ConcealedMimeType is advertised by password managers to opt a selection out
// of clipboard history.
const ConcealedMimeType = "x-kde-passwordManagerHint"

// Offer is one MIME-typed representation of a selection's content.
type Offer struct {
	MimeType string
	Data     []byte
}

// NewTextOffer creates a text/plain offer from a string.
func NewTextOffer(text string) Offer {
	return Offer{MimeType: "text/plain", Data: []byte(text)}
}

// IsEmpty reports whether the offer carries no bytes.
func (o Offer) IsEmpty() bool { return len(o.Data) == 0 }

// Hash returns the hex MD5 digest of the offer bytes.
func (o Offer) Hash() string {
	sum := md5.Sum(o.Data)
	return hex.EncodeToString(sum[:])
}

// Kind classifies the offer from its MIME type and content.
func (o Offer) Kind() Kind { return Classify(o.MimeType, o.Data) }

// Selection is a single clipboard event.
type Selection struct {
	Offers []Offer
	// Source identifies the application that owned the selection, if known.
	Source string
}

// IsClear reports whether every offer is empty. Clear selections are emitted
// when the clipboard owner goes away and are never persisted.
func (s Selection) IsClear() bool {
	for _, o := range s.Offers {
		if !o.IsEmpty() {
			return false
		}
	}
	return true
}

// IsConcealed reports whether any offer carries the concealed marker.
func (s Selection) IsConcealed() bool {
	for _, o := range s.Offers {
		if o.MimeType == ConcealedMimeType {
			return true
		}
	}
	return false
}

// Dedup returns a copy of s keeping only the first offer of each MIME type.
func (s Selection) Dedup() Selection {
	seen := make(map[string]struct{}, len(s.Offers))
	out := Selection{Source: s.Source, Offers: make([]Offer, 0, len(s.Offers))}
	for _, o := range s.Offers {
		if _, ok := seen[o.MimeType]; ok {
			continue
		}
		seen[o.MimeType] = struct{}{}
		out.Offers = append(out.Offers, o)
	}
	return out
}

// Hash returns the content hash of the whole selection: the MD5 of the
// concatenated per-offer MD5 digests, in offer order. Two selections with
// the same offers in a different order hash differently.
func (s Selection) Hash() string {
	h := md5.New()
	for _, o := range s.Offers {
		sum := md5.Sum(o.Data)
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Offer returns the offer with the given MIME type.
func (s Selection) Offer(mimeType string) (Offer, bool) {
	for _, o := range s.Offers {
		if o.MimeType == mimeType {
			return o, true
		}
	}
	return Offer{}, false
}

// MimeTypes lists the MIME types of all offers in order.
func (s Selection) MimeTypes() []string {
	out := make([]string, len(s.Offers))
	for i, o := range s.Offers {
		out[i] = o.MimeType
	}
	return out
}

// Equal reports whether two selections carry the same offers in the same order.
func (s Selection) Equal(other Selection) bool {
	if len(s.Offers) != len(other.Offers) {
		return false
	}
	for i := range s.Offers {
		if s.Offers[i].MimeType != other.Offers[i].MimeType ||
			!bytes.Equal(s.Offers[i].Data, other.Offers[i].Data) {
			return false
		}
	}
	return true
}

// Size returns the total number of payload bytes.
func (s Selection) Size() int {
	n := 0
	for _, o := range s.Offers {
		n += len(o.Data)
	}
	return n
}
