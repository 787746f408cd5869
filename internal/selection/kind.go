package selection

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"
	"unicode/utf8"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Kind is the coarse classification of an offer.
type Kind string

const (
	KindUnknown Kind = "unknown"
	KindText    Kind = "text"
	KindImage   Kind = "image"
	KindLink    Kind = "link"
)

// ParseKind converts a string to a Kind. ok is false for unknown values.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindUnknown, KindText, KindImage, KindLink:
		return k, true
	}
	return "", false
}

const previewRunes = 50

// textMimeTypes is the fixed priority list used by PreferredIndex. Anything
// under text/ is also treated as text by Classify.
var textMimeTypes = []string{
	"text/plain;charset=utf-8",
	"text/plain",
	"UTF8_STRING",
	"STRING",
	"TEXT",
	"COMPOUND_TEXT",
}

// nonPortablePrefixes mark toolkit-private formats that cannot be pasted
// into an arbitrary application.
var nonPortablePrefixes = []string{
	"application/x-qt-",
	"application/x-kde-",
	"application/vnd.portal.",
	"chromium/",
	"x-special/",
	"SAVE_TARGETS",
	"TARGETS",
	"MULTIPLE",
	"TIMESTAMP",
	ConcealedMimeType,
}

// IsTextMime reports whether mimeType carries text.
func IsTextMime(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/") || IsPlainTextMime(mimeType)
}

// IsImageMime reports whether mimeType is an image type.
func IsImageMime(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// IsPlainTextMime reports whether mimeType is in the plain-text priority list.
func IsPlainTextMime(mimeType string) bool {
	for _, t := range textMimeTypes {
		if mimeType == t {
			return true
		}
	}
	return false
}

func isNonPortable(mimeType string) bool {
	for _, p := range nonPortablePrefixes {
		if strings.HasPrefix(mimeType, p) {
			return true
		}
	}
	return false
}

// Classify derives an offer's kind from its MIME type and, for text, from
// whether the content is a single absolute URL.
func Classify(mimeType string, data []byte) Kind {
	switch {
	case IsImageMime(mimeType):
		return KindImage
	case IsTextMime(mimeType):
		if _, ok := parseLink(data); ok {
			return KindLink
		}
		return KindText
	}
	return KindUnknown
}

func parseLink(data []byte) (*url.URL, bool) {
	text := strings.TrimSpace(string(data))
	if text == "" || strings.ContainsAny(text, " \t\r\n") || !utf8.ValidString(text) {
		return nil, false
	}
	u, err := url.Parse(text)
	if err != nil || !u.IsAbs() {
		return nil, false
	}
	if u.Host != "" {
		return u, true
	}
	switch u.Scheme {
	case "file", "mailto":
		return u, u.Path != "" || u.Opaque != ""
	}
	return nil, false
}

// URLHost returns the host of a link offer whose scheme starts with "http".
func URLHost(mimeType string, data []byte) string {
	if !IsTextMime(mimeType) {
		return ""
	}
	u, ok := parseLink(data)
	if !ok || !strings.HasPrefix(u.Scheme, "http") {
		return ""
	}
	return u.Hostname()
}

// Preview returns the short human-readable description of an offer.
func Preview(mimeType string, data []byte) string {
	switch Classify(mimeType, data) {
	case KindText, KindLink:
		return simplify(data, previewRunes)
	case KindImage:
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return "Image"
		}
		return fmt.Sprintf("Image %dx%d", cfg.Width, cfg.Height)
	}
	return "Unnamed"
}

// simplify collapses whitespace runs into single spaces, trims the ends and
// truncates to n runes.
func simplify(data []byte, n int) string {
	fields := strings.Fields(strings.ToValidUTF8(string(data), "�"))
	s := strings.Join(fields, " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// PreferredIndex picks the offer that is most useful to paste back:
//
//  1. a non-empty plain-text offer, in textMimeTypes priority order
//  2. a non-empty image offer
//  3. a non-empty text/html offer
//  4. any non-empty offer that is not a toolkit-private type
//  5. the first offer
//
// It returns -1 only when offers is empty.
func PreferredIndex(offers []Offer) int {
	if len(offers) == 0 {
		return -1
	}
	for _, t := range textMimeTypes {
		for i, o := range offers {
			if o.MimeType == t && !o.IsEmpty() {
				return i
			}
		}
	}
	for i, o := range offers {
		if IsImageMime(o.MimeType) && !o.IsEmpty() {
			return i
		}
	}
	for i, o := range offers {
		if o.MimeType == "text/html" && !o.IsEmpty() {
			return i
		}
	}
	for i, o := range offers {
		if !o.IsEmpty() && !isNonPortable(o.MimeType) {
			return i
		}
	}
	return 0
}

// Preferred returns the preferred offer of s. ok is false when s has no offers.
func (s Selection) Preferred() (Offer, bool) {
	i := PreferredIndex(s.Offers)
	if i < 0 {
		return Offer{}, false
	}
	return s.Offers[i], true
}
