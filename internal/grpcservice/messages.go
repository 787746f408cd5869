package grpcservice

import (
	"time"

	"go.klb.dev/clipvault/internal/history"
	"go.klb.dev/clipvault/internal/selection"
	"go.klb.dev/clipvault/internal/store"
)

// Empty is the request or response of methods without arguments or results.
type Empty struct{}

type QueryRequest struct {
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
	Text       string `json:"text,omitempty"`
	Kind       string `json:"kind,omitempty"`
	RequestKey string `json:"request_key,omitempty"`
}

// Summary is a selection with its preferred offer's metadata.
type Summary struct {
	ID                string     `json:"id"`
	Hash              string     `json:"hash"`
	PreferredMimeType string     `json:"preferred_mime_type"`
	Kind              string     `json:"kind"`
	OfferCount        int        `json:"offer_count"`
	Source            string     `json:"source,omitempty"`
	Keywords          string     `json:"keywords,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	PinnedAt          *time.Time `json:"pinned_at,omitempty"`
	Preview           string     `json:"preview,omitempty"`
	URLHost           string     `json:"url_host,omitempty"`
	Size              int64      `json:"size"`
	Encryption        string     `json:"encryption,omitempty"`
}

type QueryResponse struct {
	Items      []Summary `json:"items"`
	TotalCount int       `json:"total_count"`
	TotalPages int       `json:"total_pages"`
}

type IDRequest struct {
	ID string `json:"id"`
}

// Offer is one MIME-typed payload. Data is base64 in JSON.
type Offer struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type RetrieveResponse struct {
	ID     string  `json:"id"`
	Source string  `json:"source,omitempty"`
	Offers []Offer `json:"offers"`
}

// Selection returns the retrieved offers as a selection.
func (r *RetrieveResponse) Selection() selection.Selection {
	return selection.Selection{Source: r.Source, Offers: fromOffers(r.Offers)}
}

type AddRequest struct {
	Source string  `json:"source,omitempty"`
	Offers []Offer `json:"offers"`
}

type AddResponse struct {
	Rejected  bool     `json:"rejected,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Bubbled   bool     `json:"bubbled,omitempty"`
	Selection *Summary `json:"selection,omitempty"`
}

type PinRequest struct {
	ID     string `json:"id"`
	Pinned bool   `json:"pinned"`
}

type KeywordsRequest struct {
	ID       string `json:"id"`
	Keywords string `json:"keywords"`
}

type KeywordsResponse struct {
	Keywords string `json:"keywords"`
}

type MonitoringRequest struct {
	Enabled bool `json:"enabled"`
}

type StatusResponse struct {
	history.Status
	Version string `json:"version,omitempty"`
}

type WatchRequest struct {
	// Types filters events by type; empty means all.
	Types []string `json:"types,omitempty"`
}

func toSummary(st store.StoredSelection, preferred *store.StoredOffer) Summary {
	s := Summary{
		ID:                st.ID,
		Hash:              st.Hash,
		PreferredMimeType: st.PreferredMimeType,
		Kind:              string(st.Kind),
		OfferCount:        st.OfferCount,
		Source:            st.Source,
		Keywords:          st.Keywords,
		CreatedAt:         st.CreatedAt,
		UpdatedAt:         st.UpdatedAt,
		PinnedAt:          st.PinnedAt,
	}
	if preferred != nil {
		s.Preview = preferred.TextPreview
		s.URLHost = preferred.URLHost
		s.Size = preferred.Size
		s.Encryption = string(preferred.Encryption)
	}
	return s
}

func toOffers(in []selection.Offer) []Offer {
	out := make([]Offer, len(in))
	for i, o := range in {
		out[i] = Offer{MimeType: o.MimeType, Data: o.Data}
	}
	return out
}

func fromOffers(in []Offer) []selection.Offer {
	out := make([]selection.Offer, len(in))
	for i, o := range in {
		out[i] = selection.Offer{MimeType: o.MimeType, Data: o.Data}
	}
	return out
}

// OfferInfo is the stored metadata of one offer, without its content.
type OfferInfo struct {
	ID          string `json:"id"`
	Position    int    `json:"position"`
	MimeType    string `json:"mime_type"`
	Preview     string `json:"preview,omitempty"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
	Encryption  string `json:"encryption"`
	URLHost     string `json:"url_host,omitempty"`
}

type GetResponse struct {
	Selection Summary     `json:"selection"`
	Offers    []OfferInfo `json:"offers"`
}

func toOfferInfo(so store.StoredOffer) OfferInfo {
	return OfferInfo{
		ID:          so.ID,
		Position:    so.Position,
		MimeType:    so.MimeType,
		Preview:     so.TextPreview,
		ContentHash: so.ContentHash,
		Size:        so.Size,
		Encryption:  string(so.Encryption),
		URLHost:     so.URLHost,
	}
}

// preferredOf returns the stored offer matching the selection's preferred
// MIME type.
func preferredOf(st store.StoredSelection, offers []store.StoredOffer) *store.StoredOffer {
	for i := range offers {
		if offers[i].MimeType == st.PreferredMimeType {
			return &offers[i]
		}
	}
	if len(offers) > 0 {
		return &offers[0]
	}
	return nil
}
