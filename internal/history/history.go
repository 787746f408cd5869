// Package history is the clipboard history service. It takes selections from
// the capture backend, applies the ingestion policy, stores them and serves
// the read and write API used by the CLI and the transport layer.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"go.klb.dev/clipvault/internal/capture"
	"go.klb.dev/clipvault/internal/hub"
	"go.klb.dev/clipvault/internal/selection"
	"go.klb.dev/clipvault/internal/store"
)

// ErrSuperseded is returned by Query when a newer query with the same
// request key arrived before this one finished.
var ErrSuperseded = errors.New("history: query superseded by a newer one")

// Store is the persistence the service needs. *store.Store implements it.
type Store interface {
	Insert(ctx context.Context, sel selection.Selection, encrypt bool) (store.InsertResult, error)
	Query(ctx context.Context, q store.Query) (store.Page, error)
	Get(ctx context.Context, id string) (store.StoredSelection, []store.StoredOffer, error)
	Retrieve(ctx context.Context, id string) (selection.Selection, error)
	SetPinned(ctx context.Context, id string, pinned bool) error
	SetKeywords(ctx context.Context, id, keywords string) error
	Keywords(ctx context.Context, id string) (string, error)
	Remove(ctx context.Context, id string) ([]string, error)
	RemoveAll(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// Encryption reports whether payloads can be encrypted. *crypto.Encryptor
// implements it.
type Encryption interface {
	Ready() error
}

// ClipboardWriter puts offers on the system clipboard. clip.Backend
// implements it.
type ClipboardWriter interface {
	Write(offers []selection.Offer) error
}

// RejectReason says why a selection was not stored.
type RejectReason string

const (
	RejectMonitoringDisabled RejectReason = "monitoring disabled"
	RejectProbePending       RejectReason = "encryption probe pending"
	RejectClear              RejectReason = "clear selection"
	RejectConcealed          RejectReason = "concealed selection"
)

// Outcome is the result of Ingest.
type Outcome struct {
	Rejected bool
	Reason   RejectReason
	// Selection and Bubbled are set when the selection was stored.
	Selection store.StoredSelection
	Bubbled   bool
}

// Service orchestrates capture, encryption and storage.
type Service struct {
	store Store
	enc   Encryption
	hub   *hub.Hub

	encrypt    bool
	monitoring atomic.Bool

	probeOnce    sync.Once
	probed       atomic.Bool
	encAvailable atomic.Bool
	encErr       error

	queries *semaphore.Weighted
	genMu   sync.Mutex
	gens    map[string]uint64

	capMu   sync.RWMutex
	capture capture.Backend
}

// Option configures a Service.
type Option func(*Service)

// WithMonitoring sets whether captured selections are recorded. Default true.
func WithMonitoring(on bool) Option {
	return func(s *Service) { s.monitoring.Store(on) }
}

// WithEncrypt sets whether payloads are encrypted when a key is available.
// Default true.
func WithEncrypt(on bool) Option {
	return func(s *Service) { s.encrypt = on }
}

// WithQueryWorkers bounds the number of queries running at once. Default 4.
func WithQueryWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.queries = semaphore.NewWeighted(int64(n))
		}
	}
}

// New returns a Service. enc may be nil, in which case nothing is encrypted.
// h may be nil when nobody watches for changes.
func New(st Store, enc Encryption, h *hub.Hub, opts ...Option) *Service {
	s := &Service{
		store:   st,
		enc:     enc,
		hub:     h,
		encrypt: true,
		queries: semaphore.NewWeighted(4),
		gens:    make(map[string]uint64),
	}
	s.monitoring.Store(true)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProbeEncryption resolves the encryption key once. Until it has run every
// captured selection is rejected, so nothing is stored in plaintext merely
// because the key was not resolved yet.
func (s *Service) ProbeEncryption() {
	s.probeOnce.Do(func() {
		if s.encrypt && s.enc != nil {
			if err := s.enc.Ready(); err != nil {
				s.encErr = err
				slog.Warn("encryption unavailable, storing new history in plaintext", "err", err)
			} else {
				s.encAvailable.Store(true)
			}
		}
		s.probed.Store(true)
	})
}

// SetMonitoring turns recording of captured selections on or off.
func (s *Service) SetMonitoring(on bool) {
	if s.monitoring.Swap(on) == on {
		return
	}
	slog.Info("monitoring changed", "enabled", on)
	s.publish(hub.EventMonitor, "")
}

// Monitoring reports whether captured selections are recorded.
func (s *Service) Monitoring() bool { return s.monitoring.Load() }

// AttachCapture records the running capture backend for Status.
func (s *Service) AttachCapture(b capture.Backend) {
	s.capMu.Lock()
	s.capture = b
	s.capMu.Unlock()
}

// HandleSelection is the capture.Handler for the service.
func (s *Service) HandleSelection(sel selection.Selection) {
	if _, err := s.Ingest(context.Background(), sel); err != nil {
		slog.Error("storing selection failed", "err", err)
	}
}

// Ingest applies the ingestion policy to sel and stores it. Policy
// rejections are reported in the Outcome, not as errors.
func (s *Service) Ingest(ctx context.Context, sel selection.Selection) (Outcome, error) {
	reject := func(r RejectReason) (Outcome, error) {
		slog.Debug("selection rejected", "reason", string(r), "offers", len(sel.Offers))
		return Outcome{Rejected: true, Reason: r}, nil
	}
	switch {
	case !s.monitoring.Load():
		return reject(RejectMonitoringDisabled)
	case !s.probed.Load():
		return reject(RejectProbePending)
	case sel.IsClear():
		return reject(RejectClear)
	case sel.IsConcealed():
		return reject(RejectConcealed)
	}

	sel = sel.Dedup()
	res, err := s.store.Insert(ctx, sel, s.encAvailable.Load())
	if err != nil {
		return Outcome{}, fmt.Errorf("ingest: %w", err)
	}

	if res.Bubbled {
		logSelection("selection bubbled up", res.Selection, sel)
		s.publish(hub.EventBubbled, res.Selection.ID)
	} else {
		logSelection("selection stored", res.Selection, sel)
		s.publish(hub.EventInserted, res.Selection.ID)
	}
	return Outcome{Selection: res.Selection, Bubbled: res.Bubbled}, nil
}

func (s *Service) publish(t hub.EventType, id string) {
	if s.hub != nil {
		s.hub.Publish(hub.Event{Type: t, SelectionID: id})
	}
}

// Retrieve returns every offer of a stored selection, decrypted.
func (s *Service) Retrieve(ctx context.Context, id string) (selection.Selection, error) {
	return s.store.Retrieve(ctx, id)
}

// Get returns the metadata of a stored selection and its offers.
func (s *Service) Get(ctx context.Context, id string) (store.StoredSelection, []store.StoredOffer, error) {
	return s.store.Get(ctx, id)
}

// Keywords returns a selection's search keywords.
func (s *Service) Keywords(ctx context.Context, id string) (string, error) {
	return s.store.Keywords(ctx, id)
}

// SetKeywords replaces a selection's search keywords.
func (s *Service) SetKeywords(ctx context.Context, id, keywords string) error {
	if err := s.store.SetKeywords(ctx, id, keywords); err != nil {
		return err
	}
	s.publish(hub.EventKeywords, id)
	return nil
}

// SetPinned pins or unpins a selection.
func (s *Service) SetPinned(ctx context.Context, id string, pinned bool) error {
	if err := s.store.SetPinned(ctx, id, pinned); err != nil {
		return err
	}
	if pinned {
		s.publish(hub.EventPinned, id)
	} else {
		s.publish(hub.EventUnpinned, id)
	}
	return nil
}

// Remove deletes one selection.
func (s *Service) Remove(ctx context.Context, id string) error {
	offers, err := s.store.Remove(ctx, id)
	if err != nil && len(offers) == 0 {
		return err
	}
	if err != nil {
		slog.Warn("selection removed but content cleanup failed", "selection", id, "err", err)
	}
	slog.Info("selection removed", "selection", id, "offers", len(offers))
	s.publish(hub.EventRemoved, id)
	return nil
}

// RemoveAll deletes the whole history.
func (s *Service) RemoveAll(ctx context.Context) error {
	if err := s.store.RemoveAll(ctx); err != nil {
		return err
	}
	slog.Info("history cleared")
	s.publish(hub.EventCleared, "")
	return nil
}

// Restore puts a stored selection back on the clipboard.
func (s *Service) Restore(ctx context.Context, id string, w ClipboardWriter) error {
	sel, err := s.store.Retrieve(ctx, id)
	if err != nil {
		return err
	}
	if err := w.Write(sel.Offers); err != nil {
		return fmt.Errorf("restore %s: %w", id, err)
	}
	return nil
}

// Status is a snapshot of the service state.
type Status struct {
	Monitoring          bool   `json:"monitoring"`
	EncryptionProbed    bool   `json:"encryption_probed"`
	EncryptionAvailable bool   `json:"encryption_available"`
	EncryptionError     string `json:"encryption_error,omitempty"`
	Selections          int    `json:"selections"`
	Capture             string `json:"capture,omitempty"`
	CaptureAlive        bool   `json:"capture_alive"`
	Watchers            int    `json:"watchers"`
}

// Status reports monitoring, encryption and capture state.
func (s *Service) Status(ctx context.Context) (Status, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Monitoring:          s.monitoring.Load(),
		EncryptionProbed:    s.probed.Load(),
		EncryptionAvailable: s.encAvailable.Load(),
		Selections:          n,
	}
	if st.EncryptionProbed && s.encErr != nil {
		st.EncryptionError = s.encErr.Error()
	}

	s.capMu.RLock()
	if s.capture != nil {
		st.Capture = s.capture.Name()
		st.CaptureAlive = s.capture.IsAlive()
	}
	s.capMu.RUnlock()

	if s.hub != nil {
		st.Watchers = len(s.hub.Subscribers())
	}
	return st, nil
}
