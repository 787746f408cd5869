package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipvault/internal/clip"
	"go.klb.dev/clipvault/internal/crypto"
	"go.klb.dev/clipvault/internal/hub"
	"go.klb.dev/clipvault/internal/keystore"
	"go.klb.dev/clipvault/internal/selection"
	"go.klb.dev/clipvault/internal/store"
)

func newStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newService(t *testing.T, opts ...Option) (*Service, *store.Store, *hub.ChanSubscriber) {
	t.Helper()
	enc := crypto.New(&keystore.Memory{})
	st := newStore(t, store.WithCipher(enc))
	h := hub.New()
	sub := hub.NewChanSubscriber("test", "test", nil, 64)
	h.Register(sub)
	svc := New(st, enc, h, opts...)
	svc.ProbeEncryption()
	return svc, st, sub
}

func text(s string) selection.Selection {
	return selection.Selection{Offers: []selection.Offer{selection.NewTextOffer(s)}}
}

func drain(sub *hub.ChanSubscriber) []hub.EventType {
	var out []hub.EventType
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

func TestIngestPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("probe pending", func(t *testing.T) {
		svc := New(newStore(t), nil, nil)
		out, err := svc.Ingest(ctx, text("x"))
		require.NoError(t, err)
		assert.True(t, out.Rejected)
		assert.Equal(t, RejectProbePending, out.Reason)

		svc.ProbeEncryption()
		out, err = svc.Ingest(ctx, text("x"))
		require.NoError(t, err)
		assert.False(t, out.Rejected)
	})

	tests := []struct {
		name   string
		sel    selection.Selection
		reason RejectReason
	}{
		{"clear", selection.Selection{Offers: []selection.Offer{{MimeType: "text/plain"}}}, RejectClear},
		{"no offers", selection.Selection{}, RejectClear},
		{"concealed", selection.Selection{Offers: []selection.Offer{
			selection.NewTextOffer("hunter2"),
			{MimeType: selection.ConcealedMimeType, Data: []byte("secret")},
		}}, RejectConcealed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, sub := newService(t)
			out, err := svc.Ingest(ctx, tt.sel)
			require.NoError(t, err)
			assert.True(t, out.Rejected)
			assert.Equal(t, tt.reason, out.Reason)

			n, err := st.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.Empty(t, drain(sub))
		})
	}

	t.Run("monitoring disabled", func(t *testing.T) {
		svc, st, sub := newService(t, WithMonitoring(false))
		out, err := svc.Ingest(ctx, text("x"))
		require.NoError(t, err)
		assert.Equal(t, RejectMonitoringDisabled, out.Reason)

		svc.SetMonitoring(true)
		assert.Equal(t, []hub.EventType{hub.EventMonitor}, drain(sub))
		out, err = svc.Ingest(ctx, text("x"))
		require.NoError(t, err)
		assert.False(t, out.Rejected)

		n, err := st.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestIngestStoresAndBubbles(t *testing.T) {
	ctx := context.Background()
	svc, st, sub := newService(t)

	sel := selection.Selection{Offers: []selection.Offer{
		selection.NewTextOffer("hello"),
		{MimeType: "text/html", Data: []byte("<b>hello</b>")},
		{MimeType: "text/plain", Data: []byte("duplicate type")},
	}}
	out, err := svc.Ingest(ctx, sel)
	require.NoError(t, err)
	require.False(t, out.Rejected)
	assert.Equal(t, 2, out.Selection.OfferCount)

	_, offers, err := st.Get(ctx, out.Selection.ID)
	require.NoError(t, err)
	for _, o := range offers {
		assert.Equal(t, store.EncryptionLocal, o.Encryption)
	}

	again, err := svc.Ingest(ctx, sel)
	require.NoError(t, err)
	assert.True(t, again.Bubbled)
	assert.Equal(t, out.Selection.ID, again.Selection.ID)

	assert.Equal(t, []hub.EventType{hub.EventInserted, hub.EventBubbled}, drain(sub))

	got, err := svc.Retrieve(ctx, out.Selection.ID)
	require.NoError(t, err)
	assert.True(t, sel.Dedup().Equal(got))
}

func TestDegradedEncryptionStoresPlaintext(t *testing.T) {
	ctx := context.Background()
	enc := crypto.New(keystore.Unavailable{Err: errors.New("no secret service")})
	st := newStore(t, store.WithCipher(enc))
	svc := New(st, enc, nil)
	svc.ProbeEncryption()

	out, err := svc.Ingest(ctx, text("plain"))
	require.NoError(t, err)
	_, offers, err := st.Get(ctx, out.Selection.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EncryptionNone, offers[0].Encryption)

	got, err := svc.Retrieve(ctx, out.Selection.ID)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(got.Offers[0].Data))

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.EncryptionProbed)
	assert.False(t, status.EncryptionAvailable)
	assert.Contains(t, status.EncryptionError, "no secret service")
}

func TestEncryptDisabled(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newService(t, WithEncrypt(false))

	out, err := svc.Ingest(ctx, text("plain"))
	require.NoError(t, err)
	_, offers, err := st.Get(ctx, out.Selection.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EncryptionNone, offers[0].Encryption)
}

func TestWriteAPIPublishesEvents(t *testing.T) {
	ctx := context.Background()
	svc, _, sub := newService(t)

	out, err := svc.Ingest(ctx, text("pin me"))
	require.NoError(t, err)
	id := out.Selection.ID

	require.NoError(t, svc.SetPinned(ctx, id, true))
	require.NoError(t, svc.SetPinned(ctx, id, false))
	require.NoError(t, svc.SetKeywords(ctx, id, "tag"))
	kw, err := svc.Keywords(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "tag", kw)
	require.NoError(t, svc.Remove(ctx, id))
	require.NoError(t, svc.RemoveAll(ctx))

	assert.Equal(t, []hub.EventType{
		hub.EventInserted, hub.EventPinned, hub.EventUnpinned,
		hub.EventKeywords, hub.EventRemoved, hub.EventCleared,
	}, drain(sub))

	assert.ErrorIs(t, svc.Remove(ctx, id), store.ErrNotFound)
	assert.ErrorIs(t, svc.SetPinned(ctx, id, true), store.ErrNotFound)
	assert.Empty(t, drain(sub))
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	out, err := svc.Ingest(ctx, text("restore me"))
	require.NoError(t, err)

	cb := clip.NewMemory()
	require.NoError(t, svc.Restore(ctx, out.Selection.ID, cb))
	offers, err := cb.Read()
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "restore me", string(offers[0].Data))

	assert.ErrorIs(t, svc.Restore(ctx, "missing", cb), store.ErrNotFound)
}

func TestQueryPages(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	for i := range 7 {
		_, err := svc.Ingest(ctx, text(fmt.Sprintf("entry %d", i)))
		require.NoError(t, err)
	}

	page, err := svc.Query(ctx, QueryRequest{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)
	assert.Equal(t, 7, page.TotalCount)
	assert.Equal(t, 3, page.TotalPages)

	page, err = svc.Query(ctx, QueryRequest{Text: "entry 4", Limit: 10})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, page.TotalCount, 1)
}

// gatedStore blocks the first Query until release is closed.
type gatedStore struct {
	*store.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Query(ctx context.Context, q store.Query) (store.Page, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.Store.Query(ctx, q)
}

func TestQueryLastWins(t *testing.T) {
	ctx := context.Background()
	g := &gatedStore{
		Store:   newStore(t),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := New(g, nil, nil)
	svc.ProbeEncryption()
	_, err := svc.Ingest(ctx, text("x"))
	require.NoError(t, err)

	staleErr := make(chan error, 1)
	go func() {
		_, err := svc.Query(ctx, QueryRequest{RequestKey: "view", Text: "x"})
		staleErr <- err
	}()
	<-g.entered

	page, err := svc.Query(ctx, QueryRequest{RequestKey: "view"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)

	close(g.release)
	select {
	case err := <-staleErr:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("stale query did not return")
	}

	// Queries without a key never supersede each other.
	_, err = svc.Query(ctx, QueryRequest{})
	assert.NoError(t, err)
}

type fakeBackend struct{ alive bool }

func (f *fakeBackend) Name() string                { return "fake" }
func (f *fakeBackend) Start(context.Context) error { return nil }
func (f *fakeBackend) Stop() error                 { return nil }
func (f *fakeBackend) IsAlive() bool               { return f.alive }

func TestStatus(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	svc.AttachCapture(&fakeBackend{alive: true})

	_, err := svc.Ingest(ctx, text("x"))
	require.NoError(t, err)

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Monitoring)
	assert.True(t, st.EncryptionAvailable)
	assert.Empty(t, st.EncryptionError)
	assert.Equal(t, 1, st.Selections)
	assert.Equal(t, "fake", st.Capture)
	assert.True(t, st.CaptureAlive)
	assert.Equal(t, 1, st.Watchers)
}

func TestHandleSelection(t *testing.T) {
	svc, st, _ := newService(t)
	svc.HandleSelection(text("from capture"))

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
