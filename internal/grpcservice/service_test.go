package grpcservice

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"go.klb.dev/clipvault/internal/clip"
	"go.klb.dev/clipvault/internal/crypto"
	"go.klb.dev/clipvault/internal/history"
	"go.klb.dev/clipvault/internal/hub"
	"go.klb.dev/clipvault/internal/keystore"
	"go.klb.dev/clipvault/internal/selection"
	"go.klb.dev/clipvault/internal/store"
)

type fixture struct {
	svc  *Service
	hist *history.Service
	cb   *clip.Memory
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	enc := crypto.New(&keystore.Memory{})
	st, err := store.Open(t.TempDir(), store.WithCipher(enc))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := hub.New()
	hist := history.New(st, enc, h)
	hist.ProbeEncryption()

	cb := clip.NewMemory()
	opts = append([]Option{WithClipboard(cb), WithVersion("test")}, opts...)
	return &fixture{svc: New(hist, h, opts...), hist: hist, cb: cb}
}

func dial(t *testing.T, svc *Service) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	svc.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

func textOffers(s string) []Offer {
	return []Offer{{MimeType: "text/plain", Data: []byte(s)}}
}

func TestAddQueryRetrieve(t *testing.T) {
	ctx := context.Background()
	c := dial(t, newFixture(t).svc)

	first, err := c.Add(ctx, &AddRequest{Source: "editor", Offers: textOffers("hello world")})
	require.NoError(t, err)
	require.False(t, first.Rejected)
	require.NotNil(t, first.Selection)
	assert.Equal(t, "hello world", first.Selection.Preview)
	assert.Equal(t, "text", first.Selection.Kind)
	assert.Equal(t, "editor", first.Selection.Source)

	_, err = c.Add(ctx, &AddRequest{Offers: textOffers("https://example.com/x")})
	require.NoError(t, err)

	page, err := c.Query(ctx, &QueryRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, 1, page.TotalPages)
	require.Len(t, page.Items, 2)

	links, err := c.Query(ctx, &QueryRequest{Kind: "link"})
	require.NoError(t, err)
	require.Len(t, links.Items, 1)
	assert.Equal(t, "example.com", links.Items[0].URLHost)

	got, err := c.Retrieve(ctx, &IDRequest{ID: first.Selection.ID})
	require.NoError(t, err)
	require.Len(t, got.Offers, 1)
	assert.Equal(t, "hello world", string(got.Offers[0].Data))
	assert.Equal(t, "editor", got.Source)

	detail, err := c.Get(ctx, &IDRequest{ID: first.Selection.ID})
	require.NoError(t, err)
	require.Len(t, detail.Offers, 1)
	assert.Equal(t, "local", detail.Offers[0].Encryption)
}

func TestAddBubbles(t *testing.T) {
	ctx := context.Background()
	c := dial(t, newFixture(t).svc)

	a, err := c.Add(ctx, &AddRequest{Offers: textOffers("same")})
	require.NoError(t, err)
	b, err := c.Add(ctx, &AddRequest{Offers: textOffers("same")})
	require.NoError(t, err)
	assert.True(t, b.Bubbled)
	assert.Equal(t, a.Selection.ID, b.Selection.ID)
}

func TestAddRejected(t *testing.T) {
	ctx := context.Background()
	c := dial(t, newFixture(t).svc)

	resp, err := c.Add(ctx, &AddRequest{Offers: []Offer{
		{MimeType: "text/plain", Data: []byte("hunter2")},
		{MimeType: selection.ConcealedMimeType, Data: []byte("secret")},
	}})
	require.NoError(t, err)
	assert.True(t, resp.Rejected)
	assert.Equal(t, string(history.RejectConcealed), resp.Reason)
	assert.Nil(t, resp.Selection)

	_, err = c.SetMonitoring(ctx, &MonitoringRequest{Enabled: false})
	require.NoError(t, err)
	resp, err = c.Add(ctx, &AddRequest{Offers: textOffers("ignored")})
	require.NoError(t, err)
	assert.Equal(t, string(history.RejectMonitoringDisabled), resp.Reason)

	st, err := c.Status(ctx, &Empty{})
	require.NoError(t, err)
	assert.False(t, st.Monitoring)
	assert.Zero(t, st.Selections)
	assert.Equal(t, "test", st.Version)
}

func TestWriteMethods(t *testing.T) {
	ctx := context.Background()
	c := dial(t, newFixture(t).svc)

	a, err := c.Add(ctx, &AddRequest{Offers: textOffers("alpha")})
	require.NoError(t, err)
	id := a.Selection.ID

	_, err = c.SetPinned(ctx, &PinRequest{ID: id, Pinned: true})
	require.NoError(t, err)
	detail, err := c.Get(ctx, &IDRequest{ID: id})
	require.NoError(t, err)
	assert.NotNil(t, detail.Selection.PinnedAt)

	_, err = c.SetKeywords(ctx, &KeywordsRequest{ID: id, Keywords: "greek letters"})
	require.NoError(t, err)
	kw, err := c.GetKeywords(ctx, &IDRequest{ID: id})
	require.NoError(t, err)
	assert.Equal(t, "greek letters", kw.Keywords)

	found, err := c.Query(ctx, &QueryRequest{Text: "greek"})
	require.NoError(t, err)
	assert.Len(t, found.Items, 1)

	_, err = c.Remove(ctx, &IDRequest{ID: id})
	require.NoError(t, err)
	_, err = c.Get(ctx, &IDRequest{ID: id})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.Add(ctx, &AddRequest{Offers: textOffers("beta")})
	require.NoError(t, err)
	_, err = c.RemoveAll(ctx, &Empty{})
	require.NoError(t, err)
	page, err := c.Query(ctx, &QueryRequest{})
	require.NoError(t, err)
	assert.Zero(t, page.TotalCount)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := dial(t, f.svc)

	a, err := c.Add(ctx, &AddRequest{Offers: textOffers("paste me")})
	require.NoError(t, err)

	_, err = c.Restore(ctx, &IDRequest{ID: a.Selection.ID})
	require.NoError(t, err)
	offers, err := f.cb.Read()
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "paste me", string(offers[0].Data))

	noClip := New(f.hist, nil)
	_, err = noClip.Restore(ctx, &IDRequest{ID: a.Selection.ID})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestErrorCodes(t *testing.T) {
	ctx := context.Background()
	c := dial(t, newFixture(t).svc)

	_, err := c.Retrieve(ctx, &IDRequest{ID: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.Get(ctx, &IDRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.Query(ctx, &QueryRequest{Kind: "video"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.SetPinned(ctx, &PinRequest{ID: "missing", Pinned: true})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestAuth(t *testing.T) {
	ctx := context.Background()
	c := dial(t, newFixture(t, WithToken("secret")).svc)

	_, err := c.Status(ctx, &Empty{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	bad := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer wrong")
	_, err = c.Status(bad, &Empty{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	good := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer secret")
	_, err = c.Status(good, &Empty{})
	assert.NoError(t, err)
}

func TestWatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := dial(t, newFixture(t).svc)

	stream, err := c.Watch(ctx, &WatchRequest{Types: []string{string(hub.EventInserted), string(hub.EventRemoved)}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := c.Status(ctx, &Empty{})
		return err == nil && st.Watchers == 1
	}, 5*time.Second, 10*time.Millisecond)

	a, err := c.Add(ctx, &AddRequest{Offers: textOffers("watched")})
	require.NoError(t, err)
	_, err = c.SetPinned(ctx, &PinRequest{ID: a.Selection.ID, Pinned: true})
	require.NoError(t, err)
	_, err = c.Remove(ctx, &IDRequest{ID: a.Selection.ID})
	require.NoError(t, err)

	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, hub.EventInserted, ev.Type)
	assert.Equal(t, a.Selection.ID, ev.SelectionID)

	ev, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, hub.EventRemoved, ev.Type, "pin events are filtered out")
}
