// Package grpcservice exposes the clipboard history over gRPC and, through
// grpc-gateway, over HTTP/JSON.
package grpcservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipvault/internal/crypto"
	"go.klb.dev/clipvault/internal/history"
	"go.klb.dev/clipvault/internal/hub"
	"go.klb.dev/clipvault/internal/selection"
	"go.klb.dev/clipvault/internal/store"
)

// watchBuffer is the number of events a slow Watch stream may lag behind
// before events are dropped.
const watchBuffer = 64

// Service implements HistoryServer.
type Service struct {
	hist    *history.Service
	h       *hub.Hub
	clip    history.ClipboardWriter
	token   string // empty = no auth
	version string

	watchSeq atomic.Uint64
}

// Option configures a Service.
type Option func(*Service)

// WithToken requires every call to carry "authorization: Bearer <token>".
func WithToken(token string) Option {
	return func(s *Service) { s.token = token }
}

// WithClipboard sets the clipboard Restore writes to. Without it Restore
// fails with FailedPrecondition.
func WithClipboard(w history.ClipboardWriter) Option {
	return func(s *Service) { s.clip = w }
}

// WithVersion sets the version reported by Status.
func WithVersion(v string) Option {
	return func(s *Service) { s.version = v }
}

// New returns a Service backed by hist. Watch streams subscribe to h.
func New(hist *history.Service, h *hub.Hub, opts ...Option) *Service {
	s := &Service{hist: hist, h: h}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register registers s on srv.
func (s *Service) Register(srv grpc.ServiceRegistrar) {
	srv.RegisterService(&HistoryServiceDesc, s)
}

func (s *Service) Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	var kind selection.Kind
	if req.Kind != "" {
		k, ok := selection.ParseKind(req.Kind)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unknown kind %q", req.Kind)
		}
		kind = k
	}
	if req.Limit < 0 || req.Offset < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit and offset must not be negative")
	}

	page, err := s.hist.Query(ctx, history.QueryRequest{
		Limit:      req.Limit,
		Offset:     req.Offset,
		Text:       req.Text,
		Kind:       kind,
		RequestKey: req.RequestKey,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &QueryResponse{
		Items:      make([]Summary, len(page.Items)),
		TotalCount: page.TotalCount,
		TotalPages: page.TotalPages,
	}
	for i, it := range page.Items {
		resp.Items[i] = toSummary(it.Selection, &it.Offer)
	}
	return resp, nil
}

func (s *Service) Get(ctx context.Context, req *IDRequest) (*GetResponse, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	st, offers, err := s.hist.Get(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &GetResponse{
		Selection: toSummary(st, preferredOf(st, offers)),
		Offers:    make([]OfferInfo, len(offers)),
	}
	for i, o := range offers {
		resp.Offers[i] = toOfferInfo(o)
	}
	return resp, nil
}

func (s *Service) Retrieve(ctx context.Context, req *IDRequest) (*RetrieveResponse, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	sel, err := s.hist.Retrieve(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RetrieveResponse{ID: req.ID, Source: sel.Source, Offers: toOffers(sel.Offers)}, nil
}

// Add records a selection as if it had been captured from the clipboard.
func (s *Service) Add(ctx context.Context, req *AddRequest) (*AddResponse, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	src := req.Source
	if src == "" {
		src = sourceFromCtx(ctx)
	}
	out, err := s.hist.Ingest(ctx, selection.Selection{Source: src, Offers: fromOffers(req.Offers)})
	if err != nil {
		return nil, toStatus(err)
	}
	if out.Rejected {
		return &AddResponse{Rejected: true, Reason: string(out.Reason)}, nil
	}

	st, offers, err := s.hist.Get(ctx, out.Selection.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	sum := toSummary(st, preferredOf(st, offers))
	return &AddResponse{Bubbled: out.Bubbled, Selection: &sum}, nil
}

func (s *Service) SetPinned(ctx context.Context, req *PinRequest) (*Empty, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	if err := s.hist.SetPinned(ctx, req.ID, req.Pinned); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) Remove(ctx context.Context, req *IDRequest) (*Empty, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	if err := s.hist.Remove(ctx, req.ID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) RemoveAll(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	if err := s.hist.RemoveAll(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) SetKeywords(ctx context.Context, req *KeywordsRequest) (*Empty, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	if err := s.hist.SetKeywords(ctx, req.ID, req.Keywords); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) GetKeywords(ctx context.Context, req *IDRequest) (*KeywordsResponse, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	kw, err := s.hist.Keywords(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &KeywordsResponse{Keywords: kw}, nil
}

func (s *Service) SetMonitoring(ctx context.Context, req *MonitoringRequest) (*Empty, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	s.hist.SetMonitoring(req.Enabled)
	return &Empty{}, nil
}

// Restore puts a stored selection back on the system clipboard.
func (s *Service) Restore(ctx context.Context, req *IDRequest) (*Empty, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	if s.clip == nil {
		return nil, status.Error(codes.FailedPrecondition, "no clipboard available")
	}
	if err := s.hist.Restore(ctx, req.ID, s.clip); err != nil {
		return nil, toStatus(err)
	}
	slog.Info("selection restored", "id", req.ID, "by", sourceFromCtx(ctx))
	return &Empty{}, nil
}

func (s *Service) Status(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	st, err := s.hist.Status(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &StatusResponse{Status: st, Version: s.version}, nil
}

// Watch streams history events until the client goes away.
func (s *Service) Watch(req *WatchRequest, stream grpc.ServerStreamingServer[hub.Event]) error {
	ctx := stream.Context()
	if err := s.auth(ctx); err != nil {
		return err
	}
	if s.h == nil {
		return status.Error(codes.Unavailable, "events are not available")
	}

	types := make([]hub.EventType, len(req.Types))
	for i, t := range req.Types {
		types[i] = hub.EventType(t)
	}
	addr := addrFromCtx(ctx)
	id := fmt.Sprintf("watch/%d", s.watchSeq.Add(1))
	sub := hub.NewChanSubscriber(id, addr, types, watchBuffer)

	s.h.Register(sub)
	defer s.h.Unregister(sub)
	slog.Info("watch started", "id", id, "addr", addr, "types", req.Types)
	defer slog.Info("watch ended", "id", id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sub.Events():
			if err := stream.Send(&ev); err != nil {
				return err
			}
		}
	}
}

// auth validates the bearer token in ctx metadata. Skipped when s.token is empty.
func (s *Service) auth(ctx context.Context) error {
	if s.token == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization header")
	}
	tok := strings.TrimPrefix(vals[0], "Bearer ")
	if tok != s.token {
		return status.Error(codes.Unauthenticated, "invalid token")
	}
	return nil
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return status.Error(codes.InvalidArgument, "id is required")
	}
	return nil
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, store.ErrEmptySelection):
		code = codes.InvalidArgument
	case errors.Is(err, history.ErrSuperseded):
		code = codes.Aborted
	case errors.Is(err, crypto.ErrAuthentication):
		code = codes.DataLoss
	case errors.Is(err, crypto.ErrUnavailable), errors.Is(err, store.ErrNoCipher):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	if code == codes.Internal {
		slog.Error("request failed", "err", err)
	}
	return status.Error(code, err.Error())
}

// sourceFromCtx names the caller, from x-clipvault-source metadata or the
// peer address.
func sourceFromCtx(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(SourceHeader); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return addrFromCtx(ctx)
}

func addrFromCtx(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}
