package grpcservice

import (
	"context"

	"google.golang.org/grpc"

	"go.klb.dev/clipvault/internal/hub"
)

// Client is a typed client for the History service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Client using cc. Authentication, if any, is attached
// by cc's per-RPC credentials.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Req, Resp any](ctx context.Context, c *Client, method string, in *Req, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Query(ctx context.Context, in *QueryRequest, opts ...grpc.CallOption) (*QueryResponse, error) {
	return invoke[QueryRequest, QueryResponse](ctx, c, "Query", in, opts...)
}

func (c *Client) Get(ctx context.Context, in *IDRequest, opts ...grpc.CallOption) (*GetResponse, error) {
	return invoke[IDRequest, GetResponse](ctx, c, "Get", in, opts...)
}

func (c *Client) Retrieve(ctx context.Context, in *IDRequest, opts ...grpc.CallOption) (*RetrieveResponse, error) {
	return invoke[IDRequest, RetrieveResponse](ctx, c, "Retrieve", in, opts...)
}

func (c *Client) Add(ctx context.Context, in *AddRequest, opts ...grpc.CallOption) (*AddResponse, error) {
	return invoke[AddRequest, AddResponse](ctx, c, "Add", in, opts...)
}

func (c *Client) SetPinned(ctx context.Context, in *PinRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[PinRequest, Empty](ctx, c, "SetPinned", in, opts...)
}

func (c *Client) Remove(ctx context.Context, in *IDRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[IDRequest, Empty](ctx, c, "Remove", in, opts...)
}

func (c *Client) RemoveAll(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty, Empty](ctx, c, "RemoveAll", in, opts...)
}

func (c *Client) SetKeywords(ctx context.Context, in *KeywordsRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[KeywordsRequest, Empty](ctx, c, "SetKeywords", in, opts...)
}

func (c *Client) GetKeywords(ctx context.Context, in *IDRequest, opts ...grpc.CallOption) (*KeywordsResponse, error) {
	return invoke[IDRequest, KeywordsResponse](ctx, c, "GetKeywords", in, opts...)
}

func (c *Client) SetMonitoring(ctx context.Context, in *MonitoringRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[MonitoringRequest, Empty](ctx, c, "SetMonitoring", in, opts...)
}

func (c *Client) Restore(ctx context.Context, in *IDRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[IDRequest, Empty](ctx, c, "Restore", in, opts...)
}

func (c *Client) Status(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[Empty, StatusResponse](ctx, c, "Status", in, opts...)
}

// Watch opens an event stream. Cancel ctx to end it.
func (c *Client) Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[hub.Event], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &HistoryServiceDesc.Streams[0], fullMethod("Watch"), opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchRequest, hub.Event]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
