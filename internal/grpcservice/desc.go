package grpcservice

import (
	"context"

	"google.golang.org/grpc"

	"go.klb.dev/clipvault/internal/hub"
)

const serviceName = "clipvault.v1.History"

// SourceHeader is the metadata key naming the calling client.
const SourceHeader = "x-clipvault-source"

// HistoryServer is the server API of the History service.
type HistoryServer interface {
	Query(context.Context, *QueryRequest) (*QueryResponse, error)
	Get(context.Context, *IDRequest) (*GetResponse, error)
	Retrieve(context.Context, *IDRequest) (*RetrieveResponse, error)
	Add(context.Context, *AddRequest) (*AddResponse, error)
	SetPinned(context.Context, *PinRequest) (*Empty, error)
	Remove(context.Context, *IDRequest) (*Empty, error)
	RemoveAll(context.Context, *Empty) (*Empty, error)
	SetKeywords(context.Context, *KeywordsRequest) (*Empty, error)
	GetKeywords(context.Context, *IDRequest) (*KeywordsResponse, error)
	SetMonitoring(context.Context, *MonitoringRequest) (*Empty, error)
	Restore(context.Context, *IDRequest) (*Empty, error)
	Status(context.Context, *Empty) (*StatusResponse, error)
	Watch(*WatchRequest, grpc.ServerStreamingServer[hub.Event]) error
}

var _ HistoryServer = (*Service)(nil)

// HistoryServiceDesc describes the History service. Messages are plain Go
// structs carried by the "json" codec.
var HistoryServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*HistoryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Query", HistoryServer.Query),
		unary("Get", HistoryServer.Get),
		unary("Retrieve", HistoryServer.Retrieve),
		unary("Add", HistoryServer.Add),
		unary("SetPinned", HistoryServer.SetPinned),
		unary("Remove", HistoryServer.Remove),
		unary("RemoveAll", HistoryServer.RemoveAll),
		unary("SetKeywords", HistoryServer.SetKeywords),
		unary("GetKeywords", HistoryServer.GetKeywords),
		unary("SetMonitoring", HistoryServer.SetMonitoring),
		unary("Restore", HistoryServer.Restore),
		unary("Status", HistoryServer.Status),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "clipvault/v1/history",
}

func fullMethod(name string) string { return "/" + serviceName + "/" + name }

// unary adapts a HistoryServer method to a grpc.MethodDesc.
func unary[Req, Resp any](name string, call func(HistoryServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(HistoryServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(HistoryServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(HistoryServer).Watch(in, &grpc.GenericServerStream[WatchRequest, hub.Event]{ServerStream: stream})
}
