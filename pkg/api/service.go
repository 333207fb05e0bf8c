package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "ftb.Backplane"

// Method paths
const (
	MethodConnect          = "/" + ServiceName + "/Connect"
	MethodDisconnect       = "/" + ServiceName + "/Disconnect"
	MethodDeclare          = "/" + ServiceName + "/DeclarePublishableEvents"
	MethodPublish          = "/" + ServiceName + "/Publish"
	MethodSubscribe        = "/" + ServiceName + "/Subscribe"
	MethodUnsubscribe      = "/" + ServiceName + "/Unsubscribe"
	MethodPollEvent        = "/" + ServiceName + "/PollEvent"
	MethodLoadSchema       = "/" + ServiceName + "/LoadSchema"
	MethodStats            = "/" + ServiceName + "/Stats"
	MethodListDeclarations = "/" + ServiceName + "/ListDeclarations"
	MethodStreamEvents     = "/" + ServiceName + "/StreamEvents"
)

// BackplaneServer is the server side of the ftb.Backplane service
type BackplaneServer interface {
	Connect(context.Context, *ConnectRequest) (*ConnectResponse, error)
	Disconnect(context.Context, *DisconnectRequest) (*Empty, error)
	DeclarePublishableEvents(context.Context, *DeclareRequest) (*Empty, error)
	Publish(context.Context, *PublishRequest) (*PublishResponse, error)
	Subscribe(context.Context, *SubscribeRequest) (*SubscribeResponse, error)
	Unsubscribe(context.Context, *UnsubscribeRequest) (*Empty, error)
	PollEvent(context.Context, *PollRequest) (*PollResponse, error)
	LoadSchema(context.Context, *LoadSchemaRequest) (*Empty, error)
	Stats(context.Context, *Empty) (*StatsResponse, error)
	ListDeclarations(context.Context, *ListDeclarationsRequest) (*ListDeclarationsResponse, error)
	StreamEvents(*StreamEventsRequest, grpc.ServerStream) error
}

// StreamEventsDesc describes the server-streaming StreamEvents method
var StreamEventsDesc = grpc.StreamDesc{
	StreamName:    "StreamEvents",
	ServerStreams: true,
	Handler: func(srv any, stream grpc.ServerStream) error {
		req := new(StreamEventsRequest)
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		return srv.(BackplaneServer).StreamEvents(req, stream)
	},
}

// ServiceDesc describes the ftb.Backplane service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BackplaneServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Connect", BackplaneServer.Connect),
		unary("Disconnect", BackplaneServer.Disconnect),
		unary("DeclarePublishableEvents", BackplaneServer.DeclarePublishableEvents),
		unary("Publish", BackplaneServer.Publish),
		unary("Subscribe", BackplaneServer.Subscribe),
		unary("Unsubscribe", BackplaneServer.Unsubscribe),
		unary("PollEvent", BackplaneServer.PollEvent),
		unary("LoadSchema", BackplaneServer.LoadSchema),
		unary("Stats", BackplaneServer.Stats),
		unary("ListDeclarations", BackplaneServer.ListDeclarations),
	},
	Streams:  []grpc.StreamDesc{StreamEventsDesc},
	Metadata: "ftb/backplane",
}

func unary[Req, Resp any](name string, call func(BackplaneServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BackplaneServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
		},
	}
}
