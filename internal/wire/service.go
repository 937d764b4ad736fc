package wire

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "segvguard.v1.Guard"

// GuardServer is the server API for the Guard service.
type GuardServer interface {
	Decide(context.Context, *DecideRequest) (*DecideResponse, error)
	Check(context.Context, *CheckRequest) (*CheckResponse, error)
	Crash(context.Context, *CrashRequest) (*CrashResponse, error)
	Entries(context.Context, *EntriesRequest) (*EntriesResponse, error)
	CreateScope(context.Context, *CreateScopeRequest) (*ScopeResponse, error)
	DestroyScope(context.Context, *DestroyScopeRequest) (*DestroyScopeResponse, error)
	SetTunable(context.Context, *SetTunableRequest) (*ScopeResponse, error)
	GetScope(context.Context, *GetScopeRequest) (*ScopeResponse, error)
}

// RegisterGuardServer attaches srv to a gRPC server.
func RegisterGuardServer(s grpc.ServiceRegistrar, srv GuardServer) {
	s.RegisterService(&GuardServiceDesc, srv)
}

// GuardServiceDesc describes the Guard service to grpc.
var GuardServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GuardServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Decide", GuardServer.Decide),
		unary("Check", GuardServer.Check),
		unary("Crash", GuardServer.Crash),
		unary("Entries", GuardServer.Entries),
		unary("CreateScope", GuardServer.CreateScope),
		unary("DestroyScope", GuardServer.DestroyScope),
		unary("SetTunable", GuardServer.SetTunable),
		unary("GetScope", GuardServer.GetScope),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "segvguard/v1/guard",
}

func unary[Req, Resp any](method string, call func(GuardServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(GuardServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(GuardServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// GuardClient is the client API for the Guard service. Every call is
// sent with the CBOR content subtype.
type GuardClient struct {
	cc grpc.ClientConnInterface
}

// NewGuardClient wraps a client connection.
func NewGuardClient(cc grpc.ClientConnInterface) *GuardClient {
	return &GuardClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(Name)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GuardClient) Decide(ctx context.Context, in *DecideRequest, opts ...grpc.CallOption) (*DecideResponse, error) {
	return invoke[DecideResponse](ctx, c.cc, "Decide", in, opts)
}

func (c *GuardClient) Check(ctx context.Context, in *CheckRequest, opts ...grpc.CallOption) (*CheckResponse, error) {
	return invoke[CheckResponse](ctx, c.cc, "Check", in, opts)
}

func (c *GuardClient) Crash(ctx context.Context, in *CrashRequest, opts ...grpc.CallOption) (*CrashResponse, error) {
	return invoke[CrashResponse](ctx, c.cc, "Crash", in, opts)
}

func (c *GuardClient) Entries(ctx context.Context, in *EntriesRequest, opts ...grpc.CallOption) (*EntriesResponse, error) {
	return invoke[EntriesResponse](ctx, c.cc, "Entries", in, opts)
}

func (c *GuardClient) CreateScope(ctx context.Context, in *CreateScopeRequest, opts ...grpc.CallOption) (*ScopeResponse, error) {
	return invoke[ScopeResponse](ctx, c.cc, "CreateScope", in, opts)
}

func (c *GuardClient) DestroyScope(ctx context.Context, in *DestroyScopeRequest, opts ...grpc.CallOption) (*DestroyScopeResponse, error) {
	return invoke[DestroyScopeResponse](ctx, c.cc, "DestroyScope", in, opts)
}

func (c *GuardClient) SetTunable(ctx context.Context, in *SetTunableRequest, opts ...grpc.CallOption) (*ScopeResponse, error) {
	return invoke[ScopeResponse](ctx, c.cc, "SetTunable", in, opts)
}

func (c *GuardClient) GetScope(ctx context.Context, in *GetScopeRequest, opts ...grpc.CallOption) (*ScopeResponse, error) {
	return invoke[ScopeResponse](ctx, c.cc, "GetScope", in, opts)
}
