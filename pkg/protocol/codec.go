package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/protobuf/ptypes/empty"
	"github.com/srand/jolt/engine/pkg/utils"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Response of calls that return nothing.
type Empty struct{}

// Encodes a message as JSON inside a protobuf envelope.
func Marshal(msg any) (*wrapperspb.BytesValue, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, utils.NewError(utils.ErrInternal, "marshal", err)
	}
	return wrapperspb.Bytes(data), nil
}

// Decodes a message from its protobuf envelope.
func Unmarshal(envelope *wrapperspb.BytesValue, msg any) error {
	if envelope == nil {
		return utils.Errorf(utils.ErrParse, "unmarshal", "missing message")
	}
	if err := json.Unmarshal(envelope.GetValue(), msg); err != nil {
		return utils.NewError(utils.ErrParse, "unmarshal", err)
	}
	return nil
}

func fullMethod(service, method string) string {
	return fmt.Sprintf("/%s/%s", service, method)
}

// Builds the server side of a unary method exchanging JSON messages.
// Errors returned by call are mapped to grpc status codes.
func unary[Req, Resp any](service, method string, call func(srv any, ctx context.Context, req *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(wrapperspb.BytesValue)
			if err := dec(in); err != nil {
				return nil, err
			}

			handler := func(ctx context.Context, raw any) (any, error) {
				req := new(Req)
				if err := Unmarshal(raw.(*wrapperspb.BytesValue), req); err != nil {
					return nil, utils.GrpcError(err)
				}
				resp, err := call(srv, ctx, req)
				if err != nil {
					return nil, utils.GrpcError(err)
				}
				out, err := Marshal(resp)
				if err != nil {
					return nil, utils.GrpcError(err)
				}
				return out, nil
			}

			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(service, method)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func ping(service string, call func(srv any, ctx context.Context) error) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: "Ping",
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(empty.Empty)
			if err := dec(in); err != nil {
				return nil, err
			}

			handler := func(ctx context.Context, _ any) (any, error) {
				if err := call(srv, ctx); err != nil {
					return nil, utils.GrpcError(err)
				}
				return &empty.Empty{}, nil
			}

			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(service, "Ping")}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Calls a unary method and maps status codes back to sentinel errors.
func invoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, service, method string, req *Req, opts ...grpc.CallOption) (*Resp, error) {
	in, err := Marshal(req)
	if err != nil {
		return nil, err
	}

	out := new(wrapperspb.BytesValue)
	if err := cc.Invoke(ctx, fullMethod(service, method), in, out, opts...); err != nil {
		return nil, utils.FromGrpcError(err)
	}

	resp := new(Resp)
	if err := Unmarshal(out, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func invokePing(ctx context.Context, cc grpc.ClientConnInterface, service string, opts ...grpc.CallOption) error {
	err := cc.Invoke(ctx, fullMethod(service, "Ping"), &empty.Empty{}, &empty.Empty{}, opts...)
	return utils.FromGrpcError(err)
}
