package schedsim

import (
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/VerteraIO/schedclient/pkg/transport"
)

// NewGRPCServer serves the scheduler service with the JSON codec. Every
// method of the service is routed through Handle, so no generated stubs
// are involved.
func NewGRPCServer(s *Scheduler, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ForceServerCodec(transport.JSONCodec{}),
		grpc.UnknownServiceHandler(s.serveStream),
	)
	return grpc.NewServer(opts...)
}

func (s *Scheduler) serveStream(_ interface{}, stream grpc.ServerStream) error {
	full, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method on stream")
	}
	prefix := "/" + transport.ServiceName + "/"
	if !strings.HasPrefix(full, prefix) {
		return status.Errorf(codes.Unimplemented, "unknown service method %s", full)
	}

	var req Request
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	// The method path is authoritative.
	req.Method = strings.TrimPrefix(full, prefix)

	var authz string
	if md, ok := metadata.FromIncomingContext(stream.Context()); ok {
		if v := md.Get("authorization"); len(v) > 0 {
			authz = v[0]
		}
	}

	resp, err := s.Handle(stream.Context(), authz, req)
	switch errors.Cause(err) {
	case nil:
	case ErrUnauthenticated:
		return status.Error(codes.Unauthenticated, err.Error())
	case ErrUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	default:
		level.Warn(s.logger).Log("msg", "handling gRPC call", "method", req.Method, "err", err)
		return status.Error(codes.Internal, err.Error())
	}
	return stream.SendMsg(resp)
}
