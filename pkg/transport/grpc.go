package transport

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/VerteraIO/schedclient/pkg/api"
)

// ServiceName is the gRPC service exposed by schedulers.
const ServiceName = "vertera.scheduler.v1.Scheduler"

// FullMethod is the gRPC method path for an RPC name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// GRPC carries RPCs over a gRPC connection using JSONCodec.
type GRPC struct {
	uri  string
	opts Options
	conn *grpc.ClientConn
}

var _ Transport = &GRPC{}

func NewGRPC(uri string, opts Options) (*GRPC, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", uri)
	}
	var creds credentials.TransportCredentials
	switch u.Scheme {
	case "http":
		creds = insecure.NewCredentials()
	case "https":
		creds = credentials.NewTLS(opts.TLSConfig)
	default:
		return nil, errors.Errorf("unsupported scheme in %s", uri)
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(JSONCodec{})),
	}
	if opts.UserAgent != "" {
		dialOpts = append(dialOpts, grpc.WithUserAgent(opts.UserAgent))
	}
	dialOpts = append(dialOpts, opts.DialOptions...)

	// Exactly one leader is addressed, so skip name resolution.
	conn, err := grpc.NewClient("passthrough:///"+u.Host, dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "creating gRPC client for %s", uri)
	}
	return &GRPC{uri: uri, opts: opts, conn: conn}, nil
}

// Open waits until the channel is ready. A transient failure on the way is
// reported immediately so the connector can back off.
func (t *GRPC) Open(ctx context.Context) error {
	t.conn.Connect()
	for {
		s := t.conn.GetState()
		switch s {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure:
			return &Error{Op: "open", URI: t.uri, Err: errors.New("channel in transient failure")}
		case connectivity.Shutdown:
			return &Error{Op: "open", URI: t.uri, Err: errors.New("channel shut down")}
		}
		if !t.conn.WaitForStateChange(ctx, s) {
			return &Error{Op: "open", URI: t.uri, Err: ctx.Err()}
		}
	}
}

func (t *GRPC) Call(ctx context.Context, method string, args []interface{}, resp *api.Response) error {
	if args == nil {
		args = []interface{}{}
	}
	authz, err := authorization(ctx, t.opts.Auth, t.uri)
	if err != nil {
		return err
	}
	if authz != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", authz)
	}
	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}

	err = t.conn.Invoke(ctx, FullMethod(method), &Request{Method: method, Args: args}, resp)
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return &AuthError{URI: t.uri, Status: status.Code(err).String(), Err: err}
	default:
		return &Error{Op: "call " + method, URI: t.uri, Err: err}
	}
}

func (t *GRPC) Close() error {
	return t.conn.Close()
}
