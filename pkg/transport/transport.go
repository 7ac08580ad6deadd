package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/VerteraIO/schedclient/pkg/api"
	"github.com/VerteraIO/schedclient/pkg/auth"
)

// Transport carries scheduler RPCs to one scheduler address.
type Transport interface {
	// Open establishes (or verifies) connectivity to the peer.
	Open(ctx context.Context) error
	// Call dispatches method with args and decodes the reply into resp.
	Call(ctx context.Context, method string, args []interface{}, resp *api.Response) error
	Close() error
}

// Request is the body of every RPC.
type Request struct {
	Method string        `json:"method"`
	Args   []interface{} `json:"args"`
}

// Options are shared by all transport kinds.
type Options struct {
	UserAgent string
	Auth      auth.Authenticator
	TLSConfig *tls.Config
	// Timeout bounds a single RPC round trip. Zero means no bound beyond
	// the caller's context.
	Timeout time.Duration

	HTTPClient  *http.Client
	DialOptions []grpc.DialOption
}

// Factory builds an unopened transport for uri.
type Factory func(uri string, opts Options) (Transport, error)

const (
	KindHTTP = "http"
	KindGRPC = "grpc"
)

// FactoryFor returns the factory for a transport kind.
func FactoryFor(kind string) (Factory, error) {
	switch kind {
	case "", KindHTTP:
		return func(uri string, opts Options) (Transport, error) { return NewHTTP(uri, opts) }, nil
	case KindGRPC:
		return func(uri string, opts Options) (Transport, error) { return NewGRPC(uri, opts) }, nil
	default:
		return nil, errors.Errorf("unknown transport %q", kind)
	}
}

// Error is a failure to reach or converse with the peer. The connection
// should be considered dead.
type Error struct {
	Op  string
	URI string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URI, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AuthError means the peer rejected our credentials, or none could be
// produced.
type AuthError struct {
	URI    string
	Status string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("authentication failed for %s: %s", e.URI, e.Status)
	}
	return fmt.Sprintf("authentication failed for %s: %v", e.URI, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// JSONCodec encodes gRPC messages as JSON so that the plain Request and
// api.Response types travel without generated stubs.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func authorization(ctx context.Context, a auth.Authenticator, uri string) (string, error) {
	if a == nil {
		return "", nil
	}
	v, err := a.Authorization(ctx)
	if err != nil {
		return "", &AuthError{URI: uri, Err: err}
	}
	return v, nil
}
