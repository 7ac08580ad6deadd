package scheduler

import (
	"fmt"

	"github.com/VerteraIO/schedclient/pkg/api"
)

// ConfigurationError reports contradictory or missing cluster configuration.
type ConfigurationError struct {
	Cluster string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("cluster %q misconfigured: %v", e.Cluster, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NoEndpointError means discovery found no alive leader in time.
type NoEndpointError struct {
	Cluster string
	Path    string
}

func (e *NoEndpointError) Error() string {
	return fmt.Sprintf("no alive scheduler registered under %s for cluster %q", e.Path, e.Cluster)
}

// ConnectionTimeoutError means every connection attempt failed before the
// connect deadline.
type ConnectionTimeoutError struct {
	URI      string
	Attempts int
	Err      error
}

func (e *ConnectionTimeoutError) Error() string {
	return fmt.Sprintf("timed out connecting to %s after %d attempts: %v", e.URI, e.Attempts, e.Err)
}

func (e *ConnectionTimeoutError) Unwrap() error { return e.Err }

// InternalError is a protocol violation by the peer, such as a protocol
// version skew. It is never retried.
type InternalError struct {
	Method string
	Err    error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error calling %s: %v", e.Method, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// AuthError means the credentials for a call were rejected or could not be
// produced. Callers should re-authenticate rather than reconnect.
type AuthError struct {
	Method string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed calling %s: %v", e.Method, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientRetryExhaustedError is returned when the transient retry policy
// gives up. Response holds the last transient reply.
type TransientRetryExhaustedError struct {
	Method   string
	Attempts int
	Response *api.Response
}

func (e *TransientRetryExhaustedError) Error() string {
	msg := ""
	if e.Response != nil {
		msg = e.Response.Messages()
	}
	return fmt.Sprintf("%s still failing transiently after %d attempts: %s", e.Method, e.Attempts, msg)
}
