package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/VerteraIO/schedclient/pkg/api"
	"github.com/VerteraIO/schedclient/pkg/auth"
	"github.com/VerteraIO/schedclient/pkg/cluster"
	"github.com/VerteraIO/schedclient/pkg/transport"
)

// Proxy is what applications hold to talk to a scheduler cluster. It
// connects on first use, attaches sessions to privileged calls, checks the
// protocol version of every reply and re-issues calls that fail
// transiently. A Proxy is not safe for concurrent use.
type Proxy struct {
	cluster     cluster.Cluster
	client      *Client
	session     auth.SessionFactory
	clock       Clock
	retryPolicy func() backoff.BackOff
	logger      log.Logger
}

// New builds a Proxy for c. Configuration problems are reported as
// *ConfigurationError; nothing is resolved or dialed until the first call.
func New(c cluster.Cluster, opts Options) (*Proxy, error) {
	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, &ConfigurationError{Cluster: c.Name, Err: err}
	}
	opts = opts.withDefaults()
	logger := log.With(opts.Logger, "cluster", c.Name)
	opts.Logger = logger

	authn, err := opts.AuthFactory(c)
	if err != nil {
		return nil, &ConfigurationError{Cluster: c.Name, Err: err}
	}
	factory := opts.TransportFactory
	if factory == nil {
		if factory, err = transport.FactoryFor(c.Transport); err != nil {
			return nil, &ConfigurationError{Cluster: c.Name, Err: err}
		}
	}
	topts := opts.TransportOptions
	topts.UserAgent = opts.UserAgent
	topts.Auth = authn

	resolver, err := NewResolver(c, opts.Registry, opts)
	if err != nil {
		return nil, err
	}
	return &Proxy{
		cluster:     c,
		client:      NewClient(resolver, NewConnector(factory, topts, opts), logger),
		session:     opts.SessionFactory,
		clock:       opts.Clock,
		retryPolicy: opts.TransientRetryPolicy,
		logger:      logger,
	}, nil
}

func (p *Proxy) Cluster() cluster.Cluster { return p.cluster }

// Client exposes connection state and the resolved URLs.
func (p *Proxy) Client() *Client { return p.client }

func (p *Proxy) Close() error { return p.client.Close() }

// Call invokes the RPC method with args. Transient server errors are
// retried according to the transient retry policy; every other response
// code is returned to the caller with a nil error.
func (p *Proxy) Call(ctx context.Context, method string, args ...interface{}) (_ *api.Response, err error) {
	m, ok := api.LookupMethod(method)
	if !ok {
		return nil, errors.Errorf("unknown scheduler method %q", method)
	}
	if len(args) != m.Args {
		return nil, errors.Errorf("%s takes %d arguments, got %d", method, m.Args, len(args))
	}

	defer func(begin time.Time) {
		rpcDuration.With(
			LabelMethod, method,
			LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())

	policy := p.retryPolicy()
	for attempt := 1; ; attempt++ {
		resp, err := p.dispatch(ctx, m, args)
		if err != nil {
			return nil, err
		}
		if resp.ResponseCode != api.ResponseCodeErrorTransient {
			return resp, nil
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return resp, &TransientRetryExhaustedError{Method: method, Attempts: attempt, Response: resp}
		}
		transientRetries.With(LabelMethod, method).Add(1)
		level.Info(p.logger).Log("msg", "transient scheduler error, retrying", "method", method, "attempt", attempt, "wait", wait, "details", resp.Messages())
		if err := p.clock.Sleep(ctx, wait); err != nil {
			return nil, errors.Wrapf(err, "waiting to retry %s", method)
		}
	}
}

// dispatch issues one attempt of m, with a freshly minted session if m
// needs one.
func (p *Proxy) dispatch(ctx context.Context, m api.Method, args []interface{}) (*api.Response, error) {
	t, err := p.client.Transport(ctx)
	if err != nil {
		return nil, err
	}

	callArgs := make([]interface{}, 0, len(args)+1)
	callArgs = append(callArgs, args...)
	if m.Session {
		key, err := p.session(ctx)
		if err != nil {
			return nil, &AuthError{Method: m.Name, Err: errors.Wrap(err, "creating session")}
		}
		callArgs = append(callArgs, key)
	}

	var resp api.Response
	if err := t.Call(ctx, m.Name, callArgs, &resp); err != nil {
		if transport.IsAuth(err) {
			return nil, &AuthError{Method: m.Name, Err: err}
		}
		level.Info(p.logger).Log("msg", "scheduler call failed, dropping connection", "method", m.Name, "err", err)
		p.client.Invalidate()
		return nil, errors.Wrapf(err, "calling %s", m.Name)
	}

	if resp.ServerInfo == nil {
		return nil, &InternalError{Method: m.Name, Err: errors.New("response carries no server info")}
	}
	if resp.ServerInfo.ProtocolVersion != api.ProtocolVersion {
		return nil, &InternalError{
			Method: m.Name,
			Err:    errors.Errorf("scheduler speaks protocol version %d, client expects %d", resp.ServerInfo.ProtocolVersion, api.ProtocolVersion),
		}
	}
	return &resp, nil
}
