package scheduler

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/VerteraIO/schedclient/pkg/transport"
)

// State of a Client's connection.
type State int

const (
	Unconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Client owns the resolved endpoint and the open transport for one
// cluster. It connects lazily and only re-resolves after Invalidate or a
// failed connect. A Client is not safe for concurrent use.
type Client struct {
	resolver  Resolver
	connector *Connector
	logger    log.Logger

	state     State
	endpoint  *Endpoint
	transport transport.Transport
}

func NewClient(resolver Resolver, connector *Connector, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Client{resolver: resolver, connector: connector, logger: logger}
}

func (c *Client) State() State { return c.state }

func (c *Client) resolve(ctx context.Context) (Endpoint, error) {
	if c.endpoint != nil {
		return *c.endpoint, nil
	}
	ep, err := c.resolver.Resolve(ctx)
	if err != nil {
		return Endpoint{}, err
	}
	c.endpoint = &ep
	return ep, nil
}

// URL is the scheduler address as presented to users. It resolves but does
// not connect.
func (c *Client) URL(ctx context.Context) (string, error) {
	ep, err := c.resolve(ctx)
	return ep.URL, err
}

// RawURL is the address transports are opened against.
func (c *Client) RawURL(ctx context.Context) (string, error) {
	ep, err := c.resolve(ctx)
	return ep.RawURL, err
}

// Transport returns the open transport, resolving and connecting first if
// needed.
func (c *Client) Transport(ctx context.Context) (transport.Transport, error) {
	if c.state == Connected && c.transport != nil {
		return c.transport, nil
	}
	c.state = Connecting
	ep, err := c.resolve(ctx)
	if err != nil {
		c.state = Failed
		return nil, err
	}
	t, err := c.connector.Connect(ctx, ep.RawURL)
	if err != nil {
		c.state = Failed
		// The leader may have moved; look again next time.
		c.dropEndpoint()
		return nil, err
	}
	c.transport = t
	c.state = Connected
	return t, nil
}

// Invalidate drops the transport and the resolved endpoint so the next call
// starts from resolution.
func (c *Client) Invalidate() {
	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			level.Debug(c.logger).Log("msg", "closing invalidated transport", "err", err)
		}
	}
	c.transport = nil
	c.dropEndpoint()
	c.state = Unconnected
}

// dropEndpoint forgets the resolved endpoint along with anything the
// resolver memoized to find it.
func (c *Client) dropEndpoint() {
	c.endpoint = nil
	if f, ok := c.resolver.(interface{ Forget() }); ok {
		f.Forget()
	}
}

func (c *Client) Close() error {
	var err error
	if c.transport != nil {
		err = c.transport.Close()
	}
	c.transport = nil
	c.state = Unconnected
	return err
}
