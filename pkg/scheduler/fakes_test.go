package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/VerteraIO/schedclient/pkg/api"
	"github.com/VerteraIO/schedclient/pkg/registry"
	"github.com/VerteraIO/schedclient/pkg/transport"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
	// onSleep, if set, runs after every recorded sleep.
	onSleep func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	if c.onSleep != nil {
		c.onSleep()
	}
	return nil
}

type call struct {
	method string
	args   []interface{}
}

// fakeTransport opens with the queued errors in order, then succeeds, and
// answers calls from reply.
type fakeTransport struct {
	uri      string
	openErrs []error
	opens    int
	closed   bool
	reply    func(method string, args []interface{}) (*api.Response, error)
	calls    *[]call
}

func (t *fakeTransport) Open(ctx context.Context) error {
	t.opens++
	if len(t.openErrs) > 0 {
		err := t.openErrs[0]
		t.openErrs = t.openErrs[1:]
		return err
	}
	return nil
}

func (t *fakeTransport) Call(ctx context.Context, method string, args []interface{}, resp *api.Response) error {
	*t.calls = append(*t.calls, call{method: method, args: args})
	r, err := t.reply(method, args)
	if err != nil {
		return err
	}
	*resp = *r
	return nil
}

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

// fakeNetwork hands out fakeTransports and records what was built.
type fakeNetwork struct {
	uris       []string
	options    []transport.Options
	transports []*fakeTransport
	openErrs   []error
	calls      []call
	replies    []*api.Response
	replyErrs  []error
}

func (n *fakeNetwork) factory(uri string, opts transport.Options) (transport.Transport, error) {
	n.uris = append(n.uris, uri)
	n.options = append(n.options, opts)
	t := &fakeTransport{uri: uri, calls: &n.calls, reply: n.reply}
	if len(n.openErrs) > 0 {
		t.openErrs = []error{n.openErrs[0]}
		n.openErrs = n.openErrs[1:]
	}
	n.transports = append(n.transports, t)
	return t, nil
}

// reply pops queued errors first, then queued responses; the last response
// repeats.
func (n *fakeNetwork) reply(string, []interface{}) (*api.Response, error) {
	if len(n.replyErrs) > 0 {
		err := n.replyErrs[0]
		n.replyErrs = n.replyErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(n.replies) == 0 {
		return api.NewResponse(api.ResponseCodeOK), nil
	}
	r := n.replies[0]
	if len(n.replies) > 1 {
		n.replies = n.replies[1:]
	}
	return r, nil
}

type fakeRegistry struct {
	results [][]registry.Member
	lookups int
	err     error
}

func (r *fakeRegistry) Members(ctx context.Context, path string) ([]registry.Member, error) {
	r.lookups++
	if r.err != nil {
		return nil, r.err
	}
	if len(r.results) == 0 {
		return nil, nil
	}
	m := r.results[0]
	if len(r.results) > 1 {
		r.results = r.results[1:]
	}
	return m, nil
}

func member(id string, seq int64, status registry.Status, host string, port int, extra map[string]registry.Endpoint) registry.Member {
	return registry.Member{
		ID:       id,
		Sequence: seq,
		Instance: registry.ServiceInstance{
			ServiceEndpoint:     registry.Endpoint{Host: host, Port: port},
			AdditionalEndpoints: extra,
			Status:              status,
		},
	}
}

var errRefused = errors.New("connection refused")
