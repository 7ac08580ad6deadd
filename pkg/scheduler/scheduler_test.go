package scheduler

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VerteraIO/schedclient/pkg/api"
	"github.com/VerteraIO/schedclient/pkg/auth"
	"github.com/VerteraIO/schedclient/pkg/cluster"
	"github.com/VerteraIO/schedclient/pkg/registry"
	"github.com/VerteraIO/schedclient/pkg/transport"
)

var testSession = api.SessionKey{Mechanism: "test", Data: []byte("test")}

func newTestProxy(t *testing.T, c cluster.Cluster, n *fakeNetwork, reg registry.Registry, clock *fakeClock, mutate ...func(*Options)) *Proxy {
	t.Helper()
	opts := Options{
		UserAgent:        "schedclient-test",
		SessionFactory:   auth.StaticSession(testSession),
		TransportFactory: n.factory,
		Registry:         reg,
		Clock:            clock,
	}
	for _, m := range mutate {
		m(&opts)
	}
	p, err := New(c, opts)
	require.NoError(t, err)
	return p
}

func directCluster() cluster.Cluster {
	return cluster.Cluster{Name: "local", SchedulerURI: "http://scheduler.example.com:8081"}
}

func registryCluster(proxy string) cluster.Cluster {
	return cluster.Cluster{Name: "west", Registry: []string{"registry.example.com:6379"}, ProxyURL: proxy}
}

func TestDirectResolverReturnsURIVerbatim(t *testing.T) {
	for _, uri := range []string{
		"http://scheduler.example.com:8081",
		"https://scheduler.example.com:1337/",
		"http://10.0.0.4:8081/prefix",
	} {
		r, err := NewResolver(cluster.Cluster{Name: "c", SchedulerURI: uri}, nil, Options{})
		require.NoError(t, err)
		for i := 0; i < 2; i++ {
			ep, err := r.Resolve(context.Background())
			require.NoError(t, err)
			assert.Equal(t, uri, ep.URL)
			assert.Equal(t, uri, ep.RawURL)
		}
	}
}

func TestNewResolverConfigurationErrors(t *testing.T) {
	for _, c := range []cluster.Cluster{
		{Name: "none"},
		{Name: "both", SchedulerURI: "http://a:1", Registry: []string{"r:6379"}},
		{Name: "proxy-and-uri", SchedulerURI: "http://a:1", ProxyURL: "http://p"},
		{Name: "relative", SchedulerURI: "scheduler:8081"},
	} {
		_, err := NewResolver(c, &fakeRegistry{}, Options{})
		var cerr *ConfigurationError
		assert.ErrorAs(t, err, &cerr, c.Name)
	}
}

func TestProxyOnlyClusterIsDirect(t *testing.T) {
	r, err := NewResolver(cluster.Cluster{Name: "p", ProxyURL: "https://scheduler.proxy"}, nil, Options{})
	require.NoError(t, err)
	ep, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Endpoint{URL: "https://scheduler.proxy", RawURL: "https://scheduler.proxy"}, ep)
}

func TestProxyURLVersusRawURL(t *testing.T) {
	const host, port = "some-host.example.com", 31181
	for _, scheme := range []string{cluster.SchemeHTTP, cluster.SchemeHTTPS} {
		leader := member("member_a", 1, registry.StatusAlive, host, port, map[string]registry.Endpoint{
			scheme: {Host: host, Port: port},
		})
		raw := scheme + "://some-host.example.com:31181"

		// Without a proxy URL both addresses are the leader.
		c := registryCluster("")
		c.Scheme = scheme
		n := &fakeNetwork{}
		p := newTestProxy(t, c, n, &fakeRegistry{results: [][]registry.Member{{leader}}}, newFakeClock())
		url, err := p.Client().URL(context.Background())
		require.NoError(t, err)
		rawURL, err := p.Client().RawURL(context.Background())
		require.NoError(t, err)
		assert.Equal(t, raw, url)
		assert.Equal(t, url, rawURL)
		assert.Empty(t, n.uris, "resolving must not connect")

		// With a proxy the logical address is the proxy.
		c = registryCluster("https://scheduler.proxy")
		c.Scheme = scheme
		n = &fakeNetwork{}
		p = newTestProxy(t, c, n, &fakeRegistry{results: [][]registry.Member{{leader}}}, newFakeClock())
		url, err = p.Client().URL(context.Background())
		require.NoError(t, err)
		rawURL, err = p.Client().RawURL(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "https://scheduler.proxy", url)
		assert.Equal(t, raw, rawURL)
		assert.Empty(t, n.uris)

		// Transports are only ever opened against the leader.
		_, err = p.GetRoleSummary(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{raw + "/api"}, n.uris)
		_, err = p.GetRoleSummary(context.Background())
		require.NoError(t, err)
		assert.Len(t, n.uris, 1, "connected transport is reused")
	}
}

func TestSchemePreference(t *testing.T) {
	withAlternate := member("member_a", 1, registry.StatusAlive, "primary.example.com", 31181, map[string]registry.Endpoint{
		"https": {Host: "secure.example.com", Port: 31443},
	})
	primaryOnly := member("member_a", 1, registry.StatusAlive, "primary.example.com", 31181, nil)

	for _, tc := range []struct {
		scheme string
		member registry.Member
		want   string
	}{
		{"https", withAlternate, "https://secure.example.com:31443"},
		{"http", withAlternate, "http://primary.example.com:31181"},
		{"https", primaryOnly, "https://primary.example.com:31181"},
	} {
		c := registryCluster("")
		c.Scheme = tc.scheme
		r, err := NewResolver(c, &fakeRegistry{results: [][]registry.Member{{tc.member}}}, Options{Clock: newFakeClock()})
		require.NoError(t, err)
		ep, err := r.Resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tc.want, ep.RawURL)
	}
}

func TestLeaderIsEarliestAliveMember(t *testing.T) {
	members := []registry.Member{
		member("member_c", 7, registry.StatusAlive, "c", 1, nil),
		member("member_a", 2, registry.StatusStarting, "a", 1, nil),
		member("member_b", 5, registry.StatusAlive, "b", 1, nil),
	}
	leader, ok := Leader(members)
	require.True(t, ok)
	assert.Equal(t, "member_b", leader.ID)

	_, ok = Leader([]registry.Member{member("member_a", 1, registry.StatusDead, "a", 1, nil)})
	assert.False(t, ok)
}

func TestLeaderIgnoresShard(t *testing.T) {
	zero, one := 0, 1
	a := member("member_a", 1, registry.StatusAlive, "a", 8081, nil)
	a.Instance.Shard = &one
	b := member("member_b", 2, registry.StatusAlive, "b", 8081, nil)
	b.Instance.Shard = &zero
	c := member("member_c", 3, registry.StatusAlive, "c", 8081, nil)

	for _, members := range [][]registry.Member{{a, b, c}, {c, b, a}} {
		leader, ok := Leader(members)
		require.True(t, ok)
		assert.Equal(t, "member_a", leader.ID)
	}
}

func TestRegistryLookupWaitsForLeader(t *testing.T) {
	clock := newFakeClock()
	reg := &fakeRegistry{results: [][]registry.Member{
		nil,
		nil,
		{member("member_a", 1, registry.StatusAlive, "leader", 8081, nil)},
	}}
	r, err := NewResolver(registryCluster(""), reg, Options{Clock: clock, Timeouts: Timeouts{
		LookupTimeout:      time.Second,
		LookupPollInterval: 100 * time.Millisecond,
	}})
	require.NoError(t, err)

	ep, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://leader:8081", ep.RawURL)
	assert.Equal(t, 3, reg.lookups)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, clock.sleeps)
}

func TestRegistryLookupNoEndpoint(t *testing.T) {
	clock := newFakeClock()
	reg := &fakeRegistry{results: [][]registry.Member{{member("member_a", 1, registry.StatusStopping, "a", 1, nil)}}}
	r, err := NewResolver(registryCluster(""), reg, Options{Clock: clock, Timeouts: Timeouts{
		LookupTimeout:      250 * time.Millisecond,
		LookupPollInterval: 100 * time.Millisecond,
	}})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background())
	var nerr *NoEndpointError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, cluster.DefaultRegistryPath, nerr.Path)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond, 50 * time.Millisecond}, clock.sleeps)

	reg = &fakeRegistry{}
	r, err = NewResolver(registryCluster(""), reg, Options{Clock: newFakeClock(), Timeouts: Timeouts{LookupTimeout: -1}})
	require.NoError(t, err)
	_, err = r.Resolve(context.Background())
	assert.ErrorAs(t, err, &nerr)
	assert.Equal(t, 1, reg.lookups)
}

func TestConnectRetriesOnceThenSucceeds(t *testing.T) {
	clock := newFakeClock()
	n := &fakeNetwork{openErrs: []error{errRefused}}
	c := NewConnector(n.factory, transport.Options{UserAgent: "Some-User-Agent", Auth: auth.Basic("u", "p")}, Options{Clock: clock})

	tr, err := c.Connect(context.Background(), "https://scheduler.example.com:1337")
	require.NoError(t, err)
	require.NotNil(t, tr)

	assert.Equal(t, []time.Duration{DefaultRetryInterval}, clock.sleeps)
	assert.Equal(t, []string{"https://scheduler.example.com:1337/api", "https://scheduler.example.com:1337/api"}, n.uris)
	assert.True(t, n.transports[0].closed, "failed transport is closed")
	assert.Equal(t, 1, n.transports[0].opens)
	assert.Equal(t, 1, n.transports[1].opens)
	for _, o := range n.options {
		assert.Equal(t, "Some-User-Agent", o.UserAgent)
		assert.NotNil(t, o.Auth)
	}
}

func TestConnectTimesOut(t *testing.T) {
	clock := newFakeClock()
	n := &fakeNetwork{openErrs: []error{errRefused, errRefused, errRefused, errRefused, errRefused, errRefused}}
	c := NewConnector(n.factory, transport.Options{}, Options{Clock: clock, Timeouts: Timeouts{
		ConnectTimeout: 2500 * time.Millisecond,
		RetryInterval:  time.Second,
	}})

	_, err := c.Connect(context.Background(), "http://scheduler:8081")
	var terr *ConnectionTimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 3, terr.Attempts)
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, []time.Duration{time.Second, time.Second, 500 * time.Millisecond}, clock.sleeps)
}

func TestConnectHonorsContext(t *testing.T) {
	n := &fakeNetwork{openErrs: []error{errRefused}}
	c := NewConnector(n.factory, transport.Options{}, Options{Clock: newFakeClock()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Connect(ctx, "http://scheduler:8081")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	clock := newFakeClock()
	transient := api.NewResponse(api.ResponseCodeErrorTransient, "message1", "message2")
	n := &fakeNetwork{replies: []*api.Response{transient, transient, api.NewResponse(api.ResponseCodeOK)}}
	sessions := 0
	p := newTestProxy(t, directCluster(), n, nil, clock, func(o *Options) {
		o.SessionFactory = func(context.Context) (api.SessionKey, error) {
			sessions++
			return testSession, nil
		}
	})

	resp, err := p.KillTasks(context.Background(), map[string]string{"role": "www-data"}, nil)
	require.NoError(t, err)
	assert.Equal(t, api.ResponseCodeOK, resp.ResponseCode)
	assert.Len(t, n.calls, 3)
	assert.Equal(t, 3, sessions, "a fresh session per dispatch")
	assert.Equal(t, []time.Duration{DefaultTransientRetryInterval, DefaultTransientRetryInterval}, clock.sleeps)
	for _, c := range n.calls {
		assert.Equal(t, api.KillTasks, c.method)
		require.Len(t, c.args, 3)
		assert.Equal(t, testSession, c.args[2])
	}
}

func TestTransientRetryCap(t *testing.T) {
	transient := api.NewResponse(api.ResponseCodeErrorTransient, "busy")
	n := &fakeNetwork{replies: []*api.Response{transient}}
	p := newTestProxy(t, directCluster(), n, nil, newFakeClock(), func(o *Options) {
		o.MaxTransientAttempts = 2
	})

	resp, err := p.GetJobs(context.Background(), "www-data")
	var xerr *TransientRetryExhaustedError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, 2, xerr.Attempts)
	assert.Equal(t, transient, resp)
	assert.Len(t, n.calls, 2)
	assert.Contains(t, err.Error(), "busy")
}

func TestTransientRetryHonorsContext(t *testing.T) {
	n := &fakeNetwork{replies: []*api.Response{api.NewResponse(api.ResponseCodeErrorTransient)}}
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	p := newTestProxy(t, directCluster(), n, nil, clock, func(o *Options) {
		o.SessionFactory = func(context.Context) (api.SessionKey, error) {
			cancel()
			return testSession, nil
		}
	})
	_, err := p.CreateJob(ctx, "job")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, n.calls, 1)
}

func TestVersionMismatchIsInternalError(t *testing.T) {
	resp := api.NewResponse(api.ResponseCodeOK)
	resp.ServerInfo.ProtocolVersion = api.ProtocolVersion - 1
	n := &fakeNetwork{replies: []*api.Response{resp}}
	p := newTestProxy(t, directCluster(), n, nil, newFakeClock())

	_, err := p.GetRoleSummary(context.Background())
	var ierr *InternalError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, api.GetRoleSummary, ierr.Method)
	assert.Len(t, n.calls, 1)

	// Checked on every call, not just the first.
	n.replies = []*api.Response{api.NewResponse(api.ResponseCodeOK), resp}
	_, err = p.GetRoleSummary(context.Background())
	require.NoError(t, err)
	_, err = p.GetRoleSummary(context.Background())
	assert.ErrorAs(t, err, &ierr)

	n.replies = []*api.Response{{ResponseCode: api.ResponseCodeOK}}
	_, err = p.GetRoleSummary(context.Background())
	assert.ErrorAs(t, err, &ierr, "missing server info")
}

func TestAuthErrorIsNotRetried(t *testing.T) {
	n := &fakeNetwork{replyErrs: []error{&transport.AuthError{URI: "x", Status: "401 Unauthorized"}}}
	p := newTestProxy(t, directCluster(), n, nil, newFakeClock())

	_, err := p.CreateJob(context.Background(), "job")
	var aerr *AuthError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, api.CreateJob, aerr.Method)
	assert.Len(t, n.calls, 1)
	assert.Equal(t, Connected, p.Client().State(), "auth failures keep the connection")
}

func TestSessionFailureIsAuthError(t *testing.T) {
	n := &fakeNetwork{}
	p := newTestProxy(t, directCluster(), n, nil, newFakeClock(), func(o *Options) {
		o.SessionFactory = func(context.Context) (api.SessionKey, error) {
			return api.SessionKey{}, assert.AnError
		}
	})
	_, err := p.CreateJob(context.Background(), "job")
	var aerr *AuthError
	assert.ErrorAs(t, err, &aerr)
	assert.Empty(t, n.calls)

	// Unprivileged calls need no session.
	_, err = p.GetJobs(context.Background(), "www-data")
	assert.NoError(t, err)
}

func TestTransportFailureInvalidatesConnection(t *testing.T) {
	reg := &fakeRegistry{results: [][]registry.Member{
		{member("member_a", 1, registry.StatusAlive, "old-leader", 8081, nil)},
		{member("member_b", 2, registry.StatusAlive, "new-leader", 8081, nil)},
	}}
	n := &fakeNetwork{}
	p := newTestProxy(t, registryCluster(""), n, reg, newFakeClock())

	_, err := p.GetQuota(context.Background(), "www-data")
	require.NoError(t, err)
	assert.Equal(t, Connected, p.Client().State())

	n.replyErrs = []error{&transport.Error{Op: "call", URI: "x", Err: errRefused}}
	_, err = p.GetQuota(context.Background(), "www-data")
	require.Error(t, err)
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, Unconnected, p.Client().State())
	assert.True(t, n.transports[0].closed)

	_, err = p.GetQuota(context.Background(), "www-data")
	require.NoError(t, err)
	assert.Equal(t, 2, reg.lookups)
	assert.Equal(t, []string{"http://old-leader:8081/api", "http://new-leader:8081/api"}, n.uris)
}

func TestResolutionIsCachedUntilInvalidated(t *testing.T) {
	reg := &fakeRegistry{results: [][]registry.Member{{member("member_a", 1, registry.StatusAlive, "leader", 8081, nil)}}}
	p := newTestProxy(t, registryCluster(""), &fakeNetwork{}, reg, newFakeClock())
	client := p.Client()

	_, err := client.URL(context.Background())
	require.NoError(t, err)
	_, err = client.RawURL(context.Background())
	require.NoError(t, err)
	_, err = client.Transport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reg.lookups)

	client.Invalidate()
	_, err = client.URL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, reg.lookups)
}

func TestConnectFailureLeavesClientFailed(t *testing.T) {
	n := &fakeNetwork{openErrs: []error{errRefused, errRefused}}
	p := newTestProxy(t, directCluster(), n, nil, newFakeClock(), func(o *Options) {
		o.ConnectTimeout = 1500 * time.Millisecond
	})
	_, err := p.GetLocks(context.Background())
	var terr *ConnectionTimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, Failed, p.Client().State())
	assert.Empty(t, n.calls)

	_, err = p.GetLocks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Connected, p.Client().State())
}

func TestCallValidatesMethodAndArity(t *testing.T) {
	n := &fakeNetwork{}
	p := newTestProxy(t, directCluster(), n, nil, newFakeClock())

	_, err := p.Call(context.Background(), "launchRockets")
	assert.Error(t, err)
	_, err = p.Call(context.Background(), api.GetJobs)
	assert.Error(t, err)
	_, err = p.Call(context.Background(), api.GetRoleSummary, "extra")
	assert.Error(t, err)
	assert.Empty(t, n.uris, "rejected before connecting")
}

func TestNonTransientErrorsAreReturned(t *testing.T) {
	for _, code := range []api.ResponseCode{api.ResponseCodeError, api.ResponseCodeWarning, api.ResponseCodeLockError, api.ResponseCodeInvalidRequest} {
		n := &fakeNetwork{replies: []*api.Response{api.NewResponse(code, "nope")}}
		p := newTestProxy(t, directCluster(), n, nil, newFakeClock())
		resp, err := p.AcquireLock(context.Background(), "key")
		require.NoError(t, err)
		assert.Equal(t, code, resp.ResponseCode)
		assert.Len(t, n.calls, 1)
	}
}

func TestEveryMethodHasForwarder(t *testing.T) {
	typ := reflect.TypeOf(&Proxy{})
	ctxType := reflect.TypeOf((*context.Context)(nil)).Elem()
	for _, m := range api.Methods() {
		name := strings.ToUpper(m.Name[:1]) + m.Name[1:]
		fm, ok := typ.MethodByName(name)
		if !assert.True(t, ok, "missing forwarder for %s", m.Name) {
			continue
		}
		// Receiver, context, then the RPC's own arguments.
		assert.Equal(t, m.Args+2, fm.Type.NumIn(), m.Name)
		assert.Equal(t, ctxType, fm.Type.In(1), m.Name)
	}
}

func TestForwardersPassArguments(t *testing.T) {
	n := &fakeNetwork{}
	p := newTestProxy(t, directCluster(), n, nil, newFakeClock())

	_, err := p.AddInstances(context.Background(), "config", 3, "lock")
	require.NoError(t, err)
	_, err = p.SetQuota(context.Background(), "www-data", map[string]int{"cpu": 4})
	require.NoError(t, err)
	_, err = p.Snapshot(context.Background())
	require.NoError(t, err)

	require.Len(t, n.calls, 3)
	assert.Equal(t, []interface{}{"config", 3, "lock", testSession}, n.calls[0].args)
	assert.Equal(t, api.SetQuota, n.calls[1].method)
	assert.Equal(t, []interface{}{testSession}, n.calls[2].args)
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	var cerr *ConfigurationError

	_, err := New(cluster.Cluster{Name: "x"}, Options{})
	assert.ErrorAs(t, err, &cerr)

	_, err = New(cluster.Cluster{Name: "x", SchedulerURI: "http://a:1", Transport: "carrier-pigeon"}, Options{})
	assert.ErrorAs(t, err, &cerr)

	_, err = New(cluster.Cluster{Name: "x", SchedulerURI: "http://a:1", AuthMechanism: "BEARER"}, Options{})
	assert.ErrorAs(t, err, &cerr)

	p, err := New(cluster.Cluster{Name: "x", SchedulerURI: "http://a:1", Transport: "grpc"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, Unconnected, p.Client().State())
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("SCHEDCLIENT_CONNECT_TIMEOUT", "30s")
	t.Setenv("SCHEDCLIENT_RETRY_INTERVAL", "2s")
	t.Setenv("SCHEDCLIENT_MAX_TRANSIENT_ATTEMPTS", "4")
	t.Setenv("SCHEDCLIENT_LOOKUP_POLL_INTERVAL", "50ms")

	opts, err := OptionsFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, opts.ConnectTimeout)
	assert.Equal(t, 2*time.Second, opts.RetryInterval)
	assert.Equal(t, 4, opts.MaxTransientAttempts)
	assert.Equal(t, 50*time.Millisecond, opts.LookupPollInterval)

	opts = opts.withDefaults()
	assert.Equal(t, DefaultTransientRetryInterval, opts.TransientRetryInterval)
	assert.Equal(t, DefaultLookupTimeout, opts.LookupTimeout)

	t.Setenv("SCHEDCLIENT_RETRY_INTERVAL", "soon")
	_, err = OptionsFromEnv()
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unconnected", Unconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "failed", Failed.String())
}
