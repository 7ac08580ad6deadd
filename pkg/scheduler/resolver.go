package scheduler

import (
	"context"
	"net/url"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/VerteraIO/schedclient/pkg/cluster"
	"github.com/VerteraIO/schedclient/pkg/registry"
)

// Endpoint is a resolved scheduler address. URL is what callers are shown;
// RawURL is where transports are opened. They differ only when a proxy
// fronts a registry-discovered leader.
type Endpoint struct {
	URL    string
	RawURL string
}

// Resolver locates the scheduler to talk to.
type Resolver interface {
	Resolve(ctx context.Context) (Endpoint, error)
}

// NewResolver selects the resolver for the cluster's addressing mode. reg
// is only used in registry mode; if nil, a Redis registry is dialed from the
// cluster's registry addresses.
func NewResolver(c cluster.Cluster, reg registry.Registry, opts Options) (Resolver, error) {
	opts = opts.withDefaults()
	c = c.WithDefaults()
	mode, err := c.Mode()
	if err != nil {
		return nil, &ConfigurationError{Cluster: c.Name, Err: err}
	}
	switch mode {
	case cluster.ModeDirect:
		return NewDirectResolver(c.Name, c.DirectURI())
	default:
		if c.ProxyURL != "" {
			if err := checkURI(c.ProxyURL); err != nil {
				return nil, &ConfigurationError{Cluster: c.Name, Err: err}
			}
		}
		if reg == nil {
			reg = registry.DialRedis(c.Registry, registry.WithLogger(opts.Logger))
		}
		return &RegistryResolver{
			Cluster:       c,
			Registry:      reg,
			Clock:         opts.Clock,
			LookupTimeout: opts.LookupTimeout,
			PollInterval:  opts.LookupPollInterval,
			Logger:        opts.Logger,
		}, nil
	}
}

func checkURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return errors.Wrapf(err, "parsing %q", uri)
	}
	if u.Scheme == "" || u.Host == "" {
		return errors.Errorf("%q is not an absolute URL", uri)
	}
	return nil
}

// DirectResolver always yields the configured URI.
type DirectResolver struct {
	uri string
}

func NewDirectResolver(clusterName, uri string) (*DirectResolver, error) {
	if err := checkURI(uri); err != nil {
		return nil, &ConfigurationError{Cluster: clusterName, Err: err}
	}
	return &DirectResolver{uri: uri}, nil
}

func (r *DirectResolver) Resolve(context.Context) (Endpoint, error) {
	return Endpoint{URL: r.uri, RawURL: r.uri}, nil
}

// RegistryResolver finds the leader among the replicas registered under the
// cluster's registry path, waiting up to LookupTimeout for one to appear. A
// negative LookupTimeout consults the registry once.
type RegistryResolver struct {
	Cluster       cluster.Cluster
	Registry      registry.Registry
	Clock         Clock
	LookupTimeout time.Duration
	PollInterval  time.Duration
	Logger        log.Logger
}

// forgetter is implemented by registries that memoize lookups.
type forgetter interface {
	Forget(path string)
}

// Forget drops any lookup the registry memoized for the cluster's path, so
// the next Resolve reads the registry itself.
func (r *RegistryResolver) Forget() {
	if f, ok := r.Registry.(forgetter); ok {
		f.Forget(r.Cluster.RegistryPath)
	}
}

func (r *RegistryResolver) Resolve(ctx context.Context) (Endpoint, error) {
	path := r.Cluster.RegistryPath
	deadline := r.Clock.Now().Add(r.LookupTimeout)
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			r.Forget()
		}
		members, err := r.Registry.Members(ctx, path)
		if err != nil {
			return Endpoint{}, errors.Wrapf(err, "looking up schedulers under %s", path)
		}
		if leader, ok := Leader(members); ok {
			raw := r.Cluster.Scheme + "://" + leader.Instance.EndpointFor(r.Cluster.Scheme).String()
			ep := Endpoint{URL: raw, RawURL: raw}
			if r.Cluster.ProxyURL != "" {
				ep.URL = r.Cluster.ProxyURL
			}
			level.Debug(r.Logger).Log("msg", "resolved scheduler leader", "cluster", r.Cluster.Name, "member", leader.ID, "url", ep.URL, "raw_url", ep.RawURL)
			return ep, nil
		}

		remaining := deadline.Sub(r.Clock.Now())
		if remaining <= 0 {
			return Endpoint{}, &NoEndpointError{Cluster: r.Cluster.Name, Path: path}
		}
		wait := r.PollInterval
		if wait > remaining {
			wait = remaining
		}
		if err := r.Clock.Sleep(ctx, wait); err != nil {
			return Endpoint{}, errors.Wrapf(err, "waiting for a scheduler under %s", path)
		}
	}
}

// Leader returns the alive member that joined earliest.
func Leader(members []registry.Member) (registry.Member, bool) {
	var (
		leader registry.Member
		found  bool
	)
	for _, m := range members {
		if m.Instance.Status != registry.StatusAlive {
			continue
		}
		if !found || m.Sequence < leader.Sequence {
			leader, found = m, true
		}
	}
	return leader, found
}
