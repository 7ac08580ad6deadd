package scheduler

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/kit/log"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"github.com/VerteraIO/schedclient/pkg/auth"
	"github.com/VerteraIO/schedclient/pkg/registry"
	"github.com/VerteraIO/schedclient/pkg/transport"
)

const envPrefix = "SCHEDCLIENT"

const (
	DefaultConnectTimeout         = time.Minute
	DefaultRetryInterval          = time.Second
	DefaultTransientRetryInterval = 5 * time.Second
	DefaultLookupTimeout          = 10 * time.Second
	DefaultLookupPollInterval     = 250 * time.Millisecond
)

// Clock abstracts time so retry loops can be driven deterministically.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d, returning early with ctx's error if ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// SystemClock is the wall clock.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Timeouts tune the retry loops. Zero values take the defaults. A negative
// ConnectTimeout removes the connect deadline, leaving only the caller's
// context. A negative LookupTimeout consults the registry once.
// MaxTransientAttempts of zero retries transient errors forever.
type Timeouts struct {
	ConnectTimeout         time.Duration `envconfig:"CONNECT_TIMEOUT"`
	RetryInterval          time.Duration `envconfig:"RETRY_INTERVAL"`
	TransientRetryInterval time.Duration `envconfig:"TRANSIENT_RETRY_INTERVAL"`
	MaxTransientAttempts   int           `envconfig:"MAX_TRANSIENT_ATTEMPTS"`
	LookupTimeout          time.Duration `envconfig:"LOOKUP_TIMEOUT"`
	LookupPollInterval     time.Duration `envconfig:"LOOKUP_POLL_INTERVAL"`
}

type Options struct {
	UserAgent string
	Logger    log.Logger

	// SessionFactory is consulted before every privileged call. Defaults to
	// auth.UnixSession.
	SessionFactory auth.SessionFactory
	// AuthFactory builds the transport authenticator for the cluster.
	AuthFactory auth.Factory
	// TransportFactory overrides the factory chosen by the cluster's
	// transport setting.
	TransportFactory transport.Factory
	// TransportOptions carry TLS and dial settings. UserAgent and Auth are
	// filled in by the client.
	TransportOptions transport.Options
	// Registry is used for registry-addressed clusters. When nil, one is
	// dialed from the cluster's registry addresses.
	Registry registry.Registry
	Clock    Clock
	// TransientRetryPolicy overrides the policy derived from Timeouts. It is
	// invoked once per call.
	TransientRetryPolicy func() backoff.BackOff

	Timeouts
}

// OptionsFromEnv reads Timeouts from SCHEDCLIENT_* environment variables.
func OptionsFromEnv() (Options, error) {
	var t Timeouts
	if err := envconfig.Process(envPrefix, &t); err != nil {
		return Options{}, errors.Wrap(err, "reading client settings from environment")
	}
	return Options{Timeouts: t}, nil
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	if o.SessionFactory == nil {
		o.SessionFactory = auth.UnixSession()
	}
	if o.AuthFactory == nil {
		o.AuthFactory = auth.DefaultFactory(nil)
	}
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.TransientRetryInterval <= 0 {
		o.TransientRetryInterval = DefaultTransientRetryInterval
	}
	if o.LookupTimeout == 0 {
		o.LookupTimeout = DefaultLookupTimeout
	}
	if o.LookupPollInterval <= 0 {
		o.LookupPollInterval = DefaultLookupPollInterval
	}
	if o.TransientRetryPolicy == nil {
		interval, max := o.TransientRetryInterval, o.MaxTransientAttempts
		o.TransientRetryPolicy = func() backoff.BackOff {
			var b backoff.BackOff = backoff.NewConstantBackOff(interval)
			if max > 0 {
				b = backoff.WithMaxRetries(b, uint64(max-1))
			}
			return b
		}
	}
	return o
}
