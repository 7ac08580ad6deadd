package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/VerteraIO/schedclient/pkg/transport"
)

// Connector opens transports, retrying at a constant interval until one
// opens or the connect deadline passes.
type Connector struct {
	factory  transport.Factory
	opts     transport.Options
	clock    Clock
	timeout  time.Duration
	interval time.Duration
	logger   log.Logger
}

func NewConnector(factory transport.Factory, topts transport.Options, opts Options) *Connector {
	opts = opts.withDefaults()
	return &Connector{
		factory:  factory,
		opts:     topts,
		clock:    opts.Clock,
		timeout:  opts.ConnectTimeout,
		interval: opts.RetryInterval,
		logger:   opts.Logger,
	}
}

// APIURI is the transport address for a scheduler URL.
func APIURI(rawURL string) string {
	return strings.TrimSuffix(rawURL, "/") + "/api"
}

// Connect opens a transport to the scheduler at rawURL.
func (c *Connector) Connect(ctx context.Context, rawURL string) (transport.Transport, error) {
	uri := APIURI(rawURL)

	var deadline time.Time
	if c.timeout > 0 {
		deadline = c.clock.Now().Add(c.timeout)
	}
	expired := func() bool {
		return !deadline.IsZero() && !c.clock.Now().Before(deadline)
	}

	interval := backoff.NewConstantBackOff(c.interval)
	var lastErr error
	for attempt := 1; ; attempt++ {
		t, err := c.factory(uri, c.opts)
		if err != nil {
			return nil, errors.Wrapf(err, "building transport for %s", uri)
		}
		if err = c.open(ctx, t, deadline); err == nil {
			connectAttempts.With(LabelOutcome, "success").Add(1)
			level.Debug(c.logger).Log("msg", "connected to scheduler", "uri", uri, "attempts", attempt)
			return t, nil
		}
		connectAttempts.With(LabelOutcome, "failure").Add(1)
		_ = t.Close()
		lastErr = err
		attemptLogger(c.logger, attempt).Log("msg", "connection to scheduler failed", "uri", uri, "attempt", attempt, "err", err)

		if ctx.Err() != nil {
			return nil, &ConnectionTimeoutError{URI: uri, Attempts: attempt, Err: ctx.Err()}
		}
		if expired() {
			return nil, &ConnectionTimeoutError{URI: uri, Attempts: attempt, Err: lastErr}
		}
		wait := interval.NextBackOff()
		if !deadline.IsZero() {
			if remaining := deadline.Sub(c.clock.Now()); remaining < wait {
				wait = remaining
			}
		}
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return nil, &ConnectionTimeoutError{URI: uri, Attempts: attempt, Err: err}
		}
		if expired() {
			return nil, &ConnectionTimeoutError{URI: uri, Attempts: attempt, Err: lastErr}
		}
	}
}

// open bounds a single attempt by whatever remains of the deadline.
func (c *Connector) open(ctx context.Context, t transport.Transport, deadline time.Time) error {
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline.Sub(c.clock.Now()))
		defer cancel()
	}
	return t.Open(ctx)
}

// attemptLogger gets louder the longer the scheduler stays unreachable.
func attemptLogger(logger log.Logger, attempt int) log.Logger {
	switch {
	case attempt <= 1:
		return level.Debug(logger)
	case attempt < 5:
		return level.Info(logger)
	default:
		return level.Warn(logger)
	}
}
