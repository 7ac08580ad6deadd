package schedsim

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/VerteraIO/schedclient/pkg/registry"
)

// Announce registers inst under path and keeps the registration alive until
// ctx is done, at which point the replica leaves the registry. A lost
// registration is re-established, which puts the replica at the back of
// the leader line.
func Announce(ctx context.Context, reg *registry.Redis, path string, inst registry.ServiceInstance, ttl time.Duration, logger log.Logger) error {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m, err := reg.Join(ctx, path, inst, ttl)
	if err != nil {
		return errors.Wrap(err, "joining registry")
	}
	level.Info(logger).Log("msg", "joined registry", "path", path, "member", m.ID(), "sequence", m.Sequence())

	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.Leave(leaveCtx); err != nil {
				return errors.Wrap(err, "leaving registry")
			}
			level.Info(logger).Log("msg", "left registry", "path", path, "member", m.ID())
			return nil
		case <-ticker.C:
			err := m.Heartbeat(ctx)
			switch {
			case err == nil:
			case errors.Cause(err) == registry.ErrMembershipLost:
				level.Warn(logger).Log("msg", "registry membership lost, rejoining", "member", m.ID())
				if m, err = reg.Join(ctx, path, inst, ttl); err != nil {
					return errors.Wrap(err, "rejoining registry")
				}
			case ctx.Err() != nil:
			default:
				level.Warn(logger).Log("msg", "registry heartbeat failed", "member", m.ID(), "err", err)
			}
		}
	}
}
