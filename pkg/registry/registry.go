package registry

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Registry is the read side of the membership registry.
type Registry interface {
	// Members returns the live members registered under path, ordered by
	// the sequence in which they joined.
	Members(ctx context.Context, path string) ([]Member, error)
}

// ErrMembershipLost is returned by a heartbeat when the member record has
// already expired.
var ErrMembershipLost = errors.New("registry membership lost")

// Redis keeps members in a sorted set at <path> scored by join sequence.
// Each member's ServiceInstance lives at <path>/<id> with a TTL which the
// owning replica refreshes, so crashed replicas drop out on their own.
type Redis struct {
	client redis.UniversalClient
	cache  *gocache.Cache
	logger log.Logger
}

type Option func(*Redis)

// WithLookupCache memoizes Members results for ttl. Useful when many clients
// share one registry; it delays noticing a failover by up to ttl.
func WithLookupCache(ttl time.Duration) Option {
	return func(r *Redis) {
		if ttl > 0 {
			r.cache = gocache.New(ttl, 2*ttl)
		}
	}
}

func WithLogger(logger log.Logger) Option {
	return func(r *Redis) {
		r.logger = logger
	}
}

// NewRedis wraps an existing redis client.
func NewRedis(client redis.UniversalClient, opts ...Option) *Redis {
	r := &Redis{client: client, logger: log.NewNopLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis builds a client for the given registry ensemble.
func DialRedis(addrs []string, opts ...Option) *Redis {
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: addrs})
	return NewRedis(client, opts...)
}

func memberKey(path, id string) string {
	return path + "/" + id
}

func seqKey(path string) string {
	return path + "/seq"
}

func (r *Redis) Members(ctx context.Context, path string) ([]Member, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(path); ok {
			return v.([]Member), nil
		}
	}

	index, err := r.client.ZRangeWithScores(ctx, path, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "listing members of %s", path)
	}
	if len(index) == 0 {
		return nil, nil
	}

	keys := make([]string, len(index))
	for i, z := range index {
		keys[i] = memberKey(path, z.Member.(string))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "reading members of %s", path)
	}

	var (
		members []Member
		expired []interface{}
		bad     *multierror.Error
	)
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			expired = append(expired, index[i].Member)
			continue
		}
		si, err := Unpack([]byte(s))
		if err != nil {
			bad = multierror.Append(bad, errors.Wrapf(err, "member %s", keys[i]))
			continue
		}
		members = append(members, Member{
			ID:       index[i].Member.(string),
			Sequence: int64(index[i].Score),
			Instance: si,
		})
	}
	if bad != nil {
		level.Warn(r.logger).Log("msg", "ignoring undecodable registry members", "path", path, "err", bad)
	}
	// Members are added to the index and written in one transaction, so a
	// missing record means the member expired or left.
	if len(expired) > 0 {
		if err := r.client.ZRem(ctx, path, expired...).Err(); err != nil {
			level.Debug(r.logger).Log("msg", "pruning expired registry members", "path", path, "err", err)
		}
	}

	// A lookup without a live member is what callers poll on while waiting
	// for a leader, so it is never cached.
	if r.cache != nil && hasAlive(members) {
		r.cache.SetDefault(path, members)
	}
	return members, nil
}

func hasAlive(members []Member) bool {
	for _, m := range members {
		if m.Instance.Status == StatusAlive {
			return true
		}
	}
	return false
}

// Forget drops any cached lookup for path.
func (r *Redis) Forget(path string) {
	if r.cache != nil {
		r.cache.Delete(path)
	}
}

// Membership is a replica's registration under a path.
type Membership struct {
	registry *Redis
	path     string
	id       string
	sequence int64
	ttl      time.Duration
}

// Join registers inst under path. The record expires after ttl unless
// Heartbeat is called.
func (r *Redis) Join(ctx context.Context, path string, inst ServiceInstance, ttl time.Duration) (*Membership, error) {
	data, err := inst.Pack()
	if err != nil {
		return nil, errors.Wrap(err, "encoding service instance")
	}
	seq, err := r.client.Incr(ctx, seqKey(path)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "allocating sequence under %s", path)
	}
	id := "member_" + uuid.NewString()
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, memberKey(path, id), data, ttl)
		pipe.ZAdd(ctx, path, redis.Z{Score: float64(seq), Member: id})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "joining %s", path)
	}
	level.Debug(r.logger).Log("msg", "joined registry", "path", path, "member", id, "sequence", seq)
	return &Membership{registry: r, path: path, id: id, sequence: seq, ttl: ttl}, nil
}

func (m *Membership) ID() string      { return m.id }
func (m *Membership) Sequence() int64 { return m.sequence }

// Heartbeat extends the member record's TTL.
func (m *Membership) Heartbeat(ctx context.Context) error {
	ok, err := m.registry.client.Expire(ctx, memberKey(m.path, m.id), m.ttl).Result()
	if err != nil {
		return errors.Wrapf(err, "refreshing %s", m.id)
	}
	if !ok {
		return ErrMembershipLost
	}
	return nil
}

// Update replaces the published instance, e.g. to change its status.
func (m *Membership) Update(ctx context.Context, inst ServiceInstance) error {
	data, err := inst.Pack()
	if err != nil {
		return errors.Wrap(err, "encoding service instance")
	}
	return errors.Wrapf(m.registry.client.Set(ctx, memberKey(m.path, m.id), data, m.ttl).Err(), "updating %s", m.id)
}

// Leave removes the member from the registry.
func (m *Membership) Leave(ctx context.Context) error {
	_, err := m.registry.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, memberKey(m.path, m.id))
		pipe.ZRem(ctx, m.path, m.id)
		return nil
	})
	return errors.Wrapf(err, "leaving %s", m.path)
}
