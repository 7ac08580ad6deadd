// Package schedsim is a simulated scheduler replica. It speaks the same wire
// protocols as a real scheduler, keeps its state in memory and can be
// scripted to misbehave, which makes it the peer for client integration
// tests and for local development.
package schedsim

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/VerteraIO/schedclient/pkg/api"
	"github.com/VerteraIO/schedclient/pkg/auth"
)

var (
	// ErrUnauthenticated rejects a caller before its request is read.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnavailable fails a call the way a dying replica would.
	ErrUnavailable = errors.New("scheduler unavailable")
)

type Config struct {
	ClusterName string
	// SessionSecret, when set, requires JWT sessions signed with it.
	// Otherwise UNAUTHENTICATED sessions are accepted.
	SessionSecret []byte
	// BearerToken, when set, must be presented as the Authorization of
	// every request.
	BearerToken string
	Logger      log.Logger
}

// Request is an RPC as received on the wire.
type Request struct {
	Method string            `json:"method"`
	Args   []json.RawMessage `json:"args"`
}

type Scheduler struct {
	cfg    Config
	store  *Store
	script *Script
	logger log.Logger
}

func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Scheduler{cfg: cfg, store: NewStore(), script: NewScript(), logger: logger}
}

func (s *Scheduler) Store() *Store   { return s.store }
func (s *Scheduler) Script() *Script { return s.script }

// Handle serves one RPC. Errors are transport-level failures; everything
// else, including rejected sessions, is reported in the response envelope.
func (s *Scheduler) Handle(ctx context.Context, authorization string, req Request) (*api.Response, error) {
	if s.cfg.BearerToken != "" && authorization != "Bearer "+s.cfg.BearerToken {
		return nil, ErrUnauthenticated
	}
	m, ok := api.LookupMethod(req.Method)
	if !ok {
		return s.respond(api.ResponseCodeInvalidRequest, fmt.Sprintf("unknown method %q", req.Method)), nil
	}
	want := m.Args
	if m.Session {
		want++
	}
	if len(req.Args) != want {
		return s.respond(api.ResponseCodeInvalidRequest, fmt.Sprintf("%s takes %d arguments, got %d", m.Name, want, len(req.Args))), nil
	}

	if f, ok := s.script.next(m.Name); ok {
		level.Debug(s.logger).Log("msg", "serving scripted fault", "method", m.Name, "code", f.Code)
		return s.fault(f)
	}

	var user string
	if m.Session {
		u, err := s.checkSession(req.Args[len(req.Args)-1])
		if err != nil {
			level.Info(s.logger).Log("msg", "rejected session", "method", m.Name, "err", err)
			return s.respond(api.ResponseCodeAuthFailed, err.Error()), nil
		}
		user = u
	}

	resp := s.dispatch(m.Name, req.Args[:m.Args], user)
	level.Debug(s.logger).Log("msg", "served", "method", m.Name, "user", user, "code", resp.ResponseCode)
	return resp, nil
}

func (s *Scheduler) checkSession(raw json.RawMessage) (string, error) {
	var key api.SessionKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return "", errors.Wrap(err, "decoding session")
	}
	switch key.Mechanism {
	case auth.MechanismJWT:
		if len(s.cfg.SessionSecret) == 0 {
			return "", errors.New("JWT sessions are not configured")
		}
		claims, err := auth.VerifySessionToken(s.cfg.SessionSecret, string(key.Data))
		if err != nil {
			return "", errors.Wrap(err, "verifying session")
		}
		return claims.Subject, nil
	case auth.MechanismUnauthenticated:
		if len(s.cfg.SessionSecret) > 0 {
			return "", errors.New("a signed session is required")
		}
		return string(key.Data), nil
	default:
		return "", errors.Errorf("unsupported session mechanism %q", key.Mechanism)
	}
}

func (s *Scheduler) respond(code api.ResponseCode, messages ...string) *api.Response {
	r := api.NewResponse(code, messages...)
	r.ServerInfo.ClusterName = s.cfg.ClusterName
	return r
}

func (s *Scheduler) ok(result interface{}) *api.Response {
	r := s.respond(api.ResponseCodeOK)
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return s.respond(api.ResponseCodeError, err.Error())
		}
		r.Result = b
	}
	return r
}

func (s *Scheduler) fail(err error) *api.Response {
	code := api.ResponseCodeError
	switch errors.Cause(err) {
	case ErrLocked, ErrBadLock:
		code = api.ResponseCodeLockError
	case ErrJobNotFound, ErrJobExists:
		code = api.ResponseCodeInvalidRequest
	}
	return s.respond(code, err.Error())
}

func (s *Scheduler) fault(f Fault) (*api.Response, error) {
	switch {
	case f.Unauthenticated:
		return nil, ErrUnauthenticated
	case f.Unavailable:
		return nil, ErrUnavailable
	}
	r := s.respond(f.Code, f.Messages...)
	if f.ProtocolVersion != 0 {
		r.ServerInfo.ProtocolVersion = f.ProtocolVersion
	}
	return r, nil
}

func decodeArgs(args []json.RawMessage, into ...interface{}) error {
	for i, dst := range into {
		if dst == nil {
			continue
		}
		if err := json.Unmarshal(args[i], dst); err != nil {
			return errors.Wrapf(err, "argument %d", i)
		}
	}
	return nil
}

func (s *Scheduler) dispatch(method string, args []json.RawMessage, user string) *api.Response {
	switch method {
	case api.CreateJob:
		var cfg JobConfig
		if err := decodeArgs(args, &cfg); err != nil {
			return s.respond(api.ResponseCodeInvalidRequest, err.Error())
		}
		if cfg.Key.Role == "" || cfg.Key.Name == "" {
			return s.respond(api.ResponseCodeInvalidRequest, "job key needs a role and a name")
		}
		job, tasks, err := s.store.CreateJob(cfg)
		if err != nil {
			return s.fail(err)
		}
		ids := make([]string, 0, len(tasks))
		for _, t := range tasks {
			ids = append(ids, t.ID)
		}
		return s.ok(map[string]interface{}{"job": job, "taskIds": ids})

	case api.PopulateJobConfig:
		var cfg JobConfig
		if err := decodeArgs(args, &cfg); err != nil {
			return s.respond(api.ResponseCodeInvalidRequest, err.Error())
		}
		return s.ok(cfg)

	case api.AddInstances:
		var (
			cfg   JobConfig
			count int
		)
		if err := decodeArgs(args, &cfg, &count, nil); err != nil {
			return s.respond(api.ResponseCodeInvalidRequest, err.Error())
		}
		tasks, err := s.store.AddInstances(cfg.Key, count)
		if err != nil {
			return s.fail(err)
		}
		return s.ok(tasks)

	case api.RestartShards:
		var (
			key    JobKey
			shards []int
		)
		if err := decodeArgs(args, &key, &shards); err != nil {
			return s.respond(api.ResponseCodeInvalidRequest, err.Error())
		}
		n, err := s.store.Restart(key, shards)
		if err != nil {
			return s.fail(err)
		}
		return s.ok(map[string]int{"restarted": n})

	case api.KillTasks:
		var q TaskQuery
		if err := decodeArgs(args, &q, nil); err != nil {
			return s.respond(api.ResponseCodeInvalidRequest, err.Error())
		}
		return s.ok(map[string]int{"killed": s.store.Kill(q)})

	case api.GetTasksStatus, api.GetTasksWithoutConfigs:
		var q TaskQuery
		if err := decodeArgs(args, &q); err != nil {
			return s.respond(api.ResponseCodeInvalidRequest, err.Error())
		}
		return s.ok(s.store.Tasks(q))

	case api.GetJobs, api.GetJobSummary:
		var role string
		if err := decodeArgs(args, &role); err != nil {
			return s.respond(api.ResponseCodeInvalidRequest, err.Error())
		}
		return s.ok(s.store.Jobs(role))

	case api.GetRoleSummary:
		return s.ok(s.store.RoleSummary())

	case api.GetQuota:
		var role string
		if err := decodeArgs(args, &role); err != nil {
			return s.respond(api.ResponseCodeInvalidRequest, err.Error())
		}
		return s.ok(s.store.Quota(role))

	case api.SetQuota:
		var role string
		if err := decodeArgs(args, &role, nil); err != nil {
			return s.respond(api.ResponseCodeInvalidRequest, err.Error())
		}
		s.store.SetQuota(role, args[1])
		return s.ok(nil)

	case api.AcquireLock:
		var key JobKey
		if err := decodeArgs(args, &key); err != nil {
			return s.respond(api.ResponseCodeInvalidRequest, err.Error())
		}
		l, err := s.store.AcquireLock(key, user)
		if err != nil {
			return s.fail(err)
		}
		return s.ok(l)

	case api.ReleaseLock:
		var l Lock
		if err := decodeArgs(args, &l, nil); err != nil {
			return s.respond(api.ResponseCodeInvalidRequest, err.Error())
		}
		if err := s.store.ReleaseLock(l); err != nil {
			return s.fail(err)
		}
		return s.ok(nil)

	case api.GetLocks:
		return s.ok(s.store.Locks())

	case api.StartMaintenance, api.DrainHosts, api.MaintenanceStatus, api.EndMaintenance:
		var hosts []string
		if err := decodeArgs(args, &hosts); err != nil {
			return s.respond(api.ResponseCodeInvalidRequest, err.Error())
		}
		switch method {
		case api.StartMaintenance:
			return s.ok(s.store.SetMaintenance(hosts, "SCHEDULED"))
		case api.DrainHosts:
			return s.ok(s.store.SetMaintenance(hosts, "DRAINED"))
		case api.EndMaintenance:
			return s.ok(s.store.SetMaintenance(hosts, ""))
		default:
			return s.ok(s.store.Maintenance(hosts))
		}

	case api.PerformBackup, api.Snapshot:
		return s.ok(map[string]string{"backup": s.store.Backup()})

	case api.ListBackups:
		return s.ok(s.store.Backups())

	default:
		// Accepted but not modelled.
		return s.ok(nil)
	}
}
