package schedsim

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type TaskStatus string

const (
	TaskPending  TaskStatus = "PENDING"
	TaskRunning  TaskStatus = "RUNNING"
	TaskFinished TaskStatus = "FINISHED"
	TaskKilled   TaskStatus = "KILLED"
)

// JobKey identifies a job.
type JobKey struct {
	Role        string `json:"role"`
	Environment string `json:"environment"`
	Name        string `json:"name"`
}

func (k JobKey) String() string {
	return k.Role + "/" + k.Environment + "/" + k.Name
}

// JobConfig is the job description accepted by createJob.
type JobConfig struct {
	Key       JobKey          `json:"key"`
	Instances int             `json:"instances"`
	Task      json.RawMessage `json:"task,omitempty"`
}

type Job struct {
	Key       JobKey          `json:"key"`
	Instances int             `json:"instances"`
	Task      json.RawMessage `json:"task,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Task struct {
	ID         string     `json:"id"`
	Job        JobKey     `json:"job"`
	Instance   int        `json:"instance"`
	Status     TaskStatus `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// TaskQuery selects tasks. Empty fields match everything.
type TaskQuery struct {
	Role        string       `json:"role,omitempty"`
	Environment string       `json:"environment,omitempty"`
	JobName     string       `json:"jobName,omitempty"`
	Statuses    []TaskStatus `json:"statuses,omitempty"`
}

func (q TaskQuery) matches(t *Task) bool {
	if q.Role != "" && q.Role != t.Job.Role {
		return false
	}
	if q.Environment != "" && q.Environment != t.Job.Environment {
		return false
	}
	if q.JobName != "" && q.JobName != t.Job.Name {
		return false
	}
	if len(q.Statuses) == 0 {
		return true
	}
	for _, s := range q.Statuses {
		if s == t.Status {
			return true
		}
	}
	return false
}

type Lock struct {
	Key   JobKey `json:"key"`
	Token string `json:"token"`
	User  string `json:"user"`
}

var (
	ErrJobExists   = errors.New("job already exists")
	ErrJobNotFound = errors.New("job not found")
	ErrLocked      = errors.New("job is locked")
	ErrBadLock     = errors.New("lock token does not match")
)

// Store is the simulated scheduler's in-memory state.
type Store struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	tasks       map[string]*Task
	quotas      map[string]json.RawMessage
	locks       map[string]Lock
	maintenance map[string]string
	backups     []string
}

func NewStore() *Store {
	return &Store{
		jobs:        make(map[string]*Job),
		tasks:       make(map[string]*Task),
		quotas:      make(map[string]json.RawMessage),
		locks:       make(map[string]Lock),
		maintenance: make(map[string]string),
	}
}

// CreateJob records the job and queues one pending task per instance.
func (s *Store) CreateJob(cfg JobConfig) (*Job, []*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := cfg.Key.String()
	if _, ok := s.jobs[id]; ok {
		return nil, nil, errors.Wrap(ErrJobExists, id)
	}
	if _, ok := s.locks[id]; ok {
		return nil, nil, errors.Wrap(ErrLocked, id)
	}
	j := &Job{Key: cfg.Key, Instances: cfg.Instances, Task: cfg.Task, CreatedAt: time.Now().UTC()}
	s.jobs[id] = j
	return j, s.addTasks(j, 0, cfg.Instances), nil
}

func (s *Store) addTasks(j *Job, from, count int) []*Task {
	out := make([]*Task, 0, count)
	for i := from; i < from+count; i++ {
		t := &Task{
			ID:        uuid.NewString(),
			Job:       j.Key,
			Instance:  i,
			Status:    TaskPending,
			CreatedAt: time.Now().UTC(),
		}
		s.tasks[t.ID] = t
		out = append(out, t)
	}
	return out
}

// AddInstances grows a job by count instances.
func (s *Store) AddInstances(key JobKey, count int) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[key.String()]
	if !ok {
		return nil, errors.Wrap(ErrJobNotFound, key.String())
	}
	from := j.Instances
	j.Instances += count
	return s.addTasks(j, from, count), nil
}

// Tasks returns the tasks matching q ordered by job and instance.
func (s *Store) Tasks(q TaskQuery) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Task
	for _, t := range s.tasks {
		if q.matches(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Job != out[j].Job {
			return out[i].Job.String() < out[j].Job.String()
		}
		return out[i].Instance < out[j].Instance
	})
	return out
}

// Kill marks the matching live tasks killed and returns how many changed.
func (s *Store) Kill(q TaskQuery) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !q.matches(t) || t.Status == TaskKilled || t.Status == TaskFinished {
			continue
		}
		now := time.Now().UTC()
		t.Status = TaskKilled
		t.FinishedAt = &now
		n++
	}
	return n
}

// Restart puts the given instances of a job back to pending.
func (s *Store) Restart(key JobKey, instances []int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[key.String()]; !ok {
		return 0, errors.Wrap(ErrJobNotFound, key.String())
	}
	want := make(map[int]bool, len(instances))
	for _, i := range instances {
		want[i] = true
	}
	n := 0
	for _, t := range s.tasks {
		if t.Job == key && want[t.Instance] {
			t.Status = TaskPending
			t.FinishedAt = nil
			n++
		}
	}
	return n, nil
}

// Jobs lists the jobs owned by role, or every job when role is empty.
func (s *Store) Jobs(role string) []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Job
	for _, j := range s.jobs {
		if role == "" || j.Key.Role == role {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// RoleSummary counts jobs per role.
func (s *Store) RoleSummary() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for _, j := range s.jobs {
		out[j.Key.Role]++
	}
	return out
}

func (s *Store) Quota(role string) json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quotas[role]
}

func (s *Store) SetQuota(role string, quota json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotas[role] = quota
}

// AcquireLock locks a job for user and returns the lock.
func (s *Store) AcquireLock(key JobKey, user string) (Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[key.String()]; ok {
		return Lock{}, errors.Wrap(ErrLocked, key.String())
	}
	l := Lock{Key: key, Token: uuid.NewString(), User: user}
	s.locks[key.String()] = l
	return l, nil
}

func (s *Store) ReleaseLock(l Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.locks[l.Key.String()]
	if !ok || held.Token != l.Token {
		return ErrBadLock
	}
	delete(s.locks, l.Key.String())
	return nil
}

func (s *Store) Locks() []Lock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Lock, 0, len(s.locks))
	for _, l := range s.locks {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// SetMaintenance moves hosts to mode. An empty mode ends maintenance.
func (s *Store) SetMaintenance(hosts []string, mode string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(hosts))
	for _, h := range hosts {
		if mode == "" {
			delete(s.maintenance, h)
			out[h] = "NONE"
			continue
		}
		s.maintenance[h] = mode
		out[h] = mode
	}
	return out
}

func (s *Store) Maintenance(hosts []string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(hosts))
	for _, h := range hosts {
		if m, ok := s.maintenance[h]; ok {
			out[h] = m
		} else {
			out[h] = "NONE"
		}
	}
	return out
}

// Backup records a snapshot name.
func (s *Store) Backup() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := "backup-" + time.Now().UTC().Format("2006-01-02-15-04-05") + "-" + uuid.NewString()[:8]
	s.backups = append(s.backups, name)
	return name
}

func (s *Store) Backups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.backups...)
}
