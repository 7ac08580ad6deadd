package scheduler

import (
	"context"

	"github.com/VerteraIO/schedclient/pkg/api"
)

// Forwarding methods, one per scheduler RPC. Arguments are passed through
// untouched; sessions are appended by Call where the RPC requires one.

// Job lifecycle.

func (p *Proxy) CreateJob(ctx context.Context, description interface{}) (*api.Response, error) {
	return p.Call(ctx, api.CreateJob, description)
}

func (p *Proxy) ScheduleCronJob(ctx context.Context, description interface{}) (*api.Response, error) {
	return p.Call(ctx, api.ScheduleCronJob, description)
}

func (p *Proxy) DescheduleCronJob(ctx context.Context, job interface{}) (*api.Response, error) {
	return p.Call(ctx, api.DescheduleCronJob, job)
}

func (p *Proxy) StartCronJob(ctx context.Context, job interface{}) (*api.Response, error) {
	return p.Call(ctx, api.StartCronJob, job)
}

func (p *Proxy) ReplaceCronTemplate(ctx context.Context, config interface{}, lock interface{}) (*api.Response, error) {
	return p.Call(ctx, api.ReplaceCronTemplate, config, lock)
}

func (p *Proxy) PopulateJobConfig(ctx context.Context, description interface{}) (*api.Response, error) {
	return p.Call(ctx, api.PopulateJobConfig, description)
}

func (p *Proxy) RestartShards(ctx context.Context, job interface{}, shards interface{}) (*api.Response, error) {
	return p.Call(ctx, api.RestartShards, job, shards)
}

func (p *Proxy) KillTasks(ctx context.Context, query interface{}, lock interface{}) (*api.Response, error) {
	return p.Call(ctx, api.KillTasks, query, lock)
}

func (p *Proxy) AddInstances(ctx context.Context, config interface{}, count interface{}, lock interface{}) (*api.Response, error) {
	return p.Call(ctx, api.AddInstances, config, count, lock)
}

func (p *Proxy) AcquireLock(ctx context.Context, key interface{}) (*api.Response, error) {
	return p.Call(ctx, api.AcquireLock, key)
}

func (p *Proxy) ReleaseLock(ctx context.Context, lock interface{}, validation interface{}) (*api.Response, error) {
	return p.Call(ctx, api.ReleaseLock, lock, validation)
}

// Queries.

func (p *Proxy) GetTasksStatus(ctx context.Context, query interface{}) (*api.Response, error) {
	return p.Call(ctx, api.GetTasksStatus, query)
}

func (p *Proxy) GetTasksWithoutConfigs(ctx context.Context, query interface{}) (*api.Response, error) {
	return p.Call(ctx, api.GetTasksWithoutConfigs, query)
}

func (p *Proxy) GetPendingReason(ctx context.Context, query interface{}) (*api.Response, error) {
	return p.Call(ctx, api.GetPendingReason, query)
}

func (p *Proxy) GetConfigSummary(ctx context.Context, job interface{}) (*api.Response, error) {
	return p.Call(ctx, api.GetConfigSummary, job)
}

func (p *Proxy) GetJobs(ctx context.Context, role interface{}) (*api.Response, error) {
	return p.Call(ctx, api.GetJobs, role)
}

func (p *Proxy) GetJobSummary(ctx context.Context, role interface{}) (*api.Response, error) {
	return p.Call(ctx, api.GetJobSummary, role)
}

func (p *Proxy) GetRoleSummary(ctx context.Context) (*api.Response, error) {
	return p.Call(ctx, api.GetRoleSummary)
}

func (p *Proxy) GetQuota(ctx context.Context, role interface{}) (*api.Response, error) {
	return p.Call(ctx, api.GetQuota, role)
}

func (p *Proxy) GetLocks(ctx context.Context) (*api.Response, error) {
	return p.Call(ctx, api.GetLocks)
}

func (p *Proxy) GetJobUpdateSummaries(ctx context.Context, query interface{}) (*api.Response, error) {
	return p.Call(ctx, api.GetJobUpdateSummaries, query)
}

func (p *Proxy) GetJobUpdateDetails(ctx context.Context, key interface{}) (*api.Response, error) {
	return p.Call(ctx, api.GetJobUpdateDetails, key)
}

// Job updates.

func (p *Proxy) StartJobUpdate(ctx context.Context, request interface{}) (*api.Response, error) {
	return p.Call(ctx, api.StartJobUpdate, request)
}

func (p *Proxy) PauseJobUpdate(ctx context.Context, key interface{}) (*api.Response, error) {
	return p.Call(ctx, api.PauseJobUpdate, key)
}

func (p *Proxy) ResumeJobUpdate(ctx context.Context, key interface{}) (*api.Response, error) {
	return p.Call(ctx, api.ResumeJobUpdate, key)
}

func (p *Proxy) AbortJobUpdate(ctx context.Context, key interface{}) (*api.Response, error) {
	return p.Call(ctx, api.AbortJobUpdate, key)
}

func (p *Proxy) PulseJobUpdate(ctx context.Context, key interface{}) (*api.Response, error) {
	return p.Call(ctx, api.PulseJobUpdate, key)
}

// Admin.

func (p *Proxy) SetQuota(ctx context.Context, role interface{}, quota interface{}) (*api.Response, error) {
	return p.Call(ctx, api.SetQuota, role, quota)
}

func (p *Proxy) ForceTaskState(ctx context.Context, taskID interface{}, status interface{}) (*api.Response, error) {
	return p.Call(ctx, api.ForceTaskState, taskID, status)
}

func (p *Proxy) PerformBackup(ctx context.Context) (*api.Response, error) {
	return p.Call(ctx, api.PerformBackup)
}

func (p *Proxy) ListBackups(ctx context.Context) (*api.Response, error) {
	return p.Call(ctx, api.ListBackups)
}

func (p *Proxy) StageRecovery(ctx context.Context, backupID interface{}) (*api.Response, error) {
	return p.Call(ctx, api.StageRecovery, backupID)
}

func (p *Proxy) QueryRecovery(ctx context.Context, query interface{}) (*api.Response, error) {
	return p.Call(ctx, api.QueryRecovery, query)
}

func (p *Proxy) DeleteRecoveryTasks(ctx context.Context, query interface{}) (*api.Response, error) {
	return p.Call(ctx, api.DeleteRecoveryTasks, query)
}

func (p *Proxy) CommitRecovery(ctx context.Context) (*api.Response, error) {
	return p.Call(ctx, api.CommitRecovery)
}

func (p *Proxy) UnloadRecovery(ctx context.Context) (*api.Response, error) {
	return p.Call(ctx, api.UnloadRecovery)
}

func (p *Proxy) StartMaintenance(ctx context.Context, hosts interface{}) (*api.Response, error) {
	return p.Call(ctx, api.StartMaintenance, hosts)
}

func (p *Proxy) DrainHosts(ctx context.Context, hosts interface{}) (*api.Response, error) {
	return p.Call(ctx, api.DrainHosts, hosts)
}

func (p *Proxy) MaintenanceStatus(ctx context.Context, hosts interface{}) (*api.Response, error) {
	return p.Call(ctx, api.MaintenanceStatus, hosts)
}

func (p *Proxy) EndMaintenance(ctx context.Context, hosts interface{}) (*api.Response, error) {
	return p.Call(ctx, api.EndMaintenance, hosts)
}

func (p *Proxy) Snapshot(ctx context.Context) (*api.Response, error) {
	return p.Call(ctx, api.Snapshot)
}

func (p *Proxy) RewriteConfigs(ctx context.Context, request interface{}) (*api.Response, error) {
	return p.Call(ctx, api.RewriteConfigs, request)
}
