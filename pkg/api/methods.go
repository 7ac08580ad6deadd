package api

import "sort"

// Scheduler RPC names as they appear on the wire.
const (
	CreateJob              = "createJob"
	ScheduleCronJob        = "scheduleCronJob"
	DescheduleCronJob      = "descheduleCronJob"
	StartCronJob           = "startCronJob"
	ReplaceCronTemplate    = "replaceCronTemplate"
	PopulateJobConfig      = "populateJobConfig"
	RestartShards          = "restartShards"
	KillTasks              = "killTasks"
	AddInstances           = "addInstances"
	AcquireLock            = "acquireLock"
	ReleaseLock            = "releaseLock"
	GetTasksStatus         = "getTasksStatus"
	GetTasksWithoutConfigs = "getTasksWithoutConfigs"
	GetPendingReason       = "getPendingReason"
	GetConfigSummary       = "getConfigSummary"
	GetJobs                = "getJobs"
	GetJobSummary          = "getJobSummary"
	GetRoleSummary         = "getRoleSummary"
	GetQuota               = "getQuota"
	GetLocks               = "getLocks"
	GetJobUpdateSummaries  = "getJobUpdateSummaries"
	GetJobUpdateDetails    = "getJobUpdateDetails"
	StartJobUpdate         = "startJobUpdate"
	PauseJobUpdate         = "pauseJobUpdate"
	ResumeJobUpdate        = "resumeJobUpdate"
	AbortJobUpdate         = "abortJobUpdate"
	PulseJobUpdate         = "pulseJobUpdate"

	SetQuota            = "setQuota"
	ForceTaskState      = "forceTaskState"
	PerformBackup       = "performBackup"
	ListBackups         = "listBackups"
	StageRecovery       = "stageRecovery"
	QueryRecovery       = "queryRecovery"
	DeleteRecoveryTasks = "deleteRecoveryTasks"
	CommitRecovery      = "commitRecovery"
	UnloadRecovery      = "unloadRecovery"
	StartMaintenance    = "startMaintenance"
	DrainHosts          = "drainHosts"
	MaintenanceStatus   = "maintenanceStatus"
	EndMaintenance      = "endMaintenance"
	Snapshot            = "snapshot"
	RewriteConfigs      = "rewriteConfigs"
)

// Method describes how a scheduler RPC is invoked.
type Method struct {
	Name string
	// Args is the number of positional arguments supplied by the caller,
	// not counting the session key.
	Args int
	// Session marks privileged RPCs which take a SessionKey as their
	// final argument.
	Session bool
	// Admin marks RPCs served by the admin interface only.
	Admin bool
}

var methods = map[string]Method{}

func register(name string, args int, session, admin bool) {
	methods[name] = Method{Name: name, Args: args, Session: session, Admin: admin}
}

func init() {
	register(CreateJob, 1, true, false)
	register(ScheduleCronJob, 1, true, false)
	register(DescheduleCronJob, 1, true, false)
	register(StartCronJob, 1, true, false)
	register(ReplaceCronTemplate, 2, true, false)
	register(PopulateJobConfig, 1, false, false)
	register(RestartShards, 2, true, false)
	register(KillTasks, 2, true, false)
	register(AddInstances, 3, true, false)
	register(AcquireLock, 1, true, false)
	register(ReleaseLock, 2, true, false)
	register(GetTasksStatus, 1, false, false)
	register(GetTasksWithoutConfigs, 1, false, false)
	register(GetPendingReason, 1, false, false)
	register(GetConfigSummary, 1, false, false)
	register(GetJobs, 1, false, false)
	register(GetJobSummary, 1, false, false)
	register(GetRoleSummary, 0, false, false)
	register(GetQuota, 1, false, false)
	register(GetLocks, 0, false, false)
	register(GetJobUpdateSummaries, 1, false, false)
	register(GetJobUpdateDetails, 1, false, false)
	register(StartJobUpdate, 1, true, false)
	register(PauseJobUpdate, 1, true, false)
	register(ResumeJobUpdate, 1, true, false)
	register(AbortJobUpdate, 1, true, false)
	register(PulseJobUpdate, 1, true, false)

	register(SetQuota, 2, true, true)
	register(ForceTaskState, 2, true, true)
	register(PerformBackup, 0, true, true)
	register(ListBackups, 0, true, true)
	register(StageRecovery, 1, true, true)
	register(QueryRecovery, 1, true, true)
	register(DeleteRecoveryTasks, 1, true, true)
	register(CommitRecovery, 0, true, true)
	register(UnloadRecovery, 0, true, true)
	register(StartMaintenance, 1, true, true)
	register(DrainHosts, 1, true, true)
	register(MaintenanceStatus, 1, true, true)
	register(EndMaintenance, 1, true, true)
	register(Snapshot, 0, true, true)
	register(RewriteConfigs, 1, true, true)
}

// LookupMethod returns the table entry for an RPC name.
func LookupMethod(name string) (Method, bool) {
	m, ok := methods[name]
	return m, ok
}

// Methods returns every known RPC, sorted by name.
func Methods() []Method {
	out := make([]Method, 0, len(methods))
	for _, m := range methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
