package recorder

import "time"

// RunStatus is the lifecycle state of a provisioning run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusDegraded  RunStatus = "degraded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one invocation of the provisioning pipeline.
type Run struct {
	ID          string
	Project     string
	Roles       []string
	Environment string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
}

// StageResult is one executed stage of one layer within a run.
type StageResult struct {
	RunID      string
	LayerPath  string
	Stage      string
	ExitCode   int
	Duration   time.Duration
	RecordedAt time.Time
}
