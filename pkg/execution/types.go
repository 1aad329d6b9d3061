package execution

import (
	"fmt"
)

type JobID int64

type PipelineID int

type TaskGroupID int64

// Physical location of a deployed task group.
type TaskGroupLocation struct {
	JobID      JobID       `json:"job_id"`
	PipelineID PipelineID  `json:"pipeline_id"`
	GroupID    TaskGroupID `json:"group_id"`
}

func (l TaskGroupLocation) String() string {
	return fmt.Sprintf("%d/%d/%d", l.JobID, l.PipelineID, l.GroupID)
}

// Location of a single task within a group.
type TaskLocation struct {
	Group  TaskGroupLocation `json:"group"`
	TaskID int64             `json:"task_id"`
	Index  int               `json:"index"`
}

func (l TaskLocation) String() string {
	return fmt.Sprintf("%s#%d[%d]", l.Group, l.TaskID, l.Index)
}

func (l TaskLocation) PipelineKey() PipelineKey {
	return PipelineKey{JobID: l.Group.JobID, PipelineID: l.Group.PipelineID}
}

// Identifies a pipeline across the cluster.
type PipelineKey struct {
	JobID      JobID      `json:"job_id"`
	PipelineID PipelineID `json:"pipeline_id"`
}

func (k PipelineKey) String() string {
	return fmt.Sprintf("%d/%d", k.JobID, k.PipelineID)
}

type ExecutionState string

const (
	StateCreated   ExecutionState = "CREATED"
	StateDeploying ExecutionState = "DEPLOYING"
	StateRunning   ExecutionState = "RUNNING"
	StateFinished  ExecutionState = "FINISHED"
	StateFailed    ExecutionState = "FAILED"
	StateCanceled  ExecutionState = "CANCELED"
)

// Should return true if the state is terminal
func (s ExecutionState) IsEndState() bool {
	switch s {
	case StateFinished, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

// Terminal state of a task group.
type TaskExecutionState struct {
	Location TaskGroupLocation `json:"location"`
	State    ExecutionState    `json:"state"`
	Error    string            `json:"error,omitempty"`
}

func (s TaskExecutionState) String() string {
	if s.Error != "" {
		return fmt.Sprintf("%s %s: %s", s.Location, s.State, s.Error)
	}
	return fmt.Sprintf("%s %s", s.Location, s.State)
}

// Result of one cooperative step.
type ProgressState struct {
	Done         bool
	MadeProgress bool
}

var (
	Done         = ProgressState{Done: true, MadeProgress: true}
	MadeProgress = ProgressState{MadeProgress: true}
	NoProgress   = ProgressState{}
)
