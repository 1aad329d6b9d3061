package protocol

import (
	"time"

	"github.com/srand/jolt/engine/pkg/checkpoint"
	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/resource"
)

type DeployTaskGroupRequest struct {
	Group *execution.TaskGroupDescriptor `json:"group"`
}

// Deployment is asynchronous. The terminal state of an accepted group
// is reported through the coordinator's NotifyTaskStatus.
type DeployTaskGroupResponse struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

type TaskGroupRequest struct {
	Location execution.TaskGroupLocation `json:"location"`
}

type ExecutionContextResponse struct {
	Status execution.TaskGroupStatus `json:"status"`
}

type CheckpointResultRequest struct {
	Location     execution.TaskLocation `json:"location"`
	CheckpointID int64                  `json:"checkpoint_id"`
	Success      bool                   `json:"success"`
}

type BarrierRequest struct {
	Location     execution.TaskLocation `json:"location"`
	CheckpointID int64                  `json:"checkpoint_id"`
}

type RegisterWorkerRequest struct {
	Profile resource.WorkerProfile `json:"profile"`
}

type RegisterWorkerResponse struct {
	// Interval at which the coordinator expects heartbeats.
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
}

type HeartbeatRequest struct {
	WorkerID string `json:"worker_id"`
}

type TaskStatusRequest struct {
	State execution.TaskExecutionState `json:"state"`
}

type AcknowledgeCheckpointRequest struct {
	Location     execution.TaskLocation `json:"location"`
	CheckpointID int64                  `json:"checkpoint_id"`
	State        []byte                 `json:"state,omitempty"`
}

type TaskLocationRequest struct {
	Location execution.TaskLocation `json:"location"`
}

type SubmitJobRequest struct {
	Plan *JobPlan `json:"plan"`
	// Restore the job from its latest checkpoints.
	Restore bool `json:"restore,omitempty"`
}

type SubmitJobResponse struct {
	JobID execution.JobID `json:"job_id"`
}

type JobRequest struct {
	JobID execution.JobID `json:"job_id"`
}

type GroupStatus struct {
	Location execution.TaskGroupLocation `json:"location"`
	State    execution.ExecutionState    `json:"state"`
	Error    string                      `json:"error,omitempty"`
	Slot     *resource.SlotProfile       `json:"slot,omitempty"`
}

type JobStatus struct {
	JobID       execution.JobID             `json:"job_id"`
	Name        string                      `json:"name"`
	State       execution.ExecutionState    `json:"state"`
	Error       string                      `json:"error,omitempty"`
	Submitted   time.Time                   `json:"submitted"`
	Finished    *time.Time                  `json:"finished,omitempty"`
	Groups      []GroupStatus               `json:"groups"`
	Checkpoints []checkpoint.PipelineStatus `json:"checkpoints,omitempty"`
}

type JobStatusResponse struct {
	Status JobStatus `json:"status"`
}

type ListWorkersResponse struct {
	Workers []resource.WorkerStatus `json:"workers"`
}

// A stored checkpoint without its task state.
type CheckpointSummary struct {
	JobID        execution.JobID      `json:"job_id"`
	PipelineID   execution.PipelineID `json:"pipeline_id"`
	CheckpointID int64                `json:"checkpoint_id"`
	Timestamp    time.Time            `json:"timestamp"`
	Vertices     int                  `json:"vertices"`
}

func NewCheckpointSummary(state *checkpoint.PipelineState) CheckpointSummary {
	return CheckpointSummary{
		JobID:        state.JobID,
		PipelineID:   state.PipelineID,
		CheckpointID: state.CheckpointID,
		Timestamp:    state.Timestamp,
		Vertices:     len(state.States),
	}
}

type ListCheckpointsResponse struct {
	Checkpoints []CheckpointSummary `json:"checkpoints"`
}
