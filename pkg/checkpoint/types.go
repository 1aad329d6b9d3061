package checkpoint

import (
	"fmt"
	"sort"
	"time"

	"github.com/srand/jolt/engine/pkg/execution"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusAborted   Status = "ABORTED"
)

// Per-vertex aggregation of subtask state at a checkpoint.
type TaskState struct {
	VertexKey     string         `json:"vertex_key"`
	Parallelism   int            `json:"parallelism"`
	SubtaskStates map[int][]byte `json:"subtask_states"`
	Rescalable    bool           `json:"rescalable,omitempty"`
}

func NewTaskState(vertexKey string, parallelism int, rescalable bool) *TaskState {
	return &TaskState{
		VertexKey:     vertexKey,
		Parallelism:   parallelism,
		SubtaskStates: make(map[int][]byte, parallelism),
		Rescalable:    rescalable,
	}
}

func (s *TaskState) ReportState(index int, state []byte) {
	s.SubtaskStates[index] = state
}

// Persisted snapshot of one checkpoint of one pipeline.
// Immutable once stored.
type PipelineState struct {
	JobID        execution.JobID       `json:"job_id"`
	PipelineID   execution.PipelineID  `json:"pipeline_id"`
	CheckpointID int64                 `json:"checkpoint_id"`
	Timestamp    time.Time             `json:"timestamp"`
	States       map[string]*TaskState `json:"states"`
}

func (s *PipelineState) Key() execution.PipelineKey {
	return execution.PipelineKey{JobID: s.JobID, PipelineID: s.PipelineID}
}

func (s *PipelineState) String() string {
	return fmt.Sprintf("%d/%d@%d", s.JobID, s.PipelineID, s.CheckpointID)
}

// Returns a deep copy.
func (s *PipelineState) Clone() *PipelineState {
	clone := *s
	clone.States = make(map[string]*TaskState, len(s.States))
	for vertex, state := range s.States {
		copied := *state
		copied.SubtaskStates = make(map[int][]byte, len(state.SubtaskStates))
		for index, data := range state.SubtaskStates {
			if data != nil {
				data = append([]byte{}, data...)
			}
			copied.SubtaskStates[index] = data
		}
		clone.States[vertex] = &copied
	}
	return &clone
}

// Returns the most recent state: the newest timestamp, then the highest
// checkpoint id. Returns nil for an empty slice.
func Latest(states []*PipelineState) *PipelineState {
	var latest *PipelineState
	for _, state := range states {
		if latest == nil ||
			state.Timestamp.After(latest.Timestamp) ||
			(state.Timestamp.Equal(latest.Timestamp) && state.CheckpointID > latest.CheckpointID) {
			latest = state
		}
	}
	return latest
}

// Orders states by pipeline, then checkpoint id.
func SortStates(states []*PipelineState) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].PipelineID != states[j].PipelineID {
			return states[i].PipelineID < states[j].PipelineID
		}
		return states[i].CheckpointID < states[j].CheckpointID
	})
}

// Outcome of one checkpoint, kept for status queries.
type Record struct {
	PipelineID   execution.PipelineID `json:"pipeline_id"`
	CheckpointID int64                `json:"checkpoint_id"`
	Status       Status               `json:"status"`
	Triggered    time.Time            `json:"triggered"`
	Finished     *time.Time           `json:"finished,omitempty"`
	Acked        int                  `json:"acked"`
	Expected     int                  `json:"expected"`
	Reason       string               `json:"reason,omitempty"`
	Handle       string               `json:"handle,omitempty"`
}

// A task taking part in the checkpoints of a pipeline.
type Participant struct {
	Location    execution.TaskLocation `json:"location"`
	VertexKey   string                 `json:"vertex_key"`
	Parallelism int                    `json:"parallelism"`
	Rescalable  bool                   `json:"rescalable,omitempty"`
}
