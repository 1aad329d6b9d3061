package checkpoint

import (
	"errors"
	"fmt"

	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/utils"
)

var ErrRestoreIncompatible = fmt.Errorf("checkpoint restore %w", utils.ErrIncompatible)

// Maps the recorded state of a pipeline onto the participants of a new run.
//
// A vertex whose recorded parallelism differs from the new one is
// incompatible unless the participant is rescalable. Subtask state is
// handed over by index; nothing is split, merged or padded. A rescalable
// vertex may therefore shrink only when no recorded state would be left
// without a subtask to take it.
func PlanRestore(state *PipelineState, participants []Participant) (map[execution.TaskLocation][]byte, error) {
	plan := map[execution.TaskLocation][]byte{}
	if state == nil {
		return plan, nil
	}

	for _, participant := range participants {
		taskState, ok := state.States[participant.VertexKey]
		if !ok {
			continue
		}

		if taskState.Parallelism != participant.Parallelism && !participant.Rescalable {
			return nil, &utils.Error{
				Sentinel: ErrRestoreIncompatible,
				Op:       "restore " + state.String(),
				Message: fmt.Sprintf("vertex %s was checkpointed with parallelism %d, now %d",
					participant.VertexKey, taskState.Parallelism, participant.Parallelism),
			}
		}

		if index, ok := orphanedSubtask(taskState, participant.Parallelism); ok {
			return nil, &utils.Error{
				Sentinel: ErrRestoreIncompatible,
				Op:       "restore " + state.String(),
				Message: fmt.Sprintf("vertex %s has state for subtask %d, but parallelism is now %d",
					participant.VertexKey, index, participant.Parallelism),
			}
		}

		if data, ok := taskState.SubtaskStates[participant.Location.Index]; ok && data != nil {
			plan[participant.Location] = data
		}
	}

	return plan, nil
}

// Returns the lowest recorded subtask index at or above parallelism.
func orphanedSubtask(taskState *TaskState, parallelism int) (int, bool) {
	orphan, found := 0, false
	for index, data := range taskState.SubtaskStates {
		if index >= parallelism && data != nil && (!found || index < orphan) {
			orphan, found = index, true
		}
	}
	return orphan, found
}

// Returns the newest persisted state of every pipeline of a job.
func LatestByPipeline(storage Storage, jobID execution.JobID) (map[execution.PipelineID]*PipelineState, error) {
	states, err := storage.GetAllCheckpoints(jobID)
	if err != nil {
		if errors.Is(err, ErrCheckpointNotFound) {
			return map[execution.PipelineID]*PipelineState{}, nil
		}
		return nil, err
	}

	grouped := map[execution.PipelineID][]*PipelineState{}
	for _, state := range states {
		grouped[state.PipelineID] = append(grouped[state.PipelineID], state)
	}

	latest := make(map[execution.PipelineID]*PipelineState, len(grouped))
	for pipeline, candidates := range grouped {
		latest[pipeline] = Latest(candidates)
	}
	return latest, nil
}
