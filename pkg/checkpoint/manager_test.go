package checkpoint_test

import (
	"context"
	"testing"
	"time"

	"github.com/srand/jolt/engine/pkg/checkpoint"
	"github.com/srand/jolt/engine/pkg/checkpoint/storage/memory"
	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Acknowledges every barrier on the spot.
type ackingTrigger struct {
	manager *checkpoint.Manager
}

func (t *ackingTrigger) TriggerBarrier(_ context.Context, location execution.TaskLocation, checkpointID int64) error {
	go t.manager.Acknowledge(location, checkpointID, []byte(location.String()))
	return nil
}

func pipelineLocation(pipeline execution.PipelineID, task int64) execution.TaskLocation {
	return execution.TaskLocation{
		Group:  execution.TaskGroupLocation{JobID: 7, PipelineID: pipeline, GroupID: execution.TaskGroupID(pipeline)},
		TaskID: task,
	}
}

func TestManagerPeriodicCheckpoints(t *testing.T) {
	storage := memory.New()
	trigger := &ackingTrigger{}

	plans := []checkpoint.PipelinePlan{
		{PipelineID: 1, Participants: []checkpoint.Participant{
			{Location: pipelineLocation(1, 1), VertexKey: "a", Parallelism: 1},
		}},
		{PipelineID: 2, Participants: []checkpoint.Participant{
			{Location: pipelineLocation(2, 2), VertexKey: "b", Parallelism: 1},
		}, LastCheckpointID: 10},
	}

	config := checkpoint.Config{Interval: 10 * time.Millisecond, Timeout: time.Second}
	manager := checkpoint.NewManager(7, plans, config, storage, trigger, nil, nil)
	trigger.manager = manager
	manager.Start()
	defer manager.Stop()

	assert.Eventually(t, func() bool {
		statuses := manager.Status()
		return statuses[0].LatestCompleted >= 2 && statuses[1].LatestCompleted >= 12
	}, 2*time.Second, 5*time.Millisecond)

	state, err := storage.GetCheckpointByJobIDAndPipelineID(7, 2)
	require.NoError(t, err)
	assert.Greater(t, state.CheckpointID, int64(10))
	assert.Equal(t, []byte(pipelineLocation(2, 2).String()), state.States["b"].SubtaskStates[0])
}

func TestManagerRoutesByLocation(t *testing.T) {
	storage := memory.New()
	trigger := &MockBarrierTrigger{}
	trigger.On("TriggerBarrier", pipelineLocation(1, 1), int64(1)).Return(nil)

	plans := []checkpoint.PipelinePlan{
		{PipelineID: 1, Participants: []checkpoint.Participant{
			{Location: pipelineLocation(1, 1), VertexKey: "a", Parallelism: 1},
			{Location: pipelineLocation(1, 2), VertexKey: "b", Parallelism: 1},
		}},
	}

	manager := checkpoint.NewManager(7, plans, checkpoint.Config{Interval: -1}, storage, trigger, nil, nil)
	manager.Start()
	defer manager.Stop()

	require.NoError(t, manager.TaskCompleted(pipelineLocation(1, 2)))

	id, err := manager.TriggerCheckpoint(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, manager.Acknowledge(pipelineLocation(1, 1), id, []byte("x")))

	statuses := manager.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, id, statuses[0].LatestCompleted)
	assert.Equal(t, 1, statuses[0].Closed)

	_, err = manager.TriggerCheckpoint(context.Background(), 3)
	assert.ErrorIs(t, err, checkpoint.ErrPipelineNotFound)

	other := pipelineLocation(1, 1)
	other.Group.JobID = 8
	assert.ErrorIs(t, manager.Acknowledge(other, id, nil), checkpoint.ErrPipelineNotFound)

	require.NoError(t, manager.DeleteCheckpoints())
	all, err := storage.GetAllCheckpoints(7)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestManagerAbortPending(t *testing.T) {
	trigger := &MockBarrierTrigger{}
	trigger.On("TriggerBarrier", pipelineLocation(1, 1), int64(1)).Return(nil)

	plans := []checkpoint.PipelinePlan{
		{PipelineID: 1, Participants: []checkpoint.Participant{
			{Location: pipelineLocation(1, 1), VertexKey: "a", Parallelism: 1},
		}},
	}
	manager := checkpoint.NewManager(7, plans, checkpoint.Config{Interval: -1}, memory.New(), trigger, nil, nil)
	defer manager.Stop()

	_, err := manager.TriggerCheckpoint(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, manager.AbortPending(checkpoint.ReasonTaskFailed, "group failed"))
	assert.Equal(t, 0, manager.AbortPending(checkpoint.ReasonTaskFailed, "group failed"))
}
