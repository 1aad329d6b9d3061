package memory

import (
	"testing"
	"time"

	"github.com/srand/jolt/engine/pkg/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoredStateIsIsolated(t *testing.T) {
	storage := New()

	task := checkpoint.NewTaskState("source", 1, false)
	task.ReportState(0, []byte("abc"))
	state := &checkpoint.PipelineState{JobID: 1, PipelineID: 1, CheckpointID: 1, Timestamp: time.Now(),
		States: map[string]*checkpoint.TaskState{"source": task}}

	_, err := storage.StoreCheckpoint(state)
	require.NoError(t, err)
	task.SubtaskStates[0][0] = 'x'

	loaded, err := storage.GetLatestCheckpoint(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), loaded.States["source"].SubtaskStates[0])
}

func TestDeleteAndLookups(t *testing.T) {
	storage := New()

	assert.NoError(t, storage.DeleteCheckpoint(1))

	_, err := storage.GetLatestCheckpoint(1)
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)

	for id := int64(1); id <= 3; id++ {
		_, err := storage.StoreCheckpoint(&checkpoint.PipelineState{JobID: 1, PipelineID: 2, CheckpointID: id, Timestamp: time.Now()})
		require.NoError(t, err)
	}

	state, err := storage.GetCheckpointByJobIDAndPipelineID(1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, state.PipelineID)
	assert.EqualValues(t, 3, state.CheckpointID)

	_, err = storage.GetCheckpointByJobIDAndPipelineID(1, 1)
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)

	require.NoError(t, storage.DeleteCheckpoint(1))
	all, err := storage.GetAllCheckpoints(1)
	require.NoError(t, err)
	assert.Empty(t, all)
}
