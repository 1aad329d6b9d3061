package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionStateIsEndState(t *testing.T) {
	assert.False(t, StateCreated.IsEndState())
	assert.False(t, StateDeploying.IsEndState())
	assert.False(t, StateRunning.IsEndState())
	assert.True(t, StateFinished.IsEndState())
	assert.True(t, StateFailed.IsEndState())
	assert.True(t, StateCanceled.IsEndState())
}

func TestLocationStrings(t *testing.T) {
	group := TaskGroupLocation{JobID: 1, PipelineID: 2, GroupID: 3}
	task := TaskLocation{Group: group, TaskID: 40, Index: 1}

	assert.Equal(t, "1/2/3", group.String())
	assert.Equal(t, "1/2/3#40[1]", task.String())
	assert.Equal(t, PipelineKey{JobID: 1, PipelineID: 2}, task.PipelineKey())
}
