package execution

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRuntime struct {
	mock.Mock
}

func (m *MockRuntime) AckCheckpoint(location TaskLocation, checkpointID int64, state []byte) error {
	return m.Called(location, checkpointID, state).Error(0)
}

func (m *MockRuntime) ReportIdle(location TaskLocation) error {
	return m.Called(location).Error(0)
}

func (m *MockRuntime) ReportCompleted(location TaskLocation) error {
	return m.Called(location).Error(0)
}

func group(jobID JobID, plugins []string, scripts map[string]string, tasks ...TaskDescriptor) *TaskGroupDescriptor {
	return &TaskGroupDescriptor{
		Location: TaskGroupLocation{JobID: jobID, PipelineID: 1, GroupID: 1},
		Plugins:  plugins,
		Scripts:  scripts,
		Tasks:    tasks,
	}
}

func task(id int64, kind string, config map[string]string) TaskDescriptor {
	return TaskDescriptor{TaskID: id, VertexKey: "v", Kind: kind, Parallelism: 1, Config: config}
}

func TestScopeOnlyExposesDeclaredPlugins(t *testing.T) {
	r := NewDefaultRegistry()

	scope, err := r.Acquire(group(1, []string{KindSequence}, nil))
	require.NoError(t, err)
	defer r.Release(scope)

	_, err = scope.CreateTask(task(1, KindSequence, nil))
	assert.NoError(t, err)

	_, err = scope.CreateTask(task(2, KindSleep, nil))
	assert.ErrorIs(t, err, ErrPluginNotDeclared)

	_, err = scope.CreateTask(task(3, "no-such-kind", nil))
	assert.ErrorIs(t, err, ErrUnknownPlugin)
	assert.NotErrorIs(t, err, ErrPluginNotDeclared)
}

func TestUndeclaredScopeRejectsUnknownKinds(t *testing.T) {
	r := NewDefaultRegistry()

	scope, err := r.Acquire(group(1, nil, nil))
	require.NoError(t, err)
	defer r.Release(scope)

	_, err = scope.CreateTask(task(1, KindSleep, map[string]string{"duration": "1s"}))
	assert.NoError(t, err)

	_, err = scope.CreateTask(task(2, "no-such-kind", nil))
	assert.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestAcquireUnknownPlugin(t *testing.T) {
	r := NewDefaultRegistry()

	_, err := r.Acquire(group(1, []string{"kafka"}, nil))
	assert.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestScopeIsSharedWithinJob(t *testing.T) {
	r := NewDefaultRegistry()

	a, err := r.Acquire(group(1, nil, nil))
	require.NoError(t, err)
	b, err := r.Acquire(group(1, nil, nil))
	require.NoError(t, err)
	assert.Same(t, a, b)

	r.Release(a)
	r.Release(b)

	c, err := r.Acquire(group(1, nil, nil))
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	r.Release(c)
}

const scriptA = `package main

func Step(step int) (bool, error) {
	return step >= 3, nil
}
`

const scriptB = `package main

import "errors"

func Broken(step int) (bool, error) {
	return false, errors.New("broken")
}
`

func TestScriptsAreIsolatedPerJob(t *testing.T) {
	r := NewDefaultRegistry()

	jobA, err := r.Acquire(group(1, nil, map[string]string{"a.go": scriptA}))
	require.NoError(t, err)
	defer r.Release(jobA)

	jobB, err := r.Acquire(group(2, nil, map[string]string{"b.go": scriptB}))
	require.NoError(t, err)
	defer r.Release(jobB)

	taskA, err := jobA.CreateTask(task(1, KindScript, map[string]string{"func": "Step"}))
	require.NoError(t, err)

	steps := 0
	for {
		progress, err := taskA.Call()
		require.NoError(t, err)
		steps++
		if progress.Done {
			break
		}
	}
	assert.Equal(t, 3, steps)

	_, err = jobB.CreateTask(task(1, KindScript, map[string]string{"func": "Step"}))
	assert.ErrorIs(t, err, ErrScript)

	taskB, err := jobB.CreateTask(task(1, KindScript, map[string]string{"func": "Broken"}))
	require.NoError(t, err)
	_, err = taskB.Call()
	assert.EqualError(t, err, "broken")
}

func TestScriptMustHaveStepSignature(t *testing.T) {
	r := NewDefaultRegistry()

	scope, err := r.Acquire(group(1, nil, map[string]string{"x.go": "package main\n\nfunc X() int { return 1 }\n"}))
	require.NoError(t, err)
	defer r.Release(scope)

	_, err = scope.CreateTask(task(1, KindScript, map[string]string{"func": "X"}))
	assert.ErrorIs(t, err, ErrScript)
}

func TestSequenceTaskCheckpointsAndCompletes(t *testing.T) {
	r := NewDefaultRegistry()
	scope, err := r.Acquire(group(1, nil, nil))
	require.NoError(t, err)
	defer r.Release(scope)

	desc := task(7, KindSequence, map[string]string{"count": "2", "linger": "1"})
	seq, err := scope.CreateTask(desc)
	require.NoError(t, err)
	assert.Equal(t, ThreadShared, seq.Mode())

	location := TaskLocation{Group: TaskGroupLocation{JobID: 1, PipelineID: 1, GroupID: 1}, TaskID: 7}
	state := make([]byte, 8)
	binary.BigEndian.PutUint64(state, 1)

	runtime := &MockRuntime{}
	runtime.On("AckCheckpoint", location, int64(4), state).Return(nil).Once()
	runtime.On("ReportIdle", location).Return(nil).Once()
	runtime.On("ReportCompleted", location).Return(nil).Once()

	require.NoError(t, seq.Init(NewTaskContext(context.Background(), location, desc.Config, runtime)))

	progress, err := seq.Call()
	require.NoError(t, err)
	assert.Equal(t, MadeProgress, progress)

	require.NoError(t, seq.(BarrierHandler).TriggerBarrier(4))

	progress, err = seq.Call()
	require.NoError(t, err)
	assert.Equal(t, MadeProgress, progress)

	progress, err = seq.Call()
	require.NoError(t, err)
	assert.Equal(t, NoProgress, progress)

	progress, err = seq.Call()
	require.NoError(t, err)
	assert.Equal(t, Done, progress)

	runtime.AssertExpectations(t)
}

func TestSequenceTaskRestore(t *testing.T) {
	seq, err := newSequenceTask(task(1, KindSequence, map[string]string{"count": "3"}), nil)
	require.NoError(t, err)

	state := make([]byte, 8)
	binary.BigEndian.PutUint64(state, 3)
	require.NoError(t, seq.(Restorable).RestoreState(state))
	require.NoError(t, seq.Init(NewTaskContext(context.Background(), TaskLocation{}, nil, nil)))

	progress, err := seq.Call()
	require.NoError(t, err)
	assert.True(t, progress.Done)

	assert.Error(t, seq.(Restorable).RestoreState([]byte{1}))
}

func TestSleepTaskObservesCancellation(t *testing.T) {
	sleep, err := newSleepTask(task(1, KindSleep, map[string]string{"duration": "1h"}), nil)
	require.NoError(t, err)
	assert.Equal(t, Blocking, sleep.Mode())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sleep.Init(NewTaskContext(ctx, TaskLocation{}, nil, nil)))
	cancel()

	_, err = sleep.Call()
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestBuiltinConfigErrors(t *testing.T) {
	_, err := newSequenceTask(task(1, KindSequence, map[string]string{"count": "many"}), nil)
	assert.Error(t, err)

	_, err = newSleepTask(task(1, KindSleep, map[string]string{"duration": "soon"}), nil)
	assert.Error(t, err)
}

func TestDescriptorValidate(t *testing.T) {
	g := group(1, nil, nil)
	assert.Error(t, g.Validate())

	g = group(1, nil, nil, task(1, KindSequence, nil), task(1, KindSequence, nil))
	assert.Error(t, g.Validate())

	bad := task(2, KindSequence, nil)
	bad.Index = 1
	g = group(1, nil, nil, bad)
	assert.Error(t, g.Validate())

	g = group(1, nil, nil, task(1, KindSequence, nil), task(2, KindSleep, nil))
	assert.NoError(t, g.Validate())
}
