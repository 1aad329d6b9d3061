package taskexec

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/utils"
)

// Tracks the execution of one task group.
//
// The failure cause and the cancellation flag are independent.
// The cause is first-write-wins; the flag decides CANCELED at completion.
type groupTracker struct {
	service   *Service
	location  execution.TaskGroupLocation
	ctx       context.Context
	interrupt context.CancelFunc
	remaining atomic.Int32
	cause     atomic.Pointer[error]
	canceled  atomic.Bool
	future    *utils.Future[execution.TaskExecutionState]
	scope     *execution.Scope
}

func newGroupTracker(service *Service, location execution.TaskGroupLocation, tasks int, scope *execution.Scope) *groupTracker {
	ctx, interrupt := context.WithCancel(service.ctx)
	t := &groupTracker{
		service:   service,
		location:  location,
		ctx:       ctx,
		interrupt: interrupt,
		future:    utils.NewFuture[execution.TaskExecutionState](),
		scope:     scope,
	}
	t.remaining.Store(int32(tasks))
	return t
}

// Records a failure cause. Only the first one is kept.
// A failure that is not a cancellation interrupts the sibling tasks.
func (t *groupTracker) exception(err error) {
	if !t.cause.CompareAndSwap(nil, &err) {
		return
	}
	if !t.canceled.Load() {
		log.Debugf("err - group - location: %s, cause: %v", t.location, err)
	}
	t.interrupt()
}

func (t *groupTracker) failedOrCanceled() bool {
	return t.cause.Load() != nil
}

func (t *groupTracker) err() error {
	if cause := t.cause.Load(); cause != nil {
		return *cause
	}
	return nil
}

func (t *groupTracker) cancel() {
	t.canceled.Store(true)
	t.exception(ErrTaskGroupCanceled)
}

// Called exactly once per task.
func (t *groupTracker) taskDone(task execution.Task) {
	remaining := t.remaining.Add(-1)
	if remaining < 0 {
		panic(fmt.Sprintf("task %d of group %s finished after the group completed", task.TaskID(), t.location))
	}

	log.Tracef("end - task - location: %s, id: %d, remaining: %d", t.location, task.TaskID(), remaining)

	if remaining == 0 {
		t.finish()
	}
}

func (t *groupTracker) state() execution.TaskExecutionState {
	state := execution.TaskExecutionState{Location: t.location}

	switch {
	case t.canceled.Load():
		state.State = execution.StateCanceled
	case t.err() != nil:
		state.State = execution.StateFailed
		state.Error = t.err().Error()
	default:
		state.State = execution.StateFinished
	}

	return state
}

func (t *groupTracker) finish() {
	state := t.state()
	t.interrupt()

	t.service.groups.finish(t.location, state.State)
	t.service.registry.Release(t.scope)
	t.service.metrics.GroupsTerminated.WithLabelValues(string(state.State)).Inc()

	log.Infof("end - group - location: %s, state: %s", t.location, state.State)

	t.future.Complete(state, nil)
	go t.service.notifyTaskStatus(state)
}

// Tracks one task of a group.
type taskTracker struct {
	group       *groupTracker
	task        execution.Task
	context     *execution.TaskContext
	initialized bool
	done        atomic.Bool
	started     time.Time
}

func newTaskTracker(group *groupTracker, task execution.Task, context *execution.TaskContext) *taskTracker {
	return &taskTracker{group: group, task: task, context: context, started: time.Now()}
}

// Performs one step, turning panics into errors.
func (t *taskTracker) call() (progress execution.ProgressState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %d panicked: %v", t.task.TaskID(), r)
		}
	}()
	return t.task.Call()
}

func (t *taskTracker) init() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %d panicked during init: %v", t.task.TaskID(), r)
		}
	}()
	if err = t.task.Init(t.context); err == nil {
		t.initialized = true
	}
	return err
}

// Completes the task, recording err as the group's failure cause.
func (t *taskTracker) finish(err error) {
	if !t.done.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("task %d of group %s finished twice", t.task.TaskID(), t.group.location))
	}

	if err != nil {
		t.group.exception(err)
	}

	if t.initialized {
		if cerr := t.task.Close(); cerr != nil {
			log.Warnf("err - task - close failed - location: %s, id: %d: %v", t.group.location, t.task.TaskID(), cerr)
			t.group.exception(cerr)
		}
	}

	t.group.taskDone(t.task)
}
