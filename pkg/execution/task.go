package execution

import (
	"context"
	"fmt"
)

// Execution mode of a task. Fixed when the task is created.
type Mode int

const (
	// Cooperative task multiplexed on the shared worker pool.
	// Each call must return promptly and never block on I/O.
	ThreadShared Mode = iota
	// Task running on a dedicated goroutine for its whole life.
	Blocking
)

func (m Mode) String() string {
	switch m {
	case ThreadShared:
		return "thread-shared"
	case Blocking:
		return "blocking"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// The smallest unit of work.
type Task interface {
	// Called once before the first call.
	Init(ctx *TaskContext) error
	// Performs one step of work.
	Call() (ProgressState, error)
	// Releases resources. Called once after the last step.
	Close() error

	TaskID() int64
	VertexKey() string
	Mode() Mode

	NotifyCheckpointComplete(checkpointID int64) error
	NotifyCheckpointAborted(checkpointID int64) error
}

// Implemented by tasks that accept state from a previous run.
type Restorable interface {
	RestoreState(state []byte) error
}

// Implemented by tasks that take part in checkpoint barriers.
// The task must acknowledge the barrier through its TaskContext.
type BarrierHandler interface {
	TriggerBarrier(checkpointID int64) error
}

// Callbacks from tasks to the runtime hosting them.
type TaskRuntime interface {
	AckCheckpoint(location TaskLocation, checkpointID int64, state []byte) error
	ReportIdle(location TaskLocation) error
	ReportCompleted(location TaskLocation) error
}

// A task's view of the runtime.
type TaskContext struct {
	ctx      context.Context
	location TaskLocation
	config   map[string]string
	runtime  TaskRuntime
}

func NewTaskContext(ctx context.Context, location TaskLocation, config map[string]string, runtime TaskRuntime) *TaskContext {
	return &TaskContext{
		ctx:      ctx,
		location: location,
		config:   config,
		runtime:  runtime,
	}
}

// Done when the task group is cancelled or a sibling task failed.
func (c *TaskContext) Context() context.Context {
	return c.ctx
}

func (c *TaskContext) Location() TaskLocation {
	return c.location
}

func (c *TaskContext) Config(key, def string) string {
	if value, ok := c.config[key]; ok {
		return value
	}
	return def
}

func (c *TaskContext) AckCheckpoint(checkpointID int64, state []byte) error {
	if c.runtime == nil {
		return nil
	}
	return c.runtime.AckCheckpoint(c.location, checkpointID, state)
}

func (c *TaskContext) ReportIdle() error {
	if c.runtime == nil {
		return nil
	}
	return c.runtime.ReportIdle(c.location)
}

func (c *TaskContext) ReportCompleted() error {
	if c.runtime == nil {
		return nil
	}
	return c.runtime.ReportCompleted(c.location)
}

// Identity and no-op callbacks shared by task implementations.
type BaseTask struct {
	ID     int64
	Vertex string
	Kind   Mode
}

func NewBaseTask(desc TaskDescriptor, mode Mode) BaseTask {
	return BaseTask{ID: desc.TaskID, Vertex: desc.VertexKey, Kind: mode}
}

func (t *BaseTask) TaskID() int64 {
	return t.ID
}

func (t *BaseTask) VertexKey() string {
	return t.Vertex
}

func (t *BaseTask) Mode() Mode {
	return t.Kind
}

func (t *BaseTask) Close() error {
	return nil
}

func (t *BaseTask) NotifyCheckpointComplete(int64) error {
	return nil
}

func (t *BaseTask) NotifyCheckpointAborted(int64) error {
	return nil
}
