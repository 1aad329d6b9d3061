package execution

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/srand/jolt/engine/pkg/utils"
)

const (
	KindSequence = "sequence"
	KindSleep    = "sleep"
	KindFail     = "fail"
	KindScript   = "script"
)

func RegisterBuiltins(r *Registry) {
	r.Register(KindSequence, newSequenceTask)
	r.Register(KindSleep, newSleepTask)
	r.Register(KindFail, newFailTask)
	r.Register(KindScript, newScriptTask)
}

func configInt(desc TaskDescriptor, key string, def int64) (int64, error) {
	value, ok := desc.Config[key]
	if !ok {
		return def, nil
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: task %d: %s: %v", utils.ErrBadRequest, desc.TaskID, key, err)
	}
	return i, nil
}

func configDuration(desc TaskDescriptor, key string, def time.Duration) (time.Duration, error) {
	value, ok := desc.Config[key]
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: task %d: %s: %v", utils.ErrBadRequest, desc.TaskID, key, err)
	}
	return d, nil
}

// Thread-shared source counting up to a bound.
// Its position is the checkpointed state. After the bound it reports
// itself idle, lingers for a number of empty steps and completes.
type sequenceTask struct {
	BaseTask
	ctx     *TaskContext
	count   int64
	linger  int64
	current int64
	idle    int64
	barrier atomic.Int64
}

func newSequenceTask(desc TaskDescriptor, _ *Scope) (Task, error) {
	count, err := configInt(desc, "count", 10)
	if err != nil {
		return nil, err
	}
	linger, err := configInt(desc, "linger", 0)
	if err != nil {
		return nil, err
	}
	return &sequenceTask{BaseTask: NewBaseTask(desc, ThreadShared), count: count, linger: linger}, nil
}

func (t *sequenceTask) Init(ctx *TaskContext) error {
	t.ctx = ctx
	return nil
}

func (t *sequenceTask) RestoreState(state []byte) error {
	if len(state) != 8 {
		return fmt.Errorf("%w: sequence state has %d bytes", utils.ErrParse, len(state))
	}
	t.current = int64(binary.BigEndian.Uint64(state))
	return nil
}

func (t *sequenceTask) TriggerBarrier(checkpointID int64) error {
	t.barrier.Store(checkpointID)
	return nil
}

func (t *sequenceTask) Call() (ProgressState, error) {
	if id := t.barrier.Swap(0); id > 0 {
		state := make([]byte, 8)
		binary.BigEndian.PutUint64(state, uint64(t.current))
		if err := t.ctx.AckCheckpoint(id, state); err != nil {
			return NoProgress, err
		}
	}

	if t.current < t.count {
		t.current++
		return MadeProgress, nil
	}

	if t.idle == 0 {
		if err := t.ctx.ReportIdle(); err != nil {
			return NoProgress, err
		}
	}

	if t.idle < t.linger {
		t.idle++
		return NoProgress, nil
	}

	if err := t.ctx.ReportCompleted(); err != nil {
		return NoProgress, err
	}
	return Done, nil
}

// Blocking task sleeping for a duration.
type sleepTask struct {
	BaseTask
	ctx      *TaskContext
	duration time.Duration
}

func newSleepTask(desc TaskDescriptor, _ *Scope) (Task, error) {
	duration, err := configDuration(desc, "duration", time.Second)
	if err != nil {
		return nil, err
	}
	return &sleepTask{BaseTask: NewBaseTask(desc, Blocking), duration: duration}, nil
}

func (t *sleepTask) Init(ctx *TaskContext) error {
	t.ctx = ctx
	return nil
}

func (t *sleepTask) Call() (ProgressState, error) {
	timer := time.NewTimer(t.duration)
	defer timer.Stop()

	select {
	case <-t.ctx.Context().Done():
		return NoProgress, t.ctx.Context().Err()
	case <-timer.C:
		return Done, nil
	}
}

// Thread-shared task failing on a given step.
type failTask struct {
	BaseTask
	failAt  int64
	message string
	step    int64
}

func newFailTask(desc TaskDescriptor, _ *Scope) (Task, error) {
	failAt, err := configInt(desc, "fail_at", 1)
	if err != nil {
		return nil, err
	}
	message := desc.Config["message"]
	if message == "" {
		message = "task failed"
	}
	return &failTask{BaseTask: NewBaseTask(desc, ThreadShared), failAt: failAt, message: message}, nil
}

func (t *failTask) Init(*TaskContext) error {
	return nil
}

func (t *failTask) Call() (ProgressState, error) {
	t.step++
	if t.step >= t.failAt {
		return NoProgress, fmt.Errorf("%s (step %d)", t.message, t.step)
	}
	return MadeProgress, nil
}

// Task driven by a function of the job's scripts.
type scriptTask struct {
	BaseTask
	fn   ScriptFunc
	step int
}

func newScriptTask(desc TaskDescriptor, scope *Scope) (Task, error) {
	name := desc.Config["func"]
	if name == "" {
		return nil, fmt.Errorf("%w: task %d: script task requires func", utils.ErrBadRequest, desc.TaskID)
	}

	mode := ThreadShared
	if desc.Config["mode"] == Blocking.String() {
		mode = Blocking
	}

	fn, err := scope.ScriptFunc(name)
	if err != nil {
		return nil, err
	}

	return &scriptTask{BaseTask: NewBaseTask(desc, mode), fn: fn}, nil
}

func (t *scriptTask) Init(*TaskContext) error {
	return nil
}

func (t *scriptTask) Call() (ProgressState, error) {
	t.step++
	done, err := t.fn(t.step)
	if err != nil {
		return NoProgress, err
	}
	if done {
		return Done, nil
	}
	return MadeProgress, nil
}
