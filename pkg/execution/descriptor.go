package execution

import (
	"fmt"

	"github.com/srand/jolt/engine/pkg/utils"
)

// Describes one task of a deployable group.
type TaskDescriptor struct {
	TaskID      int64             `json:"task_id" yaml:"task_id"`
	Index       int               `json:"index" yaml:"index"`
	VertexKey   string            `json:"vertex_key" yaml:"vertex_key"`
	Kind        string            `json:"kind" yaml:"kind"`
	Parallelism int               `json:"parallelism" yaml:"parallelism"`
	Rescalable  bool              `json:"rescalable,omitempty" yaml:"rescalable"`
	Config      map[string]string `json:"config,omitempty" yaml:"config"`
	// Opaque state restored before the task starts.
	State []byte `json:"state,omitempty" yaml:"-"`
}

// A deployable unit of tasks sharing a location.
type TaskGroupDescriptor struct {
	Location TaskGroupLocation `json:"location"`
	// Task kinds the job is allowed to instantiate.
	Plugins []string `json:"plugins,omitempty"`
	// Go sources interpreted for the job's script tasks, keyed by name.
	Scripts map[string]string `json:"scripts,omitempty"`
	Tasks   []TaskDescriptor  `json:"tasks"`
}

func (d *TaskGroupDescriptor) TaskLocation(task TaskDescriptor) TaskLocation {
	return TaskLocation{Group: d.Location, TaskID: task.TaskID, Index: task.Index}
}

func (d *TaskGroupDescriptor) Validate() error {
	if len(d.Tasks) == 0 {
		return fmt.Errorf("%w: task group %s has no tasks", utils.ErrBadRequest, d.Location)
	}

	seen := map[int64]struct{}{}
	for _, task := range d.Tasks {
		if task.Kind == "" {
			return fmt.Errorf("%w: task %d has no kind", utils.ErrBadRequest, task.TaskID)
		}
		if task.VertexKey == "" {
			return fmt.Errorf("%w: task %d has no vertex key", utils.ErrBadRequest, task.TaskID)
		}
		if task.Parallelism <= 0 || task.Index < 0 || task.Index >= task.Parallelism {
			return fmt.Errorf("%w: task %d has index %d outside parallelism %d",
				utils.ErrBadRequest, task.TaskID, task.Index, task.Parallelism)
		}
		if _, ok := seen[task.TaskID]; ok {
			return fmt.Errorf("%w: duplicate task id %d", utils.ErrBadRequest, task.TaskID)
		}
		seen[task.TaskID] = struct{}{}
	}

	return nil
}
