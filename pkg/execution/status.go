package execution

import "time"

// Point-in-time view of a task group on a worker.
type TaskGroupStatus struct {
	Location TaskGroupLocation `json:"location"`
	State    ExecutionState    `json:"state"`
	Error    string            `json:"error,omitempty"`
	Deployed time.Time         `json:"deployed"`
	Finished *time.Time        `json:"finished,omitempty"`
	Tasks    []TaskStatus      `json:"tasks"`
}

type TaskStatus struct {
	TaskID    int64  `json:"task_id"`
	Index     int    `json:"index"`
	VertexKey string `json:"vertex_key"`
	Mode      string `json:"mode"`
	Done      bool   `json:"done"`
}
