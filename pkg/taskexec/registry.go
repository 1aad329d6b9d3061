package taskexec

import (
	"sort"
	"sync"
	"time"

	"github.com/srand/jolt/engine/pkg/execution"
)

// Execution context of a deployed task group.
type TaskGroupContext struct {
	descriptor *execution.TaskGroupDescriptor
	tracker    *groupTracker
	tasks      map[int64]*taskTracker
	deployed   time.Time

	mu       sync.RWMutex
	state    execution.ExecutionState
	finished time.Time
}

func (c *TaskGroupContext) Location() execution.TaskGroupLocation {
	return c.descriptor.Location
}

func (c *TaskGroupContext) State() execution.ExecutionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *TaskGroupContext) Status() execution.TaskGroupStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := execution.TaskGroupStatus{
		Location: c.descriptor.Location,
		State:    c.state,
		Deployed: c.deployed,
		Tasks:    make([]execution.TaskStatus, 0, len(c.tasks)),
	}
	if c.state == execution.StateFailed {
		if err := c.tracker.err(); err != nil {
			status.Error = err.Error()
		}
	}
	if !c.finished.IsZero() {
		finished := c.finished
		status.Finished = &finished
	}
	for _, t := range c.tasks {
		status.Tasks = append(status.Tasks, execution.TaskStatus{
			TaskID:    t.task.TaskID(),
			Index:     t.context.Location().Index,
			VertexKey: t.task.VertexKey(),
			Mode:      t.task.Mode().String(),
			Done:      t.done.Load(),
		})
	}
	sort.Slice(status.Tasks, func(i, j int) bool { return status.Tasks[i].TaskID < status.Tasks[j].TaskID })
	return status
}

// Owned registry of live and finished task groups.
// All check-then-act sequences happen under one lock.
// A location is reserved while its deployment is being prepared.
type groupRegistry struct {
	mu       sync.RWMutex
	reserved map[execution.TaskGroupLocation]struct{}
	live     map[execution.TaskGroupLocation]*TaskGroupContext
	finished map[execution.TaskGroupLocation]*TaskGroupContext
}

func newGroupRegistry() *groupRegistry {
	return &groupRegistry{
		reserved: map[execution.TaskGroupLocation]struct{}{},
		live:     map[execution.TaskGroupLocation]*TaskGroupContext{},
		finished: map[execution.TaskGroupLocation]*TaskGroupContext{},
	}
}

// Reserves a location unless it is live or already reserved.
func (r *groupRegistry) reserve(location execution.TaskGroupLocation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.live[location]; ok {
		return false
	}
	if _, ok := r.reserved[location]; ok {
		return false
	}
	r.reserved[location] = struct{}{}
	return true
}

// Drops a reservation that did not turn into a live group.
func (r *groupRegistry) unreserve(location execution.TaskGroupLocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, location)
}

// Turns the reservation of the group's location into a live group.
func (r *groupRegistry) put(ctx *TaskGroupContext) {
	r.mu.Lock()
	defer r.mu.Unlock()

	location := ctx.Location()
	delete(r.reserved, location)
	delete(r.finished, location)
	r.live[location] = ctx
}

// Moves a live group to the finished map.
func (r *groupRegistry) finish(location execution.TaskGroupLocation, state execution.ExecutionState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, ok := r.live[location]
	if !ok {
		return
	}

	ctx.mu.Lock()
	ctx.state = state
	ctx.finished = time.Now()
	ctx.mu.Unlock()

	delete(r.live, location)
	r.finished[location] = ctx
}

func (r *groupRegistry) getLive(location execution.TaskGroupLocation) (*TaskGroupContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, ok := r.live[location]
	return ctx, ok
}

func (r *groupRegistry) get(location execution.TaskGroupLocation) (*TaskGroupContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ctx, ok := r.live[location]; ok {
		return ctx, true
	}
	ctx, ok := r.finished[location]
	return ctx, ok
}

func (r *groupRegistry) removeFinished(location execution.TaskGroupLocation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.finished[location]
	delete(r.finished, location)
	return ok
}

// Drops finished contexts older than the deadline.
func (r *groupRegistry) evictFinished(deadline time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for location, ctx := range r.finished {
		ctx.mu.RLock()
		finished := ctx.finished
		ctx.mu.RUnlock()
		if finished.Before(deadline) {
			delete(r.finished, location)
			evicted++
		}
	}
	return evicted
}

func (r *groupRegistry) liveGroups() []*TaskGroupContext {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make([]*TaskGroupContext, 0, len(r.live))
	for _, ctx := range r.live {
		groups = append(groups, ctx)
	}
	return groups
}

func (r *groupRegistry) allGroups() []*TaskGroupContext {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make([]*TaskGroupContext, 0, len(r.live)+len(r.finished))
	for _, ctx := range r.live {
		groups = append(groups, ctx)
	}
	for _, ctx := range r.finished {
		groups = append(groups, ctx)
	}
	return groups
}

func (r *groupRegistry) counts() (live, finished int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live), len(r.finished)
}
