package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srand/jolt/engine/pkg/checkpoint"
	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/protocol"
	"github.com/srand/jolt/engine/pkg/resource"
	"github.com/srand/jolt/engine/pkg/utils"
	"golang.org/x/sync/errgroup"
)

var (
	ErrJobNotFound    = fmt.Errorf("job %w", utils.ErrNotFound)
	ErrJobExists      = fmt.Errorf("job %w", utils.ErrAlreadyExists)
	ErrJobCanceled    = errors.New("job canceled")
	ErrJobRunning     = fmt.Errorf("%w: job is running", utils.ErrBadRequest)
	ErrDeployRejected = errors.New("deployment rejected")
)

// A task group of a job and its placement.
type group struct {
	desc    *execution.TaskGroupDescriptor
	profile resource.ResourceProfile

	// Guarded by the job mutex.
	state    execution.ExecutionState
	err      string
	slot     *resource.SlotProfile
	deployed bool

	result *utils.Future[execution.TaskExecutionState]
}

func (g *group) location() execution.TaskGroupLocation {
	return g.desc.Location
}

// Drives one job: places and deploys its groups, runs its checkpoints
// and collects the terminal states.
type Job struct {
	service     *Service
	id          execution.JobID
	name        string
	checkpoints *checkpoint.Manager

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	groups    map[execution.TaskGroupLocation]*group
	order     []*group
	cause     error
	canceled  atomic.Bool
	state     execution.ExecutionState
	submitted time.Time
	finished  *time.Time
	done      chan struct{}
}

func newJob(service *Service, plan *protocol.JobPlan, restore map[execution.PipelineID]*checkpoint.PipelineState) (*Job, error) {
	ctx, cancel := context.WithCancel(context.Background())

	j := &Job{
		service:   service,
		id:        plan.JobID,
		name:      plan.Name,
		ctx:       ctx,
		cancel:    cancel,
		groups:    map[execution.TaskGroupLocation]*group{},
		state:     execution.StateCreated,
		submitted: time.Now(),
		done:      make(chan struct{}),
	}

	var plans []checkpoint.PipelinePlan
	for _, pipeline := range plan.Pipelines {
		pipelinePlan := checkpoint.PipelinePlan{PipelineID: pipeline.PipelineID}
		var descs []*execution.TaskGroupDescriptor

		for _, groupPlan := range pipeline.Groups {
			profile, err := groupPlan.Resources.Profile()
			if err != nil {
				cancel()
				return nil, err
			}

			desc := plan.Descriptor(pipeline.PipelineID, groupPlan)
			descs = append(descs, desc)

			g := &group{
				desc:    desc,
				profile: profile,
				state:   execution.StateCreated,
				result:  utils.NewFuture[execution.TaskExecutionState](),
			}
			j.groups[desc.Location] = g
			j.order = append(j.order, g)

			for _, task := range desc.Tasks {
				pipelinePlan.Participants = append(pipelinePlan.Participants, checkpoint.Participant{
					Location:    desc.TaskLocation(task),
					VertexKey:   task.VertexKey,
					Parallelism: task.Parallelism,
					Rescalable:  task.Rescalable,
				})
			}
		}

		if state, ok := restore[pipeline.PipelineID]; ok {
			assignment, err := checkpoint.PlanRestore(state, pipelinePlan.Participants)
			if err != nil {
				cancel()
				return nil, err
			}
			for _, desc := range descs {
				for i := range desc.Tasks {
					desc.Tasks[i].State = assignment[desc.TaskLocation(desc.Tasks[i])]
				}
			}
			pipelinePlan.LastCheckpointID = state.CheckpointID
			log.Infof("new - restore - job: %d, pipeline: %d, checkpoint: %d", j.id, pipeline.PipelineID, state.CheckpointID)
		}

		plans = append(plans, pipelinePlan)
	}

	s := service
	j.checkpoints = checkpoint.NewManager(j.id, plans, s.config.Checkpoint, s.storage, j, j, s.checkpointMetrics)
	return j, nil
}

func (j *Job) ID() execution.JobID {
	return j.id
}

// Closed when the job has terminated and released its resources.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) run() {
	j.setState(execution.StateDeploying)

	if err := j.deployAll(); err != nil {
		j.fail(err)
	} else if j.ctx.Err() == nil {
		j.setState(execution.StateRunning)
		j.checkpoints.Start()
	}

	for _, g := range j.order {
		g.result.Wait()
	}

	j.terminate()
}

func (j *Job) deployAll() error {
	eg, ctx := errgroup.WithContext(j.ctx)
	for _, g := range j.order {
		g := g
		eg.Go(func() error {
			return j.deploy(ctx, g)
		})
	}
	return eg.Wait()
}

// Places and deploys one group. On failure before the worker accepted
// the group, its result is completed here.
func (j *Job) deploy(ctx context.Context, g *group) error {
	location := g.location()

	slot, err := j.applyResource(ctx, g)
	if err != nil {
		j.completeGroup(g, j.abandonedState(ctx), err.Error())
		return err
	}

	j.mu.Lock()
	g.slot = &slot
	g.state = execution.StateDeploying
	j.mu.Unlock()

	client, err := j.service.clients.Client(slot.WorkerAddress)
	if err != nil {
		j.completeGroup(g, execution.StateFailed, err.Error())
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, j.service.config.CallTimeout)
	resp, err := client.DeployTaskGroup(callCtx, &protocol.DeployTaskGroupRequest{Group: g.desc})
	cancel()
	if err == nil && !resp.Accepted {
		err = fmt.Errorf("%w: %s: %s", ErrDeployRejected, location, resp.Error)
	}
	if err != nil {
		log.Infof("nok - group - location: %s, slot: %s: %v", location, slot, err)
		j.completeGroup(g, execution.StateFailed, err.Error())
		return err
	}

	j.mu.Lock()
	g.deployed = true
	if !g.state.IsEndState() {
		g.state = execution.StateRunning
	}
	j.mu.Unlock()

	log.Infof("exe - group - location: %s, slot: %s", location, slot)

	if ctx.Err() != nil {
		j.cancelGroup(g)
	}
	return nil
}

// Applies for a slot, backing off while the cluster lacks capacity.
func (j *Job) applyResource(ctx context.Context, g *group) (resource.SlotProfile, error) {
	backoff := j.service.config.ApplyBackoff()
	resources := j.service.resources

	for attempt := 1; ; attempt++ {
		future := resources.ApplyResource(j.id, g.profile)
		slot, err := future.Get(ctx)
		if err == nil {
			return slot, nil
		}

		if ctx.Err() != nil {
			// The application may still be granted; hand the slot back.
			go func() {
				if slot, err := future.Wait(); err == nil {
					resources.ReleaseResource(j.id, slot)
				}
			}()
			return slot, ctx.Err()
		}

		if !errors.Is(err, utils.ErrResourceUnavailable) {
			return slot, err
		}

		j.service.jobMetrics.ApplyRetries.Inc()
		delay := backoff.Delay(attempt)
		log.Debugf("nok - slot - location: %s, profile: %s, retrying in %v", g.location(), g.profile, delay)

		select {
		case <-ctx.Done():
			return slot, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (j *Job) abandonedState(ctx context.Context) execution.ExecutionState {
	if ctx.Err() != nil {
		return execution.StateCanceled
	}
	return execution.StateFailed
}

// Records the terminal state of a group. Later states are ignored.
func (j *Job) completeGroup(g *group, state execution.ExecutionState, message string) bool {
	j.mu.Lock()
	if g.state.IsEndState() {
		j.mu.Unlock()
		return false
	}
	g.state = state
	g.err = message
	j.mu.Unlock()

	g.result.Complete(execution.TaskExecutionState{Location: g.location(), State: state, Error: message}, nil)
	log.Infof("end - group - location: %s, state: %s", g.location(), state)
	return true
}

// Handles a terminal group state reported by a worker.
func (j *Job) onTaskStatus(state execution.TaskExecutionState) bool {
	j.mu.Lock()
	g, ok := j.groups[state.Location]
	j.mu.Unlock()
	if !ok {
		return false
	}

	if !j.completeGroup(g, state.State, state.Error) {
		return false
	}

	switch state.State {
	case execution.StateFailed:
		j.fail(fmt.Errorf("task group %s failed: %s", state.Location, state.Error))
	case execution.StateCanceled:
		if !j.canceled.Load() && j.ctx.Err() == nil {
			j.fail(fmt.Errorf("task group %s was canceled", state.Location))
		}
	}
	return true
}

// Fails every group placed on an evicted worker.
func (j *Job) onEviction(worker resource.WorkerProfile, slots map[string]struct{}) {
	j.mu.Lock()
	var lost []*group
	for _, g := range j.order {
		if g.slot != nil {
			if _, ok := slots[g.slot.SlotID]; ok {
				lost = append(lost, g)
			}
		}
	}
	j.mu.Unlock()

	var cancels []func()
	for _, g := range lost {
		g := g
		message := fmt.Sprintf("worker %s evicted", worker.WorkerID)
		if j.completeGroup(g, execution.StateFailed, message) {
			j.fail(fmt.Errorf("task group %s failed: %s", g.location(), message))
		}
		if j.isDeployed(g) {
			cancels = append(cancels, func() { j.cancelGroup(g) })
		}
	}

	// The worker may still be alive behind a partition.
	j.service.pool.RunAll(cancels)
}

func (j *Job) isDeployed(g *group) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return g.deployed
}

// Records the first failure and stops the remaining groups.
func (j *Job) fail(err error) {
	j.mu.Lock()
	first := j.cause == nil
	if first {
		j.cause = err
	}
	j.mu.Unlock()

	if !first {
		return
	}

	log.Infof("int - job - id: %d: %v", j.id, err)

	j.cancel()
	reason := checkpoint.ReasonTaskFailed
	if j.canceled.Load() {
		reason = checkpoint.ReasonCanceled
	}
	j.checkpoints.AbortPending(reason, err.Error())

	j.mu.Lock()
	var cancels []func()
	for _, g := range j.order {
		g := g
		if g.deployed && !g.state.IsEndState() {
			cancels = append(cancels, func() { j.cancelGroup(g) })
		}
	}
	j.mu.Unlock()

	j.service.pool.RunAll(cancels)
}

// Cancels the job. Returns false if it already terminated.
func (j *Job) Cancel() bool {
	select {
	case <-j.done:
		return false
	default:
	}

	j.canceled.Store(true)
	j.fail(ErrJobCanceled)
	return true
}

// Gives up on groups whose terminal state never arrived.
func (j *Job) abandon() {
	for _, g := range j.order {
		j.completeGroup(g, execution.StateCanceled, "abandoned at shutdown")
	}
}

func (j *Job) cancelGroup(g *group) {
	client, err := j.clientFor(g.location())
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.service.config.CallTimeout)
	defer cancel()

	if err := client.CancelTaskGroup(ctx, &protocol.TaskGroupRequest{Location: g.location()}); err != nil {
		log.Warnf("err - group - cancellation failed - location: %s: %v", g.location(), err)
	}
}

func (j *Job) cleanGroup(g *group) {
	client, err := j.clientFor(g.location())
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.service.config.CallTimeout)
	defer cancel()

	if err := client.CleanTaskGroupContext(ctx, &protocol.TaskGroupRequest{Location: g.location()}); err != nil {
		log.Debugf("err - group - cleanup failed - location: %s: %v", g.location(), err)
	}
}

func (j *Job) clientFor(location execution.TaskGroupLocation) (WorkerClient, error) {
	j.mu.Lock()
	g, ok := j.groups[location]
	var slot *resource.SlotProfile
	if ok {
		slot = g.slot
	}
	j.mu.Unlock()

	if slot == nil {
		return nil, fmt.Errorf("%w: task group %s is not deployed", utils.ErrNotFound, location)
	}
	return j.service.clients.Client(slot.WorkerAddress)
}

// Injects a checkpoint barrier through the worker hosting the task.
func (j *Job) TriggerBarrier(ctx context.Context, location execution.TaskLocation, checkpointID int64) error {
	client, err := j.clientFor(location.Group)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, j.service.config.CallTimeout)
	defer cancel()
	return client.TriggerBarrier(ctx, &protocol.BarrierRequest{Location: location, CheckpointID: checkpointID})
}

// Delivers a checkpoint outcome through the worker hosting the task.
func (j *Job) NotifyCheckpointResult(ctx context.Context, location execution.TaskLocation, checkpointID int64, success bool) error {
	client, err := j.clientFor(location.Group)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, j.service.config.CallTimeout)
	defer cancel()
	return client.NotifyCheckpointResult(ctx, &protocol.CheckpointResultRequest{
		Location:     location,
		CheckpointID: checkpointID,
		Success:      success,
	})
}

// Settles the final state and releases everything held by the job.
func (j *Job) terminate() {
	j.checkpoints.Stop()

	j.mu.Lock()
	state := execution.StateFinished
	switch {
	case j.canceled.Load():
		state = execution.StateCanceled
	case j.cause != nil:
		state = execution.StateFailed
	}
	var slots []resource.SlotProfile
	var deployed []*group
	for _, g := range j.order {
		if g.slot != nil {
			slots = append(slots, *g.slot)
		}
		if g.deployed {
			deployed = append(deployed, g)
		}
	}
	j.mu.Unlock()

	if err := j.service.resources.ReleaseResources(j.id, slots); err != nil {
		log.Warnf("err - job - id: %d, releasing slots: %v", j.id, err)
	}

	if state == execution.StateFinished {
		if err := j.checkpoints.DeleteCheckpoints(); err != nil {
			log.Warnf("err - job - id: %d, deleting checkpoints: %v", j.id, err)
		}
	}

	cleanups := make([]func(), 0, len(deployed))
	for _, g := range deployed {
		g := g
		cleanups = append(cleanups, func() { j.cleanGroup(g) })
	}
	j.service.pool.RunAll(cleanups)

	now := time.Now()
	j.mu.Lock()
	j.state = state
	j.finished = &now
	j.mu.Unlock()

	j.cancel()
	log.Infof("end - job - id: %d, state: %s", j.id, state)
	j.service.jobTerminated(j, state)
	close(j.done)
}

func (j *Job) setState(state execution.ExecutionState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.IsEndState() {
		j.state = state
	}
}

func (j *Job) finishedAt() *time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finished
}

func (j *Job) Status() protocol.JobStatus {
	j.mu.Lock()
	status := protocol.JobStatus{
		JobID:     j.id,
		Name:      j.name,
		State:     j.state,
		Submitted: j.submitted,
		Finished:  j.finished,
		Groups:    make([]protocol.GroupStatus, 0, len(j.order)),
	}
	if j.cause != nil && j.state == execution.StateFailed {
		status.Error = j.cause.Error()
	}
	for _, g := range j.order {
		groupStatus := protocol.GroupStatus{Location: g.location(), State: g.state, Error: g.err}
		if g.slot != nil {
			slot := *g.slot
			groupStatus.Slot = &slot
		}
		status.Groups = append(status.Groups, groupStatus)
	}
	j.mu.Unlock()

	status.Checkpoints = j.checkpoints.Status()
	return status
}

var (
	_ checkpoint.BarrierTrigger = (*Job)(nil)
	_ checkpoint.ResultNotifier = (*Job)(nil)
)
