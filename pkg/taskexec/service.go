package taskexec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/metrics"
	"github.com/srand/jolt/engine/pkg/utils"
)

var (
	ErrDuplicateDeployment = fmt.Errorf("task group %w", utils.ErrAlreadyExists)
	ErrTaskGroupNotFound   = fmt.Errorf("task group %w", utils.ErrNotFound)
	ErrTaskNotFound        = fmt.Errorf("task %w", utils.ErrNotFound)
	ErrTaskGroupCanceled   = errors.New("task group canceled")
	ErrServiceClosed       = fmt.Errorf("task execution service %w", utils.ErrTerminated)
)

// Receives the terminal state of every task group.
// Delivery is retried until it succeeds, so receivers must be idempotent.
type StatusReporter interface {
	NotifyTaskStatus(ctx context.Context, state execution.TaskExecutionState) error
}

// Runs task groups deployed to a worker node.
type Service struct {
	config   Config
	registry *execution.Registry
	runtime  execution.TaskRuntime
	reporter StatusReporter
	metrics  *metrics.TaskExecution

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool

	groups   *groupRegistry
	queue    *trackerQueue
	pool     *cooperativePool
	blocking atomic.Int64
	sampler  sync.WaitGroup
}

// Creates and starts a task execution service.
// The runtime and reporter may be nil.
func NewService(config Config, registry *execution.Registry, runtime execution.TaskRuntime, reporter StatusReporter, m *metrics.TaskExecution) (*Service, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if m == nil {
		m = metrics.NewTaskExecution(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		config:   config,
		registry: registry,
		runtime:  runtime,
		reporter: reporter,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		groups:   newGroupRegistry(),
		queue:    newTrackerQueue(),
	}
	s.pool = newCooperativePool(s, s.queue, config.CallQuantum, config.MaxCooperativeWorkers)
	s.running.Store(true)
	s.pool.start(config.CooperativeWorkers)

	s.sampler.Add(1)
	go s.sample()

	return s, nil
}

func failed(location execution.TaskGroupLocation, err error) *utils.Future[execution.TaskExecutionState] {
	return utils.CompletedFuture(execution.TaskExecutionState{
		Location: location,
		State:    execution.StateFailed,
		Error:    err.Error(),
	}, nil)
}

// Deploys a task group. The returned future completes with the group's
// terminal state. Deployment errors complete it with FAILED and leave
// no trace of the group.
func (s *Service) DeployTask(desc *execution.TaskGroupDescriptor) *utils.Future[execution.TaskExecutionState] {
	future, err := s.Deploy(desc)
	if err != nil {
		return failed(desc.Location, err)
	}
	return future
}

// Like DeployTask, but deployment errors are returned instead of being
// folded into the future. The status reporter only hears about accepted
// groups.
func (s *Service) Deploy(desc *execution.TaskGroupDescriptor) (*utils.Future[execution.TaskExecutionState], error) {
	location := desc.Location

	if !s.running.Load() {
		return nil, ErrServiceClosed
	}

	if err := desc.Validate(); err != nil {
		log.Infof("nok - group - location: %s: %v", location, err)
		s.metrics.GroupsRejected.Inc()
		return nil, err
	}

	// Scripts are loaded only once the location is ours.
	if !s.groups.reserve(location) {
		log.Infof("nok - group - already deployed - location: %s", location)
		s.metrics.GroupsRejected.Inc()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateDeployment, location)
	}

	scope, err := s.registry.Acquire(desc)
	if err != nil {
		log.Infof("nok - group - location: %s: %v", location, err)
		s.groups.unreserve(location)
		s.metrics.GroupsRejected.Inc()
		return nil, err
	}

	group := newGroupTracker(s, location, len(desc.Tasks), scope)
	groupCtx := &TaskGroupContext{
		descriptor: desc,
		tracker:    group,
		tasks:      map[int64]*taskTracker{},
		deployed:   time.Now(),
		state:      execution.StateDeploying,
	}

	var shared, blocking []*taskTracker
	for _, taskDesc := range desc.Tasks {
		task, err := s.createTask(scope, taskDesc)
		if err != nil {
			log.Infof("nok - group - location: %s: %v", location, err)
			s.registry.Release(scope)
			s.groups.unreserve(location)
			group.interrupt()
			s.metrics.GroupsRejected.Inc()
			return nil, err
		}

		taskLocation := desc.TaskLocation(taskDesc)
		taskCtx := execution.NewTaskContext(group.ctx, taskLocation, taskDesc.Config, s.runtime)
		tracker := newTaskTracker(group, task, taskCtx)
		groupCtx.tasks[taskDesc.TaskID] = tracker

		// The mode is read once here and never re-evaluated.
		switch task.Mode() {
		case execution.Blocking:
			blocking = append(blocking, tracker)
		default:
			shared = append(shared, tracker)
		}
	}

	s.groups.put(groupCtx)

	log.Infof("new - group - location: %s, thread-shared: %d, blocking: %d", location, len(shared), len(blocking))
	s.metrics.GroupsDeployed.Inc()

	groupCtx.mu.Lock()
	groupCtx.state = execution.StateRunning
	groupCtx.mu.Unlock()

	for _, tracker := range shared {
		if err := tracker.init(); err != nil {
			tracker.finish(err)
			continue
		}
		if !s.queue.put(tracker) {
			tracker.finish(ErrServiceClosed)
		}
	}

	started := &sync.WaitGroup{}
	started.Add(len(blocking))
	for _, tracker := range blocking {
		s.startBlocking(tracker, started)
	}
	started.Wait()

	return group.future, nil
}

func (s *Service) createTask(scope *execution.Scope, desc execution.TaskDescriptor) (execution.Task, error) {
	task, err := scope.CreateTask(desc)
	if err != nil {
		return nil, err
	}

	if len(desc.State) > 0 {
		restorable, ok := task.(execution.Restorable)
		if !ok {
			return nil, fmt.Errorf("%w: task %d (%s) does not accept restored state",
				utils.ErrBadRequest, desc.TaskID, desc.VertexKey)
		}
		if err := restorable.RestoreState(desc.State); err != nil {
			return nil, fmt.Errorf("restore task %d (%s): %w", desc.TaskID, desc.VertexKey, err)
		}
	}

	return task, nil
}

// Cancels a live task group. Unknown groups are ignored.
func (s *Service) CancelTaskGroup(location execution.TaskGroupLocation) {
	ctx, ok := s.groups.getLive(location)
	if !ok {
		log.Warnf("int - group - not found, ignoring cancellation - location: %s", location)
		return
	}

	log.Infof("int - group - location: %s", location)
	ctx.tracker.cancel()
}

// Cancels every live task group. The returned futures complete when
// the groups have stopped.
func (s *Service) CancelAll() []*utils.Future[execution.TaskExecutionState] {
	var futures []*utils.Future[execution.TaskExecutionState]
	for _, ctx := range s.groups.liveGroups() {
		log.Infof("int - group - location: %s", ctx.Location())
		ctx.tracker.cancel()
		futures = append(futures, ctx.tracker.future)
	}
	return futures
}

// Returns the context of a live or recently finished group.
func (s *Service) GetExecutionContext(location execution.TaskGroupLocation) (*TaskGroupContext, error) {
	ctx, ok := s.groups.get(location)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskGroupNotFound, location)
	}
	return ctx, nil
}

// Returns the status of all known groups.
func (s *Service) ListExecutionContexts() []execution.TaskGroupStatus {
	groups := s.groups.allGroups()
	statuses := make([]execution.TaskGroupStatus, 0, len(groups))
	for _, ctx := range groups {
		statuses = append(statuses, ctx.Status())
	}
	return statuses
}

// Drops the finished context of a group.
func (s *Service) CleanTaskGroupContext(location execution.TaskGroupLocation) {
	if s.groups.removeFinished(location) {
		log.Debugf("del - group - location: %s", location)
	}
}

// Returns a task of a live group.
func (s *Service) GetTask(location execution.TaskLocation) (execution.Task, error) {
	tracker, err := s.getTracker(location)
	if err != nil {
		return nil, err
	}
	return tracker.task, nil
}

func (s *Service) getTracker(location execution.TaskLocation) (*taskTracker, error) {
	ctx, ok := s.groups.getLive(location.Group)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, location)
	}

	tracker, ok := ctx.tasks[location.TaskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, location)
	}
	return tracker, nil
}

// Delivers a checkpoint outcome to a task. The task may not be registered
// yet, so a missing task is retried a bounded number of times. Any other
// error is returned immediately.
func (s *Service) NotifyCheckpointResult(location execution.TaskLocation, checkpointID int64, success bool) error {
	notFound := func(err error) bool {
		return errors.Is(err, ErrTaskNotFound)
	}

	err := utils.Retry(s.config.CheckpointNotifyAttempts, s.config.CheckpointNotifySleep, notFound, func() error {
		task, err := s.GetTask(location)
		if err != nil {
			return err
		}
		if success {
			return task.NotifyCheckpointComplete(checkpointID)
		}
		return task.NotifyCheckpointAborted(checkpointID)
	})

	if notFound(err) {
		return fmt.Errorf("checkpoint %d result undeliverable after %d attempts: %w",
			checkpointID, s.config.CheckpointNotifyAttempts, err)
	}
	return err
}

// Injects a checkpoint barrier into a task. Tasks that do not handle
// barriers are acknowledged on their behalf without state.
func (s *Service) TriggerBarrier(location execution.TaskLocation, checkpointID int64) error {
	tracker, err := s.getTracker(location)
	if err != nil {
		return err
	}
	if tracker.done.Load() {
		return fmt.Errorf("%w: %s has finished", ErrTaskNotFound, location)
	}

	if handler, ok := tracker.task.(execution.BarrierHandler); ok {
		return handler.TriggerBarrier(checkpointID)
	}

	if s.runtime == nil {
		return nil
	}
	return s.runtime.AckCheckpoint(location, checkpointID, nil)
}

func (s *Service) notifyTaskStatus(state execution.TaskExecutionState) {
	if s.reporter == nil {
		return
	}

	err := utils.RetryForever(s.ctx, s.config.NotifyRetryInterval, func() error {
		err := s.reporter.NotifyTaskStatus(s.ctx, state)
		if err != nil {
			log.Warnf("err - group - status notification failed, retrying - location: %s: %v", state.Location, err)
		}
		return err
	})
	if err != nil {
		log.Debugf("del - group - status notification abandoned at shutdown - location: %s", state.Location)
	}
}

// Service statistics.
type Stats struct {
	LiveGroups       int `json:"live_groups"`
	FinishedGroups   int `json:"finished_groups"`
	SharedWorkers    int `json:"shared_workers"`
	ExclusiveWorkers int `json:"exclusive_workers"`
	QueuedTasks      int `json:"queued_tasks"`
	BlockingTasks    int `json:"blocking_tasks"`
}

func (s *Service) Stats() Stats {
	live, finished := s.groups.counts()
	shared, exclusive := s.pool.size()
	return Stats{
		LiveGroups:       live,
		FinishedGroups:   finished,
		SharedWorkers:    shared,
		ExclusiveWorkers: exclusive,
		QueuedTasks:      s.queue.len(),
		BlockingTasks:    int(s.blocking.Load()),
	}
}

// Samples statistics into metrics and evicts expired finished contexts.
func (s *Service) sample() {
	defer s.sampler.Done()

	ticker := time.NewTicker(s.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		if evicted := s.groups.evictFinished(time.Now().Add(-s.config.FinishedRetention)); evicted > 0 {
			log.Debugf("del - group - evicted %d finished contexts", evicted)
		}

		stats := s.Stats()
		s.metrics.LiveGroups.Set(float64(stats.LiveGroups))
		s.metrics.FinishedGroups.Set(float64(stats.FinishedGroups))
		s.metrics.SharedWorkers.Set(float64(stats.SharedWorkers))
		s.metrics.ExclusiveWorkers.Set(float64(stats.ExclusiveWorkers))
		s.metrics.QueuedTasks.Set(float64(stats.QueuedTasks))
		s.metrics.BlockingTasks.Set(float64(stats.BlockingTasks))
	}
}

// Stops the service. Live groups are cancelled on a best-effort basis;
// they are not guaranteed to reach a terminal state before Close returns.
func (s *Service) Close() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	log.Info("Stopping task execution service")

	s.pool.stop()
	for _, ctx := range s.groups.liveGroups() {
		ctx.tracker.cancel()
	}
	for _, tracker := range s.queue.close() {
		tracker.finish(nil)
	}

	s.cancel()
	s.sampler.Wait()
}
