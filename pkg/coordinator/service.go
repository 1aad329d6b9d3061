package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srand/jolt/engine/pkg/checkpoint"
	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/metrics"
	"github.com/srand/jolt/engine/pkg/protocol"
	"github.com/srand/jolt/engine/pkg/resource"
	"github.com/srand/jolt/engine/pkg/utils"
)

// The coordinator: worker inventory, job master and checkpoint storage.
type Service struct {
	config    *Config
	resources *resource.Manager
	storage   checkpoint.Storage
	clients   WorkerClients
	pool      *utils.WorkerPool

	checkpointMetrics *metrics.Checkpoint
	jobMetrics        *metrics.Jobs

	mu        sync.Mutex
	jobs      map[execution.JobID]*Job
	nextJobID atomic.Int64
	closed    bool
	wg        sync.WaitGroup
}

func NewService(config *Config, resources *resource.Manager, storage checkpoint.Storage, clients WorkerClients, checkpointMetrics *metrics.Checkpoint, jobMetrics *metrics.Jobs) *Service {
	if checkpointMetrics == nil {
		checkpointMetrics = metrics.NewCheckpoint(nil)
	}
	if jobMetrics == nil {
		jobMetrics = metrics.NewJobs(nil)
	}

	s := &Service{
		config:            config,
		resources:         resources,
		storage:           storage,
		clients:           clients,
		pool:              utils.NewWorkerPool(config.FanOut),
		checkpointMetrics: checkpointMetrics,
		jobMetrics:        jobMetrics,
		jobs:              map[execution.JobID]*Job{},
	}
	s.nextJobID.Store(time.Now().UnixMilli())
	s.pool.Start()

	resources.AddEvictionListener(s.onEviction)
	return s
}

// Runs the resource manager and prunes terminated jobs until ctx is done.
func (s *Service) Run(ctx context.Context) {
	go s.resources.Run(ctx)

	ticker := time.NewTicker(s.config.JobRetention / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case now := <-ticker.C:
			s.pruneJobs(now)
		}
	}
}

func (s *Service) pruneJobs(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, job := range s.jobs {
		if finished := job.finishedAt(); finished != nil && now.Sub(*finished) > s.config.JobRetention {
			delete(s.jobs, id)
			log.Debugf("del - job - id: %d", id)
		}
	}
}

// Accepts a job plan and starts executing it. With restore set, every
// pipeline resumes from its latest stored checkpoint.
func (s *Service) SubmitJob(plan *protocol.JobPlan, restore bool) (*Job, error) {
	if plan == nil {
		return nil, utils.Errorf(utils.ErrBadRequest, "submit", "missing job plan")
	}

	if plan.JobID == 0 {
		plan.JobID = execution.JobID(s.nextJobID.Add(1))
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}

	var states map[execution.PipelineID]*checkpoint.PipelineState
	if restore {
		var err error
		states, err = checkpoint.LatestByPipeline(s.storage, plan.JobID)
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("coordinator %w", utils.ErrTerminated)
	}

	if existing, ok := s.jobs[plan.JobID]; ok && existing.finishedAt() == nil {
		return nil, fmt.Errorf("%w: %d", ErrJobExists, plan.JobID)
	}

	job, err := newJob(s, plan, states)
	if err != nil {
		log.Infof("nok - job - id: %d: %v", plan.JobID, err)
		return nil, err
	}

	s.jobs[job.id] = job
	s.jobMetrics.Submitted.Inc()
	s.jobMetrics.Running.Inc()
	log.Infof("new - job - id: %d, name: %s, groups: %d, restored pipelines: %d", job.id, job.name, len(job.order), len(states))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job.run()
	}()

	return job, nil
}

func (s *Service) jobTerminated(job *Job, state execution.ExecutionState) {
	s.jobMetrics.Running.Dec()
	s.jobMetrics.Terminated.WithLabelValues(string(state)).Inc()
}

func (s *Service) Job(id execution.JobID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	return job, nil
}

func (s *Service) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].id < jobs[j].id })
	return jobs
}

func (s *Service) CancelJob(id execution.JobID) error {
	job, err := s.Job(id)
	if err != nil {
		return err
	}
	if job.Cancel() {
		log.Infof("int - job - id: %d", id)
	}
	return nil
}

// Routes a terminal group state to its job. Duplicates and states of
// unknown jobs are acknowledged and dropped.
func (s *Service) NotifyTaskStatus(state execution.TaskExecutionState) {
	if !state.State.IsEndState() {
		log.Warnf("nok - group - non-terminal status %s - location: %s", state.State, state.Location)
		s.jobMetrics.StatusReceived.WithLabelValues("invalid").Inc()
		return
	}

	job, err := s.Job(state.Location.JobID)
	if err != nil || !job.onTaskStatus(state) {
		log.Debugf("upd - group - ignored status %s - location: %s", state.State, state.Location)
		s.jobMetrics.StatusReceived.WithLabelValues("ignored").Inc()
		return
	}
	s.jobMetrics.StatusReceived.WithLabelValues("accepted").Inc()
}

func (s *Service) checkpointsOf(location execution.TaskLocation) (*checkpoint.Manager, error) {
	job, err := s.Job(location.Group.JobID)
	if err != nil {
		return nil, err
	}
	return job.checkpoints, nil
}

func (s *Service) AcknowledgeCheckpoint(location execution.TaskLocation, checkpointID int64, state []byte) error {
	checkpoints, err := s.checkpointsOf(location)
	if err != nil {
		return err
	}
	return checkpoints.Acknowledge(location, checkpointID, state)
}

func (s *Service) CloseIdleTask(location execution.TaskLocation) error {
	checkpoints, err := s.checkpointsOf(location)
	if err != nil {
		return err
	}
	return checkpoints.ReadyToCloseIdleTask(location)
}

func (s *Service) TaskCompleted(location execution.TaskLocation) error {
	checkpoints, err := s.checkpointsOf(location)
	if err != nil {
		return err
	}
	return checkpoints.TaskCompleted(location)
}

// Returns the stored checkpoints of a job, newest last per pipeline.
func (s *Service) ListCheckpoints(id execution.JobID) ([]*checkpoint.PipelineState, error) {
	states, err := s.storage.GetAllCheckpoints(id)
	if err != nil && !errors.Is(err, checkpoint.ErrCheckpointNotFound) {
		return nil, err
	}
	checkpoint.SortStates(states)
	return states, nil
}

// Deletes the stored checkpoints of a job that is not running.
func (s *Service) DeleteCheckpoints(id execution.JobID) error {
	if job, err := s.Job(id); err == nil && job.finishedAt() == nil {
		return fmt.Errorf("%w: %d", ErrJobRunning, id)
	}
	log.Infof("del - checkpoints - job: %d", id)
	return s.storage.DeleteCheckpoint(id)
}

func (s *Service) onEviction(worker resource.WorkerProfile, leases []resource.SlotProfile) {
	if forgetter, ok := s.clients.(interface{ Forget(string) }); ok {
		forgetter.Forget(worker.Address)
	}

	byJob := map[execution.JobID]map[string]struct{}{}
	for _, lease := range leases {
		if byJob[lease.JobID] == nil {
			byJob[lease.JobID] = map[string]struct{}{}
		}
		byJob[lease.JobID][lease.SlotID] = struct{}{}
	}

	for id, slots := range byJob {
		job, err := s.Job(id)
		if err != nil {
			continue
		}
		job.onEviction(worker, slots)
	}
}

// Cancels all running jobs and waits for them to terminate.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	log.Info("Stopping coordinator")

	for _, job := range jobs {
		job.Cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.config.CallTimeout):
		// Workers that never confirmed the cancellation.
		for _, job := range jobs {
			job.abandon()
		}
		<-done
	}

	s.pool.Stop()
	s.resources.Close()
}
