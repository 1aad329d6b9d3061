package coordinator

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/srand/jolt/engine/pkg/checkpoint"
	"github.com/srand/jolt/engine/pkg/checkpoint/storage/memory"
	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/protocol"
	"github.com/srand/jolt/engine/pkg/resource"
	"github.com/srand/jolt/engine/pkg/taskexec"
	"github.com/srand/jolt/engine/pkg/utils"
	"github.com/srand/jolt/engine/pkg/worker"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
)

// Routes coordinator calls straight into in-process worker services.
type localWorkers struct {
	mu      sync.Mutex
	servers map[string]protocol.WorkerServer
}

func (l *localWorkers) add(address string, server protocol.WorkerServer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.servers[address] = server
}

func (l *localWorkers) Client(address string) (WorkerClient, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	server, ok := l.servers[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", utils.ErrUnavailable, address)
	}
	return &localWorkerClient{server}, nil
}

type localWorkerClient struct {
	server protocol.WorkerServer
}

func (c *localWorkerClient) DeployTaskGroup(ctx context.Context, req *protocol.DeployTaskGroupRequest, _ ...grpc.CallOption) (*protocol.DeployTaskGroupResponse, error) {
	return c.server.DeployTaskGroup(ctx, req)
}

func (c *localWorkerClient) CancelTaskGroup(ctx context.Context, req *protocol.TaskGroupRequest, _ ...grpc.CallOption) error {
	_, err := c.server.CancelTaskGroup(ctx, req)
	return err
}

func (c *localWorkerClient) NotifyCheckpointResult(ctx context.Context, req *protocol.CheckpointResultRequest, _ ...grpc.CallOption) error {
	_, err := c.server.NotifyCheckpointResult(ctx, req)
	return err
}

func (c *localWorkerClient) TriggerBarrier(ctx context.Context, req *protocol.BarrierRequest, _ ...grpc.CallOption) error {
	_, err := c.server.TriggerBarrier(ctx, req)
	return err
}

func (c *localWorkerClient) CleanTaskGroupContext(ctx context.Context, req *protocol.TaskGroupRequest, _ ...grpc.CallOption) error {
	_, err := c.server.CleanTaskGroupContext(ctx, req)
	return err
}

// Routes worker calls straight into the coordinator service.
type localCoordinator struct {
	server protocol.CoordinatorServer
}

func (c *localCoordinator) RegisterWorker(ctx context.Context, req *protocol.RegisterWorkerRequest, _ ...grpc.CallOption) (*protocol.RegisterWorkerResponse, error) {
	return c.server.RegisterWorker(ctx, req)
}

func (c *localCoordinator) Heartbeat(ctx context.Context, req *protocol.HeartbeatRequest, _ ...grpc.CallOption) error {
	_, err := c.server.Heartbeat(ctx, req)
	return err
}

func (c *localCoordinator) NotifyTaskStatus(ctx context.Context, req *protocol.TaskStatusRequest, _ ...grpc.CallOption) error {
	_, err := c.server.NotifyTaskStatus(ctx, req)
	return err
}

func (c *localCoordinator) AcknowledgeCheckpoint(ctx context.Context, req *protocol.AcknowledgeCheckpointRequest, _ ...grpc.CallOption) error {
	_, err := c.server.AcknowledgeCheckpoint(ctx, req)
	return err
}

func (c *localCoordinator) CloseIdleTask(ctx context.Context, req *protocol.TaskLocationRequest, _ ...grpc.CallOption) error {
	_, err := c.server.CloseIdleTask(ctx, req)
	return err
}

func (c *localCoordinator) TaskCompleted(ctx context.Context, req *protocol.TaskLocationRequest, _ ...grpc.CallOption) error {
	_, err := c.server.TaskCompleted(ctx, req)
	return err
}

type CoordinatorTestSuite struct {
	suite.Suite
	config    *Config
	resources *resource.Manager
	storage   *memory.Storage
	workers   *localWorkers
	service   *Service
	server    protocol.CoordinatorServer
	stop      context.CancelFunc
	done      chan struct{}
	stops     map[string]func()
	nodes     map[string]*worker.Worker
}

func TestCoordinatorTestSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}

func (s *CoordinatorTestSuite) SetupTest() {
	s.config = &Config{
		CallTimeout:       2 * time.Second,
		ApplyRetryInitial: 5 * time.Millisecond,
		ApplyRetryMax:     20 * time.Millisecond,
		Resource: resource.Config{
			HeartbeatInterval: 20 * time.Millisecond,
			MissedHeartbeats:  3,
			ApplyTimeout:      30 * time.Millisecond,
		},
		Checkpoint: checkpoint.Config{
			Interval: -1,
			Timeout:  time.Second,
			Storage:  "memory",
		},
	}
	s.config.SetDefaults()
	s.Require().NoError(s.config.Validate())

	var err error
	s.resources, err = resource.NewManager(s.config.Resource, nil)
	s.Require().NoError(err)

	s.storage = memory.New()
	s.workers = &localWorkers{servers: map[string]protocol.WorkerServer{}}
	s.service = NewService(s.config, s.resources, s.storage, s.workers, nil, nil)
	s.server = NewCoordinatorService(s.service)
	s.stops = map[string]func(){}
	s.nodes = map[string]*worker.Worker{}

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.service.Run(ctx)
	}()
}

func (s *CoordinatorTestSuite) TearDownTest() {
	s.stop()
	<-s.done
	for _, stop := range s.stops {
		stop()
	}
}

// Starts an in-process worker with the given capacity in millicores.
func (s *CoordinatorTestSuite) startWorker(id string, cpu int64) {
	config := &worker.Config{
		CoordinatorGrpcUri: "tcp://coordinator:9090",
		AdvertiseGrpcUri:   fmt.Sprintf("tcp://%s:9091", id),
		WorkerID:           id,
		CPU:                cpu,
		Memory:             utils.ByteSize(1 << 30),
		RetryInterval:      5 * time.Millisecond,
		TaskExecution: taskexec.Config{
			CooperativeWorkers:  2,
			NotifyRetryInterval: 10 * time.Millisecond,
			SampleInterval:      10 * time.Millisecond,
		},
	}
	config.SetDefaults()
	s.Require().NoError(config.Validate())

	profile, err := config.Profile()
	s.Require().NoError(err)

	w, err := worker.NewWorker(config, profile, &localCoordinator{s.server}, execution.NewDefaultRegistry(), prometheus.NewRegistry())
	s.Require().NoError(err)
	s.workers.add(profile.Address, worker.NewWorkerService(w))
	s.nodes[id] = w

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	var once sync.Once
	s.stops[id] = func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}

	s.Eventually(func() bool {
		for _, status := range s.resources.ListWorkers() {
			if status.Profile.WorkerID == id {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func (s *CoordinatorTestSuite) plan(id execution.JobID, groups ...protocol.GroupPlan) *protocol.JobPlan {
	return &protocol.JobPlan{
		JobID:     id,
		Name:      fmt.Sprintf("job-%d", id),
		Pipelines: []protocol.PipelinePlan{{PipelineID: 1, Groups: groups}},
	}
}

func groupPlan(id execution.TaskGroupID, cpu string, tasks ...execution.TaskDescriptor) protocol.GroupPlan {
	return protocol.GroupPlan{GroupID: id, Resources: protocol.ResourceSpec{CPU: cpu}, Tasks: tasks}
}

func sequence(count int) execution.TaskDescriptor {
	return execution.TaskDescriptor{
		TaskID: 1, VertexKey: "source", Kind: execution.KindSequence, Parallelism: 1,
		Config: map[string]string{"count": fmt.Sprint(count)},
	}
}

func sleeping() execution.TaskDescriptor {
	return execution.TaskDescriptor{
		TaskID: 1, VertexKey: "sink", Kind: execution.KindSleep, Parallelism: 1,
		Config: map[string]string{"duration": "1h"},
	}
}

func (s *CoordinatorTestSuite) wait(job *Job) protocol.JobStatus {
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		s.FailNow("job did not terminate", "job %d", job.ID())
	}
	return job.Status()
}

func (s *CoordinatorTestSuite) waitRunning(job *Job) {
	s.Eventually(func() bool {
		status := job.Status()
		if status.State != execution.StateRunning {
			return false
		}
		for _, g := range status.Groups {
			if g.State != execution.StateRunning {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func (s *CoordinatorTestSuite) leases() int {
	total := 0
	for _, status := range s.resources.ListWorkers() {
		total += status.Leases
	}
	return total
}

func (s *CoordinatorTestSuite) TestJobFinishesAndReleasesSlots() {
	s.startWorker("worker-1", 2000)

	job, err := s.service.SubmitJob(s.plan(1, groupPlan(1, "500m", sequence(5)), groupPlan(2, "500m", sequence(5))), false)
	s.Require().NoError(err)

	status := s.wait(job)
	s.Equal(execution.StateFinished, status.State)
	s.Empty(status.Error)
	s.NotNil(status.Finished)
	s.Require().Len(status.Groups, 2)
	for _, g := range status.Groups {
		s.Equal(execution.StateFinished, g.State)
		s.Require().NotNil(g.Slot)
		s.Equal("worker-1", g.Slot.WorkerID)
	}

	s.Equal(0, s.leases())
	s.EqualValues(1, testutil.ToFloat64(s.service.jobMetrics.Terminated.WithLabelValues(string(execution.StateFinished))))
	s.EqualValues(0, testutil.ToFloat64(s.service.jobMetrics.Running))
}

func (s *CoordinatorTestSuite) TestGroupFailureFailsJob() {
	s.startWorker("worker-1", 2000)

	failing := execution.TaskDescriptor{
		TaskID: 1, VertexKey: "broken", Kind: execution.KindFail, Parallelism: 1,
		Config: map[string]string{"fail_at": "3", "message": "boom"},
	}

	job, err := s.service.SubmitJob(s.plan(2, groupPlan(1, "500m", sleeping()), groupPlan(2, "500m", failing)), false)
	s.Require().NoError(err)

	status := s.wait(job)
	s.Equal(execution.StateFailed, status.State)
	s.Contains(status.Error, "boom")
	s.Equal(execution.StateCanceled, status.Groups[0].State)
	s.Equal(execution.StateFailed, status.Groups[1].State)
	s.Equal(0, s.leases())
}

func (s *CoordinatorTestSuite) TestCancelJob() {
	s.startWorker("worker-1", 2000)

	job, err := s.service.SubmitJob(s.plan(3, groupPlan(1, "1", sleeping())), false)
	s.Require().NoError(err)
	s.waitRunning(job)

	s.NoError(s.service.CancelJob(job.ID()))
	status := s.wait(job)
	s.Equal(execution.StateCanceled, status.State)
	s.Empty(status.Error)
	s.Equal(execution.StateCanceled, status.Groups[0].State)
	s.Equal(0, s.leases())

	s.NoError(s.service.CancelJob(job.ID()))
	s.ErrorIs(s.service.CancelJob(999), utils.ErrNotFound)
}

func (s *CoordinatorTestSuite) TestApplyIsRetriedUntilCapacityArrives() {
	job, err := s.service.SubmitJob(s.plan(4, groupPlan(1, "500m", sequence(3))), false)
	s.Require().NoError(err)

	s.Eventually(func() bool {
		return testutil.ToFloat64(s.service.jobMetrics.ApplyRetries) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	s.startWorker("worker-1", 1000)

	status := s.wait(job)
	s.Equal(execution.StateFinished, status.State)
}

func (s *CoordinatorTestSuite) TestEvictedWorkerFailsGroups() {
	s.startWorker("worker-1", 1000)

	job, err := s.service.SubmitJob(s.plan(5, groupPlan(1, "1", sleeping())), false)
	s.Require().NoError(err)
	s.waitRunning(job)

	s.stops["worker-1"]()

	status := s.wait(job)
	s.Equal(execution.StateFailed, status.State)
	s.Eventually(func() bool {
		return len(s.resources.ListWorkers()) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func (s *CoordinatorTestSuite) TestEvictionCancelsGroupsOnLiveWorker() {
	s.startWorker("worker-1", 1000)

	job, err := s.service.SubmitJob(s.plan(20, groupPlan(1, "1", sleeping())), false)
	s.Require().NoError(err)
	s.waitRunning(job)

	group := job.Status().Groups[0]
	s.Require().NotNil(group.Slot)
	workers := s.resources.ListWorkers()
	s.Require().Len(workers, 1)

	s.service.onEviction(workers[0].Profile, []resource.SlotProfile{*group.Slot})
	s.Equal(execution.StateFailed, s.wait(job).State)

	s.Eventually(func() bool {
		return s.nodes["worker-1"].Service().Stats().LiveGroups == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func (s *CoordinatorTestSuite) TestDuplicateJobIsRejected() {
	s.startWorker("worker-1", 1000)

	job, err := s.service.SubmitJob(s.plan(6, groupPlan(1, "500m", sleeping())), false)
	s.Require().NoError(err)

	_, err = s.service.SubmitJob(s.plan(6, groupPlan(1, "500m", sleeping())), false)
	s.ErrorIs(err, utils.ErrAlreadyExists)

	s.Require().NoError(s.service.CancelJob(job.ID()))
	s.wait(job)

	// A terminated job id may be reused.
	job, err = s.service.SubmitJob(s.plan(6, groupPlan(1, "500m", sequence(1))), false)
	s.Require().NoError(err)
	s.Equal(execution.StateFinished, s.wait(job).State)
}

func (s *CoordinatorTestSuite) TestInvalidSubmissions() {
	_, err := s.service.SubmitJob(nil, false)
	s.ErrorIs(err, utils.ErrBadRequest)

	_, err = s.service.SubmitJob(&protocol.JobPlan{Name: "empty"}, false)
	s.ErrorIs(err, utils.ErrBadRequest)

	_, err = s.service.SubmitJob(s.plan(0, groupPlan(1, "lots", sequence(1))), false)
	s.ErrorIs(err, utils.ErrParse)
}

func (s *CoordinatorTestSuite) TestStatusOutsideJobsIsIgnored() {
	ignored := s.service.jobMetrics.StatusReceived.WithLabelValues("ignored")
	invalid := s.service.jobMetrics.StatusReceived.WithLabelValues("invalid")

	s.service.NotifyTaskStatus(execution.TaskExecutionState{
		Location: execution.TaskGroupLocation{JobID: 404, PipelineID: 1, GroupID: 1},
		State:    execution.StateFinished,
	})
	s.service.NotifyTaskStatus(execution.TaskExecutionState{
		Location: execution.TaskGroupLocation{JobID: 404, PipelineID: 1, GroupID: 1},
		State:    execution.StateRunning,
	})

	s.EqualValues(1, testutil.ToFloat64(ignored))
	s.EqualValues(1, testutil.ToFloat64(invalid))
}

func (s *CoordinatorTestSuite) TestCheckpointsAreKeptUntilDeleted() {
	s.config.Checkpoint.Interval = 20 * time.Millisecond
	s.startWorker("worker-1", 1000)

	job, err := s.service.SubmitJob(s.plan(7, groupPlan(1, "500m", sleeping())), false)
	s.Require().NoError(err)

	s.Eventually(func() bool {
		states, err := s.service.ListCheckpoints(job.ID())
		return err == nil && len(states) > 0
	}, 2*time.Second, 5*time.Millisecond)

	s.ErrorIs(s.service.DeleteCheckpoints(job.ID()), utils.ErrBadRequest)

	s.Require().NoError(s.service.CancelJob(job.ID()))
	s.wait(job)

	resp, err := s.server.ListCheckpoints(context.Background(), &protocol.JobRequest{JobID: job.ID()})
	s.Require().NoError(err)
	s.NotEmpty(resp.Checkpoints)
	s.Equal(job.ID(), resp.Checkpoints[0].JobID)

	s.NoError(s.service.DeleteCheckpoints(job.ID()))
	states, err := s.service.ListCheckpoints(job.ID())
	s.NoError(err)
	s.Empty(states)
}

func (s *CoordinatorTestSuite) storeSequenceState(jobID execution.JobID, parallelism int, position uint64) {
	state := make([]byte, 8)
	binary.BigEndian.PutUint64(state, position)

	taskState := checkpoint.NewTaskState("source", parallelism, false)
	taskState.ReportState(0, state)

	_, err := s.storage.StoreCheckpoint(&checkpoint.PipelineState{
		JobID:        jobID,
		PipelineID:   1,
		CheckpointID: 9,
		Timestamp:    time.Now(),
		States:       map[string]*checkpoint.TaskState{"source": taskState},
	})
	s.Require().NoError(err)
}

func (s *CoordinatorTestSuite) TestRestoreFromLatestCheckpoint() {
	s.storeSequenceState(8, 1, 3)
	s.startWorker("worker-1", 1000)

	job, err := s.service.SubmitJob(s.plan(8, groupPlan(1, "500m", sequence(5))), true)
	s.Require().NoError(err)

	restored := job.order[0].desc.Tasks[0].State
	s.Require().Len(restored, 8)
	s.EqualValues(3, binary.BigEndian.Uint64(restored))

	s.Equal(execution.StateFinished, s.wait(job).State)

	// Finished jobs drop their checkpoints.
	states, err := s.service.ListCheckpoints(job.ID())
	s.NoError(err)
	s.Empty(states)
}

func (s *CoordinatorTestSuite) TestRestoreRejectsChangedParallelism() {
	s.storeSequenceState(9, 2, 3)

	_, err := s.service.SubmitJob(s.plan(9, groupPlan(1, "500m", sequence(5))), true)
	s.ErrorIs(err, utils.ErrIncompatible)

	_, err = s.service.Job(9)
	s.ErrorIs(err, utils.ErrNotFound)
}

func (s *CoordinatorTestSuite) TestGrpcService() {
	s.startWorker("worker-1", 1000)

	workers, err := s.server.ListWorkers(context.Background(), &protocol.Empty{})
	s.Require().NoError(err)
	s.Require().Len(workers.Workers, 1)
	s.Equal("worker-1", workers.Workers[0].Profile.WorkerID)

	resp, err := s.server.SubmitJob(context.Background(), &protocol.SubmitJobRequest{Plan: s.plan(0, groupPlan(1, "500m", sequence(2)))})
	s.Require().NoError(err)
	s.NotZero(resp.JobID)

	job, err := s.service.Job(resp.JobID)
	s.Require().NoError(err)
	s.wait(job)

	status, err := s.server.GetJobStatus(context.Background(), &protocol.JobRequest{JobID: resp.JobID})
	s.Require().NoError(err)
	s.Equal(execution.StateFinished, status.Status.State)

	_, err = s.server.GetJobStatus(context.Background(), &protocol.JobRequest{JobID: 12345})
	s.ErrorIs(err, utils.ErrNotFound)

	_, err = s.server.DeleteCheckpoints(context.Background(), &protocol.JobRequest{})
	s.ErrorIs(err, utils.ErrBadRequest)

	_, err = s.server.Heartbeat(context.Background(), &protocol.HeartbeatRequest{WorkerID: "stranger"})
	s.ErrorIs(err, utils.ErrNotFound)

	s.NoError(s.server.Ping(context.Background()))
}

func (s *CoordinatorTestSuite) TestHttpHandler() {
	r := echo.New()
	NewHttpHandler(s.service, prometheus.NewRegistry(), r)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	s.Equal(http.StatusOK, get("/workers").Code)
	s.Equal(http.StatusOK, get("/jobs").Code)
	s.Equal(http.StatusBadRequest, get("/jobs/abc").Code)
	s.Equal(http.StatusNotFound, get("/jobs/77").Code)
	s.Equal(http.StatusOK, get("/metrics").Code)
}
