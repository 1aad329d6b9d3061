package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/metrics"
	"github.com/srand/jolt/engine/pkg/protocol"
	"github.com/srand/jolt/engine/pkg/resource"
	"github.com/srand/jolt/engine/pkg/taskexec"
	"github.com/srand/jolt/engine/pkg/utils"
)

// A worker node: hosts a task execution service and keeps itself
// registered with the coordinator.
type Worker struct {
	config    *Config
	profile   resource.WorkerProfile
	client    Coordinator
	service   *taskexec.Service
	heartbeat atomic.Int64
}

// Creates a worker node. Task metrics are registered with registerer
// when it is not nil.
func NewWorker(config *Config, profile resource.WorkerProfile, client Coordinator, registry *execution.Registry, registerer prometheus.Registerer) (*Worker, error) {
	w := &Worker{
		config:  config,
		profile: profile,
		client:  client,
	}
	w.heartbeat.Store(int64(config.HeartbeatInterval))

	service, err := taskexec.NewService(config.TaskExecution, registry, w, w, metrics.NewTaskExecution(registerer))
	if err != nil {
		return nil, err
	}
	w.service = service

	return w, nil
}

func (w *Worker) ID() string {
	return w.profile.WorkerID
}

func (w *Worker) Service() *taskexec.Service {
	return w.service
}

// Registers with the coordinator and sends heartbeats until ctx is done.
// A coordinator that no longer knows the worker gets a new registration.
// The task execution service is closed on return.
func (w *Worker) Run(ctx context.Context) {
	log.Info("Starting")
	defer log.Info("Terminating")
	defer w.service.Close()

	for {
		if err := w.register(ctx); err != nil {
			return
		}

		err := w.sendHeartbeats(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warnf("nok - worker - id: %s, registering again: %v", w.ID(), err)
		w.dropGroups(ctx)
	}
}

// Stops every live group. Leases do not survive a lost registration.
func (w *Worker) dropGroups(ctx context.Context) {
	futures := w.service.CancelAll()
	if len(futures) == 0 {
		return
	}
	log.Warnf("int - worker - id: %s, cancelling %d groups without leases", w.ID(), len(futures))

	waitCtx, cancel := context.WithTimeout(ctx, w.config.CallTimeout)
	defer cancel()
	for _, future := range futures {
		if _, err := future.Get(waitCtx); err != nil {
			log.Warnf("err - worker - groups still stopping: %v", err)
			return
		}
	}
}

func (w *Worker) register(ctx context.Context) error {
	return utils.RetryForever(ctx, w.config.RetryInterval, func() error {
		callCtx, cancel := context.WithTimeout(ctx, w.config.CallTimeout)
		defer cancel()

		resp, err := w.client.RegisterWorker(callCtx, &protocol.RegisterWorkerRequest{Profile: w.profile})
		if err != nil {
			log.Debugf("err - worker - registration failed: %v", err)
			return err
		}

		if resp.HeartbeatInterval > 0 {
			w.heartbeat.Store(int64(resp.HeartbeatInterval))
		}

		log.Infof("new - worker - id: %s, address: %s, capacity: %s", w.ID(), w.profile.Address, w.profile.Capacity)
		return nil
	})
}

// Returns when ctx is done or the coordinator rejects a heartbeat.
func (w *Worker) sendHeartbeats(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(w.heartbeat.Load()))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		callCtx, cancel := context.WithTimeout(ctx, w.config.CallTimeout)
		err := w.client.Heartbeat(callCtx, &protocol.HeartbeatRequest{WorkerID: w.ID()})
		cancel()

		switch {
		case err == nil:
			log.Tracef("upd - worker - id: %s", w.ID())
		case errors.Is(err, utils.ErrNotFound):
			return err
		default:
			log.Debugf("err - worker - heartbeat failed: %v", err)
		}
	}
}

func (w *Worker) call(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.CallTimeout)
	defer cancel()
	return fn(ctx)
}

// Reports the terminal state of a group. Retried by the service.
func (w *Worker) NotifyTaskStatus(ctx context.Context, state execution.TaskExecutionState) error {
	callCtx, cancel := context.WithTimeout(ctx, w.config.CallTimeout)
	defer cancel()

	log.Debugf("end - group - location: %s, state: %s", state.Location, state.State)
	return w.client.NotifyTaskStatus(callCtx, &protocol.TaskStatusRequest{State: state})
}

func (w *Worker) AckCheckpoint(location execution.TaskLocation, checkpointID int64, state []byte) error {
	return w.call(func(ctx context.Context) error {
		return w.client.AcknowledgeCheckpoint(ctx, &protocol.AcknowledgeCheckpointRequest{
			Location:     location,
			CheckpointID: checkpointID,
			State:        state,
		})
	})
}

func (w *Worker) ReportIdle(location execution.TaskLocation) error {
	return w.call(func(ctx context.Context) error {
		return w.client.CloseIdleTask(ctx, &protocol.TaskLocationRequest{Location: location})
	})
}

func (w *Worker) ReportCompleted(location execution.TaskLocation) error {
	return w.call(func(ctx context.Context) error {
		return w.client.TaskCompleted(ctx, &protocol.TaskLocationRequest{Location: location})
	})
}

var (
	_ execution.TaskRuntime   = (*Worker)(nil)
	_ taskexec.StatusReporter = (*Worker)(nil)
)
