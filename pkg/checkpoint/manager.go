package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/metrics"
)

// Drives the checkpoints of all pipelines of one job.
type Manager struct {
	jobID        execution.JobID
	config       Config
	storage      Storage
	coordinators map[execution.PipelineID]*Coordinator

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewManager(jobID execution.JobID, plans []PipelinePlan, config Config, storage Storage, trigger BarrierTrigger, notifier ResultNotifier, m *metrics.Checkpoint) *Manager {
	config.SetDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	manager := &Manager{
		jobID:        jobID,
		config:       config,
		storage:      storage,
		coordinators: map[execution.PipelineID]*Coordinator{},
		ctx:          ctx,
		cancel:       cancel,
	}

	for _, plan := range plans {
		manager.coordinators[plan.PipelineID] = NewCoordinator(jobID, plan, config, storage, trigger, notifier, m)
	}

	return manager
}

func (m *Manager) JobID() execution.JobID {
	return m.jobID
}

// Starts periodic triggering unless it is disabled.
func (m *Manager) Start() {
	if m.config.Interval < 0 {
		log.Debugf("Periodic checkpoints disabled for job %d", m.jobID)
		return
	}

	for _, coordinator := range m.coordinators {
		m.wg.Add(1)
		go m.run(coordinator)
	}
}

func (m *Manager) run(coordinator *Coordinator) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}

		if coordinator.HasPending() {
			log.Tracef("Checkpoint of pipeline %s still pending, skipping trigger", coordinator.Key())
			continue
		}

		_, err := coordinator.TriggerCheckpoint(m.ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrCoordinatorStopped):
			return
		case errors.Is(err, ErrNoParticipants):
			log.Tracef("Pipeline %s has no open participants", coordinator.Key())
		default:
			log.Warnf("err - checkpoint - trigger failed - pipeline: %s: %v", coordinator.Key(), err)
		}
	}
}

func (m *Manager) Coordinator(pipeline execution.PipelineID) (*Coordinator, error) {
	coordinator, ok := m.coordinators[pipeline]
	if !ok {
		return nil, fmt.Errorf("%w: %d/%d", ErrPipelineNotFound, m.jobID, pipeline)
	}
	return coordinator, nil
}

func (m *Manager) coordinatorFor(location execution.TaskLocation) (*Coordinator, error) {
	if location.Group.JobID != m.jobID {
		return nil, fmt.Errorf("%w: %s does not belong to job %d", ErrPipelineNotFound, location, m.jobID)
	}
	return m.Coordinator(location.Group.PipelineID)
}

func (m *Manager) TriggerCheckpoint(ctx context.Context, pipeline execution.PipelineID) (int64, error) {
	coordinator, err := m.Coordinator(pipeline)
	if err != nil {
		return 0, err
	}
	return coordinator.TriggerCheckpoint(ctx)
}

func (m *Manager) Acknowledge(location execution.TaskLocation, checkpointID int64, state []byte) error {
	coordinator, err := m.coordinatorFor(location)
	if err != nil {
		return err
	}
	return coordinator.Acknowledge(location, checkpointID, state)
}

func (m *Manager) ReadyToCloseIdleTask(location execution.TaskLocation) error {
	coordinator, err := m.coordinatorFor(location)
	if err != nil {
		return err
	}
	return coordinator.ReadyToCloseIdleTask(location)
}

func (m *Manager) TaskCompleted(location execution.TaskLocation) error {
	coordinator, err := m.coordinatorFor(location)
	if err != nil {
		return err
	}
	return coordinator.TaskCompleted(location)
}

// Aborts pending checkpoints of every pipeline.
func (m *Manager) AbortPending(reason AbortReason, detail string) int {
	aborted := 0
	for _, coordinator := range m.coordinators {
		aborted += coordinator.AbortPending(reason, detail)
	}
	return aborted
}

func (m *Manager) Status() []PipelineStatus {
	statuses := make([]PipelineStatus, 0, len(m.coordinators))
	for _, coordinator := range m.coordinators {
		statuses = append(statuses, coordinator.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].PipelineID < statuses[j].PipelineID })
	return statuses
}

// Removes all persisted checkpoints of the job.
func (m *Manager) DeleteCheckpoints() error {
	return m.storage.DeleteCheckpoint(m.jobID)
}

// Stops triggering and all coordinators.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
		for _, coordinator := range m.coordinators {
			coordinator.Stop()
		}
		log.Debugf("Stopped checkpoint manager of job %d", m.jobID)
	})
}
