// Package memory is an in-process checkpoint storage backend.
// States are lost when the process exits.
package memory

import (
	"fmt"
	"sync"

	"github.com/srand/jolt/engine/pkg/checkpoint"
	"github.com/srand/jolt/engine/pkg/execution"
)

const Name = "memory"

func init() {
	checkpoint.RegisterStorage(Name, func(map[string]string) (checkpoint.Storage, error) {
		return New(), nil
	})
}

type Storage struct {
	mu   sync.RWMutex
	jobs map[execution.JobID][]*checkpoint.PipelineState
}

func New() *Storage {
	return &Storage{jobs: map[execution.JobID][]*checkpoint.PipelineState{}}
}

func (s *Storage) StoreCheckpoint(state *checkpoint.PipelineState) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[state.JobID] = append(s.jobs[state.JobID], state.Clone())
	return fmt.Sprintf("%s:%s", Name, state), nil
}

func (s *Storage) GetLatestCheckpoint(jobID execution.JobID) (*checkpoint.PipelineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := checkpoint.Latest(s.jobs[jobID])
	if latest == nil {
		return nil, fmt.Errorf("%w: job %d", checkpoint.ErrCheckpointNotFound, jobID)
	}
	return latest.Clone(), nil
}

func (s *Storage) GetAllCheckpoints(jobID execution.JobID) ([]*checkpoint.PipelineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]*checkpoint.PipelineState, 0, len(s.jobs[jobID]))
	for _, state := range s.jobs[jobID] {
		states = append(states, state.Clone())
	}
	checkpoint.SortStates(states)
	return states, nil
}

func (s *Storage) GetCheckpointByJobIDAndPipelineID(jobID execution.JobID, pipelineID execution.PipelineID) (*checkpoint.PipelineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var states []*checkpoint.PipelineState
	for _, state := range s.jobs[jobID] {
		if state.PipelineID == pipelineID {
			states = append(states, state)
		}
	}
	if latest := checkpoint.Latest(states); latest != nil {
		return latest.Clone(), nil
	}
	return nil, fmt.Errorf("%w: job %d, pipeline %d", checkpoint.ErrCheckpointNotFound, jobID, pipelineID)
}

func (s *Storage) DeleteCheckpoint(jobID execution.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, jobID)
	return nil
}
