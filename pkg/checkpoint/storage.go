package checkpoint

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/utils"
)

var (
	ErrStorage             = fmt.Errorf("checkpoint storage %w", utils.ErrUnavailable)
	ErrCheckpointNotFound  = fmt.Errorf("checkpoint %w", utils.ErrNotFound)
	ErrCorruptedCheckpoint = fmt.Errorf("checkpoint corrupted: %w", utils.ErrParse)
	ErrIncompatibleVersion = fmt.Errorf("checkpoint version %w", utils.ErrIncompatible)
	ErrUnknownStorage      = fmt.Errorf("checkpoint storage backend %w", utils.ErrNotFound)
)

// Persistence backend for pipeline states.
type Storage interface {
	// Persists a state and returns a backend specific handle.
	StoreCheckpoint(state *PipelineState) (string, error)
	// Returns the newest state of any pipeline of the job.
	GetLatestCheckpoint(jobID execution.JobID) (*PipelineState, error)
	// Returns all states of the job, possibly none.
	GetAllCheckpoints(jobID execution.JobID) ([]*PipelineState, error)
	// Returns a state of the pipeline. Which one is unspecified when there
	// are several; use GetLatestCheckpoint to get the newest.
	GetCheckpointByJobIDAndPipelineID(jobID execution.JobID, pipelineID execution.PipelineID) (*PipelineState, error)
	// Removes all states of the job. A job without states is not an error.
	DeleteCheckpoint(jobID execution.JobID) error
}

// Creates a backend. Parent structures must be created here, not per call.
type Factory func(config map[string]string) (Storage, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Makes a backend available by name. Backends register themselves from init.
func RegisterStorage(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if _, ok := factories[name]; ok {
		panic("checkpoint storage registered twice: " + name)
	}
	factories[name] = factory
}

func StorageBackends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Creates and initializes a registered backend.
func NewStorage(name string, config map[string]string) (Storage, error) {
	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStorage, name)
	}

	storage, err := factory(config)
	if err != nil {
		if errors.Is(err, ErrStorage) {
			return nil, err
		}
		return nil, utils.NewError(ErrStorage, "init "+name, err)
	}
	return storage, nil
}
