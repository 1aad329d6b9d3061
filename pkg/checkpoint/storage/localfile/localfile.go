// Package localfile stores checkpoints as zstd compressed files.
//
// Files live flat in one namespace directory and are named
// <job>-<pipeline>-<checkpoint>.ckpt. They are written to a temporary
// file first and renamed into place, so readers never observe a
// partially written checkpoint.
package localfile

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/srand/jolt/engine/pkg/checkpoint"
	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/utils"
)

const (
	Name = "localfile"

	// Version of the file envelope written by this package.
	SchemaVersion = 1

	extension = ".ckpt"
	tmpPrefix = ".tmp-"
)

func init() {
	checkpoint.RegisterStorage(Name, New)
}

type envelope struct {
	Version int                       `json:"version"`
	State   *checkpoint.PipelineState `json:"state"`
}

type Storage struct {
	mu        sync.RWMutex
	fs        utils.Fs
	namespace string
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// Creates a backend from configuration.
//
//	path       root directory, required; "memory" keeps files in memory
//	namespace  directory below the root, default "checkpoints"
func New(config map[string]string) (checkpoint.Storage, error) {
	if config["path"] == "" {
		return nil, utils.Errorf(utils.ErrBadRequest, "create "+Name+" storage", "missing path")
	}

	namespace := config["namespace"]
	if namespace == "" {
		namespace = "checkpoints"
	}
	return NewWithFs(utils.NewFs(config["path"]), namespace)
}

// Creates a backend on a filesystem. The namespace directory is created here.
func NewWithFs(fs afero.Fs, namespace string) (*Storage, error) {
	if err := fs.MkdirAll(namespace, 0777); err != nil {
		return nil, utils.NewError(checkpoint.ErrStorage, "create "+namespace, err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	return &Storage{
		fs:        fs,
		namespace: namespace,
		encoder:   encoder,
		decoder:   decoder,
	}, nil
}

func (s *Storage) filename(state *checkpoint.PipelineState) string {
	return path.Join(s.namespace, fmt.Sprintf("%d-%d-%d%s", state.JobID, state.PipelineID, state.CheckpointID, extension))
}

type fileKey struct {
	job        execution.JobID
	pipeline   execution.PipelineID
	checkpoint int64
}

func parseFilename(name string) (fileKey, bool) {
	var key fileKey
	if !strings.HasSuffix(name, extension) || strings.HasPrefix(name, tmpPrefix) {
		return key, false
	}
	n, err := fmt.Sscanf(strings.TrimSuffix(name, extension), "%d-%d-%d", &key.job, &key.pipeline, &key.checkpoint)
	return key, err == nil && n == 3
}

func (s *Storage) StoreCheckpoint(state *checkpoint.PipelineState) (string, error) {
	data, err := json.Marshal(envelope{Version: SchemaVersion, State: state})
	if err != nil {
		return "", utils.NewError(checkpoint.ErrStorage, "encode "+state.String(), err)
	}
	data = s.encoder.EncodeAll(data, nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.filename(state)
	tmp := path.Join(s.namespace, tmpPrefix+uuid.NewString())

	if err := afero.WriteFile(s.fs, tmp, data, 0666); err != nil {
		s.fs.Remove(tmp)
		return "", utils.NewError(checkpoint.ErrStorage, "write "+target, err)
	}

	if err := s.fs.Rename(tmp, target); err != nil {
		s.fs.Remove(tmp)
		return "", utils.NewError(checkpoint.ErrStorage, "rename "+target, err)
	}

	log.Tracef("new - checkpoint file - path: %s, size: %s", target, utils.HumanByteSize(int64(len(data))))
	return target, nil
}

// Lists the files of a job. Caller holds the lock.
func (s *Storage) list(jobID execution.JobID) ([]string, []fileKey, error) {
	infos, err := afero.ReadDir(s.fs, s.namespace)
	if err != nil {
		return nil, nil, utils.NewError(checkpoint.ErrStorage, "list "+s.namespace, err)
	}

	var names []string
	var keys []fileKey
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		key, ok := parseFilename(info.Name())
		if !ok || key.job != jobID {
			continue
		}
		names = append(names, path.Join(s.namespace, info.Name()))
		keys = append(keys, key)
	}
	return names, keys, nil
}

func (s *Storage) read(name string) (*checkpoint.PipelineState, error) {
	data, err := afero.ReadFile(s.fs, name)
	if err != nil {
		return nil, utils.NewError(checkpoint.ErrStorage, "read "+name, err)
	}

	data, err = s.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, utils.NewError(checkpoint.ErrCorruptedCheckpoint, "decompress "+name, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, utils.NewError(checkpoint.ErrCorruptedCheckpoint, "decode "+name, err)
	}
	if env.Version != SchemaVersion {
		return nil, utils.Errorf(checkpoint.ErrIncompatibleVersion, "read "+name,
			"version %d, supported %d", env.Version, SchemaVersion)
	}
	if env.State == nil {
		return nil, utils.Errorf(checkpoint.ErrCorruptedCheckpoint, "read "+name, "no state")
	}
	return env.State, nil
}

func (s *Storage) GetLatestCheckpoint(jobID execution.JobID) (*checkpoint.PipelineState, error) {
	states, err := s.GetAllCheckpoints(jobID)
	if err != nil {
		return nil, err
	}

	latest := checkpoint.Latest(states)
	if latest == nil {
		return nil, fmt.Errorf("%w: job %d", checkpoint.ErrCheckpointNotFound, jobID)
	}
	return latest, nil
}

func (s *Storage) GetAllCheckpoints(jobID execution.JobID) ([]*checkpoint.PipelineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, _, err := s.list(jobID)
	if err != nil {
		return nil, err
	}

	states := make([]*checkpoint.PipelineState, 0, len(names))
	for _, name := range names {
		state, err := s.read(name)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}

	checkpoint.SortStates(states)
	return states, nil
}

func (s *Storage) GetCheckpointByJobIDAndPipelineID(jobID execution.JobID, pipelineID execution.PipelineID) (*checkpoint.PipelineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, keys, err := s.list(jobID)
	if err != nil {
		return nil, err
	}

	var states []*checkpoint.PipelineState
	for i, key := range keys {
		if key.pipeline != pipelineID {
			continue
		}
		state, err := s.read(names[i])
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}

	latest := checkpoint.Latest(states)
	if latest == nil {
		return nil, fmt.Errorf("%w: job %d, pipeline %d", checkpoint.ErrCheckpointNotFound, jobID, pipelineID)
	}
	return latest, nil
}

func (s *Storage) DeleteCheckpoint(jobID execution.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, _, err := s.list(jobID)
	if err != nil {
		return err
	}

	for _, name := range names {
		if err := s.fs.Remove(name); err != nil {
			return utils.NewError(checkpoint.ErrStorage, "delete "+name, err)
		}
		log.Tracef("del - checkpoint file - path: %s", name)
	}
	return nil
}
