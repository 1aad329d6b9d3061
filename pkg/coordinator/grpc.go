package coordinator

import (
	"context"

	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/protocol"
	"github.com/srand/jolt/engine/pkg/utils"
)

type coordinatorService struct {
	service *Service
}

// Returns the gRPC service offered to workers and administration clients.
func NewCoordinatorService(service *Service) protocol.CoordinatorServer {
	return &coordinatorService{service: service}
}

func (s *coordinatorService) RegisterWorker(_ context.Context, req *protocol.RegisterWorkerRequest) (*protocol.RegisterWorkerResponse, error) {
	if err := s.service.resources.WorkerRegister(req.Profile); err != nil {
		return nil, err
	}
	return &protocol.RegisterWorkerResponse{HeartbeatInterval: s.service.config.Resource.HeartbeatInterval}, nil
}

func (s *coordinatorService) Heartbeat(_ context.Context, req *protocol.HeartbeatRequest) (*protocol.Empty, error) {
	if err := s.service.resources.HeartbeatFromWorker(req.WorkerID); err != nil {
		return nil, err
	}
	return &protocol.Empty{}, nil
}

func (s *coordinatorService) NotifyTaskStatus(_ context.Context, req *protocol.TaskStatusRequest) (*protocol.Empty, error) {
	s.service.NotifyTaskStatus(req.State)
	return &protocol.Empty{}, nil
}

func (s *coordinatorService) AcknowledgeCheckpoint(_ context.Context, req *protocol.AcknowledgeCheckpointRequest) (*protocol.Empty, error) {
	if err := s.service.AcknowledgeCheckpoint(req.Location, req.CheckpointID, req.State); err != nil {
		log.Debugf("nok - checkpoint - id: %d, location: %s: %v", req.CheckpointID, req.Location, err)
		return nil, err
	}
	return &protocol.Empty{}, nil
}

func (s *coordinatorService) CloseIdleTask(_ context.Context, req *protocol.TaskLocationRequest) (*protocol.Empty, error) {
	if err := s.service.CloseIdleTask(req.Location); err != nil {
		return nil, err
	}
	return &protocol.Empty{}, nil
}

func (s *coordinatorService) TaskCompleted(_ context.Context, req *protocol.TaskLocationRequest) (*protocol.Empty, error) {
	if err := s.service.TaskCompleted(req.Location); err != nil {
		return nil, err
	}
	return &protocol.Empty{}, nil
}

func (s *coordinatorService) SubmitJob(_ context.Context, req *protocol.SubmitJobRequest) (*protocol.SubmitJobResponse, error) {
	job, err := s.service.SubmitJob(req.Plan, req.Restore)
	if err != nil {
		return nil, err
	}
	return &protocol.SubmitJobResponse{JobID: job.ID()}, nil
}

func (s *coordinatorService) CancelJob(_ context.Context, req *protocol.JobRequest) (*protocol.Empty, error) {
	if err := s.service.CancelJob(req.JobID); err != nil {
		return nil, err
	}
	return &protocol.Empty{}, nil
}

func (s *coordinatorService) GetJobStatus(_ context.Context, req *protocol.JobRequest) (*protocol.JobStatusResponse, error) {
	job, err := s.service.Job(req.JobID)
	if err != nil {
		return nil, err
	}
	return &protocol.JobStatusResponse{Status: job.Status()}, nil
}

func (s *coordinatorService) ListWorkers(context.Context, *protocol.Empty) (*protocol.ListWorkersResponse, error) {
	return &protocol.ListWorkersResponse{Workers: s.service.resources.ListWorkers()}, nil
}

func (s *coordinatorService) ListCheckpoints(_ context.Context, req *protocol.JobRequest) (*protocol.ListCheckpointsResponse, error) {
	states, err := s.service.ListCheckpoints(req.JobID)
	if err != nil {
		return nil, err
	}

	resp := &protocol.ListCheckpointsResponse{Checkpoints: make([]protocol.CheckpointSummary, 0, len(states))}
	for _, state := range states {
		resp.Checkpoints = append(resp.Checkpoints, protocol.NewCheckpointSummary(state))
	}
	return resp, nil
}

func (s *coordinatorService) DeleteCheckpoints(_ context.Context, req *protocol.JobRequest) (*protocol.Empty, error) {
	if req.JobID == 0 {
		return nil, utils.Errorf(utils.ErrBadRequest, "delete checkpoints", "missing job id")
	}
	if err := s.service.DeleteCheckpoints(req.JobID); err != nil {
		return nil, err
	}
	return &protocol.Empty{}, nil
}

func (s *coordinatorService) Ping(context.Context) error {
	return nil
}
