package worker

import (
	"context"

	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/protocol"
	"github.com/srand/jolt/engine/pkg/utils"
)

type workerService struct {
	worker *Worker
}

// Returns the gRPC service through which the coordinator drives the worker.
func NewWorkerService(worker *Worker) protocol.WorkerServer {
	return &workerService{worker: worker}
}

func (s *workerService) DeployTaskGroup(_ context.Context, req *protocol.DeployTaskGroupRequest) (*protocol.DeployTaskGroupResponse, error) {
	if req.Group == nil {
		return nil, utils.Errorf(utils.ErrBadRequest, "deploy", "missing task group")
	}

	if _, err := s.worker.service.Deploy(req.Group); err != nil {
		return &protocol.DeployTaskGroupResponse{Accepted: false, Error: err.Error()}, nil
	}
	return &protocol.DeployTaskGroupResponse{Accepted: true}, nil
}

func (s *workerService) CancelTaskGroup(_ context.Context, req *protocol.TaskGroupRequest) (*protocol.Empty, error) {
	s.worker.service.CancelTaskGroup(req.Location)
	return &protocol.Empty{}, nil
}

func (s *workerService) GetExecutionContext(_ context.Context, req *protocol.TaskGroupRequest) (*protocol.ExecutionContextResponse, error) {
	ctx, err := s.worker.service.GetExecutionContext(req.Location)
	if err != nil {
		return nil, err
	}
	return &protocol.ExecutionContextResponse{Status: ctx.Status()}, nil
}

func (s *workerService) NotifyCheckpointResult(_ context.Context, req *protocol.CheckpointResultRequest) (*protocol.Empty, error) {
	if err := s.worker.service.NotifyCheckpointResult(req.Location, req.CheckpointID, req.Success); err != nil {
		log.Debugf("err - checkpoint - id: %d, location: %s: %v", req.CheckpointID, req.Location, err)
		return nil, err
	}
	return &protocol.Empty{}, nil
}

func (s *workerService) TriggerBarrier(_ context.Context, req *protocol.BarrierRequest) (*protocol.Empty, error) {
	if err := s.worker.service.TriggerBarrier(req.Location, req.CheckpointID); err != nil {
		return nil, err
	}
	return &protocol.Empty{}, nil
}

func (s *workerService) CleanTaskGroupContext(_ context.Context, req *protocol.TaskGroupRequest) (*protocol.Empty, error) {
	s.worker.service.CleanTaskGroupContext(req.Location)
	return &protocol.Empty{}, nil
}

func (s *workerService) Ping(context.Context) error {
	return nil
}
