package protocol

import (
	"context"

	"google.golang.org/grpc"
)

const WorkerServiceName = "engine.Worker"

// Served by worker nodes, called by the coordinator.
type WorkerServer interface {
	DeployTaskGroup(context.Context, *DeployTaskGroupRequest) (*DeployTaskGroupResponse, error)
	CancelTaskGroup(context.Context, *TaskGroupRequest) (*Empty, error)
	GetExecutionContext(context.Context, *TaskGroupRequest) (*ExecutionContextResponse, error)
	NotifyCheckpointResult(context.Context, *CheckpointResultRequest) (*Empty, error)
	TriggerBarrier(context.Context, *BarrierRequest) (*Empty, error)
	CleanTaskGroupContext(context.Context, *TaskGroupRequest) (*Empty, error)
	Ping(context.Context) error
}

type UnimplementedWorkerServer struct{}

func (UnimplementedWorkerServer) DeployTaskGroup(context.Context, *DeployTaskGroupRequest) (*DeployTaskGroupResponse, error) {
	return nil, unimplemented("DeployTaskGroup")
}
func (UnimplementedWorkerServer) CancelTaskGroup(context.Context, *TaskGroupRequest) (*Empty, error) {
	return nil, unimplemented("CancelTaskGroup")
}
func (UnimplementedWorkerServer) GetExecutionContext(context.Context, *TaskGroupRequest) (*ExecutionContextResponse, error) {
	return nil, unimplemented("GetExecutionContext")
}
func (UnimplementedWorkerServer) NotifyCheckpointResult(context.Context, *CheckpointResultRequest) (*Empty, error) {
	return nil, unimplemented("NotifyCheckpointResult")
}
func (UnimplementedWorkerServer) TriggerBarrier(context.Context, *BarrierRequest) (*Empty, error) {
	return nil, unimplemented("TriggerBarrier")
}
func (UnimplementedWorkerServer) CleanTaskGroupContext(context.Context, *TaskGroupRequest) (*Empty, error) {
	return nil, unimplemented("CleanTaskGroupContext")
}
func (UnimplementedWorkerServer) Ping(context.Context) error {
	return nil
}

var WorkerServiceDesc = grpc.ServiceDesc{
	ServiceName: WorkerServiceName,
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(WorkerServiceName, "DeployTaskGroup", func(srv any, ctx context.Context, req *DeployTaskGroupRequest) (*DeployTaskGroupResponse, error) {
			return srv.(WorkerServer).DeployTaskGroup(ctx, req)
		}),
		unary(WorkerServiceName, "CancelTaskGroup", func(srv any, ctx context.Context, req *TaskGroupRequest) (*Empty, error) {
			return srv.(WorkerServer).CancelTaskGroup(ctx, req)
		}),
		unary(WorkerServiceName, "GetExecutionContext", func(srv any, ctx context.Context, req *TaskGroupRequest) (*ExecutionContextResponse, error) {
			return srv.(WorkerServer).GetExecutionContext(ctx, req)
		}),
		unary(WorkerServiceName, "NotifyCheckpointResult", func(srv any, ctx context.Context, req *CheckpointResultRequest) (*Empty, error) {
			return srv.(WorkerServer).NotifyCheckpointResult(ctx, req)
		}),
		unary(WorkerServiceName, "TriggerBarrier", func(srv any, ctx context.Context, req *BarrierRequest) (*Empty, error) {
			return srv.(WorkerServer).TriggerBarrier(ctx, req)
		}),
		unary(WorkerServiceName, "CleanTaskGroupContext", func(srv any, ctx context.Context, req *TaskGroupRequest) (*Empty, error) {
			return srv.(WorkerServer).CleanTaskGroupContext(ctx, req)
		}),
		ping(WorkerServiceName, func(srv any, ctx context.Context) error {
			return srv.(WorkerServer).Ping(ctx)
		}),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterWorkerServer(s grpc.ServiceRegistrar, srv WorkerServer) {
	s.RegisterService(&WorkerServiceDesc, srv)
}

// Client of the worker service.
type WorkerClient struct {
	cc grpc.ClientConnInterface
}

func NewWorkerClient(cc grpc.ClientConnInterface) *WorkerClient {
	return &WorkerClient{cc: cc}
}

func (c *WorkerClient) DeployTaskGroup(ctx context.Context, req *DeployTaskGroupRequest, opts ...grpc.CallOption) (*DeployTaskGroupResponse, error) {
	return invoke[DeployTaskGroupRequest, DeployTaskGroupResponse](ctx, c.cc, WorkerServiceName, "DeployTaskGroup", req, opts...)
}

func (c *WorkerClient) CancelTaskGroup(ctx context.Context, req *TaskGroupRequest, opts ...grpc.CallOption) error {
	_, err := invoke[TaskGroupRequest, Empty](ctx, c.cc, WorkerServiceName, "CancelTaskGroup", req, opts...)
	return err
}

func (c *WorkerClient) GetExecutionContext(ctx context.Context, req *TaskGroupRequest, opts ...grpc.CallOption) (*ExecutionContextResponse, error) {
	return invoke[TaskGroupRequest, ExecutionContextResponse](ctx, c.cc, WorkerServiceName, "GetExecutionContext", req, opts...)
}

func (c *WorkerClient) NotifyCheckpointResult(ctx context.Context, req *CheckpointResultRequest, opts ...grpc.CallOption) error {
	_, err := invoke[CheckpointResultRequest, Empty](ctx, c.cc, WorkerServiceName, "NotifyCheckpointResult", req, opts...)
	return err
}

func (c *WorkerClient) TriggerBarrier(ctx context.Context, req *BarrierRequest, opts ...grpc.CallOption) error {
	_, err := invoke[BarrierRequest, Empty](ctx, c.cc, WorkerServiceName, "TriggerBarrier", req, opts...)
	return err
}

func (c *WorkerClient) CleanTaskGroupContext(ctx context.Context, req *TaskGroupRequest, opts ...grpc.CallOption) error {
	_, err := invoke[TaskGroupRequest, Empty](ctx, c.cc, WorkerServiceName, "CleanTaskGroupContext", req, opts...)
	return err
}

func (c *WorkerClient) Ping(ctx context.Context, opts ...grpc.CallOption) error {
	return invokePing(ctx, c.cc, WorkerServiceName, opts...)
}
