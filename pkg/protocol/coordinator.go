package protocol

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const CoordinatorServiceName = "engine.Coordinator"

// Served by the coordinator, called by workers and administration clients.
type CoordinatorServer interface {
	RegisterWorker(context.Context, *RegisterWorkerRequest) (*RegisterWorkerResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*Empty, error)
	NotifyTaskStatus(context.Context, *TaskStatusRequest) (*Empty, error)
	AcknowledgeCheckpoint(context.Context, *AcknowledgeCheckpointRequest) (*Empty, error)
	CloseIdleTask(context.Context, *TaskLocationRequest) (*Empty, error)
	TaskCompleted(context.Context, *TaskLocationRequest) (*Empty, error)
	SubmitJob(context.Context, *SubmitJobRequest) (*SubmitJobResponse, error)
	CancelJob(context.Context, *JobRequest) (*Empty, error)
	GetJobStatus(context.Context, *JobRequest) (*JobStatusResponse, error)
	ListWorkers(context.Context, *Empty) (*ListWorkersResponse, error)
	ListCheckpoints(context.Context, *JobRequest) (*ListCheckpointsResponse, error)
	DeleteCheckpoints(context.Context, *JobRequest) (*Empty, error)
	Ping(context.Context) error
}

type UnimplementedCoordinatorServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedCoordinatorServer) RegisterWorker(context.Context, *RegisterWorkerRequest) (*RegisterWorkerResponse, error) {
	return nil, unimplemented("RegisterWorker")
}
func (UnimplementedCoordinatorServer) Heartbeat(context.Context, *HeartbeatRequest) (*Empty, error) {
	return nil, unimplemented("Heartbeat")
}
func (UnimplementedCoordinatorServer) NotifyTaskStatus(context.Context, *TaskStatusRequest) (*Empty, error) {
	return nil, unimplemented("NotifyTaskStatus")
}
func (UnimplementedCoordinatorServer) AcknowledgeCheckpoint(context.Context, *AcknowledgeCheckpointRequest) (*Empty, error) {
	return nil, unimplemented("AcknowledgeCheckpoint")
}
func (UnimplementedCoordinatorServer) CloseIdleTask(context.Context, *TaskLocationRequest) (*Empty, error) {
	return nil, unimplemented("CloseIdleTask")
}
func (UnimplementedCoordinatorServer) TaskCompleted(context.Context, *TaskLocationRequest) (*Empty, error) {
	return nil, unimplemented("TaskCompleted")
}
func (UnimplementedCoordinatorServer) SubmitJob(context.Context, *SubmitJobRequest) (*SubmitJobResponse, error) {
	return nil, unimplemented("SubmitJob")
}
func (UnimplementedCoordinatorServer) CancelJob(context.Context, *JobRequest) (*Empty, error) {
	return nil, unimplemented("CancelJob")
}
func (UnimplementedCoordinatorServer) GetJobStatus(context.Context, *JobRequest) (*JobStatusResponse, error) {
	return nil, unimplemented("GetJobStatus")
}
func (UnimplementedCoordinatorServer) ListWorkers(context.Context, *Empty) (*ListWorkersResponse, error) {
	return nil, unimplemented("ListWorkers")
}
func (UnimplementedCoordinatorServer) ListCheckpoints(context.Context, *JobRequest) (*ListCheckpointsResponse, error) {
	return nil, unimplemented("ListCheckpoints")
}
func (UnimplementedCoordinatorServer) DeleteCheckpoints(context.Context, *JobRequest) (*Empty, error) {
	return nil, unimplemented("DeleteCheckpoints")
}
func (UnimplementedCoordinatorServer) Ping(context.Context) error {
	return nil
}

func coordinator(srv any) CoordinatorServer {
	return srv.(CoordinatorServer)
}

var CoordinatorServiceDesc = grpc.ServiceDesc{
	ServiceName: CoordinatorServiceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(CoordinatorServiceName, "RegisterWorker", func(srv any, ctx context.Context, req *RegisterWorkerRequest) (*RegisterWorkerResponse, error) {
			return coordinator(srv).RegisterWorker(ctx, req)
		}),
		unary(CoordinatorServiceName, "Heartbeat", func(srv any, ctx context.Context, req *HeartbeatRequest) (*Empty, error) {
			return coordinator(srv).Heartbeat(ctx, req)
		}),
		unary(CoordinatorServiceName, "NotifyTaskStatus", func(srv any, ctx context.Context, req *TaskStatusRequest) (*Empty, error) {
			return coordinator(srv).NotifyTaskStatus(ctx, req)
		}),
		unary(CoordinatorServiceName, "AcknowledgeCheckpoint", func(srv any, ctx context.Context, req *AcknowledgeCheckpointRequest) (*Empty, error) {
			return coordinator(srv).AcknowledgeCheckpoint(ctx, req)
		}),
		unary(CoordinatorServiceName, "CloseIdleTask", func(srv any, ctx context.Context, req *TaskLocationRequest) (*Empty, error) {
			return coordinator(srv).CloseIdleTask(ctx, req)
		}),
		unary(CoordinatorServiceName, "TaskCompleted", func(srv any, ctx context.Context, req *TaskLocationRequest) (*Empty, error) {
			return coordinator(srv).TaskCompleted(ctx, req)
		}),
		unary(CoordinatorServiceName, "SubmitJob", func(srv any, ctx context.Context, req *SubmitJobRequest) (*SubmitJobResponse, error) {
			return coordinator(srv).SubmitJob(ctx, req)
		}),
		unary(CoordinatorServiceName, "CancelJob", func(srv any, ctx context.Context, req *JobRequest) (*Empty, error) {
			return coordinator(srv).CancelJob(ctx, req)
		}),
		unary(CoordinatorServiceName, "GetJobStatus", func(srv any, ctx context.Context, req *JobRequest) (*JobStatusResponse, error) {
			return coordinator(srv).GetJobStatus(ctx, req)
		}),
		unary(CoordinatorServiceName, "ListWorkers", func(srv any, ctx context.Context, req *Empty) (*ListWorkersResponse, error) {
			return coordinator(srv).ListWorkers(ctx, req)
		}),
		unary(CoordinatorServiceName, "ListCheckpoints", func(srv any, ctx context.Context, req *JobRequest) (*ListCheckpointsResponse, error) {
			return coordinator(srv).ListCheckpoints(ctx, req)
		}),
		unary(CoordinatorServiceName, "DeleteCheckpoints", func(srv any, ctx context.Context, req *JobRequest) (*Empty, error) {
			return coordinator(srv).DeleteCheckpoints(ctx, req)
		}),
		ping(CoordinatorServiceName, func(srv any, ctx context.Context) error {
			return coordinator(srv).Ping(ctx)
		}),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterCoordinatorServer(s grpc.ServiceRegistrar, srv CoordinatorServer) {
	s.RegisterService(&CoordinatorServiceDesc, srv)
}

// Client of the coordinator service.
type CoordinatorClient struct {
	cc grpc.ClientConnInterface
}

func NewCoordinatorClient(cc grpc.ClientConnInterface) *CoordinatorClient {
	return &CoordinatorClient{cc: cc}
}

func (c *CoordinatorClient) RegisterWorker(ctx context.Context, req *RegisterWorkerRequest, opts ...grpc.CallOption) (*RegisterWorkerResponse, error) {
	return invoke[RegisterWorkerRequest, RegisterWorkerResponse](ctx, c.cc, CoordinatorServiceName, "RegisterWorker", req, opts...)
}

func (c *CoordinatorClient) Heartbeat(ctx context.Context, req *HeartbeatRequest, opts ...grpc.CallOption) error {
	_, err := invoke[HeartbeatRequest, Empty](ctx, c.cc, CoordinatorServiceName, "Heartbeat", req, opts...)
	return err
}

func (c *CoordinatorClient) NotifyTaskStatus(ctx context.Context, req *TaskStatusRequest, opts ...grpc.CallOption) error {
	_, err := invoke[TaskStatusRequest, Empty](ctx, c.cc, CoordinatorServiceName, "NotifyTaskStatus", req, opts...)
	return err
}

func (c *CoordinatorClient) AcknowledgeCheckpoint(ctx context.Context, req *AcknowledgeCheckpointRequest, opts ...grpc.CallOption) error {
	_, err := invoke[AcknowledgeCheckpointRequest, Empty](ctx, c.cc, CoordinatorServiceName, "AcknowledgeCheckpoint", req, opts...)
	return err
}

func (c *CoordinatorClient) CloseIdleTask(ctx context.Context, req *TaskLocationRequest, opts ...grpc.CallOption) error {
	_, err := invoke[TaskLocationRequest, Empty](ctx, c.cc, CoordinatorServiceName, "CloseIdleTask", req, opts...)
	return err
}

func (c *CoordinatorClient) TaskCompleted(ctx context.Context, req *TaskLocationRequest, opts ...grpc.CallOption) error {
	_, err := invoke[TaskLocationRequest, Empty](ctx, c.cc, CoordinatorServiceName, "TaskCompleted", req, opts...)
	return err
}

func (c *CoordinatorClient) SubmitJob(ctx context.Context, req *SubmitJobRequest, opts ...grpc.CallOption) (*SubmitJobResponse, error) {
	return invoke[SubmitJobRequest, SubmitJobResponse](ctx, c.cc, CoordinatorServiceName, "SubmitJob", req, opts...)
}

func (c *CoordinatorClient) CancelJob(ctx context.Context, req *JobRequest, opts ...grpc.CallOption) error {
	_, err := invoke[JobRequest, Empty](ctx, c.cc, CoordinatorServiceName, "CancelJob", req, opts...)
	return err
}

func (c *CoordinatorClient) GetJobStatus(ctx context.Context, req *JobRequest, opts ...grpc.CallOption) (*JobStatusResponse, error) {
	return invoke[JobRequest, JobStatusResponse](ctx, c.cc, CoordinatorServiceName, "GetJobStatus", req, opts...)
}

func (c *CoordinatorClient) ListWorkers(ctx context.Context, opts ...grpc.CallOption) (*ListWorkersResponse, error) {
	return invoke[Empty, ListWorkersResponse](ctx, c.cc, CoordinatorServiceName, "ListWorkers", &Empty{}, opts...)
}

func (c *CoordinatorClient) ListCheckpoints(ctx context.Context, req *JobRequest, opts ...grpc.CallOption) (*ListCheckpointsResponse, error) {
	return invoke[JobRequest, ListCheckpointsResponse](ctx, c.cc, CoordinatorServiceName, "ListCheckpoints", req, opts...)
}

func (c *CoordinatorClient) DeleteCheckpoints(ctx context.Context, req *JobRequest, opts ...grpc.CallOption) error {
	_, err := invoke[JobRequest, Empty](ctx, c.cc, CoordinatorServiceName, "DeleteCheckpoints", req, opts...)
	return err
}

func (c *CoordinatorClient) Ping(ctx context.Context, opts ...grpc.CallOption) error {
	return invokePing(ctx, c.cc, CoordinatorServiceName, opts...)
}
