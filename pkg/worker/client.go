package worker

import (
	"context"

	"github.com/srand/jolt/engine/pkg/protocol"
	"google.golang.org/grpc"
)

// The coordinator calls made by a worker node.
type Coordinator interface {
	RegisterWorker(ctx context.Context, req *protocol.RegisterWorkerRequest, opts ...grpc.CallOption) (*protocol.RegisterWorkerResponse, error)
	Heartbeat(ctx context.Context, req *protocol.HeartbeatRequest, opts ...grpc.CallOption) error
	NotifyTaskStatus(ctx context.Context, req *protocol.TaskStatusRequest, opts ...grpc.CallOption) error
	AcknowledgeCheckpoint(ctx context.Context, req *protocol.AcknowledgeCheckpointRequest, opts ...grpc.CallOption) error
	CloseIdleTask(ctx context.Context, req *protocol.TaskLocationRequest, opts ...grpc.CallOption) error
	TaskCompleted(ctx context.Context, req *protocol.TaskLocationRequest, opts ...grpc.CallOption) error
}

var _ Coordinator = (*protocol.CoordinatorClient)(nil)

// Connects to the configured coordinator. The connection is established
// lazily and survives coordinator restarts.
func NewCoordinatorClient(config *Config) (*protocol.CoordinatorClient, *grpc.ClientConn, error) {
	conn, err := config.Grpc.Dial(config.CoordinatorGrpcUri)
	if err != nil {
		return nil, nil, err
	}
	return protocol.NewCoordinatorClient(conn), conn, nil
}
