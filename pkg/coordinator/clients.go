package coordinator

import (
	"context"
	"sync"

	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/protocol"
	"github.com/srand/jolt/engine/pkg/utils"
	"google.golang.org/grpc"
)

// The worker calls made by the coordinator.
type WorkerClient interface {
	DeployTaskGroup(ctx context.Context, req *protocol.DeployTaskGroupRequest, opts ...grpc.CallOption) (*protocol.DeployTaskGroupResponse, error)
	CancelTaskGroup(ctx context.Context, req *protocol.TaskGroupRequest, opts ...grpc.CallOption) error
	NotifyCheckpointResult(ctx context.Context, req *protocol.CheckpointResultRequest, opts ...grpc.CallOption) error
	TriggerBarrier(ctx context.Context, req *protocol.BarrierRequest, opts ...grpc.CallOption) error
	CleanTaskGroupContext(ctx context.Context, req *protocol.TaskGroupRequest, opts ...grpc.CallOption) error
}

var _ WorkerClient = (*protocol.WorkerClient)(nil)

// Hands out clients by worker address.
type WorkerClients interface {
	Client(address string) (WorkerClient, error)
}

// Keeps one gRPC connection per worker address.
type GrpcWorkerClients struct {
	options utils.GRPCOptions
	mu      sync.Mutex
	conns   map[string]*grpc.ClientConn
}

func NewGrpcWorkerClients(options utils.GRPCOptions) *GrpcWorkerClients {
	return &GrpcWorkerClients{
		options: options,
		conns:   map[string]*grpc.ClientConn{},
	}
}

func (c *GrpcWorkerClients) Client(address string) (WorkerClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[address]
	if !ok {
		var err error
		conn, err = c.options.Dial(address)
		if err != nil {
			return nil, utils.NewError(utils.ErrBadRequest, "dial "+address, err)
		}
		c.conns[address] = conn
		log.Debugf("new - connection - worker: %s", address)
	}

	return protocol.NewWorkerClient(conn), nil
}

// Drops the connection to an evicted worker.
func (c *GrpcWorkerClients) Forget(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[address]; ok {
		conn.Close()
		delete(c.conns, address)
		log.Debugf("del - connection - worker: %s", address)
	}
}

func (c *GrpcWorkerClients) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for address, conn := range c.conns {
		conn.Close()
		delete(c.conns, address)
	}
}
