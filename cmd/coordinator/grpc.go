package main

import (
	"net"

	"github.com/srand/jolt/engine/pkg/coordinator"
	"github.com/srand/jolt/engine/pkg/protocol"
	"github.com/srand/jolt/engine/pkg/utils"
	"google.golang.org/grpc"
)

// Sets up a gRPC server on a specific listening address.
func newGrpcServer(service *coordinator.Service, address string) (*grpc.Server, net.Listener, error) {
	socket, err := utils.Listen(address)
	if err != nil {
		return nil, nil, err
	}

	server := grpc.NewServer(config.Grpc.ToServerOptions()...)
	protocol.RegisterCoordinatorServer(server, coordinator.NewCoordinatorService(service))
	return server, socket, nil
}
