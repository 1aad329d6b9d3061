package main

import (
	"context"
	"time"

	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/protocol"
)

func NewCoordinatorClient() *protocol.CoordinatorClient {
	conn, err := configData.Grpc.Dial(configData.CoordinatorUri)
	if err != nil {
		log.Fatal(err)
	}
	return protocol.NewCoordinatorClient(conn)
}

func DefaultDeadlineContext() (context.Context, func()) {
	return context.WithDeadline(context.Background(), time.Now().Add(time.Second*30))
}
