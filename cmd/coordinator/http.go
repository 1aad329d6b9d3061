package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/srand/jolt/engine/pkg/coordinator"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/utils"
)

func newHttpServer(service *coordinator.Service, gatherer prometheus.Gatherer, address string) (*http.Server, error) {
	host, err := utils.ParseHttpUrl(address)
	if err != nil {
		return nil, err
	}

	r := utils.NewEcho()
	coordinator.NewHttpHandler(service, gatherer, r)

	log.Info("Listening on http", host)
	return &http.Server{Addr: host, Handler: r}, nil
}

// Serves until ctx is done.
func serveHttp(ctx context.Context, server *http.Server) error {
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
