package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/metrics"
	"github.com/srand/jolt/engine/pkg/protocol"
	"github.com/srand/jolt/engine/pkg/utils"
	"github.com/srand/jolt/engine/pkg/worker"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Jolt engine worker executing task groups",
	Run: func(cmd *cobra.Command, args []string) {
		verbosity, err := cmd.Flags().GetCount("verbose")
		if err != nil {
			log.Fatal(err)
		}
		log.SetVerbosity(verbosity)
		log.InstallGrpcLogger()

		// Load worker configuration from file or environment.
		config, err := LoadConfig()
		if err != nil {
			log.Fatal(err)
		}

		// Validate the worker configuration.
		if err := config.Validate(); err != nil {
			log.Fatal(err)
		}
		config.Log()

		profile, err := config.Profile()
		if err != nil {
			log.Fatal(err)
		}

		log.Info("Properties:")
		for key, value := range profile.Properties {
			log.Infof("  %s=%s", key, value)
		}

		client, conn, err := worker.NewCoordinatorClient(config)
		if err != nil {
			log.Fatal(err)
		}
		defer conn.Close()

		registry := metrics.NewRegistry()
		w, err := worker.NewWorker(config, profile, client, execution.NewDefaultRegistry(), registry)
		if err != nil {
			log.Fatal(err)
		}

		ctx := utils.TerminateOnSignal()
		g, ctx := errgroup.WithContext(ctx)

		socket, err := utils.Listen(config.ListenGrpc)
		if err != nil {
			log.Fatal(err)
		}

		server := grpc.NewServer(config.Grpc.ToServerOptions()...)
		protocol.RegisterWorkerServer(server, worker.NewWorkerService(w))

		stopped := make(chan struct{})
		g.Go(func() error {
			defer close(stopped)
			w.Run(ctx)
			return nil
		})
		g.Go(func() error {
			return server.Serve(socket)
		})
		g.Go(func() error {
			<-stopped
			server.GracefulStop()
			return nil
		})

		for _, address := range config.ListenHttp {
			host, err := utils.ParseHttpUrl(address)
			if err != nil {
				log.Fatal(err)
			}

			r := utils.NewEcho()
			worker.NewHttpHandler(w, registry, r)
			httpServer := &http.Server{Addr: host, Handler: r}
			log.Info("Listening on http", host)

			g.Go(func() error {
				<-ctx.Done()
				return httpServer.Close()
			})
			g.Go(func() error {
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal(err)
		}
	},
}

func main() {
	rootCmd.Flags().StringP("coordinator-grpc-uri", "c", "tcp://coordinator:9090", "Coordinator service URI")
	rootCmd.Flags().StringP("listen-grpc", "g", "tcp://:9091", "Address to listen on for gRPC connections")
	rootCmd.Flags().String("advertise-grpc-uri", "", "URI under which the coordinator reaches this worker")
	rootCmd.Flags().StringSliceP("listen-http", "l", []string{}, "Addresses to listen on for HTTP connections")
	rootCmd.Flags().String("worker-id", "", "Worker identity, derived from the machine id by default")
	rootCmd.Flags().Int64("cpu", 0, "Offered CPU in millicores, all cores by default")
	rootCmd.Flags().String("memory", "", "Offered memory, e.g. 4GiB, all memory by default")
	rootCmd.Flags().StringSliceP("property", "p", []string{}, "Worker property key=value (repeatable)")
	rootCmd.Flags().IntP("threads", "j", 0, "Cooperative worker thread count")
	rootCmd.Flags().CountP("verbose", "v", "Verbosity (repeatable)")

	viper.BindPFlag("coordinator_grpc_uri", rootCmd.Flags().Lookup("coordinator-grpc-uri"))
	viper.BindPFlag("listen_grpc", rootCmd.Flags().Lookup("listen-grpc"))
	viper.BindPFlag("advertise_grpc_uri", rootCmd.Flags().Lookup("advertise-grpc-uri"))
	viper.BindPFlag("listen_http", rootCmd.Flags().Lookup("listen-http"))
	viper.BindPFlag("worker_id", rootCmd.Flags().Lookup("worker-id"))
	viper.BindPFlag("cpu", rootCmd.Flags().Lookup("cpu"))
	viper.BindPFlag("memory", rootCmd.Flags().Lookup("memory"))
	viper.BindPFlag("properties", rootCmd.Flags().Lookup("property"))
	viper.BindPFlag("task_execution.cooperative_workers", rootCmd.Flags().Lookup("threads"))
	viper.SetEnvPrefix("engine")
	viper.AutomaticEnv()

	viper.SetConfigName("worker.yaml")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/engine/")
	viper.AddConfigPath("$HOME/.config/engine")
	viper.AddConfigPath(".")
	viper.ReadInConfig()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
