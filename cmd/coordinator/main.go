package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/srand/jolt/engine/pkg/checkpoint"
	"github.com/srand/jolt/engine/pkg/coordinator"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/metrics"
	"github.com/srand/jolt/engine/pkg/resource"
	"github.com/srand/jolt/engine/pkg/utils"
	"golang.org/x/sync/errgroup"

	_ "github.com/srand/jolt/engine/pkg/checkpoint/storage/localfile"
	_ "github.com/srand/jolt/engine/pkg/checkpoint/storage/memory"
)

var config = &coordinator.Config{}

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Jolt engine coordinator: resource manager, job master and checkpoint storage",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		viper.SetEnvPrefix("engine")
		viper.AutomaticEnv()

		viper.SetConfigName("coordinator.yaml")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/engine/")
		viper.AddConfigPath("$HOME/.config/engine")
		viper.AddConfigPath(".")

		viper.ReadInConfig()

		if err := utils.UnmarshalConfig(viper.GetViper(), config); err != nil {
			log.Fatal(err)
		}

		verbosity, err := cmd.Flags().GetCount("verbose")
		if err != nil {
			panic(err)
		}
		log.SetVerbosity(verbosity)
		log.InstallGrpcLogger()

		config.SetDefaults()
		if err := config.Validate(); err != nil {
			log.Fatal(err)
		}
		config.Log()
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx := utils.TerminateOnSignal()
		registry := metrics.NewRegistry()

		storage, err := checkpoint.NewStorage(config.Checkpoint.Storage, config.Checkpoint.StorageConfig)
		if err != nil {
			log.Fatal(err)
		}

		resources, err := resource.NewManager(config.Resource, metrics.NewResource(registry))
		if err != nil {
			log.Fatal(err)
		}

		clients := coordinator.NewGrpcWorkerClients(config.Grpc)
		defer clients.Close()

		service := coordinator.NewService(
			config, resources, storage, clients,
			metrics.NewCheckpoint(registry),
			metrics.NewJobs(registry))

		g, ctx := errgroup.WithContext(ctx)

		// Workers report through gRPC while jobs are canceled at shutdown.
		stopped := make(chan struct{})
		g.Go(func() error {
			defer close(stopped)
			service.Run(ctx)
			return nil
		})

		// Start listening for gRPC connections on all configured addresses
		for _, address := range config.ListenGrpc {
			server, socket, err := newGrpcServer(service, address)
			if err != nil {
				log.Fatal(err)
			}
			g.Go(func() error {
				return server.Serve(socket)
			})
			g.Go(func() error {
				<-stopped
				server.GracefulStop()
				return nil
			})
		}

		for _, address := range config.ListenHttp {
			server, err := newHttpServer(service, registry, address)
			if err != nil {
				log.Fatal(err)
			}
			g.Go(func() error {
				return serveHttp(ctx, server)
			})
		}

		if err := g.Wait(); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	rootCmd.Flags().StringSliceP("listen-http", "l", []string{"tcp://:8080"}, "Addresses to listen on for HTTP connections")
	rootCmd.Flags().StringSliceP("listen-grpc", "g", []string{"tcp://:9090"}, "Addresses to listen on for gRPC connections")
	rootCmd.Flags().String("storage", "localfile", fmt.Sprintf("Checkpoint storage backend %v", checkpoint.StorageBackends()))
	rootCmd.Flags().StringP("storage-path", "p", checkpoint.DefaultStoragePath, "Path to checkpoint storage on disk, or 'memory' to store checkpoints in memory.")
	rootCmd.Flags().Duration("checkpoint-interval", 0, "Interval between checkpoints, negative to disable")
	rootCmd.Flags().CountP("verbose", "v", "Verbosity (repeatable)")

	viper.BindPFlag("listen_grpc", rootCmd.Flags().Lookup("listen-grpc"))
	viper.BindPFlag("listen_http", rootCmd.Flags().Lookup("listen-http"))
	viper.BindPFlag("checkpoint.storage", rootCmd.Flags().Lookup("storage"))
	viper.BindPFlag("checkpoint.storage_config.path", rootCmd.Flags().Lookup("storage-path"))
	viper.BindPFlag("checkpoint.interval", rootCmd.Flags().Lookup("checkpoint-interval"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
