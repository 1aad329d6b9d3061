package worker

import (
	"errors"
	"net/url"
	"time"

	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/resource"
	"github.com/srand/jolt/engine/pkg/taskexec"
	"github.com/srand/jolt/engine/pkg/utils"
)

type Config struct {
	Grpc utils.GRPCOptions `mapstructure:"grpc"`

	// gRPC URI of the coordinator service.
	CoordinatorGrpcUri string `mapstructure:"coordinator_grpc_uri"`

	// Address to listen on for gRPC connections from the coordinator.
	ListenGrpc string `mapstructure:"listen_grpc"`

	// gRPC URI the coordinator uses to reach this worker.
	// Defaults to the listen address.
	AdvertiseGrpcUri string `mapstructure:"advertise_grpc_uri"`

	// Addresses to listen on for HTTP.
	ListenHttp []string `mapstructure:"listen_http"`

	// Worker identity. Derived from the machine id when empty.
	WorkerID string `mapstructure:"worker_id"`

	// Offered capacity. Detected from the host when zero.
	CPU    int64          `mapstructure:"cpu"`
	Memory utils.ByteSize `mapstructure:"memory"`

	// Additional worker properties, key=value.
	Properties []string `mapstructure:"properties"`

	// Heartbeat interval used until the coordinator announces its own.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// Interval between attempts to reach an unavailable coordinator.
	RetryInterval time.Duration `mapstructure:"retry_interval"`

	// Deadline of a single call to the coordinator.
	CallTimeout time.Duration `mapstructure:"call_timeout"`

	TaskExecution taskexec.Config `mapstructure:"task_execution"`
}

func (c *Config) SetDefaults() {
	if c.ListenGrpc == "" {
		c.ListenGrpc = "tcp://:9091"
	}
	if c.AdvertiseGrpcUri == "" {
		c.AdvertiseGrpcUri = c.ListenGrpc
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 10 * time.Second
	}
	c.TaskExecution.SetDefaults()
}

// Checks if the worker configuration is valid.
func (c *Config) Validate() error {
	if c.CoordinatorGrpcUri == "" {
		return errors.New("A coordinator URI is required")
	}

	if _, err := utils.ParseGrpcUrl(c.CoordinatorGrpcUri); err != nil {
		return errors.New("The coordinator URI is not a valid URI")
	}

	if _, err := url.Parse(c.ListenGrpc); err != nil {
		return errors.New("The gRPC listen address is not a valid URI")
	}

	if _, err := utils.ParseGrpcUrl(c.AdvertiseGrpcUri); err != nil {
		return errors.New("The advertised gRPC URI is not a valid URI")
	}

	if c.CPU < 0 || c.Memory < 0 {
		return errors.New("The offered capacity must not be negative")
	}

	if c.HeartbeatInterval <= 0 {
		return errors.New("The heartbeat interval must be greater than zero")
	}

	if _, err := resource.ParseProperties(c.Properties); err != nil {
		return err
	}

	return c.TaskExecution.Validate()
}

// Builds the profile announced to the coordinator.
func (c *Config) Profile() (resource.WorkerProfile, error) {
	profile := resource.NewWorkerProfileWithDefaults(c.AdvertiseGrpcUri)

	if c.WorkerID != "" {
		profile.WorkerID = c.WorkerID
	}
	if c.CPU > 0 {
		profile.Capacity.CPU = c.CPU
	}
	if c.Memory > 0 {
		profile.Capacity.Memory = int64(c.Memory)
	}

	properties, err := resource.ParseProperties(c.Properties)
	if err != nil {
		return profile, err
	}
	for key, value := range properties {
		profile.Properties[key] = value
	}

	return profile, profile.Validate()
}

func (c *Config) Log() {
	log.Info("Worker configuration:")
	log.Infof("  coordinator_grpc_uri = %s", c.CoordinatorGrpcUri)
	log.Infof("  listen_grpc = %s", c.ListenGrpc)
	log.Infof("  advertise_grpc_uri = %s", c.AdvertiseGrpcUri)
	log.Infof("  listen_http = %v", c.ListenHttp)
	log.Infof("  worker_id = %s", c.WorkerID)
	log.Infof("  cpu = %dm", c.CPU)
	log.Infof("  memory = %s", c.Memory)
	log.Infof("  properties = %v", c.Properties)
	log.Infof("  heartbeat_interval = %v", c.HeartbeatInterval)
	log.Infof("  retry_interval = %v", c.RetryInterval)
	log.Infof("  call_timeout = %v", c.CallTimeout)
	c.TaskExecution.Log()
	c.Grpc.Log()
}
