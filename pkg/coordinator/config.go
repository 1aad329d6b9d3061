package coordinator

import (
	"errors"
	"net/url"
	"time"

	"github.com/srand/jolt/engine/pkg/checkpoint"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/resource"
	"github.com/srand/jolt/engine/pkg/utils"
)

type Config struct {
	Grpc utils.GRPCOptions `mapstructure:"grpc"`

	// Addresses to listen on for gRPC.
	ListenGrpc []string `mapstructure:"listen_grpc"`
	// Addresses to listen on for HTTP.
	ListenHttp []string `mapstructure:"listen_http"`

	// Deadline of a single call to a worker.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// Number of concurrent cancel and cleanup calls to workers.
	FanOut int `mapstructure:"fan_out"`

	// Backoff between slot applications that found no capacity.
	ApplyRetryInitial time.Duration `mapstructure:"apply_retry_initial"`
	ApplyRetryMax     time.Duration `mapstructure:"apply_retry_max"`

	// How long terminated jobs are kept for status queries.
	JobRetention time.Duration `mapstructure:"job_retention"`

	Resource   resource.Config   `mapstructure:"resource"`
	Checkpoint checkpoint.Config `mapstructure:"checkpoint"`
}

func (c *Config) SetDefaults() {
	if len(c.ListenGrpc) == 0 {
		c.ListenGrpc = []string{"tcp://:9090"}
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.FanOut == 0 {
		c.FanOut = 16
	}
	if c.ApplyRetryInitial == 0 {
		c.ApplyRetryInitial = 100 * time.Millisecond
	}
	if c.ApplyRetryMax == 0 {
		c.ApplyRetryMax = 5 * time.Second
	}
	if c.JobRetention == 0 {
		c.JobRetention = time.Hour
	}
	c.Resource.SetDefaults()
	c.Checkpoint.SetDefaults()
}

func (c *Config) Validate() error {
	for _, address := range c.ListenGrpc {
		if _, err := url.Parse(address); err != nil {
			return errors.New("The gRPC listen address is not a valid URI")
		}
	}
	for _, address := range c.ListenHttp {
		if _, err := utils.ParseHttpUrl(address); err != nil {
			return errors.New("The HTTP listen address is not a valid URI")
		}
	}
	if c.CallTimeout <= 0 {
		return errors.New("The call timeout must be greater than zero")
	}
	if c.FanOut < 0 {
		return errors.New("The fan out must not be negative")
	}
	if c.JobRetention <= 0 {
		return errors.New("The job retention must be greater than zero")
	}
	if c.ApplyRetryMax < c.ApplyRetryInitial {
		return errors.New("The maximum apply retry interval must not be less than the initial interval")
	}
	if err := c.Resource.Validate(); err != nil {
		return err
	}
	return c.Checkpoint.Validate()
}

func (c *Config) ApplyBackoff() utils.Backoff {
	return utils.Backoff{Initial: c.ApplyRetryInitial, Max: c.ApplyRetryMax}
}

func (c *Config) Log() {
	log.Info("Coordinator configuration:")
	log.Infof("  listen_grpc = %v", c.ListenGrpc)
	log.Infof("  listen_http = %v", c.ListenHttp)
	log.Infof("  call_timeout = %v", c.CallTimeout)
	log.Infof("  fan_out = %d", c.FanOut)
	log.Infof("  apply_retry_initial = %v", c.ApplyRetryInitial)
	log.Infof("  apply_retry_max = %v", c.ApplyRetryMax)
	log.Infof("  job_retention = %v", c.JobRetention)
	c.Resource.Log()
	c.Checkpoint.Log()
	c.Grpc.Log()
}
