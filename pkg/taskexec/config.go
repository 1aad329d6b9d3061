package taskexec

import (
	"errors"
	"runtime"
	"time"

	"github.com/srand/jolt/engine/pkg/log"
)

type Config struct {
	// Number of cooperative workers serving thread-shared tasks.
	CooperativeWorkers int `mapstructure:"cooperative_workers"`
	// Upper bound for cooperative workers, including exclusive ones.
	MaxCooperativeWorkers int `mapstructure:"max_cooperative_workers"`
	// Time a cooperative step may run before a replacement worker is spawned.
	CallQuantum time.Duration `mapstructure:"call_quantum"`
	// Interval between attempts to report a terminal group state.
	NotifyRetryInterval time.Duration `mapstructure:"notify_retry_interval"`
	// Attempts to deliver a checkpoint result to a task not yet registered.
	CheckpointNotifyAttempts int `mapstructure:"checkpoint_notify_attempts"`
	// Sleep between checkpoint result delivery attempts.
	CheckpointNotifySleep time.Duration `mapstructure:"checkpoint_notify_sleep"`
	// How long finished group contexts are kept for late queries.
	FinishedRetention time.Duration `mapstructure:"finished_retention"`
	// Interval of the metrics sampler.
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

func (c *Config) SetDefaults() {
	if c.CooperativeWorkers == 0 {
		c.CooperativeWorkers = runtime.NumCPU()
	}
	if c.MaxCooperativeWorkers == 0 {
		c.MaxCooperativeWorkers = c.CooperativeWorkers * 8
	}
	if c.CallQuantum == 0 {
		c.CallQuantum = 50 * time.Millisecond
	}
	if c.NotifyRetryInterval == 0 {
		c.NotifyRetryInterval = time.Second
	}
	if c.CheckpointNotifyAttempts == 0 {
		c.CheckpointNotifyAttempts = 30
	}
	if c.CheckpointNotifySleep == 0 {
		c.CheckpointNotifySleep = 200 * time.Millisecond
	}
	if c.FinishedRetention == 0 {
		c.FinishedRetention = 10 * time.Minute
	}
	if c.SampleInterval == 0 {
		c.SampleInterval = 5 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.CooperativeWorkers <= 0 {
		return errors.New("The cooperative worker count must be greater than zero")
	}
	if c.MaxCooperativeWorkers < c.CooperativeWorkers {
		return errors.New("The maximum cooperative worker count must not be less than the cooperative worker count")
	}
	if c.CallQuantum <= 0 {
		return errors.New("The call quantum must be greater than zero")
	}
	if c.CheckpointNotifyAttempts <= 0 {
		return errors.New("The checkpoint notify attempts must be greater than zero")
	}
	return nil
}

func (c *Config) Log() {
	log.Info("  Task execution:")
	log.Infof("    cooperative_workers = %d", c.CooperativeWorkers)
	log.Infof("    max_cooperative_workers = %d", c.MaxCooperativeWorkers)
	log.Infof("    call_quantum = %v", c.CallQuantum)
	log.Infof("    notify_retry_interval = %v", c.NotifyRetryInterval)
	log.Infof("    checkpoint_notify_attempts = %d", c.CheckpointNotifyAttempts)
	log.Infof("    checkpoint_notify_sleep = %v", c.CheckpointNotifySleep)
	log.Infof("    finished_retention = %v", c.FinishedRetention)
	log.Infof("    sample_interval = %v", c.SampleInterval)
}
