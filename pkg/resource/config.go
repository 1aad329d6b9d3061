package resource

import (
	"errors"
	"time"

	"github.com/srand/jolt/engine/pkg/log"
)

type Config struct {
	// Interval at which workers are expected to heartbeat.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// Number of consecutive heartbeats a worker may miss before eviction.
	MissedHeartbeats int `mapstructure:"missed_heartbeats"`
	// Time a resource application may wait for capacity.
	ApplyTimeout time.Duration `mapstructure:"apply_timeout"`
}

func (c *Config) SetDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.MissedHeartbeats == 0 {
		c.MissedHeartbeats = 3
	}
	if c.ApplyTimeout == 0 {
		c.ApplyTimeout = 30 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return errors.New("The heartbeat interval must be greater than zero")
	}
	if c.MissedHeartbeats <= 0 {
		return errors.New("The number of missed heartbeats must be greater than zero")
	}
	if c.ApplyTimeout <= 0 {
		return errors.New("The apply timeout must be greater than zero")
	}
	return nil
}

// Time after which a silent worker is evicted.
func (c *Config) LivenessTimeout() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.MissedHeartbeats)
}

func (c *Config) Log() {
	log.Info("  Resource manager:")
	log.Infof("    heartbeat_interval = %v", c.HeartbeatInterval)
	log.Infof("    missed_heartbeats = %d", c.MissedHeartbeats)
	log.Infof("    apply_timeout = %v", c.ApplyTimeout)
}
