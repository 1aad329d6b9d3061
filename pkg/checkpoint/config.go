package checkpoint

import (
	"errors"
	"time"

	"github.com/srand/jolt/engine/pkg/log"
)

// Root directory of the localfile backend unless configured.
const DefaultStoragePath = "/data"

type Config struct {
	// Interval between periodic checkpoints. Negative disables triggering.
	Interval time.Duration `mapstructure:"interval"`
	// Time a checkpoint may stay pending before it is aborted.
	Timeout time.Duration `mapstructure:"timeout"`
	// Number of finished checkpoints kept per pipeline for status queries.
	HistorySize int `mapstructure:"history_size"`
	// Name of the storage backend.
	Storage string `mapstructure:"storage"`
	// Backend specific settings.
	StorageConfig map[string]string `mapstructure:"storage_config"`
}

func (c *Config) SetDefaults() {
	if c.Interval == 0 {
		c.Interval = 10 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = time.Minute
	}
	if c.HistorySize == 0 {
		c.HistorySize = 16
	}
	if c.Storage == "" {
		c.Storage = "localfile"
	}
	if c.Storage == "localfile" && c.StorageConfig["path"] == "" {
		if c.StorageConfig == nil {
			c.StorageConfig = map[string]string{}
		}
		c.StorageConfig["path"] = DefaultStoragePath
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("The checkpoint timeout must be greater than zero")
	}
	if c.HistorySize < 0 {
		return errors.New("The checkpoint history size must not be negative")
	}
	return nil
}

func (c *Config) Log() {
	log.Info("  Checkpoint:")
	log.Infof("    interval = %v", c.Interval)
	log.Infof("    timeout = %v", c.Timeout)
	log.Infof("    history_size = %d", c.HistorySize)
	log.Infof("    storage = %s", c.Storage)
	for key, value := range c.StorageConfig {
		log.Infof("    storage_config.%s = %s", key, value)
	}
}
