package main

import (
	"github.com/spf13/viper"
	"github.com/srand/jolt/engine/pkg/utils"
	"github.com/srand/jolt/engine/pkg/worker"
)

func LoadConfig() (*worker.Config, error) {
	config := &worker.Config{}

	err := utils.UnmarshalConfig(viper.GetViper(), config)
	if err != nil {
		return nil, err
	}

	config.SetDefaults()
	return config, nil
}
