package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/utils"
)

type ControlConfig struct {
	Grpc           utils.GRPCOptions `mapstructure:"grpc"`
	CoordinatorUri string            `mapstructure:"coordinator_uri"`
}

var configData = ControlConfig{}

var rootCmd = &cobra.Command{
	Use:   "enginectl",
	Short: "Engine control command",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		viper.SetConfigName("enginectl.yaml")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/engine/")
		viper.AddConfigPath("$HOME/.config/engine")
		viper.AddConfigPath(".")
		viper.ReadInConfig()

		viper.SetEnvPrefix("engine")
		viper.AutomaticEnv()

		if err := utils.UnmarshalConfig(viper.GetViper(), &configData); err != nil {
			log.Fatal(err)
		}

		verbosity, _ := cmd.Flags().GetCount("verbose")
		log.SetVerbosity(verbosity)
	},
}

func main() {
	rootCmd.PersistentFlags().StringP("coordinator-uri", "c", "tcp://coordinator:9090", "Coordinator service URI")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Verbosity (repeatable)")
	viper.BindPFlag("coordinator_uri", rootCmd.PersistentFlags().Lookup("coordinator-uri"))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
