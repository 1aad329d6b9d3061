package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/srand/jolt/engine/pkg/log"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Commands to inspect workers",
}

var workerListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List workers",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := DefaultDeadlineContext()
		defer cancel()

		response, err := NewCoordinatorClient().ListWorkers(ctx)
		if err != nil {
			log.Fatal(err)
		}

		workerCount := len(response.Workers)
		workerPad := fmt.Sprint(len(fmt.Sprint(workerCount)))

		for index, worker := range response.Workers {
			fmt.Printf("%"+workerPad+"d: %s %s\n", index+1, worker.Profile.WorkerID, worker.Profile.Address)
			fmt.Printf("  Capacity: %s\n", worker.Profile.Capacity)
			fmt.Printf("  Used:     %s (%d slots)\n", worker.Used, worker.Leases)
			fmt.Printf("  Seen:     %s ago\n", time.Since(worker.LastSeen).Round(time.Millisecond))

			if !cmd.Flags().Changed("properties") {
				continue
			}

			keys := make([]string, 0, len(worker.Profile.Properties))
			for key := range worker.Profile.Properties {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			fmt.Println("  Properties")
			for _, key := range keys {
				fmt.Printf("    %s: %s\n", key, worker.Profile.Properties[key])
			}
			fmt.Println()
		}
	},
}

func init() {
	workerListCmd.Flags().BoolP("properties", "p", false, "List worker properties")
	workerCmd.AddCommand(workerListCmd)
	rootCmd.AddCommand(workerCmd)
}
