package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/protocol"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Commands to inspect and delete stored checkpoints",
}

var checkpointListCmd = &cobra.Command{
	Use:   "ls [job id]",
	Short: "List the stored checkpoints of a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := DefaultDeadlineContext()
		defer cancel()

		response, err := NewCoordinatorClient().ListCheckpoints(ctx, &protocol.JobRequest{JobID: parseJobID(args[0])})
		if err != nil {
			log.Fatal(err)
		}

		for _, summary := range response.Checkpoints {
			fmt.Printf("%d/%d@%d %s vertices: %d\n",
				summary.JobID,
				summary.PipelineID,
				summary.CheckpointID,
				summary.Timestamp.Format("2006-01-02T15:04:05"),
				summary.Vertices)
		}
	},
}

var checkpointDeleteCmd = &cobra.Command{
	Use:   "rm [job id]",
	Short: "Delete the stored checkpoints of terminated jobs",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := DefaultDeadlineContext()
		defer cancel()

		client := NewCoordinatorClient()

		for _, arg := range args {
			if err := client.DeleteCheckpoints(ctx, &protocol.JobRequest{JobID: parseJobID(arg)}); err != nil {
				log.Fatal(err)
			}
		}
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the coordinator is reachable",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := DefaultDeadlineContext()
		defer cancel()

		if err := NewCoordinatorClient().Ping(ctx); err != nil {
			log.Fatal(err)
		}
		fmt.Println("ok")
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointDeleteCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(pingCmd)
}
