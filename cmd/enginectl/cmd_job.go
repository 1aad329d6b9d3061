package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/srand/jolt/engine/pkg/execution"
	"github.com/srand/jolt/engine/pkg/log"
	"github.com/srand/jolt/engine/pkg/protocol"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Commands to submit and manipulate jobs",
}

func parseJobID(arg string) execution.JobID {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		log.Fatalf("Invalid job id: %s", arg)
	}
	return execution.JobID(id)
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit [plan.yaml]",
	Short: "Submit a job plan",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.ReadFile(args[0])
		if err != nil {
			log.Fatal(err)
		}

		plan, err := protocol.ParsePlan(data)
		if err != nil {
			log.Fatal(err)
		}

		if cmd.Flags().Changed("job-id") {
			id, _ := cmd.Flags().GetInt64("job-id")
			plan.JobID = execution.JobID(id)
		}
		restore, _ := cmd.Flags().GetBool("restore")

		ctx, cancel := DefaultDeadlineContext()
		defer cancel()

		response, err := NewCoordinatorClient().SubmitJob(ctx, &protocol.SubmitJobRequest{Plan: plan, Restore: restore})
		if err != nil {
			log.Fatal(err)
		}

		fmt.Println(response.JobID)
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel jobs",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := DefaultDeadlineContext()
		defer cancel()

		client := NewCoordinatorClient()

		for _, arg := range args {
			if err := client.CancelJob(ctx, &protocol.JobRequest{JobID: parseJobID(arg)}); err != nil {
				log.Fatal(err)
			}
		}
	},
}

var jobStatusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := DefaultDeadlineContext()
		defer cancel()

		response, err := NewCoordinatorClient().GetJobStatus(ctx, &protocol.JobRequest{JobID: parseJobID(args[0])})
		if err != nil {
			log.Fatal(err)
		}

		status := response.Status
		fmt.Printf("%d: %s %s %s\n", status.JobID, status.Name, status.State, status.Submitted.Format("2006-01-02T15:04:05"))
		if status.Error != "" {
			fmt.Printf("  Error: %s\n", status.Error)
		}
		if status.Finished != nil {
			fmt.Printf("  Duration: %s\n", status.Finished.Sub(status.Submitted).Round(time.Millisecond))
		}

		fmt.Println("  Groups")
		for _, group := range status.Groups {
			placement := "-"
			if group.Slot != nil {
				placement = group.Slot.String()
			}
			fmt.Printf("    %s %-10s %s %s\n", group.Location, group.State, placement, group.Error)
		}

		if len(status.Checkpoints) > 0 {
			fmt.Println("  Checkpoints")
			for _, pipeline := range status.Checkpoints {
				fmt.Printf("    pipeline %d: latest %d, closed %d/%d, pending %d\n",
					pipeline.PipelineID,
					pipeline.LatestCompleted,
					pipeline.Closed,
					pipeline.Participants,
					len(pipeline.Pending))
			}
		}
	},
}

func init() {
	jobSubmitCmd.Flags().BoolP("restore", "r", false, "Restore from the latest checkpoints of the job")
	jobSubmitCmd.Flags().Int64P("job-id", "i", 0, "Job id, overrides the plan")

	jobCmd.AddCommand(jobSubmitCmd)
	jobCmd.AddCommand(jobCancelCmd)
	jobCmd.AddCommand(jobStatusCmd)
	rootCmd.AddCommand(jobCmd)
}
