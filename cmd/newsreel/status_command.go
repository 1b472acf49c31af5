package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"newsreel/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status api.StatusResponse
			if err := ctx.get("/api/status", &status); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			state := "stopped"
			if status.Running {
				state = "running"
			}
			fmt.Fprintf(out, "Daemon %s, tenant %s\n", state, status.Tenant)
			if status.LastError != "" {
				fmt.Fprintf(out, "Last error: %s\n", status.LastError)
			}
			fmt.Fprintf(out, "Quota remaining: %d units\n\n", status.QuotaRemaining)

			queueRows := [][]string{
				{"queued", strconv.Itoa(status.Queue.Queued)},
				{"in progress", strconv.Itoa(status.Queue.InProgress)},
				{"completed", strconv.Itoa(status.Queue.Completed)},
				{"uploaded", strconv.Itoa(status.Queue.Uploaded)},
				{"quota blocked", strconv.Itoa(status.Queue.QuotaBlocked)},
				{"failed", strconv.Itoa(status.Queue.Failed)},
			}
			fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, queueRows, 2))

			if len(status.Stages) > 0 {
				stageRows := make([][]string, 0, len(status.Stages))
				for _, stg := range status.Stages {
					ready := "ready"
					if !stg.Ready {
						ready = "unavailable"
						if stg.Detail != "" {
							ready = "unavailable: " + stg.Detail
						}
					}
					stageRows = append(stageRows, []string{stg.Name, ready})
				}
				fmt.Fprintln(out, renderTable([]string{"Stage", "Health"}, stageRows))
			}
			return nil
		},
	}
}
