package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"newsreel/internal/api"
)

func newDeadLettersCommand(ctx *commandContext) *cobra.Command {
	dlCmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dlq"},
		Short:   "Inspect and requeue parked events",
	}

	dlCmd.AddCommand(newDeadLettersListCommand(ctx))
	dlCmd.AddCommand(newDeadLettersRequeueCommand(ctx))

	return dlCmd
}

func newDeadLettersListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List parked events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list api.DeadLetterListResponse
			if err := ctx.get("/api/deadletters", &list); err != nil {
				return err
			}
			if len(list.DeadLetters) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Dead letter queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(list.DeadLetters))
			for _, letter := range list.DeadLetters {
				rows = append(rows, []string{
					strconv.FormatInt(letter.ID, 10),
					letter.Topic,
					shortID(letter.ItemID),
					strconv.Itoa(letter.Attempts),
					truncate(letter.LastError, 48),
					letter.DeadAt.Local().Format("2006-01-02 15:04"),
				})
			}
			table := renderTable([]string{"ID", "Topic", "Item", "Attempts", "Last Error", "Parked"}, rows, 1, 4)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func newDeadLettersRequeueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>",
		Short: "Republish a parked event onto its original topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("invalid dead letter id %q", args[0])
			}
			var resp api.RequeueResponse
			if err := ctx.post("/api/deadletters/"+args[0]+"/requeue", &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued event for item %s on %s\n", shortID(resp.ItemID), resp.Topic)
			return nil
		},
	}
}
