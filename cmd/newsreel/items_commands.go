package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"newsreel/internal/api"
)

func newItemsCommand(ctx *commandContext) *cobra.Command {
	itemsCmd := &cobra.Command{
		Use:   "items",
		Short: "Inspect and manage work items",
	}

	itemsCmd.AddCommand(newItemsListCommand(ctx))
	itemsCmd.AddCommand(newItemsShowCommand(ctx))
	itemsCmd.AddCommand(newItemsRetryCommand(ctx))
	itemsCmd.AddCommand(newItemsRegenerateCommand(ctx))

	return itemsCmd
}

func newItemsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var tenant string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			for _, status := range statuses {
				query.Add("status", status)
			}
			if tenant != "" {
				query.Set("tenant", tenant)
			}
			path := "/api/items"
			if len(query) > 0 {
				path += "?" + query.Encode()
			}

			var list api.ItemListResponse
			if err := ctx.get(path, &list); err != nil {
				return err
			}
			if len(list.Items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No items")
				return nil
			}

			colorize := colorizeOutput(cmd.OutOrStdout())
			rows := make([][]string, 0, len(list.Items))
			for _, item := range list.Items {
				rows = append(rows, []string{
					shortID(item.ID),
					truncate(item.Title, 40),
					paintStatus(item.Status, colorize),
					strconv.Itoa(item.RetryCount),
					strconv.Itoa(item.RegenCount),
					item.UpdatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			table := renderTable([]string{"ID", "Title", "Status", "Retries", "Regens", "Updated"}, rows, 4, 5)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (repeatable)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "filter by tenant")
	return cmd
}

func newItemsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one work item in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.ItemResponse
			if err := ctx.get("/api/items/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			item := resp.Item

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:         %s\n", item.ID)
			fmt.Fprintf(out, "Tenant:     %s\n", item.TenantID)
			fmt.Fprintf(out, "Source:     %s\n", item.SourceKey)
			fmt.Fprintf(out, "Title:      %s\n", item.Title)
			fmt.Fprintf(out, "Status:     %s\n", item.Status)
			fmt.Fprintf(out, "Retries:    %d\n", item.RetryCount)
			fmt.Fprintf(out, "Regens:     %d\n", item.RegenCount)
			if item.RenderedFile != "" {
				fmt.Fprintf(out, "Rendered:   %s\n", item.RenderedFile)
			}
			if item.UploadURL != "" {
				fmt.Fprintf(out, "Upload URL: %s\n", item.UploadURL)
			}
			if item.FailureStage != "" {
				fmt.Fprintf(out, "Failure:    [%s] %s\n", item.FailureStage, item.FailureMessage)
			}
			fmt.Fprintf(out, "Created:    %s\n", item.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Updated:    %s\n", item.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func newItemsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a failed item from the top of the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.ItemResponse
			if err := ctx.post("/api/items/"+url.PathEscape(args[0])+"/retry", &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Item %s requeued\n", shortID(resp.Item.ID))
			return nil
		},
	}
}

func newItemsRegenerateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "regenerate <id>",
		Aliases: []string{"regen"},
		Short:   "Request a full regeneration for a failed item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.ItemResponse
			if err := ctx.post("/api/items/"+url.PathEscape(args[0])+"/regenerate", &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Regeneration requested for item %s\n", shortID(resp.Item.ID))
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return value[:limit-1] + "…"
}
