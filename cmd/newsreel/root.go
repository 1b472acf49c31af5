package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configPath string
	var apiAddr string

	root := &cobra.Command{
		Use:           "newsreel",
		Short:         "Operate the newsreel content pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&apiAddr, "api", "", "daemon api address (host:port)")

	ctx := newCommandContext(&configPath, &apiAddr)

	root.AddCommand(newStatusCommand(ctx))
	root.AddCommand(newItemsCommand(ctx))
	root.AddCommand(newDeadLettersCommand(ctx))
	root.AddCommand(newConfigCommand(ctx))

	return root
}
