package main

import (
	"context"

	"github.com/spf13/cobra"
)

var configPath string

func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:   "tradewind",
		Short: "Unattended multi-asset trading engine",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	root.AddCommand(runCmd())
	root.AddCommand(monitorCmd())
	root.AddCommand(checkCmd())
	return root.ExecuteContext(ctx)
}
