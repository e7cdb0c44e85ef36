package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360/onboard/appconfig"
	"github.com/c360/onboard/registry"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect published configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show <config-key>",
	Short: "Print the configuration published under a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reg, err := openRegistry(ctx)
		if err != nil {
			return err
		}
		conf, err := appconfig.Fetch(ctx, reg, args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd, conf)
	},
}

var clearUserCmd = &cobra.Command{
	Use:   "clear-user",
	Short: "Remove every registry key owned by the user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		user, err := currentUser()
		if err != nil {
			return err
		}
		reg, err := openRegistry(ctx)
		if err != nil {
			return err
		}
		if err := registry.ClearUser(ctx, reg, user); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared registry keys of %s\n", user)
		return nil
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print the process metrics in prometheus text format",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return app.metrics.WriteText(cmd.OutOrStdout())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd, clearUserCmd, metricsCmd)
}
