package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c360/onboard/discovery"
	"github.com/c360/onboard/health"
	"github.com/c360/onboard/naming"
	"github.com/c360/onboard/registry"
)

const healthLookups = 8

var instancesDefective bool

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "Show the health of deployed instances",
	Long: `Show every instance deployed by the user with its health as reported by the
registry. Use the global --user flag to inspect another user's instances.`,
	Args: cobra.NoArgs,
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
		monitor, err := collectInstanceHealth(ctx, reg, user)
		if err != nil {
			return err
		}
		return printInstances(cmd.OutOrStdout(), monitor, instancesDefective)
	},
}

func init() {
	instancesCmd.Flags().BoolVar(&instancesDefective, "defective", false, "only instances that are not healthy")
	rootCmd.AddCommand(instancesCmd)
}

func collectInstanceHealth(ctx context.Context, reg registry.Registry, user string) (*health.Monitor, error) {
	names, err := discovery.ListInstances(ctx, reg, user)
	if err != nil {
		return nil, err
	}
	monitor := health.NewMonitor()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(healthLookups)
	for _, name := range names {
		name := name
		g.Go(func() error {
			status, err := discovery.InstanceStatus(gctx, reg, name)
			if err != nil {
				return err
			}
			monitor.Update(name, status)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return monitor, nil
}

func printInstances(out io.Writer, monitor *health.Monitor, defectiveOnly bool) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tCOMPONENT\tVERSION\tSTATUS\tMESSAGE")
	for _, name := range monitor.Names() {
		status, _ := monitor.Get(name)
		if defectiveOnly && status.IsHealthy() {
			continue
		}
		component, version := "-", "-"
		if parsed, ok := naming.ParseInstanceName(name); ok {
			ref := parsed.Ref()
			component, version = ref.Name, ref.Version
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, component, version, status.Status, status.Message)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	summary := monitor.AggregateHealth("instances")
	_, err := fmt.Fprintf(out, "\n%d instances: %s\n", monitor.Count(), summary.Message)
	return err
}
