package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/c360/onboard/catalog"
	"github.com/c360/onboard/discovery"
	"github.com/c360/onboard/dmaap"
	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/naming"
	"github.com/c360/onboard/registry"
	"github.com/c360/onboard/runner"
)

var componentCmd = &cobra.Command{
	Use:   "component",
	Short: "Add, list, publish, run and undeploy components",
}

// Shared by run and dev.
var (
	deployForce          bool
	deployDMaaPFile      string
	deployInputsFile     string
	deployAdditionalUser string
)

var (
	runAttached   bool
	addUpdate     bool
	listPublished bool
	listMine      bool
	listAll       bool
	listDeployed  bool
)

var componentRunCmd = &cobra.Command{
	Use:   "run <name[:version]>",
	Short: "Deploy a catalog component with generated configuration",
	Long: `Deploy a catalog component. Its configuration is materialized from the
healthy instances of compatible downstream components and pushed to the
registry before the component starts.

Examples:
  # Deploy the latest version
  onboard component run asimov.kpi

  # Deploy a version in the foreground, removing its configuration on exit
  onboard component run asimov.kpi:1.0.0 --attached

  # Bind DMaaP streams and deployment inputs
  onboard component run asimov.kpi --dmaap-file dmaap.json --inputs-file inputs.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		user, err := currentUser()
		if err != nil {
			return err
		}
		dmaapMap, inputs, err := loadDeployFiles()
		if err != nil {
			return err
		}
		r, err := newRunner(ctx)
		if err != nil {
			return err
		}
		ref := naming.ParseRef(args[0])
		return r.Run(ctx, runner.RunRequest{
			User:           user,
			Name:           ref.Name,
			Version:        ref.Version,
			AdditionalUser: deployAdditionalUser,
			Attached:       runAttached,
			Force:          deployForce,
			DMaaP:          dmaapMap,
			Inputs:         inputs,
		})
	},
}

var componentDevCmd = &cobra.Command{
	Use:   "dev <spec-file>",
	Short: "Publish configuration for a component running outside the platform",
	Long: `Materialize and publish the configuration of a component spec that is not
in the catalog, so the component can be run locally. For docker components
the platform environment is written to env_<profile>. The configuration is
removed when <enter> is pressed or the command is interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := validConfig()
		if err != nil {
			return err
		}
		spec, err := catalog.LoadSpecFile(args[0])
		if err != nil {
			return err
		}
		dmaapMap, inputs, err := loadDeployFiles()
		if err != nil {
			return err
		}
		r, err := newRunner(ctx)
		if err != nil {
			return err
		}
		req := runner.DevRequest{
			User:           cfg.User,
			Spec:           spec,
			AdditionalUser: deployAdditionalUser,
			Force:          deployForce,
			DMaaP:          dmaapMap,
			Inputs:         inputs,
		}
		return r.Dev(ctx, req, devReady(cmd, "env_"+cfg.ActiveProfile))
	},
}

var componentUndeployCmd = &cobra.Command{
	Use:   "undeploy <name[:version]>",
	Short: "Tear down every instance of a component you deployed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		user, err := currentUser()
		if err != nil {
			return err
		}
		r, err := newRunner(ctx)
		if err != nil {
			return err
		}
		ref := naming.ParseRef(args[0])
		failures, err := r.Undeploy(ctx, user, ref.Name, ref.Version)
		if err != nil {
			return err
		}
		if len(failures) > 0 {
			return errors.WrapFatal(errors.ErrDeployFailed, "component", "undeploy",
				"undeploy "+strings.Join(failures, ", "))
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Undeploy complete")
		return nil
	},
}

var componentAddCmd = &cobra.Command{
	Use:   "add <spec-file>",
	Short: "Add a component spec to the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		user, err := currentUser()
		if err != nil {
			return err
		}
		spec, err := catalog.LoadSpecFile(args[0])
		if err != nil {
			return err
		}
		store, err := openCatalog(ctx)
		if err != nil {
			return err
		}
		if err := store.AddComponent(ctx, user, spec, addUpdate); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added component %s\n", spec.Ref())
		return nil
	},
}

var componentPublishCmd = &cobra.Command{
	Use:   "publish <name[:version]>",
	Short: "Freeze a component so it can no longer be updated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		user, err := currentUser()
		if err != nil {
			return err
		}
		store, err := openCatalog(ctx)
		if err != nil {
			return err
		}
		arg := naming.ParseRef(args[0])
		ref, err := store.Verify(ctx, arg.Name, arg.Version)
		if err != nil {
			return err
		}
		pending, err := store.UnpublishedFormats(ctx, ref.Name, ref.Version)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			names := make([]string, 0, len(pending))
			for _, f := range pending {
				names = append(names, f.String())
			}
			return errors.Invalid("component", "publish", "publish data formats first: "+strings.Join(names, ", "))
		}
		return reportPublished(cmd, store.PublishComponent, user, ref)
	},
}

var componentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog components",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		user, err := currentUser()
		if err != nil {
			return err
		}
		store, err := openCatalog(ctx)
		if err != nil {
			return err
		}
		filter := catalog.ListFilter{OnlyPublished: listPublished, AllVersions: listAll}
		if listMine {
			filter.User = user
		}
		entries, err := store.ListComponents(ctx, filter)
		if err != nil {
			return err
		}

		var counts func(catalog.Entry) (int, int, error)
		if listDeployed {
			reg, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			counts = func(e catalog.Entry) (int, int, error) {
				return instanceCounts(ctx, reg, user, e)
			}
		}
		return printComponents(cmd, entries, counts)
	},
}

func init() {
	for _, c := range []*cobra.Command{componentRunCmd, componentDevCmd} {
		c.Flags().BoolVar(&deployForce, "force", false, "bind unresolved services to an empty placeholder instead of failing")
		c.Flags().StringVar(&deployDMaaPFile, "dmaap-file", "", "JSON file mapping stream config keys to DMaaP connection info")
		c.Flags().StringVar(&deployInputsFile, "inputs-file", "", "JSON file of values for parameters sourced at deployment")
		c.Flags().StringVar(&deployAdditionalUser, "additional-user", "", "also bind to instances deployed by this user")
	}
	componentRunCmd.Flags().BoolVar(&runAttached, "attached", false, "run in the foreground and remove the configuration on exit")
	componentUndeployCmd.Flags().Int("parallel", 0, "instances to tear down at once (default from undeploy.parallelism)")
	_ = viper.BindPFlag("undeploy_parallelism", componentUndeployCmd.Flags().Lookup("parallel"))
	componentAddCmd.Flags().BoolVar(&addUpdate, "update", false, "replace an existing unpublished version")

	componentListCmd.Flags().BoolVar(&listPublished, "published", false, "only published components")
	componentListCmd.Flags().BoolVar(&listMine, "mine", false, "only components you own")
	componentListCmd.Flags().BoolVar(&listAll, "all-versions", false, "every version instead of the latest per name")
	componentListCmd.Flags().BoolVar(&listDeployed, "deployed", false, "show running and defective instance counts")

	componentCmd.AddCommand(componentRunCmd, componentDevCmd, componentUndeployCmd,
		componentAddCmd, componentPublishCmd, componentListCmd)
	rootCmd.AddCommand(componentCmd)
}

func loadDeployFiles() (map[string]map[string]any, map[string]any, error) {
	dmaapMap, err := loadDMaaP(app.logger, deployDMaaPFile)
	if err != nil {
		return nil, nil, err
	}
	inputs, err := loadInputs(deployInputsFile)
	if err != nil {
		return nil, nil, err
	}
	return dmaapMap, inputs, nil
}

// loadDMaaP reads, validates and fills defaults into the DMaaP map at path.
// An empty path yields a nil map.
func loadDMaaP(logger *slog.Logger, path string) (map[string]map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	m, err := dmaap.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := dmaap.ValidateMap(logger, m); err != nil {
		return nil, err
	}
	return dmaap.ApplyDefaults(m)
}

type publishFunc func(ctx context.Context, user, name, version string) (bool, error)

func reportPublished(cmd *cobra.Command, publish publishFunc, user string, ref naming.Ref) error {
	ok, err := publish(cmd.Context(), user, ref.Name, ref.Version)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Invalid("catalog", "publish", "could not publish "+ref.String())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Published %s\n", ref)
	return nil
}

func instanceCounts(ctx context.Context, reg registry.Registry, user string, e catalog.Entry) (int, int, error) {
	healthy, defective, err := discovery.InstancesByHealth(ctx, reg, user, e.Name, e.Version)
	if err != nil {
		return 0, 0, err
	}
	return len(healthy), len(defective), nil
}

func printComponents(cmd *cobra.Command, entries []catalog.Entry, counts func(catalog.Entry) (int, int, error)) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	header := "NAME\tVERSION\tTYPE\tDESCRIPTION\tOWNER\tSTATUS\tMODIFIED"
	if counts != nil {
		header += "\tRUNNING\tDEFECTIVE"
	}
	fmt.Fprintln(w, header)
	for _, e := range entries {
		line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s\t%s",
			e.Name, e.Version, e.Type, e.Description, e.Owner, entryStatus(e), e.Modified.Format(timeLayout))
		if counts != nil {
			healthy, defective, err := counts(e)
			if err != nil {
				return err
			}
			line += fmt.Sprintf("\t%d\t%d", healthy, defective)
		}
		fmt.Fprintln(w, line)
	}
	return w.Flush()
}

const timeLayout = "2006-01-02 15:04"

func entryStatus(e catalog.Entry) string {
	if e.IsPublished() {
		return "published"
	}
	return "unpublished"
}
