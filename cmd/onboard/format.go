package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/c360/onboard/catalog"
	"github.com/c360/onboard/naming"
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Add, list and publish data formats",
}

var (
	formatUpdate        bool
	formatListPublished bool
	formatListMine      bool
	formatListAll       bool
)

var formatAddCmd = &cobra.Command{
	Use:   "add <spec-file>",
	Short: "Add a data format spec to the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		user, err := currentUser()
		if err != nil {
			return err
		}
		spec, err := catalog.LoadFormatFile(args[0])
		if err != nil {
			return err
		}
		store, err := openCatalog(ctx)
		if err != nil {
			return err
		}
		if err := store.AddFormat(ctx, user, spec, formatUpdate); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added data format %s\n", spec.Ref())
		return nil
	},
}

var formatListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog data formats",
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
		filter := catalog.ListFilter{OnlyPublished: formatListPublished, AllVersions: formatListAll}
		if formatListMine {
			filter.User = user
		}
		entries, err := store.ListFormats(ctx, filter)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tDESCRIPTION\tOWNER\tSTATUS\tMODIFIED")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Name, e.Version, e.Description, e.Owner, entryStatus(e), e.Modified.Format(timeLayout))
		}
		return w.Flush()
	},
}

var formatPublishCmd = &cobra.Command{
	Use:   "publish <name[:version]>",
	Short: "Freeze a data format so it can no longer be updated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := currentUser()
		if err != nil {
			return err
		}
		store, err := openCatalog(cmd.Context())
		if err != nil {
			return err
		}
		return reportPublished(cmd, store.PublishFormat, user, naming.ParseRef(args[0]))
	},
}

func init() {
	formatAddCmd.Flags().BoolVar(&formatUpdate, "update", false, "replace an existing unpublished version")
	formatListCmd.Flags().BoolVar(&formatListPublished, "published", false, "only published data formats")
	formatListCmd.Flags().BoolVar(&formatListMine, "mine", false, "only data formats you own")
	formatListCmd.Flags().BoolVar(&formatListAll, "all-versions", false, "every version instead of the latest per name")

	formatCmd.AddCommand(formatAddCmd, formatListCmd, formatPublishCmd)
	rootCmd.AddCommand(formatCmd)
}
