package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360/onboard/config"
	"github.com/c360/onboard/errors"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage connection profiles",
	Long: `Manage the named connection profiles stored in the user config file.
Profile fields are given as key=value pairs using the JSON field names:
registry_backend, consul_host, nats_url, config_binding_service, cdap_broker
and docker_host.`,
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles, marking the active one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := readConfigFiles()
		if err != nil {
			return err
		}
		for _, name := range cfg.ProfileNames() {
			marker := " "
			if name == cfg.ActiveProfile {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
		}
		return nil
	},
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a profile; the name " + config.ReservedProfile + " shows the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfigFiles()
		if err != nil {
			return err
		}
		p, err := cfg.Profile(args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd, p)
	},
}

var profilesCreateCmd = &cobra.Command{
	Use:   "create <name> [key=value...]",
	Short: "Create a profile",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editProfiles(func(cfg *config.Config) error {
			fields, err := parseFields(args[1:])
			if err != nil {
				return err
			}
			return cfg.CreateProfile(args[0], fields)
		})
	},
}

var profilesSetCmd = &cobra.Command{
	Use:   "set <name> key=value...",
	Short: "Update fields of a profile",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editProfiles(func(cfg *config.Config) error {
			fields, err := parseFields(args[1:])
			if err != nil {
				return err
			}
			return cfg.UpdateProfile(args[0], fields)
		})
	},
}

var profilesActivateCmd = &cobra.Command{
	Use:   "activate <name>",
	Short: "Make a profile the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editProfiles(func(cfg *config.Config) error {
			return cfg.ActivateProfile(args[0])
		})
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a profile other than the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editProfiles(func(cfg *config.Config) error {
			deleted, err := cfg.DeleteProfile(args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return errors.Invalid("profiles", "delete", "cannot delete the active profile "+args[0])
			}
			return nil
		})
	},
}

func init() {
	profilesCmd.AddCommand(profilesListCmd, profilesShowCmd, profilesCreateCmd,
		profilesSetCmd, profilesActivateCmd, profilesDeleteCmd)
	rootCmd.AddCommand(profilesCmd)
}

// editProfiles applies edit to the stored config and saves it to the user
// config file.
func editProfiles(edit func(*config.Config) error) error {
	cfg, err := readConfigFiles()
	if err != nil {
		return err
	}
	if err := edit(cfg); err != nil {
		return err
	}
	return cfg.Save(userConfigPath())
}

// parseFields turns key=value arguments into profile field updates.
func parseFields(args []string) (map[string]string, error) {
	fields := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, errors.Invalid("profiles", "parseFields", fmt.Sprintf("expected key=value, got %q", arg))
		}
		fields[k] = v
	}
	return fields, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
