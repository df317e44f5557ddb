package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reforge",
		Short: "Reforge - self-provisioning bootstrap agent",
		Long: `Reforge turns a freshly launched compute instance into a fully
configured member of its fleet. It resolves the instance's identity from
tags or security group names, plans the matching configuration layers,
and applies each layer's playbooks from the shared artifact store.

A run walks the layer hierarchy from the fleet-wide root layer down to
the project and role layers, recording every stage's outcome on disk and
in the local run history.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newProvisionCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newIdentityCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newDevCommand())

	return rootCmd
}
