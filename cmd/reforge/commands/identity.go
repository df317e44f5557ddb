package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newIdentityCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Show the resolved instance identity",
		Long: `Resolve and print the instance's project, roles, and environment
tier, including where each value came from (tag or security group
inference).`,
		Example: `  reforge identity
  reforge identity --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			tel, err := newTelemetry(cfg, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(context.Background()) }()

			resolver, err := newResolver(ctx, cfg, tel.Logger)
			if err != nil {
				return err
			}
			id, err := resolver.Resolve(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(id)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Project:     %s (%s)\n", id.Project, originLabel(string(id.Origins.Project)))
			fmt.Fprintf(cmd.OutOrStdout(), "Roles:       %v (%s)\n", id.Roles, originLabel(string(id.Origins.Role)))
			fmt.Fprintf(cmd.OutOrStdout(), "Environment: %s (%s)\n", id.Environment, originLabel(string(id.Origins.Environment)))
			return nil
		},
	}
	return cmd
}

func originLabel(origin string) string {
	if origin == "" {
		return "unresolved"
	}
	return origin
}
