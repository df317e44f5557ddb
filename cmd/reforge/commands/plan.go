package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reforge/reforge/pkg/layer"
)

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the layers this instance would execute",
		Long: `Resolve the instance identity and print the planned layer
hierarchy without executing anything. Layers are listed in execution
order: the fleet-wide root layer first, then the project layer, then one
layer per role.`,
		Example: `  reforge plan
  reforge plan --json`,
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
			plan := layer.Plan(id)

			if jsonOutput {
				out := struct {
					Identity any      `json:"identity"`
					Layers   []string `json:"layers"`
				}{Identity: id, Layers: make([]string, 0, len(plan))}
				for _, p := range plan {
					out.Layers = append(out.Layers, p.String())
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Project:     %s\n", id.Project)
			fmt.Fprintf(cmd.OutOrStdout(), "Roles:       %v\n", id.Roles)
			fmt.Fprintf(cmd.OutOrStdout(), "Environment: %s\n\n", id.Environment)
			fmt.Fprintf(cmd.OutOrStdout(), "Plan (%d layers):\n", len(plan))
			for i, p := range plan {
				name := p.String()
				if p.IsRoot() {
					name = "(root)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %d. %s\n", i+1, name)
			}
			return nil
		},
	}
	return cmd
}
