package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reforge/reforge/pkg/layer"
	"github.com/reforge/reforge/pkg/recorder"
)

func newStatusCommand() *cobra.Command {
	var showRuns int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recorded layer outcomes and run history",
		Long: `Read the per-layer status files in the staging directory and print
the recorded exit code of every executed stage. With --runs, also list
recent runs from the local history store.`,
		Example: `  reforge status
  reforge status --json
  reforge status --runs 5`,
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

			fileRecorder := recorder.NewFileRecorder(cfg.Paths.StagingDir, tel.Logger)
			outcomes, err := fileRecorder.Outcomes()
			if err != nil {
				return err
			}

			var runs []*recorder.Run
			if showRuns > 0 && cfg.Paths.StorePath != "" {
				runs, err = loadRuns(ctx, cfg.Paths.StorePath, showRuns)
				if err != nil {
					tel.Logger.Warn().Err(err).Msg("Run history unavailable")
				}
			}

			if jsonOutput {
				out := struct {
					Layers []recorder.LayerStatus `json:"layers"`
					Runs   []*recorder.Run        `json:"runs,omitempty"`
				}{Layers: outcomes, Runs: runs}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			if len(outcomes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No recorded layer outcomes.")
			}
			for _, layerStatus := range outcomes {
				name := layerStatus.Key
				if name == "" {
					name = "(root)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", name)
				for _, stage := range layer.Stages() {
					if exit, ok := layerStatus.Stages[string(stage)]; ok {
						fmt.Fprintf(cmd.OutOrStdout(), "  %-5s exit %d\n", stage, exit)
					}
				}
			}

			for _, run := range runs {
				completed := "running"
				if run.CompletedAt != nil {
					completed = run.CompletedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "run %s  project=%s env=%s status=%s completed=%s\n",
					run.ID, run.Project, run.Environment, run.Status, completed)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&showRuns, "runs", 0, "also list the N most recent runs")
	return cmd
}

func loadRuns(ctx context.Context, storePath string, limit int) ([]*recorder.Run, error) {
	store, err := recorder.NewStore(storePath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()
	return store.ListRuns(ctx, limit)
}
