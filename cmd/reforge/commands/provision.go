package commands

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/reforge/reforge/pkg/config"
	"github.com/reforge/reforge/pkg/engine"
	"github.com/reforge/reforge/pkg/policy"
	"github.com/reforge/reforge/pkg/recorder"
	"github.com/reforge/reforge/pkg/trust"
)

func newProvisionCommand() *cobra.Command {
	var (
		skipPreconfigure bool
		skipCorePlaybook bool
		skipBasePlaybook bool
		skipDownload     bool
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision this instance from its resolved identity",
		Long: `Run the full bootstrap pipeline on the local instance.

The pipeline resolves the instance identity, bootstraps the host
(packages, engine configuration, trust store, deploy keys), plans the
layer hierarchy, and executes every planned layer's stages. Stage
outcomes are recorded as they happen; a failing stage degrades the run
but never aborts it.`,
		Example: `  # Full bootstrap on first boot
  reforge provision

  # Re-apply layers on an already bootstrapped host
  reforge provision --skip-preconfigure

  # Re-run against already staged files without fetching
  reforge provision --skip-preconfigure --skip-download`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(!skipDownload)
			if err != nil {
				return err
			}
			tel, err := newTelemetry(cfg, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(context.Background()) }()
			log := tel.Logger

			if cfg.Telemetry.MetricsListen != "" {
				go func() {
					if err := tel.Metrics.Serve(); err != nil {
						log.Warn().Err(err).Msg("Metrics endpoint failed")
					}
				}()
			}

			fetcher, err := newFetcher(ctx, cfg, skipDownload, log)
			if err != nil {
				return err
			}
			resolver, err := newResolver(ctx, cfg, log)
			if err != nil {
				return err
			}
			gate, err := newPolicyGate(ctx, cfg, log)
			if err != nil {
				return err
			}
			store, closeStore := openRunStore(ctx, cfg, log)
			defer closeStore()

			runner := engine.ExecRunner{}
			playbook := engine.NewAnsiblePlaybook(runner, cfg.Commands.Playbook, cfg.Timeouts.Stage())
			galaxy := engine.NewGalaxyInstaller(runner, cfg.Commands.Galaxy, cfg.Timeouts.Install())
			fileRecorder := recorder.NewFileRecorder(cfg.Paths.StagingDir, log)
			scanner := trust.NewScanner(cfg.Timeouts.Keyscan(), log)
			trustStore := trust.NewStore(cfg.Paths.TrustStore, scanner, log)

			orch := engine.NewOrchestrator(engine.OrchestratorParams{
				LockFile:      cfg.Paths.LockFile,
				Resolver:      resolver,
				Policies:      gate,
				Preconfigurer: engine.NewPreconfigurer(cfg, fetcher, runner, trustStore, log),
				Deps:          engine.NewLayerDeps(fetcher, galaxy, cfg.Paths.StagingDir, cfg.Timeouts.Fetch(), tel.Metrics, log),
				Inventory:     engine.NewInventory(cfg.Paths.InventoryFile, cfg.Paths.GroupVarsDir, fetcher, cfg.Timeouts.Fetch(), log),
				Executor:      engine.NewExecutor(fetcher, playbook, fileRecorder, cfg.Paths.StagingDir, cfg.Timeouts.Fetch(), tel.Metrics, tel.Tracer, log),
				Store:         store,
				Metrics:       tel.Metrics,
				Tracer:        tel.Tracer,
				Logger:        log,
			})

			// Skipping downloads swaps in the no-op fetcher above; the
			// pipeline itself is unchanged.
			return orch.Provision(ctx, engine.Options{
				SkipPreconfigure: skipPreconfigure,
				SkipCorePlaybook: skipCorePlaybook,
				SkipBasePlaybook: skipBasePlaybook,
			})
		},
	}

	cmd.Flags().BoolVar(&skipPreconfigure, "skip-preconfigure", false, "skip the one-time host bootstrap")
	cmd.Flags().BoolVar(&skipCorePlaybook, "skip-core-playbook", false, "exclude the root layer from execution")
	cmd.Flags().BoolVar(&skipBasePlaybook, "skip-base-playbook", false, "exclude the project layer from execution")
	cmd.Flags().BoolVar(&skipDownload, "skip-download", false, "reuse staged files instead of fetching")

	return cmd
}

// newPolicyGate builds the policy engine with builtins plus any operator
// policies in the policy directory.
func newPolicyGate(ctx context.Context, cfg config.Config, log zerolog.Logger) (*policy.Engine, error) {
	eng, err := policy.NewEngine(log)
	if err != nil {
		return nil, err
	}
	loader := policy.NewLoader(eng, cfg.Paths.PolicyDir, log)
	if err := loader.Load(ctx); err != nil {
		return nil, err
	}
	return eng, nil
}

// openRunStore opens the optional run history store. History is
// best-effort: failures disable it rather than blocking the run.
func openRunStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (engine.RunStore, func()) {
	if cfg.Paths.StorePath == "" {
		return nil, func() {}
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.StorePath), 0o755); err != nil {
		log.Warn().Err(err).Msg("Run history disabled: cannot create store directory")
		return nil, func() {}
	}
	store, err := recorder.NewStore(cfg.Paths.StorePath)
	if err != nil {
		log.Warn().Err(err).Msg("Run history disabled")
		return nil, func() {}
	}
	if err := store.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("Run history disabled: store init failed")
		return nil, func() {}
	}
	if err := store.Migrate(ctx); err != nil {
		log.Warn().Err(err).Msg("Run history disabled: migration failed")
		_ = store.Close()
		return nil, func() {}
	}
	return store, func() { _ = store.Close() }
}
