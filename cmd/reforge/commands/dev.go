package commands

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reforge/reforge/pkg/artifact"
	"github.com/reforge/reforge/pkg/engine"
	"github.com/reforge/reforge/pkg/identity"
	"github.com/reforge/reforge/pkg/layer"
	"github.com/reforge/reforge/pkg/policy"
	"github.com/reforge/reforge/pkg/recorder"
)

func newDevCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev <layer>",
		Short: "Watch a layer's staged files and re-execute it on change",
		Long: `Watch the staging directory and re-execute one layer whenever any of
its staged files changes on disk. Downloads are always skipped: edit the
staged playbooks locally instead of pushing through the artifact store,
then promote the result once it works.

The layer is named by its path, e.g. "shop/web" for a role layer,
"shop" for a project layer, or "root" for the fleet-wide layer. Policies
in the policy directory are reloaded on change and still gate each
re-execution. Runs until interrupted.`,
		Example: `  reforge dev shop/web
  reforge dev root`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := parseLayerArg(args[0])

			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			tel, err := newTelemetry(cfg, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(context.Background()) }()
			log := tel.Logger

			// Best-effort identity for policy input. A dev loop on a
			// workstation image may have no metadata service at all.
			var id identity.Identity
			if resolver, err := newResolver(ctx, cfg, log); err == nil {
				if resolved, err := resolver.Resolve(ctx); err == nil {
					id = resolved
				} else {
					log.Warn().Err(err).Msg("Identity unresolved, policies see an empty identity")
				}
			} else {
				log.Warn().Err(err).Msg("Metadata source unavailable, policies see an empty identity")
			}

			gate, err := newPolicyGate(ctx, cfg, log)
			if err != nil {
				return err
			}
			loader := policy.NewLoader(gate, cfg.Paths.PolicyDir, log)
			if err := loader.Watch(ctx); err != nil {
				log.Warn().Err(err).Msg("Policy reload disabled")
			}

			fetcher := artifact.Nop{Log: log}
			playbook := engine.NewAnsiblePlaybook(engine.ExecRunner{}, cfg.Commands.Playbook, cfg.Timeouts.Stage())
			fileRecorder := recorder.NewFileRecorder(cfg.Paths.StagingDir, log)
			executor := engine.NewExecutor(fetcher, playbook, fileRecorder, cfg.Paths.StagingDir,
				cfg.Timeouts.Fetch(), tel.Metrics, tel.Tracer, log)

			watcher := artifact.NewWatcher(cfg.Paths.StagingDir, log)
			changes, err := watcher.Watch(ctx)
			if err != nil {
				return err
			}

			// Exact staged names of this layer, so sibling layers sharing
			// the directory never trigger a run.
			watched := map[string]bool{}
			for _, stage := range layer.Stages() {
				watched[filepath.Base(path.StagedFile(cfg.Paths.StagingDir, stage.HookFile()))] = true
			}

			log.Info().Str("layer", path.String()).Msg("Watching layer, edit a staged file to re-execute")
			for changed := range changes {
				if !watched[filepath.Base(changed)] {
					continue
				}
				decision, err := gate.EvaluateLayer(ctx, path, id)
				if err == nil && !decision.Allowed {
					for _, denial := range decision.Denials {
						log.Error().Str("policy_denial", denial).Msg("Layer denied by policy")
					}
					continue
				}

				log.Info().Str("file", changed).Msg("Staged file changed, re-executing layer")
				outcomes, err := executor.ExecuteLayer(ctx, path)
				if err != nil {
					log.Error().Err(err).Msg("Layer execution failed")
					continue
				}
				for _, out := range outcomes {
					evt := log.Info()
					if out.ExitCode != 0 {
						evt = log.Error()
					}
					evt.Str("stage", string(out.Stage)).Int("exit_code", out.ExitCode).Msg("Stage executed")
				}
			}
			return nil
		},
	}
	return cmd
}

// parseLayerArg turns "root", "shop", or "shop/web" into a layer path.
func parseLayerArg(arg string) layer.Path {
	arg = strings.Trim(arg, "/")
	if arg == "" || arg == "root" {
		return layer.Root
	}
	return layer.Path(arg + "/")
}
