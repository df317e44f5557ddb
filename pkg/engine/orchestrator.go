package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/reforge/reforge/pkg/identity"
	"github.com/reforge/reforge/pkg/layer"
	"github.com/reforge/reforge/pkg/policy"
	"github.com/reforge/reforge/pkg/recorder"
	"github.com/reforge/reforge/pkg/telemetry"
)

// Options select which parts of the pipeline a run executes.
type Options struct {
	// SkipPreconfigure skips the one-time host bootstrap.
	SkipPreconfigure bool

	// SkipCorePlaybook excludes the root layer from execution.
	SkipCorePlaybook bool

	// SkipBasePlaybook excludes the project layer from execution.
	SkipBasePlaybook bool
}

// IdentityResolver resolves the instance's identity.
type IdentityResolver interface {
	Resolve(ctx context.Context) (identity.Identity, error)
}

// PolicyGate decides whether a planned layer may execute.
type PolicyGate interface {
	EvaluateLayer(ctx context.Context, p layer.Path, id identity.Identity) (*policy.Decision, error)
}

// RunStore persists run history. It is optional; a nil store disables
// history without affecting the status files.
type RunStore interface {
	CreateRun(ctx context.Context, run *recorder.Run) error
	CompleteRun(ctx context.Context, id string, status recorder.RunStatus) error
	RecordStage(ctx context.Context, res *recorder.StageResult) error
}

// Orchestrator runs the full provisioning pipeline.
type Orchestrator struct {
	lockFile      string
	resolver      IdentityResolver
	policies      PolicyGate
	preconfigurer *Preconfigurer
	deps          *LayerDeps
	inventory     *Inventory
	executor      *Executor
	store         RunStore
	metrics       *telemetry.Metrics
	tracer        *telemetry.Tracer
	log           zerolog.Logger
}

// OrchestratorParams collects the orchestrator's collaborators.
type OrchestratorParams struct {
	LockFile      string
	Resolver      IdentityResolver
	Policies      PolicyGate
	Preconfigurer *Preconfigurer
	Deps          *LayerDeps
	Inventory     *Inventory
	Executor      *Executor
	Store         RunStore
	Metrics       *telemetry.Metrics
	Tracer        *telemetry.Tracer
	Logger        zerolog.Logger
}

// NewOrchestrator assembles the pipeline.
func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	return &Orchestrator{
		lockFile:      p.LockFile,
		resolver:      p.Resolver,
		policies:      p.Policies,
		preconfigurer: p.Preconfigurer,
		deps:          p.Deps,
		inventory:     p.Inventory,
		executor:      p.Executor,
		store:         p.Store,
		metrics:       p.Metrics,
		tracer:        p.Tracer,
		log:           p.Logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Provision executes one full run: resolve identity, bootstrap the host,
// plan layers, and execute each planned layer's stages. A layer failure
// degrades the run but never aborts it; fatal errors do.
func (o *Orchestrator) Provision(ctx context.Context, opts Options) error {
	lock, err := AcquireLock(o.lockFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			o.log.Warn().Err(err).Msg("Failed to release run lock")
		}
	}()

	ctx, span := o.tracer.Start(ctx, "engine.provision")
	defer span.End()
	o.metrics.RecordRunStarted()

	id, err := o.resolver.Resolve(ctx)
	if err != nil {
		o.metrics.RecordRunCompleted(string(recorder.RunStatusFailed))
		return NewFatalError("failed to resolve instance identity", err)
	}
	span.SetAttributes(
		attribute.String("identity.project", id.Project),
		attribute.String("identity.environment", id.Environment),
	)
	o.log.Info().
		Str("project", id.Project).
		Strs("roles", id.Roles).
		Str("environment", id.Environment).
		Msg("Resolved instance identity")

	runID := uuid.NewString()
	o.createRun(ctx, runID, id)

	if err := o.inventory.WriteIdentityVars(id); err != nil {
		return o.fail(ctx, runID, err)
	}

	if opts.SkipPreconfigure {
		o.log.Info().Msg("Preconfigure skipped")
	} else if err := o.preconfigurer.Run(ctx); err != nil {
		return o.fail(ctx, runID, err)
	}

	plan := layer.Plan(id)
	o.log.Info().Int("layers", len(plan)).Msg("Planned layers")

	degraded := false
	for _, path := range plan {
		if reason, skip := o.skipReason(ctx, path, id, opts); skip {
			o.metrics.RecordLayerSkipped(reason)
			o.log.Info().Str("layer", path.String()).Str("reason", reason).Msg("Layer skipped")
			continue
		}
		if o.runLayer(ctx, runID, path, id) {
			degraded = true
		}
	}

	status := recorder.RunStatusSucceeded
	if degraded {
		status = recorder.RunStatusDegraded
	}
	o.completeRun(ctx, runID, status)
	o.metrics.RecordRunCompleted(string(status))
	o.log.Info().Str("status", string(status)).Msg("Run complete")
	return nil
}

// runLayer executes one layer end to end and reports whether it degraded
// the run.
func (o *Orchestrator) runLayer(ctx context.Context, runID string, path layer.Path, id identity.Identity) bool {
	log := o.log.With().Str("layer", path.String()).Logger()
	degraded := false

	if err := o.deps.Install(ctx, path); err != nil {
		log.Warn().Err(err).Msg("Dependency install failed, continuing")
	}
	if err := o.inventory.FetchVault(ctx, path); err != nil {
		log.Warn().Err(err).Msg("Vault staging failed, continuing")
	}
	if err := o.inventory.EnsureGroup(path.VaultName()); err != nil {
		log.Warn().Err(err).Msg("Inventory update failed, continuing")
		degraded = true
	}

	outcomes, err := o.executor.ExecuteLayer(ctx, path)
	for _, out := range outcomes {
		o.recordStage(ctx, runID, path, out)
		if out.ExitCode != 0 {
			degraded = true
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("Layer execution failed")
		degraded = true
	}
	return degraded
}

// skipReason reports whether a planned layer is excluded from execution.
func (o *Orchestrator) skipReason(ctx context.Context, path layer.Path, id identity.Identity, opts Options) (string, bool) {
	if opts.SkipCorePlaybook && path.IsRoot() {
		return "flag", true
	}
	if opts.SkipBasePlaybook && id.Project != "" && path == layer.ForProject(id.Project) {
		return "flag", true
	}
	decision, err := o.policies.EvaluateLayer(ctx, path, id)
	if err != nil {
		o.log.Warn().Err(err).Str("layer", path.String()).Msg("Policy evaluation failed, allowing layer")
		return "", false
	}
	for _, warning := range decision.Warnings {
		o.log.Warn().Str("layer", path.String()).Str("policy_warning", warning).Msg("Policy warning")
	}
	if !decision.Allowed {
		for _, denial := range decision.Denials {
			o.log.Error().Str("layer", path.String()).Str("policy_denial", denial).Msg("Layer denied by policy")
		}
		return "policy", true
	}
	return "", false
}

// fail completes the run as failed and returns the fatal error.
func (o *Orchestrator) fail(ctx context.Context, runID string, err error) error {
	o.completeRun(ctx, runID, recorder.RunStatusFailed)
	o.metrics.RecordRunCompleted(string(recorder.RunStatusFailed))
	return err
}

// The history store is best-effort: its failures are logged, never fatal.

func (o *Orchestrator) createRun(ctx context.Context, runID string, id identity.Identity) {
	if o.store == nil {
		return
	}
	run := &recorder.Run{
		ID:          runID,
		Project:     id.Project,
		Roles:       id.Roles,
		Environment: id.Environment,
		Status:      recorder.RunStatusRunning,
		StartedAt:   time.Now(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		o.log.Warn().Err(err).Msg("Failed to create run history entry")
	}
}

func (o *Orchestrator) completeRun(ctx context.Context, runID string, status recorder.RunStatus) {
	if o.store == nil {
		return
	}
	if err := o.store.CompleteRun(ctx, runID, status); err != nil {
		o.log.Warn().Err(err).Msg("Failed to complete run history entry")
	}
}

func (o *Orchestrator) recordStage(ctx context.Context, runID string, path layer.Path, out StageOutcome) {
	if o.store == nil {
		return
	}
	res := &recorder.StageResult{
		RunID:      runID,
		LayerPath:  path.String(),
		Stage:      string(out.Stage),
		ExitCode:   out.ExitCode,
		Duration:   out.Duration,
		RecordedAt: time.Now(),
	}
	if err := o.store.RecordStage(ctx, res); err != nil {
		o.log.Warn().Err(err).Msg("Failed to record stage history")
	}
}
