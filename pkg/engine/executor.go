package engine

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/reforge/reforge/pkg/artifact"
	"github.com/reforge/reforge/pkg/layer"
	"github.com/reforge/reforge/pkg/telemetry"
)

// StageRecorder persists the outcome of one executed stage.
type StageRecorder interface {
	Record(path layer.Path, stage layer.Stage, exitCode int) error
}

// Executor runs the three stages of a layer. Each stage's hook playbook is
// fetched, applied, and its exit code recorded immediately; a failing
// stage never prevents the ones after it.
type Executor struct {
	fetcher      artifact.Fetcher
	playbook     PlaybookEngine
	recorder     StageRecorder
	stagingDir   string
	fetchTimeout time.Duration
	metrics      *telemetry.Metrics
	tracer       *telemetry.Tracer
	log          zerolog.Logger
}

// NewExecutor returns a layer executor.
func NewExecutor(fetcher artifact.Fetcher, playbook PlaybookEngine, recorder StageRecorder, stagingDir string, fetchTimeout time.Duration, metrics *telemetry.Metrics, tracer *telemetry.Tracer, log zerolog.Logger) *Executor {
	return &Executor{
		fetcher:      fetcher,
		playbook:     playbook,
		recorder:     recorder,
		stagingDir:   stagingDir,
		fetchTimeout: fetchTimeout,
		metrics:      metrics,
		tracer:       tracer,
		log:          log.With().Str("component", "executor").Logger(),
	}
}

// StageOutcome is the result of one executed stage.
type StageOutcome struct {
	Stage    layer.Stage
	ExitCode int
	Duration time.Duration
}

// ExecuteLayer runs all stages of the layer in order and returns their
// outcomes. The returned error is fatal; nonzero stage exits are reported
// through the outcomes, not the error.
func (e *Executor) ExecuteLayer(ctx context.Context, path layer.Path) ([]StageOutcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.execute_layer",
		attribute.String("layer.path", path.String()))
	defer span.End()

	var outcomes []StageOutcome
	for _, stage := range layer.Stages() {
		outcome, err := e.executeStage(ctx, path, stage)
		if err != nil {
			if IsFatal(err) {
				return outcomes, err
			}
			e.log.Warn().Err(err).
				Str("layer", path.String()).
				Str("stage", string(stage)).
				Msg("Stage skipped")
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// executeStage fetches, applies, and records one stage.
func (e *Executor) executeStage(ctx context.Context, path layer.Path, stage layer.Stage) (StageOutcome, error) {
	hook := stage.HookFile()
	key := path.Artifact(hook)
	staged := path.StagedFile(e.stagingDir, hook)

	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	err := e.fetcher.Fetch(fetchCtx, key, staged)
	cancel()
	e.metrics.RecordFetch(err)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return StageOutcome{}, NewSoftError("no hook playbook for stage", err).
				WithLayer(path.String()).WithStage(string(stage))
		}
		return StageOutcome{}, NewSoftError("failed to fetch hook playbook", err).
			WithLayer(path.String()).WithStage(string(stage))
	}
	// With downloads skipped the fetcher leaves files alone; a stage only
	// runs if its playbook is actually staged.
	if _, err := os.Stat(staged); err != nil {
		return StageOutcome{}, NewSoftError("hook playbook not staged", err).
			WithLayer(path.String()).WithStage(string(stage))
	}

	start := time.Now()
	exitCode, err := e.playbook.Apply(ctx, staged)
	duration := time.Since(start)
	if err != nil {
		return StageOutcome{}, NewFatalError("failed to run playbook", err).
			WithLayer(path.String()).WithStage(string(stage))
	}

	e.metrics.RecordStage(string(stage), exitCode, duration)
	if err := e.recorder.Record(path, stage, exitCode); err != nil {
		return StageOutcome{}, NewFatalError("failed to record stage outcome", err).
			WithLayer(path.String()).WithStage(string(stage))
	}

	evt := e.log.Info()
	if exitCode != 0 {
		evt = e.log.Error()
	}
	evt.Str("layer", path.String()).
		Str("stage", string(stage)).
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("Stage executed")

	return StageOutcome{Stage: stage, ExitCode: exitCode, Duration: duration}, nil
}
