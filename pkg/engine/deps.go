package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/reforge/reforge/pkg/artifact"
	"github.com/reforge/reforge/pkg/layer"
	"github.com/reforge/reforge/pkg/telemetry"
)

// manifestFile is the per-layer dependency manifest name.
const manifestFile = "dependencies.yml"

// LayerDeps fetches and installs a layer's dependency manifest. Install
// failures are soft: the layer's playbooks still run and surface any
// genuinely missing role themselves.
type LayerDeps struct {
	fetcher      artifact.Fetcher
	installer    DependencyInstaller
	stagingDir   string
	fetchTimeout time.Duration
	metrics      *telemetry.Metrics
	log          zerolog.Logger
}

// NewLayerDeps returns a dependency stager.
func NewLayerDeps(fetcher artifact.Fetcher, installer DependencyInstaller, stagingDir string, fetchTimeout time.Duration, metrics *telemetry.Metrics, log zerolog.Logger) *LayerDeps {
	return &LayerDeps{
		fetcher:      fetcher,
		installer:    installer,
		stagingDir:   stagingDir,
		fetchTimeout: fetchTimeout,
		metrics:      metrics,
		log:          log.With().Str("component", "deps").Logger(),
	}
}

// Install stages and installs the layer's manifest, if one exists.
func (d *LayerDeps) Install(ctx context.Context, path layer.Path) error {
	key := path.Artifact(manifestFile)
	dest := path.StagedFile(d.stagingDir, manifestFile)

	fetchCtx, cancel := context.WithTimeout(ctx, d.fetchTimeout)
	err := d.fetcher.Fetch(fetchCtx, key, dest)
	cancel()
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			d.log.Debug().Str("key", key).Msg("Layer has no dependency manifest")
			return nil
		}
		return NewSoftError("failed to fetch dependency manifest", err).WithLayer(path.String())
	}

	exitCode, err := d.installer.Install(ctx, dest)
	if err != nil {
		d.metrics.RecordDependencyInstall(-1)
		return NewSoftError("failed to run dependency install", err).WithLayer(path.String())
	}
	d.metrics.RecordDependencyInstall(exitCode)
	if exitCode != 0 {
		d.log.Warn().
			Str("layer", path.String()).
			Int("exit_code", exitCode).
			Msg("Dependency install exited nonzero, continuing")
		return NewSoftError("dependency install exited nonzero", nil).WithLayer(path.String())
	}

	d.log.Info().Str("layer", path.String()).Msg("Installed layer dependencies")
	return nil
}
