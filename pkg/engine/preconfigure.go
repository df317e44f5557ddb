package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/reforge/reforge/pkg/artifact"
	"github.com/reforge/reforge/pkg/config"
	"github.com/reforge/reforge/pkg/trust"
)

// Object keys of the engine's own configuration artifacts.
const (
	inventoryKey    = "ansible.hosts"
	engineConfigKey = "ansible.cfg"
	vaultKeyKey     = "vault.key"
)

// Preconfigurer performs the one-time host bootstrap: package installs,
// engine configuration, trust store seeding, deploy keys, and the agent's
// own self-update.
type Preconfigurer struct {
	cfg     config.Config
	fetcher artifact.Fetcher
	runner  CommandRunner
	trust   *trust.Store
	log     zerolog.Logger
}

// NewPreconfigurer returns a preconfigurer.
func NewPreconfigurer(cfg config.Config, fetcher artifact.Fetcher, runner CommandRunner, trustStore *trust.Store, log zerolog.Logger) *Preconfigurer {
	return &Preconfigurer{
		cfg:     cfg,
		fetcher: fetcher,
		runner:  runner,
		trust:   trustStore,
		log:     log.With().Str("component", "preconfigure").Logger(),
	}
}

// Run executes the full bootstrap sequence.
func (p *Preconfigurer) Run(ctx context.Context) error {
	if err := p.installPackages(ctx); err != nil {
		return err
	}
	if err := p.stageEngineConfig(ctx); err != nil {
		return err
	}
	if err := p.trust.Ensure(ctx, p.cfg.Preconfigure.KnownHosts); err != nil {
		return NewFatalError("failed to seed trust store", err)
	}
	p.stageCredentials(ctx)
	p.selfUpdate(ctx)
	return nil
}

// installPackages installs the system and runtime package sets.
func (p *Preconfigurer) installPackages(ctx context.Context) error {
	pre := p.cfg.Preconfigure

	if len(pre.SystemPackages) > 0 {
		args := append([]string{"install", "-y"}, pre.SystemPackages...)
		if err := p.install(ctx, p.cfg.Commands.SystemInstaller, args); err != nil {
			return err
		}
	}
	if len(pre.RuntimePackages) > 0 {
		args := append([]string{"install", "-U"}, pre.RuntimePackages...)
		if err := p.install(ctx, p.cfg.Commands.RuntimeInstaller, args); err != nil {
			return err
		}
	}
	return nil
}

func (p *Preconfigurer) install(ctx context.Context, installer string, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeouts.Install())
	defer cancel()

	exitCode, err := p.runner.Run(ctx, installer, args...)
	if err != nil {
		return NewFatalError(fmt.Sprintf("failed to run %s", installer), err)
	}
	if exitCode != 0 {
		return NewFatalError(fmt.Sprintf("%s exited with code %d", installer, exitCode), nil)
	}
	p.log.Info().Str("installer", installer).Msg("Installed packages")
	return nil
}

// stageEngineConfig fetches the engine's inventory, configuration, and
// vault key. These are required for every later layer.
func (p *Preconfigurer) stageEngineConfig(ctx context.Context) error {
	artifacts := []struct {
		key  string
		dest string
		mode os.FileMode
	}{
		{inventoryKey, p.cfg.Paths.InventoryFile, 0},
		{engineConfigKey, filepath.Join(p.cfg.Paths.EngineConfigDir, engineConfigKey), 0},
		{vaultKeyKey, filepath.Join(p.cfg.Paths.EngineConfigDir, vaultKeyKey), 0o400},
	}
	for _, a := range artifacts {
		if err := p.fetch(ctx, a.key, a.dest, a.mode); err != nil {
			if errors.Is(err, artifact.ErrNotFound) {
				p.log.Warn().Str("key", a.key).Msg("Engine config artifact missing in store")
				continue
			}
			return NewFatalError(fmt.Sprintf("failed to stage %s", a.key), err)
		}
	}
	return nil
}

// stageCredentials fetches deploy keys for private repositories. A missing
// key only means the host does not need one.
func (p *Preconfigurer) stageCredentials(ctx context.Context) {
	if len(p.cfg.Preconfigure.CredentialKeys) == 0 {
		return
	}
	if err := os.MkdirAll(p.cfg.Paths.CredentialsDir, 0o700); err != nil {
		p.log.Warn().Err(err).Msg("Failed to create credentials directory")
		return
	}
	for _, key := range p.cfg.Preconfigure.CredentialKeys {
		dest := filepath.Join(p.cfg.Paths.CredentialsDir, filepath.Base(key))
		if err := p.fetch(ctx, key, dest, 0o400); err != nil {
			if !errors.Is(err, artifact.ErrNotFound) {
				p.log.Warn().Err(err).Str("key", key).Msg("Failed to stage deploy key")
			}
			continue
		}
		p.log.Info().Str("key", key).Msg("Staged deploy key")
	}
}

// selfUpdate replaces the installed agent executable with the one in the
// object store. The running process is unaffected; the new binary is used
// on the next boot.
func (p *Preconfigurer) selfUpdate(ctx context.Context) {
	pre := p.cfg.Preconfigure
	if pre.SelfUpdateKey == "" || pre.SelfUpdatePath == "" {
		return
	}
	if err := p.fetch(ctx, pre.SelfUpdateKey, pre.SelfUpdatePath, 0o500); err != nil {
		if !errors.Is(err, artifact.ErrNotFound) {
			p.log.Warn().Err(err).Msg("Self-update failed")
		}
		return
	}
	p.log.Info().Str("path", pre.SelfUpdatePath).Msg("Agent executable updated")
}

// fetch retrieves one object and optionally tightens its mode. Mode
// failures are tolerated; the file content is what matters.
func (p *Preconfigurer) fetch(ctx context.Context, key, dest string, mode os.FileMode) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeouts.Fetch())
	defer cancel()

	if err := p.fetcher.Fetch(ctx, key, dest); err != nil {
		return err
	}
	if mode != 0 {
		if err := os.Chmod(dest, mode); err != nil {
			p.log.Warn().Err(err).Str("path", dest).Msg("Failed to set file mode")
		}
	}
	return nil
}
