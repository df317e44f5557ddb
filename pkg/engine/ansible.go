package engine

import (
	"context"
	"time"
)

// PlaybookEngine applies a staged playbook against the local host.
type PlaybookEngine interface {
	Apply(ctx context.Context, playbookPath string) (int, error)
}

// DependencyInstaller installs a layer's dependency manifest.
type DependencyInstaller interface {
	Install(ctx context.Context, manifestPath string) (int, error)
}

// AnsiblePlaybook runs playbooks through the ansible-playbook command.
type AnsiblePlaybook struct {
	runner  CommandRunner
	command string
	timeout time.Duration
}

// NewAnsiblePlaybook returns a playbook engine invoking command, bounding
// each application by timeout.
func NewAnsiblePlaybook(runner CommandRunner, command string, timeout time.Duration) *AnsiblePlaybook {
	return &AnsiblePlaybook{runner: runner, command: command, timeout: timeout}
}

// Apply runs the playbook and returns its exit code.
func (a *AnsiblePlaybook) Apply(ctx context.Context, playbookPath string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.runner.Run(ctx, a.command, playbookPath)
}

// GalaxyInstaller installs role manifests through the ansible-galaxy
// command. Installs are forced so re-runs pick up updated roles, and
// individual role failures do not abort the manifest.
type GalaxyInstaller struct {
	runner  CommandRunner
	command string
	timeout time.Duration
}

// NewGalaxyInstaller returns an installer invoking command.
func NewGalaxyInstaller(runner CommandRunner, command string, timeout time.Duration) *GalaxyInstaller {
	return &GalaxyInstaller{runner: runner, command: command, timeout: timeout}
}

// Install installs the manifest and returns the command's exit code.
func (g *GalaxyInstaller) Install(ctx context.Context, manifestPath string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.runner.Run(ctx, g.command, "install", "--ignore-errors", "--force", "--role-file", manifestPath)
}
