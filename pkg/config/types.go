// Package config holds the agent configuration: object store coordinates,
// well-known filesystem paths, external command names, and timeouts.
// Values come from defaults, overridden by an optional CUE file, overridden
// by environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full agent configuration.
type Config struct {
	// Artifacts locates the remote object store.
	Artifacts ArtifactsConfig `json:"artifacts"`

	// Paths are the local filesystem locations the agent reads and writes.
	Paths PathsConfig `json:"paths"`

	// Commands name the external executables the agent invokes.
	Commands CommandsConfig `json:"commands"`

	// Preconfigure controls the one-time host bootstrap.
	Preconfigure PreconfigureConfig `json:"preconfigure"`

	// Timeouts bound every external invocation, in seconds, so a hung
	// call cannot block the pipeline.
	Timeouts TimeoutsConfig `json:"timeouts"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry TelemetryConfig `json:"telemetry"`
}

// ArtifactsConfig locates the object store holding layer artifacts.
type ArtifactsConfig struct {
	// Bucket is the bucket name. Required unless downloads are skipped.
	Bucket string `json:"bucket"`

	// Region is the bucket region; empty means autodetect from the
	// instance placement.
	Region string `json:"region"`

	// Endpoint optionally overrides the S3 endpoint for compatible
	// object stores.
	Endpoint string `json:"endpoint"`
}

// PathsConfig holds the well-known local paths.
type PathsConfig struct {
	// StagingDir is the flat directory artifacts are fetched into.
	StagingDir string `json:"staging_dir" validate:"required"`

	// InventoryFile is the configuration engine's host inventory.
	InventoryFile string `json:"inventory_file" validate:"required"`

	// GroupVarsDir is where vault and group-variable files land.
	GroupVarsDir string `json:"group_vars_dir" validate:"required"`

	// EngineConfigDir receives the engine's own configuration artifacts.
	EngineConfigDir string `json:"engine_config_dir" validate:"required"`

	// TrustStore is the system-wide SSH known_hosts file.
	TrustStore string `json:"trust_store" validate:"required"`

	// CredentialsDir receives deploy keys for private repositories.
	CredentialsDir string `json:"credentials_dir" validate:"required"`

	// PolicyDir holds operator-provided .rego layer policies.
	PolicyDir string `json:"policy_dir"`

	// StorePath is the sqlite run-history database. Empty disables the
	// history store; the per-layer status files are always written.
	StorePath string `json:"store_path"`

	// LockFile guards the shared paths against concurrent agent runs.
	LockFile string `json:"lock_file" validate:"required"`
}

// CommandsConfig names the external executables.
type CommandsConfig struct {
	// Playbook applies a staged playbook file.
	Playbook string `json:"playbook" validate:"required"`

	// Galaxy installs a layer's dependency manifest.
	Galaxy string `json:"galaxy" validate:"required"`

	// SystemInstaller installs system packages during preconfigure.
	SystemInstaller string `json:"system_installer" validate:"required"`

	// RuntimeInstaller installs runtime packages during preconfigure.
	RuntimeInstaller string `json:"runtime_installer" validate:"required"`
}

// PreconfigureConfig controls the one-time host bootstrap.
type PreconfigureConfig struct {
	// SystemPackages are installed with the system installer.
	SystemPackages []string `json:"system_packages"`

	// RuntimePackages are installed with the runtime installer.
	RuntimePackages []string `json:"runtime_packages"`

	// KnownHosts are code-hosting endpoints whose SSH host keys are
	// scanned into the trust store, as "host" or "host:port".
	KnownHosts []string `json:"known_hosts"`

	// CredentialKeys are object keys of deploy keys fetched into the
	// credentials directory.
	CredentialKeys []string `json:"credential_keys"`

	// SelfUpdateKey is the object key of the agent's own executable.
	SelfUpdateKey string `json:"self_update_key"`

	// SelfUpdatePath is where the fetched executable is installed.
	SelfUpdatePath string `json:"self_update_path"`
}

// TimeoutsConfig bounds external invocations, in seconds.
type TimeoutsConfig struct {
	FetchSeconds   int `json:"fetch_seconds" validate:"min=1"`
	InstallSeconds int `json:"install_seconds" validate:"min=1"`
	StageSeconds   int `json:"stage_seconds" validate:"min=1"`
	KeyscanSeconds int `json:"keyscan_seconds" validate:"min=1"`
}

// Fetch returns the artifact fetch timeout.
func (t TimeoutsConfig) Fetch() time.Duration { return time.Duration(t.FetchSeconds) * time.Second }

// Install returns the package/dependency install timeout.
func (t TimeoutsConfig) Install() time.Duration {
	return time.Duration(t.InstallSeconds) * time.Second
}

// Stage returns the per-stage execution timeout.
func (t TimeoutsConfig) Stage() time.Duration { return time.Duration(t.StageSeconds) * time.Second }

// Keyscan returns the SSH host-key scan timeout.
func (t TimeoutsConfig) Keyscan() time.Duration {
	return time.Duration(t.KeyscanSeconds) * time.Second
}

// TelemetryConfig configures the observability stack.
type TelemetryConfig struct {
	// LogLevel is the minimum log level.
	LogLevel string `json:"log_level" validate:"required,oneof=trace debug info warn error"`

	// MetricsListen optionally exposes /metrics over HTTP.
	MetricsListen string `json:"metrics_listen"`

	// TraceExporter selects the span exporter: otlp, stdout, or none.
	TraceExporter string `json:"trace_exporter" validate:"oneof=otlp stdout none"`

	// TraceEndpoint is the OTLP collector endpoint.
	TraceEndpoint string `json:"trace_endpoint"`
}

// Default returns the built-in configuration, matching the layout the
// configuration engine conventionally uses on Debian-family hosts.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			StagingDir:      "/tmp",
			InventoryFile:   "/etc/ansible/hosts",
			GroupVarsDir:    "/etc/ansible/group_vars",
			EngineConfigDir: "/etc/ansible",
			TrustStore:      "/etc/ssh/ssh_known_hosts",
			CredentialsDir:  "/root/.ssh",
			PolicyDir:       "/etc/reforge/policies",
			StorePath:       "/var/lib/reforge/state.db",
			LockFile:        "/tmp/reforge.lock",
		},
		Commands: CommandsConfig{
			Playbook:         "ansible-playbook",
			Galaxy:           "ansible-galaxy",
			SystemInstaller:  "apt-get",
			RuntimeInstaller: "pip",
		},
		Preconfigure: PreconfigureConfig{
			SystemPackages:  []string{"libssl-dev", "libffi-dev"},
			RuntimePackages: []string{"ansible"},
			KnownHosts:      []string{"github.com", "bitbucket.org"},
			CredentialKeys:  []string{"ssh.ed25519", "ssh.rsa"},
			SelfUpdateKey:   "bin/reforge",
			SelfUpdatePath:  "/usr/local/sbin/reforge",
		},
		Timeouts: TimeoutsConfig{
			FetchSeconds:   60,
			InstallSeconds: 300,
			StageSeconds:   1800,
			KeyscanSeconds: 10,
		},
		Telemetry: TelemetryConfig{
			LogLevel:      "info",
			TraceExporter: "none",
		},
	}
}

// Validate checks the configuration. requireBucket is false for runs with
// downloads skipped, where no object store is ever contacted.
func (c Config) Validate(requireBucket bool) error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if requireBucket && c.Artifacts.Bucket == "" {
		return fmt.Errorf("invalid configuration: artifacts.bucket is required unless downloads are skipped")
	}
	return nil
}
