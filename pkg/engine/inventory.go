package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/reforge/reforge/pkg/artifact"
	"github.com/reforge/reforge/pkg/identity"
	"github.com/reforge/reforge/pkg/layer"
)

// Inventory manages the configuration engine's host inventory and group
// variables for the local host.
type Inventory struct {
	inventoryFile string
	groupVarsDir  string
	fetcher       artifact.Fetcher
	fetchTimeout  time.Duration
	log           zerolog.Logger
}

// NewInventory returns an inventory manager.
func NewInventory(inventoryFile, groupVarsDir string, fetcher artifact.Fetcher, fetchTimeout time.Duration, log zerolog.Logger) *Inventory {
	return &Inventory{
		inventoryFile: inventoryFile,
		groupVarsDir:  groupVarsDir,
		fetcher:       fetcher,
		fetchTimeout:  fetchTimeout,
		log:           log.With().Str("component", "inventory").Logger(),
	}
}

// EnsureGroup adds localhost to the named inventory group. Groups already
// present are left untouched, so repeated runs do not grow the file.
func (i *Inventory) EnsureGroup(group string) error {
	header := "[" + group + "]"

	data, err := os.ReadFile(i.inventoryFile)
	if err != nil && !os.IsNotExist(err) {
		return NewFatalError(fmt.Sprintf("failed to read inventory %s", i.inventoryFile), err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == header {
			i.log.Debug().Str("group", group).Msg("Inventory group already present")
			return nil
		}
	}

	f, err := os.OpenFile(i.inventoryFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return NewFatalError(fmt.Sprintf("failed to open inventory %s", i.inventoryFile), err)
	}
	defer func() { _ = f.Close() }()

	entry := header + "\nlocalhost\n"
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		entry = "\n" + entry
	}
	if _, err := f.WriteString(entry); err != nil {
		return NewFatalError(fmt.Sprintf("failed to append inventory group %s", group), err)
	}
	i.log.Info().Str("group", group).Msg("Added inventory group")
	return nil
}

// FetchVault retrieves the layer's vault file into the group variables
// directory under the layer's group name. A missing vault is not an error.
func (i *Inventory) FetchVault(ctx context.Context, path layer.Path) error {
	ctx, cancel := context.WithTimeout(ctx, i.fetchTimeout)
	defer cancel()

	key := path.Artifact("vault.yml")
	dest := filepath.Join(i.groupVarsDir, path.VaultName()+".yml")

	if err := i.fetcher.Fetch(ctx, key, dest); err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			i.log.Debug().Str("key", key).Msg("No vault for layer")
			return nil
		}
		return NewSoftError("failed to fetch vault", err).WithLayer(path.String())
	}
	i.log.Info().Str("key", key).Str("dest", dest).Msg("Staged vault file")
	return nil
}

// WriteIdentityVars writes the resolved identity as host-wide group
// variables so playbooks can branch on project, role, and environment.
// Unresolved fields are omitted rather than written empty.
func (i *Inventory) WriteIdentityVars(id identity.Identity) error {
	vars := map[string]any{}
	if id.Project != "" {
		vars["project"] = id.Project
	}
	if role := id.PrimaryRole(); role != "" {
		vars["system_role"] = role
	}
	if id.Environment != "" {
		vars["environment_tier"] = id.Environment
	}
	data, err := yaml.Marshal(vars)
	if err != nil {
		return NewFatalError("failed to encode identity vars", err)
	}

	if err := os.MkdirAll(i.groupVarsDir, 0o755); err != nil {
		return NewFatalError(fmt.Sprintf("failed to create group vars dir %s", i.groupVarsDir), err)
	}
	dest := filepath.Join(i.groupVarsDir, "local.yml")
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return NewFatalError(fmt.Sprintf("failed to write identity vars %s", dest), err)
	}
	return nil
}
