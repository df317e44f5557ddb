// Package layer defines configuration layers: hierarchical locations under
// which a playbook bundle's artifacts live, and the planner that computes
// which layers apply to a resolved host identity.
package layer

import (
	"path/filepath"
	"strings"
)

// Path is a hierarchical layer key: "" for the core layer, "<project>/" for
// the project layer, "<project>/<role>/" for a role layer. Non-root paths
// always carry a trailing slash so artifact names can be appended directly.
type Path string

// Root is the core layer that applies to every host.
const Root Path = ""

// ForProject returns the project layer path.
func ForProject(project string) Path {
	return Path(project + "/")
}

// ForRole returns the role layer path under a project.
func ForRole(project, role string) Path {
	return Path(project + "/" + role + "/")
}

// IsRoot reports whether p is the core layer.
func (p Path) IsRoot() bool { return p == Root }

func (p Path) String() string { return string(p) }

// Artifact returns the remote object key for a named artifact of this layer.
func (p Path) Artifact(name string) string {
	return string(p) + name
}

// StagingKey flattens the path into a filesystem-safe prefix by replacing
// slashes with dashes. Distinct layer paths always flatten to distinct keys,
// so staged files for different layers never collide in the flat staging
// directory.
func (p Path) StagingKey() string {
	return strings.ReplaceAll(string(p), "/", "-")
}

// StagedFile returns the local staging location for a named artifact.
func (p Path) StagedFile(stagingDir, name string) string {
	return filepath.Join(stagingDir, p.StagingKey()+name)
}

// VaultName is the inventory group and group-vars name for this layer: the
// staging key without its trailing dash, or "all" for the core layer.
func (p Path) VaultName() string {
	name := strings.TrimSuffix(p.StagingKey(), "-")
	if name == "" {
		return "all"
	}
	return name
}
