// Package identity resolves the project, roles, and environment tier of the
// current host. Authoritative tags are consulted first; missing project or
// role values are inferred from the names of the host's network security
// groups. The resolved Identity is immutable for the rest of the run and is
// passed by value to every downstream component.
package identity

import "errors"

// ErrUnavailable is returned when neither the tag store nor the instance
// metadata service answered. It is the only fatal failure mode of
// resolution: without an identity no layer plan can be computed.
var ErrUnavailable = errors.New("identity unavailable: tag store and metadata service both unreachable")

// Origin records where a resolved field came from.
type Origin string

const (
	// OriginTag means the value came from the authoritative tag store.
	OriginTag Origin = "tag"
	// OriginInferred means the value was inferred from security group names.
	OriginInferred Origin = "security-group"
	// OriginNone means the value could not be resolved at all.
	OriginNone Origin = ""
)

// Identity is the resolved classification of the current host.
type Identity struct {
	// Project groups hosts that share a project layer.
	Project string `json:"project" yaml:"project"`

	// Roles are the system roles this host fulfils. A tagged role is a
	// single entry; inference may yield several.
	Roles []string `json:"roles" yaml:"roles"`

	// Environment is the deployment tier (e.g. "prod", "staging"). There
	// is no inference fallback: when untagged it stays empty and consumers
	// that require it must check for presence explicitly.
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`

	// Origins records per-field provenance for inspection.
	Origins Origins `json:"origins" yaml:"origins"`
}

// Origins carries the provenance of each Identity field.
type Origins struct {
	Project     Origin `json:"project" yaml:"project"`
	Role        Origin `json:"role" yaml:"role"`
	Environment Origin `json:"environment" yaml:"environment"`
}

// PrimaryRole returns the first resolved role, or "" when none resolved.
func (id Identity) PrimaryRole() string {
	if len(id.Roles) == 0 {
		return ""
	}
	return id.Roles[0]
}
