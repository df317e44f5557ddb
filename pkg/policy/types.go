// Package policy gates layer execution with Rego policies. Before each
// planned layer runs, the orchestrator evaluates every loaded policy with
// the layer and the resolved identity as input; deny results skip the
// layer, warn results are logged.
package policy

import (
	"time"

	"github.com/reforge/reforge/pkg/identity"
)

// Policy is a named Rego rule set.
type Policy struct {
	// Name uniquely identifies the policy.
	Name string `json:"name"`

	// Description is a human-readable summary.
	Description string `json:"description"`

	// Rego contains the policy source. Deny rules populate
	// "deny contains msg", warnings "warn contains msg".
	Rego string `json:"rego"`

	// Enabled indicates whether the policy participates in evaluation.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the agent rather than loaded
	// from the policy directory.
	Builtin bool `json:"builtin"`

	// LoadedAt is when the policy was compiled.
	LoadedAt time.Time `json:"loaded_at"`
}

// Input is the evaluation input for a single layer.
type Input struct {
	// Layer is the layer path under evaluation ("" for the core layer).
	Layer string `json:"layer"`

	// Identity is the resolved host identity.
	Identity identity.Identity `json:"identity"`
}

// Decision is the aggregated outcome of evaluating all policies against
// one layer.
type Decision struct {
	// Allowed is false when any policy produced a deny result.
	Allowed bool `json:"allowed"`

	// Denials are the messages of all deny results.
	Denials []string `json:"denials,omitempty"`

	// Warnings are the messages of all warn results plus evaluation
	// failures (a broken policy never blocks execution).
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the decision was made.
	EvaluatedAt time.Time `json:"evaluated_at"`
}
