package policy

import "time"

// BuiltinPolicies returns the policies shipped with the agent.
func BuiltinPolicies() []Policy {
	return []Policy{
		untaggedEnvironmentPolicy(),
	}
}

// untaggedEnvironmentPolicy surfaces a missing Environment tag as a warning.
// The run still proceeds with the tier unset, but the gap is visible per
// layer instead of silent.
func untaggedEnvironmentPolicy() Policy {
	return Policy{
		Name:        "untagged-environment",
		Description: "Warns when the host has no Environment tag, since there is no inference fallback for the tier",
		Enabled:     true,
		Builtin:     true,
		LoadedAt:    time.Now(),
		Rego: `package reforge.layers

import rego.v1

warn contains msg if {
	not input.identity.environment
	msg := sprintf("layer %q will run without an environment tier: host has no Environment tag", [input.layer])
}
`,
	}
}
