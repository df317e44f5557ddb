package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/reforge/reforge/pkg/identity"
	"github.com/reforge/reforge/pkg/layer"
)

// Engine compiles and evaluates layer policies.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy *Policy
	module *ast.Module
}

// NewEngine creates a policy engine preloaded with the builtin policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy").Logger(),
	}

	for _, p := range BuiltinPolicies() {
		if err := e.AddPolicy(p); err != nil {
			return nil, fmt.Errorf("failed to compile builtin policy %s: %w", p.Name, err)
		}
	}
	return e, nil
}

// AddPolicy compiles and registers a policy, replacing any previous policy
// with the same name.
func (e *Engine) AddPolicy(p Policy) error {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy %s: %w", p.Name, err)
	}

	p.LoadedAt = time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.Name] = &compiledPolicy{policy: &p, module: module}

	e.logger.Debug().Str("policy", p.Name).Msg("policy compiled")
	return nil
}

// ReplaceLoaded swaps out all non-builtin policies for the given set. Used
// by the directory loader on reload.
func (e *Engine) ReplaceLoaded(policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		module, err := ast.ParseModule(p.Name, p.Rego)
		if err != nil {
			return fmt.Errorf("failed to parse policy %s: %w", p.Name, err)
		}
		p.LoadedAt = time.Now()
		compiled[p.Name] = &compiledPolicy{policy: &p, module: module}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		e.policies[name] = cp
	}
	return nil
}

// Policies returns the registered policies sorted by name.
func (e *Engine) Policies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, *cp.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EvaluateLayer evaluates all enabled policies against one planned layer.
// Policy evaluation failures degrade to warnings: a broken policy file
// must never block first boot.
func (e *Engine) EvaluateLayer(ctx context.Context, p layer.Path, id identity.Identity) (*Decision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := Input{Layer: p.String(), Identity: id}
	decision := &Decision{Allowed: true, EvaluatedAt: time.Now()}

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		denials, err := e.query(ctx, cp, "deny", input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", cp.policy.Name).Str("layer", p.String()).
				Msg("policy evaluation failed")
			decision.Warnings = append(decision.Warnings,
				fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		decision.Denials = append(decision.Denials, denials...)

		warnings, err := e.query(ctx, cp, "warn", input)
		if err != nil {
			decision.Warnings = append(decision.Warnings,
				fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		decision.Warnings = append(decision.Warnings, warnings...)
	}

	decision.Allowed = len(decision.Denials) == 0
	return decision, nil
}

// query evaluates data.<package>.<rule> for a single policy and collects
// the resulting message set.
func (e *Engine) query(ctx context.Context, cp *compiledPolicy, rule string, input Input) ([]string, error) {
	q := fmt.Sprintf("data.%s.%s", packageName(cp.policy.Rego), rule)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(q),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var messages []string
	for _, result := range results {
		for _, expr := range result.Expressions {
			set, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, v := range set {
				messages = append(messages, fmt.Sprintf("%v", v))
			}
		}
	}
	return messages, nil
}

// packageName extracts the package declaration from Rego source.
func packageName(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "reforge.layers"
}
