// Package guards provides the registry of named, reusable guard predicates
// that statemachine.Transition resolves by ref. Grounded in the common
// pkg/ai/conditions named-condition-type pattern, generalized from a single
// "AI condition evaluator" into a general-purpose guard table.
package guards

import (
	"fmt"

	"github.com/workflowdev/workflowd/pkg/authctx"
	"github.com/workflowdev/workflowd/pkg/workflow/statemachine"
)

// DefaultRegistry is the built-in statemachine.GuardRegistry implementation.
// It is safe for concurrent Lookup once construction (Register calls) has
// finished; guards are registered once at startup, not mutated at runtime.
type DefaultRegistry struct {
	guards map[string]statemachine.Guard
}

// NewDefaultRegistry builds a registry seeded with the built-in guards
// (field_equals, context_has, role_is, amount_ok); callers may Register more.
func NewDefaultRegistry() *DefaultRegistry {
	r := &DefaultRegistry{guards: make(map[string]statemachine.Guard)}
	r.registerBuiltins()
	return r
}

// Register adds or replaces a named guard. Call during startup wiring only;
// Register itself is not goroutine-safe against concurrent Lookup.
func (r *DefaultRegistry) Register(ref string, guard statemachine.Guard) {
	r.guards[ref] = guard
}

// Lookup implements statemachine.GuardRegistry.
func (r *DefaultRegistry) Lookup(ref string) (statemachine.Guard, bool) {
	g, ok := r.guards[ref]
	return g, ok
}

// Refs lists every registered guard name, used by the definition registry to
// validate that a submitted definition only references known guards.
func (r *DefaultRegistry) Refs() []string {
	refs := make([]string, 0, len(r.guards))
	for ref := range r.guards {
		refs = append(refs, ref)
	}
	return refs
}

func (r *DefaultRegistry) registerBuiltins() {
	r.Register("field_equals", FieldEquals)
	r.Register("context_has", ContextHas)
	r.Register("role_is", RoleIs)
	r.Register("amount_ok", AmountBelow("amount", "max_amount"))
}

// FieldEquals is a guard factory helper exposed directly for definitions that
// declare "field_equals" with params carried elsewhere; most callers will
// instead compose one of the concrete helpers below via Register.
func FieldEquals(context map[string]any, actor authctx.Context) bool {
	field, _ := context["__guard_field"].(string)
	want, hasWant := context["__guard_value"]
	if field == "" || !hasWant {
		return false
	}
	got, ok := context[field]
	return ok && fmt.Sprint(got) == fmt.Sprint(want)
}

// ContextHas reports whether context carries a non-nil value for the key
// named in context["__guard_field"].
func ContextHas(context map[string]any, actor authctx.Context) bool {
	field, _ := context["__guard_field"].(string)
	if field == "" {
		return false
	}
	v, ok := context[field]
	return ok && v != nil
}

// RoleIs reports whether the actor carries the role named in
// context["__guard_role"]. It exists alongside Transition.RequiredRoles for
// definitions that want role checks expressed as an explicit guard (e.g.
// combined with another predicate via a custom registered guard).
func RoleIs(context map[string]any, actor authctx.Context) bool {
	role, _ := context["__guard_role"].(string)
	return role != "" && actor.HasRole(role)
}

// AmountBelow builds a guard comparing a numeric context field against a
// numeric ceiling, both read from context by name — grounded in the
// "amount_ok" guard used by approval-style workflow definitions.
func AmountBelow(amountField, ceilingField string) statemachine.Guard {
	return func(context map[string]any, actor authctx.Context) bool {
		amount, ok := numeric(context[amountField])
		if !ok {
			return false
		}
		ceiling, ok := numeric(context[ceilingField])
		if !ok {
			// No declared ceiling in context: default ceiling is permissive,
			// matching a guard that only fires when a limit is actually set.
			return true
		}
		return amount <= ceiling
	}
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
