package admission

import (
	"fmt"
	"sync"

	"mercator-hq/saturn/pkg/rate"
)

// identity keys a declaration. An empty operation means group scope.
type identity struct {
	group     string
	operation string
}

// Registry holds the admission declarations, keyed by (group, operation)
// identity. Identities are plain strings chosen by the embedding
// application; nothing is inferred from handlers or call sites.
//
// The registry is register-once: a second declaration for the same
// identity is a configuration error, reported at registration time. After
// registration a declaration is immutable.
type Registry struct {
	mu    sync.RWMutex
	decls map[identity]Declaration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		decls: make(map[identity]Declaration),
	}
}

// DeclareGroup registers the group-scope declaration. Its fields apply to
// every operation in the group that does not override them.
func (r *Registry) DeclareGroup(group string, d Declaration) error {
	return r.declare(identity{group: group}, d)
}

// DeclareOperation registers the operation-scope declaration for one
// operation inside a group.
func (r *Registry) DeclareOperation(group, operation string, d Declaration) error {
	if operation == "" {
		return fmt.Errorf("operation cannot be empty (use DeclareGroup for group scope)")
	}
	return r.declare(identity{group: group, operation: operation}, d)
}

func (r *Registry) declare(id identity, d Declaration) error {
	if id.group == "" {
		return fmt.Errorf("group cannot be empty")
	}
	if len(d.Limits) > 0 {
		if err := d.Limits.Validate(); err != nil {
			return fmt.Errorf("declaration for %s: %w", id, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.decls[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDeclaration, id)
	}
	r.decls[id] = d
	return nil
}

func (id identity) String() string {
	if id.operation == "" {
		return fmt.Sprintf("group %q", id.group)
	}
	return fmt.Sprintf("group %q operation %q", id.group, id.operation)
}

// EffectiveConfig is the merged configuration governing one operation.
type EffectiveConfig struct {
	Limits        rate.Spec
	DynamicLimits DynamicLimitFunc
	KeyFunc       KeyFunc
	DeductWhen    DeductWhenFunc
}

// Limited reports whether any rate limiting applies: without static limits
// and without a dynamic limit function, requests pass through untouched.
func (e EffectiveConfig) Limited() bool {
	return len(e.Limits) > 0 || e.DynamicLimits != nil
}

// Resolve merges the scopes for (group, operation) field by field: for
// each field independently the operation-scope value wins if present, else
// the group-scope value, else the process-wide default. A scope with no
// declaration simply contributes nothing.
func (r *Registry) Resolve(group, operation string, defaults EffectiveConfig) EffectiveConfig {
	r.mu.RLock()
	groupDecl, hasGroup := r.decls[identity{group: group}]
	var opDecl Declaration
	hasOp := false
	if operation != "" {
		opDecl, hasOp = r.decls[identity{group: group, operation: operation}]
	}
	r.mu.RUnlock()

	eff := defaults

	if hasGroup {
		mergeDeclaration(&eff, groupDecl)
	}
	if hasOp {
		mergeDeclaration(&eff, opDecl)
	}
	return eff
}

// mergeDeclaration overlays the declaration's present fields onto eff.
func mergeDeclaration(eff *EffectiveConfig, d Declaration) {
	if len(d.Limits) > 0 {
		eff.Limits = d.Limits
	}
	if d.DynamicLimits != nil {
		eff.DynamicLimits = d.DynamicLimits
	}
	if d.KeyFunc != nil {
		eff.KeyFunc = d.KeyFunc
	}
	if d.DeductWhen != nil {
		eff.DeductWhen = d.DeductWhen
	}
}
