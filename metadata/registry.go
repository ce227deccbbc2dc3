package metadata

import (
	"fmt"
	"sort"
	"sync"
)

// Ownership tags a contributor's claim on a fully-qualified definition:
// "own" establishes the base definition, "extend" merges fields and rules
// on top of whichever contributor owns it.
type Ownership string

const (
	OwnershipOwn    Ownership = "own"
	OwnershipExtend Ownership = "extend"
)

// DefType distinguishes the kind of definition stored under a given FQN,
// so object and (future) view/action definitions don't collide in the
// same namespace.
type DefType string

const (
	TypeObject DefType = "object"
)

// contribution is one package's claim on a (type, FQN) slot.
type contribution struct {
	packageID string
	ownership Ownership
	priority  int
	def       ObjectDefinition
}

// Registry is the sole source of truth for schemas: it stores every
// contribution keyed by (type, FQN) and resolves the effective definition
// by ownership/priority. Mirrors mutex-guarded Registry with
// an explicit insertion-order slice (system/framework/core/registry.go),
// generalized from service factories to object contributions.
type Registry struct {
	mu   sync.RWMutex
	defs map[DefType]map[string][]contribution
	// order preserves first-seen FQN order per type for List().
	order map[DefType][]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:  make(map[DefType]map[string][]contribution),
		order: make(map[DefType][]string),
	}
}

// ReservedNamespace reports whether ns cannot be claimed by a contributor
// package (it is process-reserved).
func ReservedNamespace(ns string) bool {
	return ns == NamespaceBase || ns == NamespaceSystem
}

// Register stores def under (typ, def.Fqn()), attributed to packageID with
// the given ownership and priority. Lower priority numbers are preferred
// when resolving an "own" contribution; ties keep insertion order.
func (r *Registry) Register(typ DefType, def ObjectDefinition, packageID string, ownership Ownership, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fqn := def.Fqn()
	if def.Name == "" {
		return fmt.Errorf("metadata: object definition must have a name")
	}

	if r.defs[typ] == nil {
		r.defs[typ] = make(map[string][]contribution)
	}
	if _, seen := r.defs[typ][fqn]; !seen {
		r.order[typ] = append(r.order[typ], fqn)
	}
	r.defs[typ][fqn] = append(r.defs[typ][fqn], contribution{
		packageID: packageID,
		ownership: ownership,
		priority:  priority,
		def:       def,
	})
	return nil
}

// resolve merges the contributions for fqn: the lowest-priority "own"
// contributor is the base, and every "extend" contributor is merged over
// it (fields and validation rules append/override by name). If no
// contributor owns the slot, the lowest-priority contributor wins outright.
func resolve(contribs []contribution) (ObjectDefinition, bool) {
	if len(contribs) == 0 {
		return ObjectDefinition{}, false
	}

	sorted := make([]contribution, len(contribs))
	copy(sorted, contribs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})

	var base *contribution
	for i := range sorted {
		if sorted[i].ownership == OwnershipOwn {
			base = &sorted[i]
			break
		}
	}
	if base == nil {
		base = &sorted[0]
		result := base.def
		return result, true
	}

	result := cloneObjectDefinition(base.def)
	for i := range sorted {
		c := sorted[i]
		if c.ownership != OwnershipExtend {
			continue
		}
		mergeExtend(&result, c.def)
	}
	return result, true
}

func cloneObjectDefinition(src ObjectDefinition) ObjectDefinition {
	out := src
	out.Fields = make(map[string]FieldDefinition, len(src.Fields))
	for k, v := range src.Fields {
		out.Fields[k] = v
	}
	if src.Actions != nil {
		out.Actions = make(map[string]ActionDefinition, len(src.Actions))
		for k, v := range src.Actions {
			out.Actions[k] = v
		}
	}
	out.ValidationRules = append([]ValidationRule(nil), src.ValidationRules...)
	return out
}

func mergeExtend(base *ObjectDefinition, extend ObjectDefinition) {
	for name, fd := range extend.Fields {
		base.Fields[name] = fd
	}
	for name, ad := range extend.Actions {
		if base.Actions == nil {
			base.Actions = make(map[string]ActionDefinition)
		}
		base.Actions[name] = ad
	}
	base.ValidationRules = append(base.ValidationRules, extend.ValidationRules...)
	if extend.Label != "" {
		base.Label = extend.Label
	}
	if extend.Datasource != "" {
		base.Datasource = extend.Datasource
	}
}

// Get returns the resolved definition for fqn, stripped of its contributor
// envelope, or ok=false if nothing is registered under that name.
func (r *Registry) Get(typ DefType, fqn string) (ObjectDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	contribs, ok := r.defs[typ][fqn]
	if !ok {
		return ObjectDefinition{}, false
	}
	return resolve(contribs)
}

// List returns every resolved definition of typ in first-registered order.
func (r *Registry) List(typ DefType) []ObjectDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.order[typ]
	out := make([]ObjectDefinition, 0, len(names))
	for _, fqn := range names {
		if def, ok := resolve(r.defs[typ][fqn]); ok {
			out = append(out, def)
		}
	}
	return out
}

// UnregisterByPackage removes every contribution made by packageID across
// every type and FQN. FQNs left with zero contributors are pruned from the
// order slice so List() stops reporting them.
func (r *Registry) UnregisterByPackage(packageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for typ, byFqn := range r.defs {
		var remainingOrder []string
		for _, fqn := range r.order[typ] {
			contribs := byFqn[fqn]
			kept := contribs[:0:0]
			for _, c := range contribs {
				if c.packageID != packageID {
					kept = append(kept, c)
				}
			}
			if len(kept) == 0 {
				delete(byFqn, fqn)
				continue
			}
			byFqn[fqn] = kept
			remainingOrder = append(remainingOrder, fqn)
		}
		r.order[typ] = remainingOrder
	}
}

// Object is a convenience wrapper over Get(TypeObject, fqn).
func (r *Registry) Object(fqn string) (ObjectDefinition, bool) {
	return r.Get(TypeObject, fqn)
}

// RegisterObject is a convenience wrapper over Register(TypeObject, ...).
func (r *Registry) RegisterObject(def ObjectDefinition, packageID string, ownership Ownership, priority int) error {
	return r.Register(TypeObject, def, packageID, ownership, priority)
}

// Objects is a convenience wrapper over List(TypeObject).
func (r *Registry) Objects() []ObjectDefinition {
	return r.List(TypeObject)
}
