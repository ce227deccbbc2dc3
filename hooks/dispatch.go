// Package hooks implements the process-wide lifecycle hook and action
// dispatcher: handlers keyed by (event, objectName), and
// actions keyed by (objectName, actionName). Grounded on the
// ObservationHooks/StartObservation composition
// (system/framework/core/observe.go, dispatch.go), generalized from a
// single instrumentation seam to the full before/after lifecycle surface.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/query"
)

// Event is one of the ten lifecycle hook points names.
type Event string

const (
	BeforeFind   Event = "beforeFind"
	AfterFind    Event = "afterFind"
	BeforeCount  Event = "beforeCount"
	AfterCount   Event = "afterCount"
	BeforeCreate Event = "beforeCreate"
	AfterCreate  Event = "afterCreate"
	BeforeUpdate Event = "beforeUpdate"
	AfterUpdate  Event = "afterUpdate"
	BeforeDelete Event = "beforeDelete"
	AfterDelete  Event = "afterDelete"
)

// HookContext is the mutable value passed to every handler of a given
// operation; before and after handlers of the same operation share the
// same State map so they can correlate side effects without global state.
type HookContext struct {
	Ctx            context.Context
	Object         string
	Data           map[string]any
	PreviousData   map[string]any
	Query          any // *query.QueryAST for read hooks; nil for writes
	State          map[string]any
	Result         any
	UserID         string

	restrictFilters []any
}

// IsModified reports whether field differs between Data and PreviousData.
func (h *HookContext) IsModified(field string) bool {
	if h.PreviousData == nil {
		return true
	}
	var newVal, oldVal any
	if h.Data != nil {
		newVal = h.Data[field]
	}
	oldVal = h.PreviousData[field]
	return fmt.Sprint(newVal) != fmt.Sprint(oldVal)
}

// Restrict appends a row-level-security filter, mirroring utils.restrict.
// The Repository reads RestrictFilters() after running read hooks
// and ANDs them onto the outgoing query.
func (h *HookContext) Restrict(filter any) {
	h.restrictFilters = append(h.restrictFilters, filter)
}

// RestrictFilters returns every filter appended via Restrict, in call
// order.
func (h *HookContext) RestrictFilters() []any {
	return h.restrictFilters
}

// Handler is one lifecycle hook function. An error return aborts the
// dispatch chain (and, for writes, the enclosing transaction).
type Handler func(hctx *HookContext) error

// ActionHandler executes a named action; see action
// execution algorithm.
type ActionHandler func(ctx context.Context, req ActionRequest) (any, error)

// RepositoryAPI is the object-scoped CRUD surface an action handler
// receives via ActionRequest.API, matching *runtime.Repository's
// operations so a handler can find/create/update/delete/count/execute
// as part of its own logic, the same as a request handler does through
// ctx.Object(name).
type RepositoryAPI interface {
	Find(q query.QueryAST) ([]map[string]any, error)
	FindOne(id string, q *query.QueryAST) (map[string]any, error)
	Count(filter *query.FilterCondition) (int, error)
	Create(data map[string]any) (map[string]any, error)
	Update(id string, data map[string]any) (map[string]any, error)
	Delete(id string) error
	Execute(actionName string, id string, input map[string]any) (any, error)
}

// API is the Context-level surface bound to the request that triggered
// the action: Object(name) returns a RepositoryAPI scoped to that
// object, for any object, not just the one the action is declared on.
type API interface {
	Object(name string) RepositoryAPI
}

// ActionRequest is the argument bundle step 3 hands to a
// registered action handler: objectName, actionName, id, input, user,
// api, and state.
type ActionRequest struct {
	ObjectName string
	ActionName string
	ID         string // empty for global actions
	Input      map[string]any
	UserID     string
	API        API
	State      map[string]any
}

type hookKey struct {
	event  Event
	object string
}

type actionKey struct {
	object string
	action string
}

// Dispatcher is the process-wide registry of lifecycle hooks and actions.
// Registration persists for the process lifetime. Mirrors mutex-guarded Registry
// (system/framework/core/registry.go), keyed by (event,object) instead of
// service name.
type Dispatcher struct {
	mu      sync.RWMutex
	hooks   map[hookKey][]Handler
	actions map[actionKey]ActionHandler
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		hooks:   make(map[hookKey][]Handler),
		actions: make(map[actionKey]ActionHandler),
	}
}

// On registers fn to run for event on object, appended after any handlers
// already registered for that (event, object) pair — dispatch order is
// registration order.
func (d *Dispatcher) On(event Event, object string, fn Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := hookKey{event: event, object: object}
	d.hooks[key] = append(d.hooks[key], fn)
}

// Off removes every handler registered for (event, object). Nothing calls
// it automatically: Registry.UnregisterByPackage leaves hooks in place.
func (d *Dispatcher) Off(event Event, object string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.hooks, hookKey{event: event, object: object})
}

// RegisterAction registers the handler for (object, name). Actions are
// unique: a second registration for the same pair replaces the first.
func (d *Dispatcher) RegisterAction(object, name string, handler ActionHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions[actionKey{object: object, action: name}] = handler
}

// Action looks up the handler registered for (object, name).
func (d *Dispatcher) Action(object, name string) (ActionHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.actions[actionKey{object: object, action: name}]
	return h, ok
}

// Dispatch invokes every handler registered for (event, object) in
// registration order, awaiting each sequentially so downstream handlers
// observe upstream mutations. The first error aborts the
// chain and is returned verbatim.
func (d *Dispatcher) Dispatch(event Event, object string, hctx *HookContext) error {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.hooks[hookKey{event: event, object: object}]...)
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := h(hctx); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteAction runs the handler registered for (req.ObjectName,
// req.ActionName), enforcing the id-presence rule step 1:
// record actions require a non-empty id; global actions reject one.
func (d *Dispatcher) ExecuteAction(ctx context.Context, kind string, req ActionRequest) (any, error) {
	handler, ok := d.Action(req.ObjectName, req.ActionName)
	if !ok {
		return nil, apierr.NotFound("action", req.ActionName)
	}
	switch kind {
	case "record":
		if req.ID == "" {
			return nil, apierr.Validation("record action " + req.ActionName + " requires an id")
		}
	case "global":
		if req.ID != "" {
			return nil, apierr.Validation("global action " + req.ActionName + " does not accept an id")
		}
	}
	return handler(ctx, req)
}
