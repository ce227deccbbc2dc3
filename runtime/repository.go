package runtime

import (
	"fmt"
	"time"

	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/driver"
	"github.com/objectql-dev/objectql/hooks"
	"github.com/objectql-dev/objectql/metadata"
	"github.com/objectql-dev/objectql/query"
	"github.com/objectql-dev/objectql/validate"
)

// Repository is the object-scoped handle obtained from a Context:
// ctx.Object(name) returns a Repository exposing find, findOne,
// create, update, delete, count, and execute.
type Repository struct {
	ctx        *Context
	objectName string
}

func (r *Repository) resolve() (metadata.ObjectDefinition, error) {
	def, ok := r.ctx.rt.Registry.Object(r.objectName)
	if !ok {
		return metadata.ObjectDefinition{}, apierr.NotFound("object", r.objectName)
	}
	return def, nil
}

func (r *Repository) findOptions() driver.FindOptions {
	return driver.FindOptions{Tx: r.ctx.tx}
}

// datasourceName resolves the datasource label driver-call metrics are
// recorded under, falling back to the Runtime default the same way
// driverFor does.
func (r *Repository) datasourceName(def metadata.ObjectDefinition) string {
	if def.Datasource != "" {
		return def.Datasource
	}
	return r.ctx.rt.defaultDatasource
}

// observeOperation records one Repository-level operation (hook dispatch
// plus driver call) if a Metrics collector is wired into the Runtime.
func (r *Repository) observeOperation(operation string, start time.Time, err error) {
	if m := r.ctx.rt.Metrics; m != nil {
		m.ObserveOperation(r.objectName, operation, start, err)
	}
}

// observeDriverCall records one call into the underlying driver.Driver.
func (r *Repository) observeDriverCall(def metadata.ObjectDefinition, method string, start time.Time, err error) {
	if m := r.ctx.rt.Metrics; m != nil {
		m.ObserveDriverCall(r.datasourceName(def), method, start, err)
	}
}

func changedFieldSet(data, previous map[string]any) map[string]bool {
	changed := make(map[string]bool)
	for k, v := range data {
		if previous == nil {
			changed[k] = true
			continue
		}
		if pv, ok := previous[k]; !ok || fmt.Sprint(pv) != fmt.Sprint(v) {
			changed[k] = true
		}
	}
	return changed
}

// Find runs the read pipeline ("Read pipeline"): beforeFind may
// mutate q (including via utils.restrict), the driver executes q, and
// afterFind may transform the result.
func (r *Repository) Find(q query.QueryAST) (result []map[string]any, err error) {
	opStart := time.Now()
	defer func() { r.observeOperation("find", opStart, err) }()

	def, err := r.resolve()
	if err != nil {
		return nil, err
	}

	state := map[string]any{}
	hctx := &hooks.HookContext{Ctx: r.ctx.std, Object: r.objectName, Query: &q, State: state, UserID: r.ctx.UserID}
	if err = r.ctx.rt.Dispatcher.Dispatch(hooks.BeforeFind, r.objectName, hctx); err != nil {
		return nil, err
	}
	applyRestrictions(&q, hctx.RestrictFilters(), r.ctx.IsSystem)

	d, err := r.ctx.rt.driverFor(def)
	if err != nil {
		return nil, err
	}
	callStart := time.Now()
	records, derr := d.Find(r.ctx.std, r.objectName, q, r.findOptions())
	r.observeDriverCall(def, "find", callStart, derr)
	if derr != nil {
		err = apierr.Wrap(apierr.CodeDriverQueryFailed, "find failed", derr)
		return nil, err
	}

	hctx.Result = records
	if err = r.ctx.rt.Dispatcher.Dispatch(hooks.AfterFind, r.objectName, hctx); err != nil {
		return nil, err
	}
	if out, ok := hctx.Result.([]map[string]any); ok {
		return out, nil
	}
	return records, nil
}

// FindOne resolves a single record by id, running beforeFind/afterFind the
// same as Find. Filters appended via utils.restrict are checked against the
// fetched record (unless ctx.IsSystem); a record failing one is treated as
// not found.
func (r *Repository) FindOne(id string, q *query.QueryAST) (result map[string]any, err error) {
	opStart := time.Now()
	defer func() { r.observeOperation("findOne", opStart, err) }()

	def, err := r.resolve()
	if err != nil {
		return nil, err
	}
	d, err := r.ctx.rt.driverFor(def)
	if err != nil {
		return nil, err
	}

	state := map[string]any{}
	hctx := &hooks.HookContext{Ctx: r.ctx.std, Object: r.objectName, Query: q, State: state, UserID: r.ctx.UserID}
	if err = r.ctx.rt.Dispatcher.Dispatch(hooks.BeforeFind, r.objectName, hctx); err != nil {
		return nil, err
	}

	callStart := time.Now()
	rec, derr := d.FindOne(r.ctx.std, r.objectName, id, q, r.findOptions())
	r.observeDriverCall(def, "findOne", callStart, derr)
	if derr != nil {
		err = apierr.Wrap(apierr.CodeDriverQueryFailed, "findOne failed", derr)
		return nil, err
	}
	if rec != nil && !r.ctx.IsSystem {
		for _, f := range hctx.RestrictFilters() {
			if fc, ok := f.(query.FilterCondition); ok && !query.Match(fc, rec) {
				rec = nil
				break
			}
		}
	}

	hctx.Result = rec
	if err = r.ctx.rt.Dispatcher.Dispatch(hooks.AfterFind, r.objectName, hctx); err != nil {
		return nil, err
	}
	if rec, ok := hctx.Result.(map[string]any); ok {
		return rec, nil
	}
	return nil, nil
}

// Count runs beforeCount/afterCount around the driver's count.
func (r *Repository) Count(filter *query.FilterCondition) (result int, err error) {
	opStart := time.Now()
	defer func() { r.observeOperation("count", opStart, err) }()

	def, err := r.resolve()
	if err != nil {
		return 0, err
	}
	d, err := r.ctx.rt.driverFor(def)
	if err != nil {
		return 0, err
	}

	var q query.QueryAST
	if filter != nil {
		q.Where = filter
	}
	state := map[string]any{}
	hctx := &hooks.HookContext{Ctx: r.ctx.std, Object: r.objectName, Query: &q, State: state, UserID: r.ctx.UserID}
	if err = r.ctx.rt.Dispatcher.Dispatch(hooks.BeforeCount, r.objectName, hctx); err != nil {
		return 0, err
	}
	applyRestrictions(&q, hctx.RestrictFilters(), r.ctx.IsSystem)

	callStart := time.Now()
	count, derr := d.Count(r.ctx.std, r.objectName, q.Where, r.findOptions())
	r.observeDriverCall(def, "count", callStart, derr)
	if derr != nil {
		err = apierr.Wrap(apierr.CodeDriverQueryFailed, "count failed", derr)
		return 0, err
	}

	hctx.Result = count
	if err = r.ctx.rt.Dispatcher.Dispatch(hooks.AfterCount, r.objectName, hctx); err != nil {
		return 0, err
	}
	if n, ok := hctx.Result.(int); ok {
		return n, nil
	}
	return count, nil
}

// Create runs the write pipeline for a create operation.
func (r *Repository) Create(data map[string]any) (result map[string]any, err error) {
	opStart := time.Now()
	defer func() { r.observeOperation("create", opStart, err) }()

	def, err := r.resolve()
	if err != nil {
		return nil, err
	}
	d, err := r.ctx.rt.driverFor(def)
	if err != nil {
		return nil, err
	}

	payload := cloneMap(data)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	payload[metadata.FieldCreatedBy] = r.ctx.UserID
	payload[metadata.FieldUpdatedBy] = r.ctx.UserID
	payload[metadata.FieldCreatedAt] = now
	payload[metadata.FieldUpdatedAt] = now
	if _, has := payload[metadata.FieldSpaceID]; !has && r.ctx.SpaceID != "" {
		payload[metadata.FieldSpaceID] = r.ctx.SpaceID
	}

	state := map[string]any{}
	hctx := &hooks.HookContext{Ctx: r.ctx.std, Object: r.objectName, Data: payload, State: state, UserID: r.ctx.UserID}
	if err = r.ctx.rt.Dispatcher.Dispatch(hooks.BeforeCreate, r.objectName, hctx); err != nil {
		return nil, err
	}

	changed := changedFieldSet(hctx.Data, nil)
	vctx := validate.Context{Record: hctx.Data, Operation: metadata.OpCreate, ChangedFields: changed}
	if verr := runValidation(def, vctx); verr != nil {
		err = verr
		return nil, err
	}

	callStart := time.Now()
	created, derr := d.Create(r.ctx.std, r.objectName, hctx.Data, r.findOptions())
	r.observeDriverCall(def, "create", callStart, derr)
	if derr != nil {
		err = apierr.Wrap(apierr.CodeDriverQueryFailed, "create failed", derr)
		return nil, err
	}

	hctx.Result = created
	if err = r.ctx.rt.Dispatcher.Dispatch(hooks.AfterCreate, r.objectName, hctx); err != nil {
		return nil, err
	}
	if rec, ok := hctx.Result.(map[string]any); ok {
		return rec, nil
	}
	return created, nil
}

// Update runs the write pipeline for an update operation.
func (r *Repository) Update(id string, data map[string]any) (result map[string]any, err error) {
	opStart := time.Now()
	defer func() { r.observeOperation("update", opStart, err) }()

	def, err := r.resolve()
	if err != nil {
		return nil, err
	}
	d, err := r.ctx.rt.driverFor(def)
	if err != nil {
		return nil, err
	}

	lookupStart := time.Now()
	previous, derr := d.FindOne(r.ctx.std, r.objectName, id, nil, r.findOptions())
	r.observeDriverCall(def, "findOne", lookupStart, derr)
	if derr != nil {
		err = apierr.Wrap(apierr.CodeDriverQueryFailed, "lookup before update failed", derr)
		return nil, err
	}
	if previous == nil {
		err = apierr.NotFound(r.objectName, id)
		return nil, err
	}

	payload := cloneMap(data)
	payload[metadata.FieldUpdatedBy] = r.ctx.UserID
	payload[metadata.FieldUpdatedAt] = time.Now().UTC().Format(time.RFC3339Nano)

	state := map[string]any{}
	hctx := &hooks.HookContext{Ctx: r.ctx.std, Object: r.objectName, Data: payload, PreviousData: previous, State: state, UserID: r.ctx.UserID}
	if err = r.ctx.rt.Dispatcher.Dispatch(hooks.BeforeUpdate, r.objectName, hctx); err != nil {
		return nil, err
	}

	changed := changedFieldSet(hctx.Data, previous)
	merged := cloneMap(previous)
	for k, v := range hctx.Data {
		merged[k] = v
	}
	vctx := validate.Context{Record: merged, PreviousRecord: previous, Operation: metadata.OpUpdate, ChangedFields: changed}
	if verr := runValidation(def, vctx); verr != nil {
		err = verr
		return nil, err
	}

	updateStart := time.Now()
	updated, uerr := d.Update(r.ctx.std, r.objectName, id, hctx.Data, r.findOptions())
	r.observeDriverCall(def, "update", updateStart, uerr)
	if uerr != nil {
		err = apierr.Wrap(apierr.CodeDriverQueryFailed, "update failed", uerr)
		return nil, err
	}

	hctx.Result = updated
	if err = r.ctx.rt.Dispatcher.Dispatch(hooks.AfterUpdate, r.objectName, hctx); err != nil {
		return nil, err
	}
	if rec, ok := hctx.Result.(map[string]any); ok {
		return rec, nil
	}
	return updated, nil
}

// Delete runs the write pipeline for a delete operation.
func (r *Repository) Delete(id string) (err error) {
	opStart := time.Now()
	defer func() { r.observeOperation("delete", opStart, err) }()

	def, err := r.resolve()
	if err != nil {
		return err
	}
	d, err := r.ctx.rt.driverFor(def)
	if err != nil {
		return err
	}

	lookupStart := time.Now()
	previous, derr := d.FindOne(r.ctx.std, r.objectName, id, nil, r.findOptions())
	r.observeDriverCall(def, "findOne", lookupStart, derr)
	if derr != nil {
		err = apierr.Wrap(apierr.CodeDriverQueryFailed, "lookup before delete failed", derr)
		return err
	}
	if previous == nil {
		err = apierr.NotFound(r.objectName, id)
		return err
	}

	state := map[string]any{}
	hctx := &hooks.HookContext{Ctx: r.ctx.std, Object: r.objectName, PreviousData: previous, State: state, UserID: r.ctx.UserID}
	if err = r.ctx.rt.Dispatcher.Dispatch(hooks.BeforeDelete, r.objectName, hctx); err != nil {
		return err
	}

	vctx := validate.Context{Record: previous, PreviousRecord: previous, Operation: metadata.OpDelete, ChangedFields: nil}
	if verr := runValidation(def, vctx); verr != nil {
		err = verr
		return err
	}

	deleteStart := time.Now()
	derr = d.Delete(r.ctx.std, r.objectName, id, r.findOptions())
	r.observeDriverCall(def, "delete", deleteStart, derr)
	if derr != nil {
		err = apierr.Wrap(apierr.CodeDriverQueryFailed, "delete failed", derr)
		return err
	}

	if err = r.ctx.rt.Dispatcher.Dispatch(hooks.AfterDelete, r.objectName, hctx); err != nil {
		return err
	}
	return nil
}

// Execute runs a named action action execution algorithm.
func (r *Repository) Execute(actionName string, id string, input map[string]any) (result any, err error) {
	opStart := time.Now()
	defer func() { r.observeOperation("execute:"+actionName, opStart, err) }()

	def, err := r.resolve()
	if err != nil {
		return nil, err
	}
	action, ok := def.Actions[actionName]
	if !ok {
		err = apierr.NotFound("action", actionName)
		return nil, err
	}

	if action.Kind == metadata.ActionRecord && id == "" {
		err = apierr.Validation("record action " + actionName + " requires an id")
		return nil, err
	}
	if action.Kind == metadata.ActionGlobal && id != "" {
		err = apierr.Validation("global action " + actionName + " does not accept an id")
		return nil, err
	}

	for name, fd := range action.Params {
		if verr := validate.ValidateField(fd, input[name]); verr != nil {
			err = verr
			return nil, err
		}
	}

	result, err = r.ctx.rt.Dispatcher.ExecuteAction(r.ctx.std, string(action.Kind), hooks.ActionRequest{
		ObjectName: r.objectName,
		ActionName: actionName,
		ID:         id,
		Input:      input,
		UserID:     r.ctx.UserID,
		API:        contextAPI{ctx: r.ctx},
		State:      map[string]any{},
	})
	return result, err
}

// contextAPI adapts *Context to hooks.API, giving an action handler the
// same object-scoped CRUD surface a request handler gets from
// ctx.Object(name).
type contextAPI struct {
	ctx *Context
}

func (a contextAPI) Object(name string) hooks.RepositoryAPI {
	return a.ctx.Object(name)
}

func runValidation(def metadata.ObjectDefinition, vctx validate.Context) error {
	fieldViolations := validate.FieldRulesFor(def.Fields, vctx.Record)
	result := validate.Run(def.ValidationRules, vctx)
	errs := append(fieldViolations, result.Errors...)
	if len(errs) > 0 {
		first := errs[0]
		details := make(map[string]any, len(errs))
		for _, v := range errs {
			details[v.Field] = v.Message
		}

		code := apierr.CodeValidation
		switch first.ErrorCode {
		case string(apierr.CodeInvalidStateTransition):
			code = apierr.CodeInvalidStateTransition
		case string(apierr.CodeInvalidRegex):
			code = apierr.CodeInvalidRegex
		case string(apierr.CodeInvalidDateRange):
			code = apierr.CodeInvalidDateRange
		}
		return apierr.New(code, first.Message).WithDetail("violations", details)
	}
	return nil
}

// applyRestrictions ANDs every filter collected via utils.restrict onto q,
// unless ctx.IsSystem, in which case restrict is a no-op
func applyRestrictions(q *query.QueryAST, filters []any, isSystem bool) {
	if isSystem || len(filters) == 0 {
		return
	}
	children := []query.FilterCondition{}
	if q.Where != nil {
		children = append(children, *q.Where)
	}
	for _, f := range filters {
		if fc, ok := f.(query.FilterCondition); ok {
			children = append(children, fc)
		}
	}
	if len(children) == 0 {
		return
	}
	merged := query.And(children...)
	q.Where = &merged
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
