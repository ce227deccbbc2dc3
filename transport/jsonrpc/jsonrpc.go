// Package jsonrpc implements the JSON-RPC 2.0 adapter: a POST endpoint
// (cmd/objectqld mounts it at /api/rpc) accepting a single request or a
// batch array,
// dispatching object.*, metadata.*, action.*, view.get, and system.*
// methods. Grounded on Dispatcher/ExecuteAction
// registration-by-name pattern (hooks/dispatch.go, itself modeled on
// system/framework/core's mutex-guarded Registry), generalized from
// (event,object) keys to a flat JSON-RPC method-name registry.
package jsonrpc

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/query"
	"github.com/objectql-dev/objectql/runtime"
	"github.com/objectql-dev/objectql/transport/common"
)

// Standard JSON-RPC 2.0 error codes,
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

// Request is one JSON-RPC 2.0 call. ID is any to preserve the caller's
// chosen type (number or string) in the echoed response; a nil ID marks a
// notification, which this adapter still executes but never answers.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// Response is one JSON-RPC 2.0 reply.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  any         `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      any         `json:"id"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// methodDef binds a method name to its positional parameter names (used to
// map named-object params onto positional order) and handler.
type methodDef struct {
	params  []string
	handler func(ctx *runtime.Context, args []any) (any, error)
}

// Adapter serves the JSON-RPC 2.0 endpoint over a Runtime.
type Adapter struct {
	rt      *runtime.Runtime
	ctxFunc common.ContextFunc
	methods map[string]methodDef
}

// New returns a JSON-RPC Adapter bound to rt with every method
// registered.
func New(rt *runtime.Runtime, ctxFunc common.ContextFunc) *Adapter {
	if ctxFunc == nil {
		ctxFunc = common.DevContextFunc
	}
	a := &Adapter{rt: rt, ctxFunc: ctxFunc, methods: make(map[string]methodDef)}
	a.registerMethods()
	return a
}

func (a *Adapter) registerMethods() {
	a.methods["object.find"] = methodDef{[]string{"object", "filters", "sort", "limit", "skip"}, a.objectFind}
	a.methods["object.get"] = methodDef{[]string{"object", "id"}, a.objectGet}
	a.methods["object.create"] = methodDef{[]string{"object", "data"}, a.objectCreate}
	a.methods["object.update"] = methodDef{[]string{"object", "id", "data"}, a.objectUpdate}
	a.methods["object.delete"] = methodDef{[]string{"object", "id"}, a.objectDelete}
	a.methods["object.count"] = methodDef{[]string{"object", "filters"}, a.objectCount}
	a.methods["metadata.list"] = methodDef{nil, a.metadataList}
	a.methods["metadata.get"] = methodDef{[]string{"object"}, a.metadataGet}
	a.methods["metadata.getAll"] = methodDef{nil, a.metadataGetAll}
	a.methods["action.execute"] = methodDef{[]string{"object", "action", "id", "input"}, a.actionExecute}
	a.methods["action.list"] = methodDef{[]string{"object"}, a.actionList}
	a.methods["view.get"] = methodDef{[]string{"object", "view"}, a.viewGet}
	a.methods["system.listMethods"] = methodDef{nil, a.systemListMethods}
	a.methods["system.describe"] = methodDef{[]string{"method"}, a.systemDescribe}
}

// ServeHTTP accepts either a single Request object or a JSON array of
// Requests (a batch). An empty batch is itself invalid-request.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := common.DecodeJSON(r, &raw); err != nil || len(raw) == 0 {
		common.WriteJSON(w, http.StatusOK, errorResponse(nil, codeParseError, "parse error"))
		return
	}

	trimmed := jsonFirstNonSpace(raw)
	if trimmed == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			common.WriteJSON(w, http.StatusOK, errorResponse(nil, codeParseError, "parse error"))
			return
		}
		if len(batch) == 0 {
			common.WriteJSON(w, http.StatusOK, errorResponse(nil, codeInvalidRequest, "empty batch"))
			return
		}
		ctx := a.ctxFunc(r, a.rt)
		responses := make([]Response, 0, len(batch))
		for _, item := range batch {
			if resp, ok := a.handleOne(ctx, item); ok {
				responses = append(responses, resp)
			}
		}
		common.WriteJSON(w, http.StatusOK, responses)
		return
	}

	ctx := a.ctxFunc(r, a.rt)
	if resp, ok := a.handleOne(ctx, raw); ok {
		common.WriteJSON(w, http.StatusOK, resp)
	} else {
		w.WriteHeader(http.StatusNoContent)
	}
}

func jsonFirstNonSpace(raw json.RawMessage) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}

// handleOne decodes and dispatches a single request, returning ok=false
// for a notification (no id) so the caller omits it from a batch reply.
func (a *Adapter) handleOne(ctx *runtime.Context, raw json.RawMessage) (Response, bool) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, codeParseError, "parse error"), true
	}
	if req.Method == "" {
		return errorResponse(req.ID, codeInvalidRequest, "method is required"), req.ID != nil
	}

	def, ok := a.methods[req.Method]
	if !ok {
		return errorResponse(req.ID, codeMethodNotFound, "method not found: "+req.Method), req.ID != nil
	}

	args, err := resolveParams(req.Params, def.params)
	if err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error()), req.ID != nil
	}

	result, err := def.handler(ctx, args)
	if err != nil {
		return errorResponse(req.ID, codeFromErr(err), err.Error()), req.ID != nil
	}
	if req.ID == nil {
		return Response{}, false
	}
	return Response{JSONRPC: "2.0", Result: result, ID: req.ID}, true
}

func codeFromErr(err error) int {
	if apiErr, ok := apierr.As(err); ok {
		switch apiErr.Code {
		case apierr.CodeValidation, apierr.CodeInvalidRegex, apierr.CodeInvalidStateTransition, apierr.CodeInvalidDateRange:
			return codeInvalidParams
		case apierr.CodeNotFound:
			return codeMethodNotFound
		}
	}
	return codeInternal
}

func errorResponse(id any, code int, message string) Response {
	return Response{JSONRPC: "2.0", Error: &RPCError{Code: code, Message: message}, ID: id}
}

// resolveParams accepts params as a JSON array (positional, used as-is) or
// a JSON object (named, mapped onto names in order). No params at all
// yields an empty positional slice.
func resolveParams(raw json.RawMessage, names []string) ([]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var asArray []any
	if err := json.Unmarshal(raw, &asArray); err == nil {
		return asArray, nil
	}
	var asObject map[string]any
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return nil, apierr.Validation("params must be an array or object")
	}
	out := make([]any, len(names))
	for i, name := range names {
		out[i] = asObject[name]
	}
	return out, nil
}

func argString(args []any, i int) string {
	if i >= len(args) {
		return ""
	}
	s, _ := args[i].(string)
	return s
}

func argMap(args []any, i int) map[string]any {
	if i >= len(args) {
		return nil
	}
	m, _ := args[i].(map[string]any)
	return m
}

func argInt(args []any, i int) (*int, bool) {
	if i >= len(args) || args[i] == nil {
		return nil, false
	}
	if f, ok := args[i].(float64); ok {
		n := int(f)
		return &n, true
	}
	return nil, false
}

func (a *Adapter) objectFind(ctx *runtime.Context, args []any) (any, error) {
	object := argString(args, 0)
	filter, err := common.ParseFilter(argAt(args, 1))
	if err != nil {
		return nil, err
	}
	sortFields, err := parseSortArg(argAt(args, 2))
	if err != nil {
		return nil, err
	}
	ast := query.QueryAST{Object: object, Where: filter, OrderBy: sortFields}
	if n, ok := argInt(args, 3); ok {
		ast.Limit = n
	}
	if n, ok := argInt(args, 4); ok {
		ast.Offset = n
	}
	return ctx.Object(object).Find(ast)
}

func argAt(args []any, i int) any {
	if i >= len(args) {
		return nil
	}
	return args[i]
}

func parseSortArg(raw any) ([]query.SortField, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, nil
	}
	out := make([]query.SortField, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		field, _ := m["field"].(string)
		order := query.SortAsc
		if o, _ := m["order"].(string); o == string(query.SortDesc) {
			order = query.SortDesc
		}
		out = append(out, query.SortField{Field: field, Order: order})
	}
	return out, nil
}

func (a *Adapter) objectGet(ctx *runtime.Context, args []any) (any, error) {
	object, id := argString(args, 0), argString(args, 1)
	rec, err := ctx.Object(object).FindOne(id, nil)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apierr.NotFound(object, id)
	}
	return rec, nil
}

func (a *Adapter) objectCreate(ctx *runtime.Context, args []any) (any, error) {
	object := argString(args, 0)
	return ctx.Object(object).Create(argMap(args, 1))
}

func (a *Adapter) objectUpdate(ctx *runtime.Context, args []any) (any, error) {
	object := argString(args, 0)
	return ctx.Object(object).Update(argString(args, 1), argMap(args, 2))
}

func (a *Adapter) objectDelete(ctx *runtime.Context, args []any) (any, error) {
	object := argString(args, 0)
	if err := ctx.Object(object).Delete(argString(args, 1)); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

// objectCount counts records matching filters. A request whose object
// param is missing, empty, or not a string is answered with 0 rather than
// NOT_FOUND — a minimal-arity call still gets a well-formed integer
// result instead of failing the whole batch member.
func (a *Adapter) objectCount(ctx *runtime.Context, args []any) (any, error) {
	object := argString(args, 0)
	if object == "" {
		return 0, nil
	}
	filter, err := common.ParseFilter(argAt(args, 1))
	if err != nil {
		return nil, err
	}
	return ctx.Object(object).Count(filter)
}

func (a *Adapter) metadataList(ctx *runtime.Context, args []any) (any, error) {
	defs := a.rt.Registry.Objects()
	out := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		out = append(out, map[string]any{"name": def.Fqn(), "label": def.Label})
	}
	return out, nil
}

func (a *Adapter) metadataGet(ctx *runtime.Context, args []any) (any, error) {
	object := argString(args, 0)
	def, ok := a.rt.Registry.Object(object)
	if !ok {
		return nil, apierr.NotFound("object", object)
	}
	return def, nil
}

func (a *Adapter) metadataGetAll(ctx *runtime.Context, args []any) (any, error) {
	return a.rt.Registry.Objects(), nil
}

func (a *Adapter) actionExecute(ctx *runtime.Context, args []any) (any, error) {
	object := argString(args, 0)
	return ctx.Object(object).Execute(argString(args, 1), argString(args, 2), argMap(args, 3))
}

func (a *Adapter) actionList(ctx *runtime.Context, args []any) (any, error) {
	object := argString(args, 0)
	def, ok := a.rt.Registry.Object(object)
	if !ok {
		return nil, apierr.NotFound("object", object)
	}
	return def.Actions, nil
}

// viewGet has no persisted view model in this runtime (views are a
// client-side presentation concern layered on top of an ObjectDefinition);
// it answers with the object's definition, the one server-held input a
// view renders from.
func (a *Adapter) viewGet(ctx *runtime.Context, args []any) (any, error) {
	object := argString(args, 0)
	def, ok := a.rt.Registry.Object(object)
	if !ok {
		return nil, apierr.NotFound("object", object)
	}
	return map[string]any{"object": def, "view": argString(args, 1)}, nil
}

func (a *Adapter) systemListMethods(ctx *runtime.Context, args []any) (any, error) {
	names := make([]string, 0, len(a.methods))
	for name := range a.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (a *Adapter) systemDescribe(ctx *runtime.Context, args []any) (any, error) {
	name := argString(args, 0)
	def, ok := a.methods[name]
	if !ok {
		return nil, apierr.NotFound("method", name)
	}
	return map[string]any{"method": name, "params": def.params}, nil
}
