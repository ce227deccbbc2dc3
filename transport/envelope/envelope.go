// Package envelope implements primary wire form: a single POST
// /api/objectql endpoint carrying { op, object, args }, dispatching find,
// findOne, create, update, delete, count, action, createMany, updateMany,
// and deleteMany onto a Repository. Grounded on
// HandleJSON-style single-endpoint dispatch
// (infrastructure/httputil/handler.go), generalized from a fixed
// request/response type pair to an op-tagged union.
package envelope

import (
	"net/http"

	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/query"
	"github.com/objectql-dev/objectql/runtime"
	"github.com/objectql-dev/objectql/transport/common"
)

// Adapter serves the operation envelope endpoint.
type Adapter struct {
	rt      *runtime.Runtime
	ctxFunc common.ContextFunc
}

// New returns an envelope Adapter bound to rt.
func New(rt *runtime.Runtime, ctxFunc common.ContextFunc) *Adapter {
	if ctxFunc == nil {
		ctxFunc = common.DevContextFunc
	}
	return &Adapter{rt: rt, ctxFunc: ctxFunc}
}

type request struct {
	Op     string `json:"op"`
	Object string `json:"object"`
	Args   any    `json:"args"`
}

// ServeHTTP implements http.Handler so callers can mount it directly or
// wrap it in their own router.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if req.Op == "" {
		common.WriteError(w, apierr.Validation("op is required"))
		return
	}

	ctx := a.ctxFunc(r, a.rt)
	repo := ctx.Object(req.Object)

	switch req.Op {
	case "find":
		a.handleFind(w, req, repo)
	case "findOne":
		a.handleFindOne(w, req, repo)
	case "create":
		a.handleCreate(w, req, repo, req.Object)
	case "update":
		a.handleUpdate(w, req, repo, req.Object)
	case "delete":
		a.handleDelete(w, req, repo)
	case "count":
		a.handleCount(w, req, repo)
	case "action":
		a.handleAction(w, req, repo)
	case "createMany":
		a.handleCreateMany(w, req, repo, req.Object)
	case "updateMany":
		a.handleUpdateMany(w, req, repo)
	case "deleteMany":
		a.handleDeleteMany(w, req, repo)
	default:
		common.WriteError(w, apierr.Validation("unknown op: "+req.Op))
	}
}

func argsMap(args any) map[string]any {
	m, _ := args.(map[string]any)
	return m
}

func (a *Adapter) handleFind(w http.ResponseWriter, req request, repo *runtime.Repository) {
	m := argsMap(req.Args)
	filter, err := common.ParseFilter(m["filters"])
	if err != nil {
		common.WriteError(w, err)
		return
	}
	ast := query.QueryAST{Object: req.Object, Where: filter}
	if fields, ok := m["fields"].([]any); ok {
		for _, f := range fields {
			if s, ok := f.(string); ok {
				ast.Fields = append(ast.Fields, s)
			}
		}
	}
	if n, ok := numberArg(m, "limit", "top"); ok {
		ast.Limit = &n
	}
	if n, ok := numberArg(m, "skip", "offset"); ok {
		ast.Offset = &n
	}
	records, err := repo.Find(ast)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	total, err := repo.Count(filter)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	limit, offset := 0, 0
	if ast.Limit != nil {
		limit = *ast.Limit
	}
	if ast.Offset != nil {
		offset = *ast.Offset
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"items": records, "meta": common.BuildMeta(total, limit, offset)})
}

func numberArg(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int(v), true
		case int:
			return v, true
		}
	}
	return 0, false
}

func (a *Adapter) handleFindOne(w http.ResponseWriter, req request, repo *runtime.Repository) {
	var id string
	var filter *query.FilterCondition
	switch v := req.Args.(type) {
	case string:
		id = v
	case map[string]any:
		if s, ok := v["id"].(string); ok {
			id = s
		}
		f, err := common.ParseFilter(v["filters"])
		if err != nil {
			common.WriteError(w, err)
			return
		}
		filter = f
	}
	var q *query.QueryAST
	if filter != nil {
		q = &query.QueryAST{Where: filter}
	}
	rec, err := repo.FindOne(id, q)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if rec == nil {
		common.WriteError(w, apierr.NotFound(req.Object, id))
		return
	}
	rec["@type"] = req.Object
	common.WriteJSON(w, http.StatusOK, rec)
}

func (a *Adapter) handleCreate(w http.ResponseWriter, req request, repo *runtime.Repository, object string) {
	data, _ := req.Args.(map[string]any)
	created, err := repo.Create(data)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	created["@type"] = object
	common.WriteJSON(w, http.StatusCreated, created)
}

func (a *Adapter) handleUpdate(w http.ResponseWriter, req request, repo *runtime.Repository, object string) {
	m := argsMap(req.Args)
	id, _ := m["id"].(string)
	data, _ := m["data"].(map[string]any)
	updated, err := repo.Update(id, data)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	updated["@type"] = object
	common.WriteJSON(w, http.StatusOK, updated)
}

func (a *Adapter) handleDelete(w http.ResponseWriter, req request, repo *runtime.Repository) {
	m := argsMap(req.Args)
	id, _ := m["id"].(string)
	if err := repo.Delete(id); err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *Adapter) handleCount(w http.ResponseWriter, req request, repo *runtime.Repository) {
	m := argsMap(req.Args)
	filter, err := common.ParseFilter(m["filters"])
	if err != nil {
		common.WriteError(w, err)
		return
	}
	n, err := repo.Count(filter)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"count": n})
}

func (a *Adapter) handleAction(w http.ResponseWriter, req request, repo *runtime.Repository) {
	m := argsMap(req.Args)
	actionName, _ := m["action"].(string)
	id, _ := m["id"].(string)
	input, _ := m["input"].(map[string]any)
	result, err := repo.Execute(actionName, id, input)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (a *Adapter) handleCreateMany(w http.ResponseWriter, req request, repo *runtime.Repository, object string) {
	items, _ := req.Args.([]any)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		data, _ := item.(map[string]any)
		created, err := repo.Create(data)
		if err != nil {
			common.WriteJSON(w, http.StatusOK, map[string]any{"items": out, "error": err.Error()})
			return
		}
		created["@type"] = object
		out = append(out, created)
	}
	common.WriteJSON(w, http.StatusCreated, map[string]any{"items": out})
}

func (a *Adapter) handleUpdateMany(w http.ResponseWriter, req request, repo *runtime.Repository) {
	m := argsMap(req.Args)
	filter, err := common.ParseFilter(m["filters"])
	if err != nil {
		common.WriteError(w, err)
		return
	}
	data, _ := m["data"].(map[string]any)
	records, err := repo.Find(query.QueryAST{Where: filter})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	affected := 0
	for _, rec := range records {
		id, _ := rec["_id"].(string)
		if id == "" {
			continue
		}
		if _, uerr := repo.Update(id, data); uerr != nil {
			common.WriteJSON(w, http.StatusOK, map[string]any{"affected": affected, "error": uerr.Error()})
			return
		}
		affected++
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"affected": affected})
}

func (a *Adapter) handleDeleteMany(w http.ResponseWriter, req request, repo *runtime.Repository) {
	m := argsMap(req.Args)
	filter, err := common.ParseFilter(m["filters"])
	if err != nil {
		common.WriteError(w, err)
		return
	}
	records, err := repo.Find(query.QueryAST{Where: filter})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	affected := 0
	for _, rec := range records {
		id, _ := rec["_id"].(string)
		if id == "" {
			continue
		}
		if derr := repo.Delete(id); derr != nil {
			common.WriteJSON(w, http.StatusOK, map[string]any{"affected": affected, "error": derr.Error()})
			return
		}
		affected++
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"affected": affected})
}
