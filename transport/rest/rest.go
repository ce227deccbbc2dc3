// Package rest implements the path-style REST adapter: GET/POST
// on /api/data/:object and GET/PUT/DELETE on /api/data/:object/:id, plus
// the bulk-update and bulk-delete sub-resources. Grounded on the
// gorilla/mux route registration (infrastructure/middleware's router
// wiring) and its generic-handler response style
// (infrastructure/httputil/handler.go's HandleJSON family), adapted from
// fixed request/response structs to the object-name-driven dispatch this
// adapter needs.
package rest

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/query"
	"github.com/objectql-dev/objectql/runtime"
	"github.com/objectql-dev/objectql/transport/common"
)

// Adapter mounts the REST routes onto a *mux.Router.
type Adapter struct {
	rt      *runtime.Runtime
	ctxFunc common.ContextFunc
}

// New returns a REST Adapter bound to rt, using ctxFunc to build the
// per-request runtime.Context. A nil ctxFunc defaults to
// common.DevContextFunc.
func New(rt *runtime.Runtime, ctxFunc common.ContextFunc) *Adapter {
	if ctxFunc == nil {
		ctxFunc = common.DevContextFunc
	}
	return &Adapter{rt: rt, ctxFunc: ctxFunc}
}

// Mount registers every REST route under prefix (default "/api/data") on
// router.
func (a *Adapter) Mount(router *mux.Router, prefix string) {
	if prefix == "" {
		prefix = "/api/data"
	}
	router.HandleFunc(prefix+"/{object}", a.handleList).Methods(http.MethodGet)
	router.HandleFunc(prefix+"/{object}", a.handleCreate).Methods(http.MethodPost)
	router.HandleFunc(prefix+"/{object}/bulk-update", a.handleBulkUpdate).Methods(http.MethodPost)
	router.HandleFunc(prefix+"/{object}/bulk-delete", a.handleBulkDelete).Methods(http.MethodPost)
	router.HandleFunc(prefix+"/{object}/{id}", a.handleGet).Methods(http.MethodGet)
	router.HandleFunc(prefix+"/{object}/{id}", a.handleUpdate).Methods(http.MethodPut)
	router.HandleFunc(prefix+"/{object}/{id}", a.handleDelete).Methods(http.MethodDelete)
}

func (a *Adapter) ctx(r *http.Request) *runtime.Context {
	return a.ctxFunc(r, a.rt)
}

// handleList serves GET /api/data/:object, building a QueryAST from the
// filter/sort/limit/skip/fields query parameters. limit=0 instead answers
// the count-only shape { total }.
func (a *Adapter) handleList(w http.ResponseWriter, r *http.Request) {
	object := mux.Vars(r)["object"]
	ctx := a.ctx(r)
	q := r.URL.Query()

	filter, err := common.ParseFilterString(q.Get("filter"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if limitRaw := q.Get("limit"); limitRaw != "" {
		if n, convErr := strconv.Atoi(limitRaw); convErr == nil && n == 0 {
			total, cerr := ctx.Object(object).Count(filter)
			if cerr != nil {
				common.WriteError(w, cerr)
				return
			}
			common.WriteJSON(w, http.StatusOK, map[string]any{"total": total})
			return
		}
	}

	sort, err := common.ParseSort(q.Get("sort"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	limit, err := common.ParseIntPtr(q.Get("limit"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	skip, err := common.ParseIntPtr(q.Get("skip"))
	if err != nil {
		common.WriteError(w, err)
		return
	}

	ast := query.QueryAST{
		Object:  object,
		Fields:  common.ParseFields(q.Get("fields")),
		Where:   filter,
		OrderBy: sort,
		Limit:   limit,
		Offset:  skip,
	}

	records, err := ctx.Object(object).Find(ast)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	total, err := ctx.Object(object).Count(filter)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	effLimit := 0
	if limit != nil {
		effLimit = *limit
	}
	effSkip := 0
	if skip != nil {
		effSkip = *skip
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{
		"items": records,
		"meta":  common.BuildMeta(total, effLimit, effSkip),
	})
}

func (a *Adapter) handleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	object, id := vars["object"], vars["id"]
	rec, err := a.ctx(r).Object(object).FindOne(id, nil)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if rec == nil {
		common.WriteError(w, apierr.NotFound(object, id))
		return
	}
	rec["@type"] = object
	common.WriteJSON(w, http.StatusOK, rec)
}

func (a *Adapter) handleCreate(w http.ResponseWriter, r *http.Request) {
	object := mux.Vars(r)["object"]
	var data map[string]any
	if err := common.DecodeJSON(r, &data); err != nil {
		common.WriteError(w, err)
		return
	}
	created, err := a.ctx(r).Object(object).Create(data)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	created["@type"] = object
	common.WriteJSON(w, http.StatusCreated, created)
}

func (a *Adapter) handleUpdate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	object, id := vars["object"], vars["id"]
	var data map[string]any
	if err := common.DecodeJSON(r, &data); err != nil {
		common.WriteError(w, err)
		return
	}
	updated, err := a.ctx(r).Object(object).Update(id, data)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	updated["@type"] = object
	common.WriteJSON(w, http.StatusOK, updated)
}

func (a *Adapter) handleDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	object, id := vars["object"], vars["id"]
	if err := a.ctx(r).Object(object).Delete(id); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bulkUpdateRequest struct {
	Filters any            `json:"filters"`
	Data    map[string]any `json:"data"`
}

// handleBulkUpdate implements updateMany: every record matching Filters is
// updated with Data, one Repository.Update call per id so hooks and
// validation run exactly as they do for a single update. Partial-failure
// semantics across records are otherwise unspecified; this adapter stops
// at the first failure and reports how many records it had already
// committed, rather than silently reporting success.
func (a *Adapter) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	object := mux.Vars(r)["object"]
	var req bulkUpdateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	filter, err := common.ParseFilter(req.Filters)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	ctx := a.ctx(r)
	repo := ctx.Object(object)
	records, err := repo.Find(query.QueryAST{Object: object, Where: filter})
	if err != nil {
		common.WriteError(w, err)
		return
	}

	updated := 0
	for _, rec := range records {
		id, _ := rec["_id"].(string)
		if id == "" {
			continue
		}
		if _, uerr := repo.Update(id, req.Data); uerr != nil {
			common.WriteJSON(w, http.StatusOK, map[string]any{"affected": updated, "error": uerr.Error()})
			return
		}
		updated++
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"affected": updated})
}

type bulkDeleteRequest struct {
	Filters any `json:"filters"`
}

func (a *Adapter) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	object := mux.Vars(r)["object"]
	var req bulkDeleteRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	filter, err := common.ParseFilter(req.Filters)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	ctx := a.ctx(r)
	repo := ctx.Object(object)
	records, err := repo.Find(query.QueryAST{Object: object, Where: filter})
	if err != nil {
		common.WriteError(w, err)
		return
	}

	deleted := 0
	for _, rec := range records {
		id, _ := rec["_id"].(string)
		if id == "" {
			continue
		}
		if derr := repo.Delete(id); derr != nil {
			common.WriteJSON(w, http.StatusOK, map[string]any{"affected": deleted, "error": derr.Error()})
			return
		}
		deleted++
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"affected": deleted})
}
