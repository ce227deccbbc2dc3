// Package metadata (transport) serves the Metadata API: the
// same wire shape the Remote Federation Driver (drivers/remote) consumes
// from an upstream ObjectQL server, so one ObjectQL process can federate
// off another. Grounded on gorilla/mux route registration
// and its read-only, no-auth-required metadata listing pattern seen
// across infrastructure/httputil's GET handlers.
package metadata

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/objectql-dev/objectql/apierr"
	objmeta "github.com/objectql-dev/objectql/metadata"
	"github.com/objectql-dev/objectql/transport/common"
)

// Adapter serves the metadata introspection endpoints for a Registry.
type Adapter struct {
	registry *objmeta.Registry
}

// New returns a metadata Adapter over registry.
func New(registry *objmeta.Registry) *Adapter {
	return &Adapter{registry: registry}
}

// Mount registers every metadata route under prefix (default
// "/api/metadata") on router.
func (a *Adapter) Mount(router *mux.Router, prefix string) {
	if prefix == "" {
		prefix = "/api/metadata"
	}
	router.HandleFunc(prefix+"/objects", a.handleListObjects).Methods(http.MethodGet)
	router.HandleFunc(prefix+"/objects/{name}", a.handleGetObject).Methods(http.MethodGet)
	router.HandleFunc(prefix+"/objects/{name}/fields/{field}", a.handleGetField).Methods(http.MethodGet)
	router.HandleFunc(prefix+"/objects/{name}/actions", a.handleListActions).Methods(http.MethodGet)
}

type objectSummary struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

func (a *Adapter) handleListObjects(w http.ResponseWriter, r *http.Request) {
	defs := a.registry.Objects()
	out := make([]objectSummary, 0, len(defs))
	for _, def := range defs {
		out = append(out, objectSummary{Name: def.Fqn(), Label: def.Label})
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"objects": out})
}

func (a *Adapter) handleGetObject(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	def, ok := a.registry.Object(name)
	if !ok {
		common.WriteError(w, apierr.NotFound("object", name))
		return
	}
	common.WriteJSON(w, http.StatusOK, def)
}

func (a *Adapter) handleGetField(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, field := vars["name"], vars["field"]
	def, ok := a.registry.Object(name)
	if !ok {
		common.WriteError(w, apierr.NotFound("object", name))
		return
	}
	fd, ok := def.Fields[field]
	if !ok {
		common.WriteError(w, apierr.NotFound("field", field))
		return
	}
	common.WriteJSON(w, http.StatusOK, fd)
}

func (a *Adapter) handleListActions(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	def, ok := a.registry.Object(name)
	if !ok {
		common.WriteError(w, apierr.NotFound("object", name))
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"actions": def.Actions})
}
