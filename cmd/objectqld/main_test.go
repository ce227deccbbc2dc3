//go:build integration
// +build integration

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectql-dev/objectql/driver"
	"github.com/objectql-dev/objectql/metadata"
	"github.com/objectql-dev/objectql/objectqllog"
	"github.com/objectql-dev/objectql/objectqlmetrics"
	"github.com/objectql-dev/objectql/runtime"
	"github.com/objectql-dev/objectql/transport/common"
)

// newTestRouter builds the full objectqld handler stack against an
// in-memory driver, exercising buildRouter the way main() does but without
// a live network listener or process-wide Prometheus registry.
func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	drivers := map[string]driver.Driver{"memory": driver.NewMemoryDriver()}
	rt := runtime.New(drivers, "memory")

	err := rt.Registry.RegisterObject(metadata.ObjectDefinition{
		Name: "contact",
		Fields: map[string]metadata.FieldDefinition{
			"name": {Name: "name", Kind: metadata.FieldText, Required: true},
		},
	}, "objectqld_test", metadata.OwnershipOwn, 0)
	require.NoError(t, err)

	metrics := objectqlmetrics.NewWithRegistry("objectqld_test", prometheus.NewRegistry())
	logger := objectqllog.New("objectqld_test", "error", "json")

	return buildRouter(rt, common.DevContextFunc, metrics, logger)
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestEnvelopeCreateThenFindRoundTrip drives a create then a find through
// the /api/objectql envelope endpoint end-to-end, the same way a real
// client would, and confirms the record created in one request is visible
// to a later one against the shared in-memory driver.
func TestEnvelopeCreateThenFindRoundTrip(t *testing.T) {
	router := newTestRouter(t)

	createBody, err := json.Marshal(map[string]any{
		"op":     "create",
		"object": "contact",
		"args":   map[string]any{"name": "Ada Lovelace"},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/objectql", bytes.NewReader(createBody))
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Ada Lovelace", created["name"])
	assert.NotEmpty(t, created["_id"])

	findBody, err := json.Marshal(map[string]any{
		"op":     "find",
		"object": "contact",
		"args":   map[string]any{},
	})
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/objectql", bytes.NewReader(findBody))
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var found struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &found))
	require.Len(t, found.Items, 1)
	assert.Equal(t, "Ada Lovelace", found.Items[0]["name"])
}

// TestRESTCreateRejectsMissingRequiredField confirms the validator runs
// through the REST adapter mounted on the shared router, not just through
// the envelope.
func TestRESTCreateRejectsMissingRequiredField(t *testing.T) {
	router := newTestRouter(t)

	body, err := json.Marshal(map[string]any{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/data/contact", bytes.NewReader(body))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}
