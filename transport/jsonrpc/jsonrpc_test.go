package jsonrpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/objectql-dev/objectql/driver"
	"github.com/objectql-dev/objectql/metadata"
	"github.com/objectql-dev/objectql/runtime"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	mem := driver.NewMemoryDriver()
	rt := runtime.New(map[string]driver.Driver{"default": mem}, "default")
	if err := rt.Registry.RegisterObject(metadata.ObjectDefinition{Name: "products"}, "test", metadata.OwnershipOwn, 0); err != nil {
		t.Fatalf("register object: %v", err)
	}
	return New(rt, nil)
}

// TestBatchWithUnknownMethod is Scenario 5: a 3-request batch
// where the middle request names an unknown method returns three
// responses in order, the unknown one carrying error.code -32601 and the
// other two an integer result.
func TestBatchWithUnknownMethod(t *testing.T) {
	a := newTestAdapter(t)
	body := `[
		{"method":"object.count","params":["products"],"id":1},
		{"method":"unknown","params":[],"id":2},
		{"method":"object.count","id":3}
	]`
	req := httptest.NewRequest(http.MethodPost, "/api/objectql", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	var got []Response
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(got))
	}
	if got[1].Error == nil || got[1].Error.Code != codeMethodNotFound {
		t.Fatalf("expected response 2 to carry -32601, got %+v", got[1])
	}
	if _, ok := got[0].Result.(float64); !ok {
		t.Fatalf("expected response 1 result to be a number, got %T (%v)", got[0].Result, got[0].Result)
	}
	if got[2].Result == nil {
		t.Fatalf("expected response 3 (no params) to carry a result")
	}
}

func TestEmptyBatchIsInvalidRequest(t *testing.T) {
	a := newTestAdapter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/objectql", bytes.NewBufferString(`[]`))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	var got Response
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Error == nil || got.Error.Code != codeInvalidRequest {
		t.Fatalf("expected -32600, got %+v", got)
	}
}

func TestSingleRequestCreateThenGet(t *testing.T) {
	a := newTestAdapter(t)

	createBody := `{"method":"object.create","params":["products",{"name":"widget"}],"id":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/objectql", bytes.NewBufferString(createBody))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	var createResp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &createResp); err != nil {
		t.Fatalf("decode create response: %v (body=%s)", err, rec.Body.String())
	}
	if createResp.Error != nil {
		t.Fatalf("unexpected create error: %+v", createResp.Error)
	}
	created, ok := createResp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected object result, got %T", createResp.Result)
	}
	id, _ := created["_id"].(string)
	if id == "" {
		t.Fatalf("expected a non-empty _id, got %v", created)
	}

	getBody := `{"method":"object.get","params":["products","` + id + `"],"id":2}`
	req2 := httptest.NewRequest(http.MethodPost, "/api/objectql", bytes.NewBufferString(getBody))
	rec2 := httptest.NewRecorder()
	a.ServeHTTP(rec2, req2)

	var getResp Response
	if err := json.Unmarshal(rec2.Body.Bytes(), &getResp); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if getResp.Error != nil {
		t.Fatalf("unexpected get error: %+v", getResp.Error)
	}
}

func TestNotificationGetsNoResponseSlot(t *testing.T) {
	a := newTestAdapter(t)
	body := `[
		{"method":"object.count","params":["products"]},
		{"method":"object.count","params":["products"],"id":7}
	]`
	req := httptest.NewRequest(http.MethodPost, "/api/objectql", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	var got []Response
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 response (notification omitted), got %d", len(got))
	}
}
