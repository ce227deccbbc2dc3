package envelope

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/objectql-dev/objectql/driver"
	"github.com/objectql-dev/objectql/hooks"
	"github.com/objectql-dev/objectql/metadata"
	"github.com/objectql-dev/objectql/runtime"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	mem := driver.NewMemoryDriver()
	rt := runtime.New(map[string]driver.Driver{"default": mem}, "default")
	if err := rt.Registry.RegisterObject(metadata.ObjectDefinition{Name: "post"}, "test", metadata.OwnershipOwn, 0); err != nil {
		t.Fatalf("register object: %v", err)
	}
	rt.Dispatcher.On(hooks.BeforeCreate, "post", func(hctx *hooks.HookContext) error {
		if _, has := hctx.Data["status"]; !has {
			hctx.Data["status"] = "draft"
		}
		return nil
	})
	return New(rt, nil)
}

// TestScenarioBeforeCreateHookSetsDefault mirrors Scenario 4
// through the operation-envelope endpoint.
func TestScenarioBeforeCreateHookSetsDefault(t *testing.T) {
	a := newTestAdapter(t)
	body := `{"op":"create","object":"post","args":{"title":"x"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/objectql", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body=%s)", rec.Code, rec.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created["status"] != "draft" {
		t.Fatalf("expected status=draft, got %v", created)
	}
}

func TestUnknownOpReturnsValidationError(t *testing.T) {
	a := newTestAdapter(t)
	body := `{"op":"frobnicate","object":"post"}`
	req := httptest.NewRequest(http.MethodPost, "/api/objectql", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body=%s)", rec.Code, rec.Body.String())
	}
}

func TestFindReturnsItemsAndMeta(t *testing.T) {
	a := newTestAdapter(t)
	create := `{"op":"create","object":"post","args":{"title":"x"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/objectql", bytes.NewBufferString(create))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("setup create failed: %d %s", rec.Code, rec.Body.String())
	}

	find := `{"op":"find","object":"post","args":{}}`
	req2 := httptest.NewRequest(http.MethodPost, "/api/objectql", bytes.NewBufferString(find))
	rec2 := httptest.NewRecorder()
	a.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body=%s)", rec2.Code, rec2.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rec2.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	items, ok := out["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected 1 item, got %v", out["items"])
	}
	meta, ok := out["meta"].(map[string]any)
	if !ok || meta["total"] != float64(1) {
		t.Fatalf("expected meta.total=1, got %v", out["meta"])
	}
}
