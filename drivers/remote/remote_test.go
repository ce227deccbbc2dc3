package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/objectql-dev/objectql/driver"
	"github.com/objectql-dev/objectql/metadata"
	"github.com/objectql-dev/objectql/query"
)

// newMockServer serves two metadata objects (remote_user, remote_post) and a
// single remote_user record over /api/objectql, reproducing 
// Scenario 6.
func newMockServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/metadata/objects", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(metadataListResponse{
			Objects: []struct {
				Name  string `json:"name"`
				Label string `json:"label"`
			}{
				{Name: "remote_user", Label: "Remote User"},
				{Name: "remote_post", Label: "Remote Post"},
			},
		})
	})
	mux.HandleFunc("/api/metadata/objects/remote_user", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(metadata.ObjectDefinition{
			Name: "remote_user",
			Fields: map[string]metadata.FieldDefinition{
				"name": {Name: "name", Kind: metadata.FieldText},
			},
		})
	})
	mux.HandleFunc("/api/metadata/objects/remote_post", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(metadata.ObjectDefinition{
			Name: "remote_post",
			Fields: map[string]metadata.FieldDefinition{
				"title": {Name: "title", Kind: metadata.FieldText},
			},
		})
	})
	mux.HandleFunc("/api/objectql", func(w http.ResponseWriter, r *http.Request) {
		var env envelope
		_ = json.NewDecoder(r.Body).Decode(&env)
		if env.Op == "find" && env.Object == "remote_user" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"_id": "u1", "name": "Ada"},
				},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "NOT_FOUND", "message": "no handler"},
		})
	})

	return httptest.NewServer(mux)
}

func TestScenarioRemoteDriverMountsMetadataAndFindsRecords(t *testing.T) {
	srv := newMockServer(t)
	defer srv.Close()

	registry := metadata.NewRegistry()
	d := New(srv.URL, registry)

	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	def, ok := registry.Object("remote_user")
	if !ok {
		t.Fatal("expected remote_user to be registered")
	}
	if !strings.HasPrefix(def.Datasource, "remote:") {
		t.Fatalf("expected datasource to start with remote:, got %q", def.Datasource)
	}
	if _, ok := registry.Object("remote_post"); !ok {
		t.Fatal("expected remote_post to be registered")
	}

	rows, err := d.Find(context.Background(), "remote_user", query.QueryAST{Object: "remote_user"}, driver.FindOptions{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 record, got %d", len(rows))
	}
	if rows[0]["name"] != "Ada" {
		t.Fatalf("expected name=Ada, got %v", rows[0]["name"])
	}
}

func TestStartPeriodicRefreshRejectsInvalidSchedule(t *testing.T) {
	registry := metadata.NewRegistry()
	d := New("http://127.0.0.1:1", registry)

	if _, err := d.StartPeriodicRefresh(context.Background(), "not a cron expression", nil); err == nil {
		t.Fatal("expected an error for a malformed cron expression")
	}
}

func TestStartPeriodicRefreshRunsOnSchedule(t *testing.T) {
	srv := newMockServer(t)
	defer srv.Close()

	registry := metadata.NewRegistry()
	d := New(srv.URL, registry)

	stop, err := d.StartPeriodicRefresh(context.Background(), "@every 10ms", nil)
	if err != nil {
		t.Fatalf("StartPeriodicRefresh: %v", err)
	}
	defer stop()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := registry.Object("remote_user"); ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("expected remote_user to be registered by a scheduled refresh")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestUnreachableRemoteLeavesNoObjectsRegistered(t *testing.T) {
	registry := metadata.NewRegistry()
	d := New("http://127.0.0.1:1", registry)

	err := d.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect error for unreachable remote")
	}
	if _, ok := registry.Object("remote_user"); ok {
		t.Fatal("expected no objects registered for unreachable remote")
	}
}
