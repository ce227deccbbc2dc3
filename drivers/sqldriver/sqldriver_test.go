package sqldriver

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/objectql-dev/objectql/driver"
	"github.com/objectql-dev/objectql/query"
)

func newMockDriver(t *testing.T) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestEnsureSchemaExecutesDDL(t *testing.T) {
	d, mock := newMockDriver(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS objectql_records").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := d.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateInsertsRecord(t *testing.T) {
	d, mock := newMockDriver(t)
	mock.ExpectExec("INSERT INTO objectql_records").
		WithArgs("todo", "id-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec, err := d.Create(context.Background(), "todo", map[string]any{"_id": "id-1", "title": "x"}, driver.FindOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec["_id"] != "id-1" {
		t.Fatalf("expected _id=id-1, got %v", rec["_id"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateNotFoundReturnsError(t *testing.T) {
	d, mock := newMockDriver(t)
	mock.ExpectExec("UPDATE objectql_records").
		WithArgs("todo", "missing", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := d.Update(context.Background(), "todo", "missing", map[string]any{"title": "y"}, driver.FindOptions{})
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestFindBuildsFilteredQuery(t *testing.T) {
	d, mock := newMockDriver(t)
	rows := sqlmock.NewRows([]string{"data"}).
		AddRow(`{"_id":"1","title":"a"}`).
		AddRow(`{"_id":"2","title":"b"}`)
	mock.ExpectQuery("SELECT data FROM objectql_records").
		WithArgs("todo", "a").
		WillReturnRows(rows)

	cond := query.Comparison("title", query.OpEq, "a")
	out, err := d.Find(context.Background(), "todo", query.QueryAST{Object: "todo", Where: &cond}, driver.FindOptions{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 rows from mock, got %d", len(out))
	}
}

func TestBuildFindQueryOrdersByJSONColumnNotBareIdent(t *testing.T) {
	stmt, _ := buildFindQuery("todo", query.QueryAST{
		Object:  "todo",
		OrderBy: []query.SortField{{Field: "title", Order: query.SortDesc}},
	})
	if !strings.Contains(stmt, `ORDER BY data->>'title' DESC`) {
		t.Fatalf("expected ORDER BY to reference the JSONB accessor, got %q", stmt)
	}
	if strings.Contains(stmt, `ORDER BY "title"`) {
		t.Fatalf("ORDER BY referenced a bare column that doesn't exist in the table: %q", stmt)
	}
}

func TestFindAppliesSortAgainstJSONColumn(t *testing.T) {
	d, mock := newMockDriver(t)
	rows := sqlmock.NewRows([]string{"data"}).
		AddRow(`{"_id":"2","title":"b"}`).
		AddRow(`{"_id":"1","title":"a"}`)
	mock.ExpectQuery(`SELECT data FROM objectql_records WHERE object_name = \$1 ORDER BY data->>'title' DESC`).
		WithArgs("todo").
		WillReturnRows(rows)

	out, err := d.Find(context.Background(), "todo", query.QueryAST{
		Object:  "todo",
		OrderBy: []query.SortField{{Field: "title", Order: query.SortDesc}},
	}, driver.FindOptions{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 rows from mock, got %d", len(out))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteNotFoundReturnsError(t *testing.T) {
	d, mock := newMockDriver(t)
	mock.ExpectExec("DELETE FROM objectql_records").
		WithArgs("todo", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := d.Delete(context.Background(), "todo", "missing", driver.FindOptions{})
	if err == nil {
		t.Fatal("expected not-found error")
	}
}
