// Package sqldriver implements a Postgres-backed driver.Driver storing
// every object's records as JSONB documents in a single shared table,
// grounded on a postgres connection helper
// (internal/platform/database/database.go's Open) and its store pattern
// (internal/app/storage/postgres/store.go's sql.DB-holding Store struct,
// context-threaded *Context methods, metadata-as-JSON columns). Unlike a
// one-table-per-domain-type layout, ObjectQL objects are
// schema-less at the storage boundary, so records live in one
// JSONB-columned table keyed by
// (object, id) instead of per-object generated tables.
package sqldriver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/driver"
	"github.com/objectql-dev/objectql/internal/querybuild"
	"github.com/objectql-dev/objectql/query"
)

// schemaDDL creates the single records table this driver uses, run once by
// EnsureSchema. Real deployments would drive this from a migration tool
// the way system/platform/migrations package does; ObjectQL
// keeps it inline since the schema never varies across objects.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS objectql_records (
	object_name TEXT NOT NULL,
	id          TEXT NOT NULL,
	data        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (object_name, id)
)`

// Driver is a Postgres-backed driver.Driver.
type Driver struct {
	db *sqlx.DB
}

// Open establishes a Postgres connection using dsn and verifies
// connectivity with a ping, mirroring database.Open.
func Open(ctx context.Context, dsn string) (*Driver, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, apierr.Validation("postgres DSN is required")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverConnectionFailed, "open postgres", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, apierr.Wrap(apierr.CodeDriverConnectionFailed, "ping postgres", err)
	}
	return &Driver{db: db}, nil
}

// New wraps an already-open sqlx.DB (used by tests against go-sqlmock,
// which cannot be reached through Open's real network ping).
func New(db *sqlx.DB) *Driver {
	return &Driver{db: db}
}

// EnsureSchema creates the records table if it does not already exist.
func (d *Driver) EnsureSchema(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, schemaDDL)
	if err != nil {
		return apierr.Wrap(apierr.CodeDriverConnectionFailed, "ensure schema", err)
	}
	return nil
}

func (d *Driver) Connect(ctx context.Context) error { return d.EnsureSchema(ctx) }

func (d *Driver) CheckHealth(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return apierr.Wrap(apierr.CodeDriverConnectionFailed, "postgres health check", err)
	}
	return nil
}

func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		Transactions:      true,
		JSONFields:        true,
		QueryFilters:      true,
		QueryAggregations: true,
		QuerySorting:      true,
		QueryPagination:   true,
	}
}

func jsonColumn(field string) string {
	return fmt.Sprintf(`data->>'%s'`, strings.ReplaceAll(field, "'", "''"))
}

// execer is the subset of *sqlx.DB / *sqlx.Tx this driver needs, letting
// every method run unmodified inside or outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (d *Driver) querier(opts driver.FindOptions) execer {
	if tx, ok := opts.Tx.(*Tx); ok {
		return tx.tx
	}
	return d.db
}

func (d *Driver) Find(ctx context.Context, object string, q query.QueryAST, opts driver.FindOptions) ([]map[string]any, error) {
	stmt, args := buildFindQuery(object, q)

	rows, err := d.querier(opts).QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverQueryFailed, "find query failed", err)
	}
	defer rows.Close()

	var result []map[string]any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apierr.Wrap(apierr.CodeDriverQueryFailed, "scan row", err)
		}
		var rec map[string]any
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, apierr.Wrap(apierr.CodeDriverQueryFailed, "decode record", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// buildFindQuery composes the SELECT text so the object_name equality and
// the filter predicate share one monotonically increasing placeholder
// sequence, avoiding the $1-collision a naive concatenation of two
// independently-numbered fragments would hit.
func buildFindQuery(object string, q query.QueryAST) (string, []any) {
	b := querybuild.NewWithColumn(jsonColumn)
	objPlaceholder := querybuild.Placeholder(1)
	args := []any{object}

	var filterSQL string
	if q.Where != nil {
		b.Where(q.Where)
		frag, filterArgs := b.SQL()
		args = append(args, filterArgs...)
		// Renumber from the highest placeholder down so a freshly shifted
		// $N+1 is never mistaken for the original $N+1 still to be shifted.
		for i := len(filterArgs) - 1; i >= 0; i-- {
			frag = strings.Replace(frag, querybuild.Placeholder(i+1), querybuild.Placeholder(i+2), 1)
		}
		filterSQL = frag
	}

	stmt := "SELECT data FROM objectql_records WHERE object_name = " + objPlaceholder
	if filterSQL != "" {
		stmt += " AND (" + filterSQL + ")"
	}
	if order, err := b.OrderBy(q.OrderBy); err == nil && order != "" {
		stmt += " ORDER BY " + order
	}
	if q.Limit != nil {
		stmt += fmt.Sprintf(" LIMIT %d", *q.Limit)
	}
	if q.Offset != nil {
		stmt += fmt.Sprintf(" OFFSET %d", *q.Offset)
	}
	return stmt, args
}

func (d *Driver) FindOne(ctx context.Context, object, id string, q *query.QueryAST, opts driver.FindOptions) (map[string]any, error) {
	var raw []byte
	err := d.querier(opts).GetContext(ctx, &raw,
		"SELECT data FROM objectql_records WHERE object_name = $1 AND id = $2", object, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverQueryFailed, "findOne query failed", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverQueryFailed, "decode record", err)
	}
	return rec, nil
}

func (d *Driver) Create(ctx context.Context, object string, data map[string]any, opts driver.FindOptions) (map[string]any, error) {
	id, _ := data["_id"].(string)
	if id == "" {
		return nil, apierr.Internal("record has no _id at driver layer", nil)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, apierr.Internal("marshal record", err)
	}
	now := time.Now().UTC()
	_, err = d.querier(opts).ExecContext(ctx,
		"INSERT INTO objectql_records (object_name, id, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)",
		object, id, raw, now)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverQueryFailed, "insert failed", err)
	}
	return data, nil
}

func (d *Driver) Update(ctx context.Context, object, id string, data map[string]any, opts driver.FindOptions) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, apierr.Internal("marshal record", err)
	}
	result, err := d.querier(opts).ExecContext(ctx,
		"UPDATE objectql_records SET data = $3, updated_at = $4 WHERE object_name = $1 AND id = $2",
		object, id, raw, time.Now().UTC())
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverQueryFailed, "update failed", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, apierr.NotFound(object, id)
	}
	return data, nil
}

func (d *Driver) Delete(ctx context.Context, object, id string, opts driver.FindOptions) error {
	result, err := d.querier(opts).ExecContext(ctx,
		"DELETE FROM objectql_records WHERE object_name = $1 AND id = $2", object, id)
	if err != nil {
		return apierr.Wrap(apierr.CodeDriverQueryFailed, "delete failed", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apierr.NotFound(object, id)
	}
	return nil
}

func (d *Driver) Count(ctx context.Context, object string, filter *query.FilterCondition, opts driver.FindOptions) (int, error) {
	stmt, args := buildFindQuery(object, query.QueryAST{Where: filter})
	stmt = strings.Replace(stmt, "SELECT data", "SELECT count(*)", 1)
	var n int
	if err := d.querier(opts).GetContext(ctx, &n, stmt, args...); err != nil {
		return 0, apierr.Wrap(apierr.CodeDriverQueryFailed, "count query failed", err)
	}
	return n, nil
}

func (d *Driver) Distinct(ctx context.Context, object, field string, filter *query.FilterCondition, opts driver.FindOptions) ([]any, error) {
	stmt, args := buildFindQuery(object, query.QueryAST{Where: filter})
	stmt = strings.Replace(stmt, "SELECT data", "SELECT DISTINCT "+jsonColumn(field), 1)
	rows, err := d.querier(opts).QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverQueryFailed, "distinct query failed", err)
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, apierr.Wrap(apierr.CodeDriverQueryFailed, "scan distinct value", err)
		}
		if v.Valid {
			out = append(out, v.String)
		}
	}
	return out, rows.Err()
}

// Aggregate fetches every record of the object (no stage, not even $match,
// is pushed down to SQL) and runs the whole pipeline in Go via
// query.Aggregate, the same engine the in-memory driver uses. Postgres
// could evaluate $group natively, but a single shared JSONB table doesn't
// have stable per-object column types to aggregate over at the SQL layer.
func (d *Driver) Aggregate(ctx context.Context, object string, pipeline []query.Stage, opts driver.FindOptions) ([]map[string]any, error) {
	rows, err := d.Find(ctx, object, query.QueryAST{Object: object}, opts)
	if err != nil {
		return nil, err
	}
	return query.Aggregate(rows, pipeline)
}

func (d *Driver) ExecuteQuery(ctx context.Context, ast query.QueryAST, opts driver.FindOptions) (query.QueryResult, error) {
	rows, err := d.Find(ctx, ast.Object, ast, opts)
	if err != nil {
		return query.QueryResult{}, err
	}
	return query.QueryResult{Value: rows}, nil
}

func (d *Driver) ExecuteCommand(ctx context.Context, cmd driver.Command, opts driver.FindOptions) (driver.CommandResult, error) {
	switch cmd.Type {
	case driver.CommandCreate:
		rec, err := d.Create(ctx, cmd.Object, cmd.Data, opts)
		if err != nil {
			return driver.CommandResult{Error: err}, err
		}
		return driver.CommandResult{Success: true, Data: rec, Affected: 1}, nil
	case driver.CommandUpdate:
		rec, err := d.Update(ctx, cmd.Object, cmd.ID, cmd.Data, opts)
		if err != nil {
			return driver.CommandResult{Error: err}, err
		}
		return driver.CommandResult{Success: true, Data: rec, Affected: 1}, nil
	case driver.CommandDelete:
		if err := d.Delete(ctx, cmd.Object, cmd.ID, opts); err != nil {
			return driver.CommandResult{Error: err}, err
		}
		return driver.CommandResult{Success: true, Affected: 1}, nil
	default:
		return driver.CommandResult{}, apierr.New(apierr.CodeDriverUnsupportedOp, "unsupported command type: "+string(cmd.Type))
	}
}

// Tx wraps a *sqlx.Tx as a driver.Tx handle.
type Tx struct {
	tx *sqlx.Tx
}

func (t *Tx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

func (d *Driver) BeginTx(ctx context.Context) (driver.Tx, error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverConnectionFailed, "begin transaction", err)
	}
	return &Tx{tx: tx}, nil
}

var (
	_ driver.Driver    = (*Driver)(nil)
	_ driver.Transactor = (*Driver)(nil)
)
