// Package driver defines the universal storage contract every backend
// (SQL, document, KV, in-memory, remote) implements, plus the capability
// vector protocol adapters consult before offering a feature.
package driver

import (
	"context"

	"github.com/objectql-dev/objectql/query"
)

// Capabilities is the data-not-type-hierarchy capability vector a driver
// publishes.
type Capabilities struct {
	Transactions        bool
	Joins                bool
	FullTextSearch       bool
	JSONFields           bool
	ArrayFields          bool
	QueryFilters         bool
	QueryAggregations    bool
	QuerySorting         bool
	QueryPagination      bool
	QueryWindowFunctions bool
	QuerySubqueries      bool
}

// FindOptions carries the per-call knobs find/findOne/count/distinct
// accept beyond the query itself (e.g. the active transaction handle).
type FindOptions struct {
	Tx any
}

// CommandType is the closed set of executeCommand operation kinds.
type CommandType string

const (
	CommandCreate       CommandType = "create"
	CommandUpdate       CommandType = "update"
	CommandDelete       CommandType = "delete"
	CommandCreateMany   CommandType = "createMany"
	CommandUpdateMany   CommandType = "updateMany"
	CommandDeleteMany   CommandType = "deleteMany"
)

// Command is the unified write request executeCommand consumes.
type Command struct {
	Type    CommandType
	Object  string
	ID      string
	IDs     []string
	Data    map[string]any
	Records []map[string]any
	Updates map[string]any
}

// CommandResult is the unified shape executeCommand returns.
type CommandResult struct {
	Success  bool
	Data     map[string]any
	Affected int
	Error    error
}

// Driver is the interface every storage backend implements. Record reads
// return map[string]any: records are schema-less at the storage boundary
// and schema-bound only by the Registry.
type Driver interface {
	Connect(ctx context.Context) error
	CheckHealth(ctx context.Context) error
	Capabilities() Capabilities

	Find(ctx context.Context, object string, q query.QueryAST, opts FindOptions) ([]map[string]any, error)
	FindOne(ctx context.Context, object string, id string, q *query.QueryAST, opts FindOptions) (map[string]any, error)
	Create(ctx context.Context, object string, data map[string]any, opts FindOptions) (map[string]any, error)
	Update(ctx context.Context, object string, id string, data map[string]any, opts FindOptions) (map[string]any, error)
	Delete(ctx context.Context, object string, id string, opts FindOptions) error
	Count(ctx context.Context, object string, filter *query.FilterCondition, opts FindOptions) (int, error)
	Distinct(ctx context.Context, object string, field string, filter *query.FilterCondition, opts FindOptions) ([]any, error)
	Aggregate(ctx context.Context, object string, pipeline []query.Stage, opts FindOptions) ([]map[string]any, error)

	ExecuteQuery(ctx context.Context, ast query.QueryAST, opts FindOptions) (query.QueryResult, error)
	ExecuteCommand(ctx context.Context, cmd Command, opts FindOptions) (CommandResult, error)
}

// Transactor is implemented by drivers whose Capabilities().Transactions is
// true: it begins a native transaction handle the runtime threads back
// through FindOptions.Tx for the duration of ctx.Transaction(fn).
type Transactor interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is an opaque driver-native transaction handle.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
