package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/query"
)

// MemoryDriver is the reference in-memory implementation of Driver: a
// mutex-protected map of object name to id to record, grounded on
// MockRepository (infrastructure/database/mock_repository.go),
// generalized from a fixed set of domain tables to arbitrary object names.
// It implements the full aggregation pipeline itself (query.Aggregate) so
// drivers lacking native aggregation support can delegate to it.
type MemoryDriver struct {
	mu      sync.RWMutex
	objects map[string]map[string]map[string]any

	// ErrorOnNextCall lets tests inject a driver-level failure the same
	// way MockRepository does.
	ErrorOnNextCall error
}

// NewMemoryDriver returns an empty MemoryDriver.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{objects: make(map[string]map[string]map[string]any)}
}

func (m *MemoryDriver) checkError() error {
	if m.ErrorOnNextCall != nil {
		err := m.ErrorOnNextCall
		m.ErrorOnNextCall = nil
		return err
	}
	return nil
}

func (m *MemoryDriver) Connect(ctx context.Context) error { return nil }

func (m *MemoryDriver) CheckHealth(ctx context.Context) error {
	return m.checkError()
}

func (m *MemoryDriver) Capabilities() Capabilities {
	return Capabilities{
		Transactions:      false,
		QueryFilters:      true,
		QueryAggregations: true,
		QuerySorting:      true,
		QueryPagination:   true,
		JSONFields:        true,
		ArrayFields:       true,
	}
}

func (m *MemoryDriver) table(object string) map[string]map[string]any {
	t, ok := m.objects[object]
	if !ok {
		t = make(map[string]map[string]any)
		m.objects[object] = t
	}
	return t
}

func (m *MemoryDriver) allRecords(object string) []map[string]any {
	t := m.objects[object]
	out := make([]map[string]any, 0, len(t))
	for _, r := range t {
		out = append(out, cloneRecord(r))
	}
	return out
}

func cloneRecord(r map[string]any) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (m *MemoryDriver) Find(ctx context.Context, object string, q query.QueryAST, opts FindOptions) ([]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkError(); err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverQueryFailed, "in-memory find failed", err)
	}

	records := m.allRecords(object)
	if q.Where != nil {
		filtered := records[:0:0]
		for _, r := range records {
			if query.Match(*q.Where, r) {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}
	if len(q.OrderBy) > 0 {
		stages := []query.Stage{{Kind: query.StageSort, Sort: q.OrderBy}}
		sorted, err := query.Aggregate(records, stages)
		if err != nil {
			return nil, err
		}
		records = sorted
	}
	records = query.Paginate(records, q.Offset, q.Limit)
	if len(q.Fields) > 0 {
		stages := []query.Stage{{Kind: query.StageProject, Project: q.Fields}}
		projected, err := query.Aggregate(records, stages)
		if err != nil {
			return nil, err
		}
		records = projected
	}
	return records, nil
}

func (m *MemoryDriver) FindOne(ctx context.Context, object, id string, q *query.QueryAST, opts FindOptions) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkError(); err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverQueryFailed, "in-memory findOne failed", err)
	}
	rec, ok := m.objects[object][id]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

func (m *MemoryDriver) Create(ctx context.Context, object string, data map[string]any, opts FindOptions) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverQueryFailed, "in-memory create failed", err)
	}

	rec := cloneRecord(data)
	id, _ := rec["_id"].(string)
	if id == "" {
		id = uuid.NewString()
		rec["_id"] = id
	}
	t := m.table(object)
	if _, exists := t[id]; exists {
		return nil, apierr.Conflict("record " + id + " already exists")
	}
	t[id] = rec
	return cloneRecord(rec), nil
}

func (m *MemoryDriver) Update(ctx context.Context, object, id string, data map[string]any, opts FindOptions) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverQueryFailed, "in-memory update failed", err)
	}

	t := m.table(object)
	existing, ok := t[id]
	if !ok {
		return nil, apierr.NotFound(object, id)
	}
	merged := cloneRecord(existing)
	for k, v := range data {
		merged[k] = v
	}
	t[id] = merged
	return cloneRecord(merged), nil
}

func (m *MemoryDriver) Delete(ctx context.Context, object, id string, opts FindOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return apierr.Wrap(apierr.CodeDriverQueryFailed, "in-memory delete failed", err)
	}
	t := m.table(object)
	if _, ok := t[id]; !ok {
		return apierr.NotFound(object, id)
	}
	delete(t, id)
	return nil
}

func (m *MemoryDriver) Count(ctx context.Context, object string, filter *query.FilterCondition, opts FindOptions) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.allRecords(object)
	if filter == nil {
		return len(records), nil
	}
	n := 0
	for _, r := range records {
		if query.Match(*filter, r) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryDriver) Distinct(ctx context.Context, object, field string, filter *query.FilterCondition, opts FindOptions) ([]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.allRecords(object)
	seen := make(map[string]bool)
	var out []any
	for _, r := range records {
		if filter != nil && !query.Match(*filter, r) {
			continue
		}
		v := r[field]
		marker := fmt.Sprint(v)
		if !seen[marker] {
			seen[marker] = true
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MemoryDriver) Aggregate(ctx context.Context, object string, pipeline []query.Stage, opts FindOptions) ([]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.allRecords(object)
	return query.Aggregate(records, pipeline)
}

func (m *MemoryDriver) ExecuteQuery(ctx context.Context, ast query.QueryAST, opts FindOptions) (query.QueryResult, error) {
	if len(ast.Aggregate) > 0 {
		rows, err := m.Aggregate(ctx, ast.Object, ast.Aggregate, opts)
		if err != nil {
			return query.QueryResult{}, err
		}
		return query.QueryResult{Value: rows}, nil
	}
	rows, err := m.Find(ctx, ast.Object, ast, opts)
	if err != nil {
		return query.QueryResult{}, err
	}
	return query.QueryResult{Value: rows}, nil
}

func (m *MemoryDriver) ExecuteCommand(ctx context.Context, cmd Command, opts FindOptions) (CommandResult, error) {
	switch cmd.Type {
	case CommandCreate:
		rec, err := m.Create(ctx, cmd.Object, cmd.Data, opts)
		if err != nil {
			return CommandResult{Error: err}, err
		}
		return CommandResult{Success: true, Data: rec, Affected: 1}, nil
	case CommandUpdate:
		rec, err := m.Update(ctx, cmd.Object, cmd.ID, cmd.Data, opts)
		if err != nil {
			return CommandResult{Error: err}, err
		}
		return CommandResult{Success: true, Data: rec, Affected: 1}, nil
	case CommandDelete:
		if err := m.Delete(ctx, cmd.Object, cmd.ID, opts); err != nil {
			return CommandResult{Error: err}, err
		}
		return CommandResult{Success: true, Affected: 1}, nil
	case CommandCreateMany:
		affected := 0
		for _, rec := range cmd.Records {
			if _, err := m.Create(ctx, cmd.Object, rec, opts); err != nil {
				return CommandResult{Error: err, Affected: affected}, err
			}
			affected++
		}
		return CommandResult{Success: true, Affected: affected}, nil
	case CommandDeleteMany:
		affected := 0
		for _, id := range cmd.IDs {
			if err := m.Delete(ctx, cmd.Object, id, opts); err != nil {
				return CommandResult{Error: err, Affected: affected}, err
			}
			affected++
		}
		return CommandResult{Success: true, Affected: affected}, nil
	case CommandUpdateMany:
		affected := 0
		for _, id := range cmd.IDs {
			if _, err := m.Update(ctx, cmd.Object, id, cmd.Updates, opts); err != nil {
				return CommandResult{Error: err, Affected: affected}, err
			}
			affected++
		}
		return CommandResult{Success: true, Affected: affected}, nil
	default:
		return CommandResult{}, apierr.New(apierr.CodeDriverUnsupportedOp, "unsupported command type: "+string(cmd.Type))
	}
}

// Reset clears every object's records, mirroring MockRepository.Reset.
func (m *MemoryDriver) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = make(map[string]map[string]map[string]any)
	m.ErrorOnNextCall = nil
}

var _ Driver = (*MemoryDriver)(nil)
