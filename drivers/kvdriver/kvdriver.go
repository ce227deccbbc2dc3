// Package kvdriver implements a Redis-backed driver.Driver for objects
// that only need key lookups and cheap full scans — session-like or
// cache-tier data rather than relationally queried records. Grounded on
// resilience/retry composition
// (infrastructure/resilience/retry.go) for connection retry and its
// mutex-protected MockRepository (infrastructure/database/mock_repository.go)
// for the id-set-plus-record-blob storage shape, adapted from an in-process
// map to Redis's own key space: each record is a JSON blob at
// "objectql:{object}:{id}", with an index set "objectql:{object}:ids"
// tracking membership so Find/Count/Aggregate can enumerate it.
package kvdriver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/driver"
	"github.com/objectql-dev/objectql/internal/retry"
	"github.com/objectql-dev/objectql/query"
)

// Driver is a Redis-backed driver.Driver. It has no native query language,
// so Capabilities() advertises filtering/sorting/pagination support that
// is actually implemented in Go over a full per-object scan — correct but
// not performant at scale, the tradeoff this driver accepts in exchange
// for simplicity (callers
// pick the driver matching their actual access pattern).
type Driver struct {
	client   *redis.Client
	retryCfg retry.Config
}

// New wraps an already-configured *redis.Client.
func New(client *redis.Client) *Driver {
	return &Driver{client: client, retryCfg: retry.DefaultConfig()}
}

// Open dials addr the way resilience-wrapped clients do:
// connect, then verify with a ping under the same backoff policy the
// federation driver uses for its HTTP calls.
func Open(ctx context.Context, addr, password string, db int) (*Driver, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	d := New(client)
	err := retry.Do(ctx, d.retryCfg, isConnRetryable, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, apierr.Wrap(apierr.CodeDriverConnectionFailed, "connect to redis at "+addr, err)
	}
	return d, nil
}

func isConnRetryable(err error) bool { return err != nil }

func recordKey(object, id string) string { return fmt.Sprintf("objectql:%s:%s", object, id) }
func indexKey(object string) string      { return fmt.Sprintf("objectql:%s:ids", object) }

func (d *Driver) Connect(ctx context.Context) error      { return d.client.Ping(ctx).Err() }
func (d *Driver) CheckHealth(ctx context.Context) error  { return d.client.Ping(ctx).Err() }

func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		QueryFilters:      true,
		QuerySorting:      true,
		QueryPagination:   true,
		QueryAggregations: true,
	}
}

func (d *Driver) allRecords(ctx context.Context, object string) ([]map[string]any, error) {
	ids, err := d.client.SMembers(ctx, indexKey(object)).Result()
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverConnectionFailed, "list index for "+object, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(object, id)
	}
	raws, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverConnectionFailed, "mget records for "+object, err)
	}
	out := make([]map[string]any, 0, len(raws))
	for _, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (d *Driver) Find(ctx context.Context, object string, q query.QueryAST, opts driver.FindOptions) ([]map[string]any, error) {
	records, err := d.allRecords(ctx, object)
	if err != nil {
		return nil, err
	}
	filtered := records[:0:0]
	for _, rec := range records {
		if q.Where == nil || query.Match(*q.Where, rec) {
			filtered = append(filtered, rec)
		}
	}
	if len(q.OrderBy) > 0 {
		sorted, err := query.Aggregate(filtered, []query.Stage{{Kind: query.StageSort, Sort: q.OrderBy}})
		if err != nil {
			return nil, err
		}
		filtered = sorted
	}
	filtered = query.Paginate(filtered, q.Offset, q.Limit)
	return filtered, nil
}

func (d *Driver) FindOne(ctx context.Context, object, id string, q *query.QueryAST, opts driver.FindOptions) (map[string]any, error) {
	raw, err := d.client.Get(ctx, recordKey(object, id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverConnectionFailed, "get "+object+"/"+id, err)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
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
	pipe := d.client.TxPipeline()
	pipe.Set(ctx, recordKey(object, id), raw, 0)
	pipe.SAdd(ctx, indexKey(object), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverConnectionFailed, "create "+object+"/"+id, err)
	}
	return data, nil
}

func (d *Driver) Update(ctx context.Context, object, id string, data map[string]any, opts driver.FindOptions) (map[string]any, error) {
	exists, err := d.client.SIsMember(ctx, indexKey(object), id).Result()
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverConnectionFailed, "check existence of "+object+"/"+id, err)
	}
	if !exists {
		return nil, apierr.NotFound(object, id)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, apierr.Internal("marshal record", err)
	}
	if err := d.client.Set(ctx, recordKey(object, id), raw, 0).Err(); err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverConnectionFailed, "update "+object+"/"+id, err)
	}
	return data, nil
}

func (d *Driver) Delete(ctx context.Context, object, id string, opts driver.FindOptions) error {
	pipe := d.client.TxPipeline()
	del := pipe.Del(ctx, recordKey(object, id))
	pipe.SRem(ctx, indexKey(object), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return apierr.Wrap(apierr.CodeDriverConnectionFailed, "delete "+object+"/"+id, err)
	}
	if del.Val() == 0 {
		return apierr.NotFound(object, id)
	}
	return nil
}

func (d *Driver) Count(ctx context.Context, object string, filter *query.FilterCondition, opts driver.FindOptions) (int, error) {
	records, err := d.allRecords(ctx, object)
	if err != nil {
		return 0, err
	}
	if filter == nil {
		return len(records), nil
	}
	n := 0
	for _, rec := range records {
		if query.Match(*filter, rec) {
			n++
		}
	}
	return n, nil
}

func (d *Driver) Distinct(ctx context.Context, object, field string, filter *query.FilterCondition, opts driver.FindOptions) ([]any, error) {
	records, err := d.allRecords(ctx, object)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []any
	for _, rec := range records {
		if filter != nil && !query.Match(*filter, rec) {
			continue
		}
		v, ok := rec[field]
		if !ok {
			continue
		}
		key := fmt.Sprint(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out, nil
}

func (d *Driver) Aggregate(ctx context.Context, object string, pipeline []query.Stage, opts driver.FindOptions) ([]map[string]any, error) {
	records, err := d.allRecords(ctx, object)
	if err != nil {
		return nil, err
	}
	return query.Aggregate(records, pipeline)
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

var _ driver.Driver = (*Driver)(nil)
