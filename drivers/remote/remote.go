// Package remote implements the Remote Federation Driver:
// it adapts a remote ObjectQL endpoint as a first-class local Driver,
// mounting the remote's metadata into a local Registry and translating
// CRUD into operation-envelope POSTs. Grounded on a Supabase
// REST client (infrastructure/database/supabase_client.go) for the
// request-building/error-handling shape, generalized from a
// PostgREST-specific client to the generic ObjectQL wire contract, and on
// system/framework/core/dispatch.go's retry composition for backoff.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/driver"
	"github.com/objectql-dev/objectql/internal/retry"
	"github.com/objectql-dev/objectql/metadata"
	"github.com/objectql-dev/objectql/pkg/version"
	"github.com/objectql-dev/objectql/query"
)

const maxResponseBytes = 8 << 20 // 8 MiB, mirroring Supabase client cap

// Driver adapts a remote ObjectQL server's /api/objectql and
// /api/metadata endpoints as a local driver.Driver. Objects it mounts are
// tagged Datasource = "remote:"+baseURL so the rest of the core treats
// them indistinguishably from local objects.
type Driver struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   retry.Config
	registry   *metadata.Registry

	Timeout time.Duration // default 30s
}

// Datasource returns the "remote:"+baseURL tag this driver's objects carry.
func (d *Driver) Datasource() string { return "remote:" + d.baseURL }

// New builds a federation Driver targeting baseURL, registering objects it
// discovers at Connect time into registry.
func New(baseURL string, registry *metadata.Registry) *Driver {
	return &Driver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryCfg:   retry.DefaultConfig(),
		registry:   registry,
		Timeout:    30 * time.Second,
	}
}

type metadataListResponse struct {
	Objects []struct {
		Name  string `json:"name"`
		Label string `json:"label"`
	} `json:"objects"`
}

// Connect fetches the remote object catalog and injects each
// ObjectDefinition into the local Registry.
// An unreachable remote makes Connect return DRIVER_CONNECTION_FAILED
// with no objects registered; the caller (the runtime wiring code owns
// logging) logs it and carries on without this remote.
func (d *Driver) Connect(ctx context.Context) error {
	listBody, err := d.get(ctx, "/api/metadata/objects")
	if err != nil {
		return apierr.Wrap(apierr.CodeDriverConnectionFailed, "could not reach remote "+d.baseURL, err)
	}

	var list metadataListResponse
	if err := json.Unmarshal(listBody, &list); err != nil {
		return apierr.Wrap(apierr.CodeDriverQueryFailed, "malformed metadata list from "+d.baseURL, err)
	}

	for _, entry := range list.Objects {
		defBody, err := d.get(ctx, "/api/metadata/objects/"+entry.Name)
		if err != nil {
			continue
		}
		var def metadata.ObjectDefinition
		if err := json.Unmarshal(defBody, &def); err != nil {
			continue
		}
		def.Datasource = d.Datasource()
		_ = d.registry.RegisterObject(def, d.Datasource(), metadata.OwnershipOwn, 0)
	}
	return nil
}

// StartPeriodicRefresh schedules Connect to run on cronExpr (a standard
// 5-field cron expression), re-mounting the remote's catalog on an
// interval so schema changes on the remote propagate without a process
// restart. The caller's refreshCtx bounds each refresh's Connect call;
// the returned stop func halts the scheduler.
func (d *Driver) StartPeriodicRefresh(refreshCtx context.Context, cronExpr string, onError func(error)) (stop func(), err error) {
	c := cron.New()
	_, err = c.AddFunc(cronExpr, func() {
		if refreshErr := d.Connect(refreshCtx); refreshErr != nil && onError != nil {
			onError(refreshErr)
		}
	})
	if err != nil {
		return nil, apierr.Validation("invalid refresh schedule " + cronExpr + ": " + err.Error())
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

func (d *Driver) CheckHealth(ctx context.Context) error {
	_, err := d.get(ctx, "/api/metadata/objects")
	if err != nil {
		return apierr.Wrap(apierr.CodeDriverConnectionFailed, "remote health check failed", err)
	}
	return nil
}

func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		QueryFilters:      true,
		QuerySorting:      true,
		QueryPagination:   true,
		QueryAggregations: true,
	}
}

// envelope is the operation-envelope wire form.
type envelope struct {
	Op     string `json:"op"`
	Object string `json:"object"`
	Args   any    `json:"args"`
}

type envelopeResponse struct {
	Items []map[string]any `json:"items"`
	Data  json.RawMessage  `json:"data"`
	Meta  *struct {
		Total int `json:"total"`
	} `json:"meta"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

// shouldRetryTransient reports whether err is worth retrying: only
// DRIVER_CONNECTION_FAILED is retried; VALIDATION_ERROR, UNAUTHORIZED,
// FORBIDDEN, and NOT_FOUND never are.
func shouldRetryTransient(err error) bool {
	return apierr.IsRetryable(err)
}

func (d *Driver) post(ctx context.Context, op, object string, args any) (*envelopeResponse, error) {
	var result *envelopeResponse
	err := retry.Do(ctx, d.retryCfg, shouldRetryTransient, func() error {
		body, err := json.Marshal(envelope{Op: op, Object: object, Args: args})
		if err != nil {
			return apierr.Internal("could not marshal request envelope", err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, d.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.baseURL+"/api/objectql", bytes.NewReader(body))
		if err != nil {
			return apierr.Internal("could not build request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return apierr.Wrap(apierr.CodeDriverConnectionFailed, "request to "+d.baseURL+" failed", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return apierr.Wrap(apierr.CodeDriverConnectionFailed, "could not read response body", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := 1
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if n, parseErr := strconv.Atoi(ra); parseErr == nil {
					retryAfter = n
				}
			}
			return apierr.RateLimit(retryAfter)
		}
		if resp.StatusCode >= 400 {
			return mapStatusToError(resp.StatusCode, respBody)
		}

		var parsed envelopeResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return apierr.Wrap(apierr.CodeDriverQueryFailed, "malformed response from "+d.baseURL, err)
		}
		if parsed.Error != nil {
			return apierr.New(apierr.Code(parsed.Error.Code), parsed.Error.Message)
		}
		result = &parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func mapStatusToError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	switch status {
	case http.StatusUnauthorized:
		return apierr.Unauthorized(msg)
	case http.StatusForbidden:
		return apierr.Forbidden(msg)
	case http.StatusNotFound:
		return apierr.New(apierr.CodeNotFound, msg)
	case http.StatusConflict:
		return apierr.Conflict(msg)
	case http.StatusBadRequest:
		return apierr.Validation(msg)
	default:
		return apierr.Wrap(apierr.CodeDriverConnectionFailed, fmt.Sprintf("remote returned status %d", status), fmt.Errorf("%s", msg))
	}
}

func (d *Driver) get(ctx context.Context, path string) ([]byte, error) {
	var result []byte
	err := retry.Do(ctx, d.retryCfg, shouldRetryTransient, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, d.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, d.baseURL+path, nil)
		if err != nil {
			return apierr.Internal("could not build request", err)
		}
		req.Header.Set("User-Agent", version.UserAgent())
		resp, err := d.httpClient.Do(req)
		if err != nil {
			return apierr.Wrap(apierr.CodeDriverConnectionFailed, "request to "+d.baseURL+path+" failed", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return apierr.Wrap(apierr.CodeDriverConnectionFailed, "could not read response body", err)
		}
		if resp.StatusCode >= 400 {
			return mapStatusToError(resp.StatusCode, body)
		}
		result = body
		return nil
	})
	return result, err
}

func (d *Driver) Find(ctx context.Context, object string, q query.QueryAST, opts driver.FindOptions) ([]map[string]any, error) {
	resp, err := d.post(ctx, "find", object, findArgs(q))
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func findArgs(q query.QueryAST) map[string]any {
	args := map[string]any{}
	if len(q.Fields) > 0 {
		args["fields"] = q.Fields
	}
	if q.Where != nil {
		args["filters"] = query.ToArray(*q.Where)
	}
	if len(q.OrderBy) > 0 {
		args["sort"] = q.OrderBy
	}
	if q.Limit != nil {
		args["limit"] = *q.Limit
	}
	if q.Offset != nil {
		args["skip"] = *q.Offset
	}
	return args
}

func (d *Driver) FindOne(ctx context.Context, object, id string, q *query.QueryAST, opts driver.FindOptions) (map[string]any, error) {
	resp, err := d.post(ctx, "findOne", object, id)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, nil
	}
	var rec map[string]any
	if err := json.Unmarshal(resp.Data, &rec); err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverQueryFailed, "malformed findOne response", err)
	}
	return rec, nil
}

func (d *Driver) Create(ctx context.Context, object string, data map[string]any, opts driver.FindOptions) (map[string]any, error) {
	resp, err := d.post(ctx, "create", object, data)
	if err != nil {
		return nil, err
	}
	return decodeRecord(resp.Data)
}

func (d *Driver) Update(ctx context.Context, object, id string, data map[string]any, opts driver.FindOptions) (map[string]any, error) {
	resp, err := d.post(ctx, "update", object, map[string]any{"id": id, "data": data})
	if err != nil {
		return nil, err
	}
	return decodeRecord(resp.Data)
}

func (d *Driver) Delete(ctx context.Context, object, id string, opts driver.FindOptions) error {
	_, err := d.post(ctx, "delete", object, map[string]any{"id": id})
	return err
}

func (d *Driver) Count(ctx context.Context, object string, filter *query.FilterCondition, opts driver.FindOptions) (int, error) {
	args := map[string]any{}
	if filter != nil {
		args["filters"] = query.ToArray(*filter)
	}
	resp, err := d.post(ctx, "count", object, args)
	if err != nil {
		return 0, err
	}
	if resp.Meta != nil {
		return resp.Meta.Total, nil
	}
	return 0, nil
}

func (d *Driver) Distinct(ctx context.Context, object, field string, filter *query.FilterCondition, opts driver.FindOptions) ([]any, error) {
	return nil, apierr.New(apierr.CodeDriverUnsupportedOp, "remote driver does not support distinct")
}

func (d *Driver) Aggregate(ctx context.Context, object string, pipeline []query.Stage, opts driver.FindOptions) ([]map[string]any, error) {
	return nil, apierr.New(apierr.CodeDriverUnsupportedOp, "remote driver does not support server-side aggregation")
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

func decodeRecord(raw json.RawMessage) (map[string]any, error) {
	if raw == nil {
		return nil, nil
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, apierr.Wrap(apierr.CodeDriverQueryFailed, "malformed record in response", err)
	}
	return rec, nil
}

var _ driver.Driver = (*Driver)(nil)
