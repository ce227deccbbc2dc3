// Package common holds the small pieces every protocol adapter
// (transport/rest, transport/jsonrpc, transport/envelope) needs in
// common: the JSON error envelope, request decoding, and translating
// query-string/JSON args into a query.QueryAST. Grounded on
// infrastructure/httputil/httputil.go (WriteJSON/WriteError
// envelope shape) and infrastructure/httputil/handler.go (typed-error
// to HTTP-status mapping), generalized from a fixed
// ErrorResponse{code,message,details,trace_id} to the apierr taxonomy.
package common

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/query"
	"github.com/objectql-dev/objectql/runtime"
)

// ErrorEnvelope is the wire shape: every failed response is
// { "error": { code, message, details? } }, never a raw stack trace.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the nested error object of ErrorEnvelope.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteJSON writes status and data as the JSON response body.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError maps err to the apierr taxonomy (wrapping unknown errors as
// INTERNAL_ERROR) and writes the standard error envelope at the matching
// HTTP status.
func WriteError(w http.ResponseWriter, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Internal(err.Error(), err)
	}
	WriteJSON(w, apiErr.HTTPStatus(), ErrorEnvelope{Error: ErrorBody{
		Code:    string(apiErr.Code),
		Message: apiErr.Message,
		Details: apiErr.Details,
	}})
}

// DecodeJSON decodes r's body into v. An empty body is treated as a no-op
// (v left at its zero value) so GET-style callers can share this helper.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apierr.Validation("malformed JSON body: " + err.Error())
	}
	return nil
}

// ContextFunc builds the per-request runtime.Context, carrying whatever
// identity and tenant scoping the host application's authentication layer
// established. cmd/objectqld supplies the real implementation (JWT claims,
// space resolution); tests and examples may use DevContextFunc.
type ContextFunc func(r *http.Request, rt *runtime.Runtime) *runtime.Context

// DevContextFunc reads plain headers (X-User-Id, X-Space-Id, X-Roles,
// X-System) with no signature verification — a development convenience.
// cmd/objectqld uses it when OBJECTQL_JWT_SECRET is unset, and every
// adapter's New falls back to it when given a nil ContextFunc.
func DevContextFunc(r *http.Request, rt *runtime.Runtime) *runtime.Context {
	var roles []string
	if raw := r.Header.Get("X-Roles"); raw != "" {
		roles = strings.Split(raw, ",")
	}
	isSystem := r.Header.Get("X-System") == "true"
	return runtime.NewContext(r.Context(), rt, r.Header.Get("X-User-Id"), r.Header.Get("X-User-Name"), roles, r.Header.Get("X-Space-Id"), isSystem)
}

// ParseFilter turns a decoded JSON value (array or object form,
// §4.3) into a FilterCondition. A nil raw returns a nil condition.
func ParseFilter(raw any) (*query.FilterCondition, error) {
	if raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []any:
		cond, err := query.NormalizeArray(v)
		if err != nil {
			return nil, err
		}
		return &cond, nil
	case map[string]any:
		cond, err := query.NormalizeObject(v)
		if err != nil {
			return nil, err
		}
		return &cond, nil
	default:
		return nil, apierr.Validation(fmt.Sprintf("filter must be an array or object, got %T", raw))
	}
}

// ParseFilterString decodes raw (a JSON-encoded query-string value) and
// runs it through ParseFilter; an empty string returns a nil condition.
func ParseFilterString(raw string) (*query.FilterCondition, error) {
	if raw == "" {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, apierr.Validation("malformed filter: " + err.Error())
	}
	return ParseFilter(decoded)
}

// ParseSort accepts either a JSON-encoded array of {field,order} objects
// or a comma-separated list of fields (optionally "-field" for descending,
// the REST querystring shorthand).
func ParseSort(raw string) ([]query.SortField, error) {
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(strings.TrimSpace(raw), "[") {
		var fields []query.SortField
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, apierr.Validation("malformed sort: " + err.Error())
		}
		return fields, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]query.SortField, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		order := query.SortAsc
		if strings.HasPrefix(p, "-") {
			order = query.SortDesc
			p = p[1:]
		}
		out = append(out, query.SortField{Field: p, Order: order})
	}
	return out, nil
}

// ParseFields splits a comma-separated field-selection list.
func ParseFields(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseIntPtr parses raw as an int, returning nil if raw is empty.
func ParseIntPtr(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apierr.Validation("expected integer, got " + raw)
	}
	return &n, nil
}

// ListMeta is the pagination summary attaches to list responses.
type ListMeta struct {
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Size    int  `json:"size"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"has_next"`
}

// BuildMeta computes ListMeta from the total record count and the
// limit/offset actually applied (limit<=0 means "no paging applied").
func BuildMeta(total int, limit, offset int) ListMeta {
	size := limit
	if size <= 0 {
		size = total
	}
	page := 1
	pages := 1
	if size > 0 {
		page = offset/size + 1
		pages = (total + size - 1) / size
		if pages < 1 {
			pages = 1
		}
	}
	return ListMeta{
		Total:   total,
		Page:    page,
		Size:    size,
		Pages:   pages,
		HasNext: offset+size < total,
	}
}
