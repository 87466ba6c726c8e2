// Package httpapi adapts jsonapi.Executor to net/http, generalizing the
// teacher's handler.go NewHTTP constructor (doc-heavy, panics during
// initialization if schema building fails, returns a plain http.HandlerFunc
// fully compatible with net/http and any router) from a single GraphQL
// endpoint to the JSON:API URL convention's five route shapes.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/jsonapi-go/engine"
)

// Config controls header extraction and defaults for the generated handler.
type Config struct {
	TokenHeader    string // defaults to "Authorization" (stripping a "Bearer " prefix)
	ProviderHeader string // defaults to "X-Auth-Provider"
}

// NewHTTP builds a JSON:API HTTP handler over ex, generalizing the
// teacher's NewHTTP: a single http.HandlerFunc that inspects the method and
// path shape of each request and dispatches into the engine, the same way
// the teacher's handler inspected Upgrade headers to route between GraphQL
// POST and WebSocket subscription handling. bulk may be nil to disable the
// bulk routes.
//
// Route shapes (spec.md §6.1):
//
//	GET    /{resource}                              -> query
//	POST   /{resource}                               -> create
//	GET    /{resource}/{id}                          -> get
//	PUT    /{resource}/{id}                          -> replace
//	PATCH  /{resource}/{id}                          -> update
//	DELETE /{resource}/{id}                          -> delete
//	GET    /{resource}/{id}/{relationship}           -> related
//	GET    /{resource}/{id}/relationships/{name}     -> relationship linkage
//	POST|PATCH|DELETE /{resource}/{id}/relationships/{name} -> relationship write
//	POST|PATCH|DELETE /{resource}/bulk                      -> bulk write
func NewHTTP(ex *jsonapi.Executor, bulk *jsonapi.BulkExecutor, cfg Config) http.HandlerFunc {
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = "Authorization"
	}
	if cfg.ProviderHeader == "" {
		cfg.ProviderHeader = "X-Auth-Provider"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if bulk != nil && len(segments) == 2 && segments[1] == "bulk" {
			handleBulk(w, r, bulk, segments[0], cfg)
			return
		}

		req, err := buildRequest(r, cfg)
		if err != nil {
			writeError(w, err)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, jsonapi.ErrPayload("$", "readable body", "unreadable"))
			return
		}
		req.Body = body

		resp, err := ex.Execute(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/vnd.api+json")
		w.WriteHeader(resp.Status)
		if resp.Document != nil {
			_ = json.NewEncoder(w).Encode(resp.Document)
		}
	}
}

// handleBulk implements the POST|PATCH|DELETE /{resource}/bulk route
// (spec.md §4.10, §6.1): a {"data":[...]} array is split into one item per
// entry, and ?atomic=true stops the batch at the first failing item and
// answers with that item's error (items before it stay applied).
func handleBulk(w http.ResponseWriter, r *http.Request, bulk *jsonapi.BulkExecutor, resource string, cfg Config) {
	token := strings.TrimPrefix(r.Header.Get(cfg.TokenHeader), "Bearer ")
	baseReq := jsonapi.Request{Token: token, Provider: r.Header.Get(cfg.ProviderHeader), Resource: resource}
	atomic := r.URL.Query().Get("atomic") == "true"

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, jsonapi.ErrPayload("$", "readable body", "unreadable"))
		return
	}

	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(w, jsonapi.ErrPayload("data", "array", "malformed JSON"))
		return
	}

	var result *jsonapi.BulkResult
	switch r.Method {
	case http.MethodPost:
		bodies := make([][]byte, len(envelope.Data))
		for i, item := range envelope.Data {
			bodies[i] = wrapBulkItem(item)
		}
		result, err = bulk.BulkPost(r.Context(), resource, baseReq, bodies, atomic)
	case http.MethodPatch:
		ops := make([]jsonapi.BulkPatchOp, len(envelope.Data))
		for i, item := range envelope.Data {
			id, idErr := bulkItemID(item)
			if idErr != nil {
				writeError(w, idErr)
				return
			}
			ops[i] = jsonapi.BulkPatchOp{ID: id, Body: wrapBulkItem(item)}
		}
		result, err = bulk.BulkPatch(r.Context(), resource, baseReq, ops, atomic)
	case http.MethodDelete:
		ids := make([]string, len(envelope.Data))
		for i, item := range envelope.Data {
			id, idErr := bulkItemID(item)
			if idErr != nil {
				writeError(w, idErr)
				return
			}
			ids[i] = id
		}
		result, err = bulk.BulkDelete(r.Context(), resource, baseReq, ids, atomic)
	default:
		writeError(w, jsonapi.ErrPayload("method", "POST, PATCH, or DELETE", r.Method))
		return
	}

	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":   result.Data,
		"errors": result.Errors,
		"meta": map[string]any{
			"total":     result.Total,
			"succeeded": result.Succeeded(),
			"failed":    result.Failed(),
		},
	})
}

func wrapBulkItem(item json.RawMessage) []byte {
	b, _ := json.Marshal(map[string]json.RawMessage{"data": item})
	return b
}

func bulkItemID(item json.RawMessage) (string, error) {
	var dto struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(item, &dto); err != nil || dto.ID == "" {
		return "", jsonapi.ErrPayload("data.id", "non-empty string", "missing")
	}
	return dto.ID, nil
}

func buildRequest(r *http.Request, cfg Config) (jsonapi.Request, error) {
	token := strings.TrimPrefix(r.Header.Get(cfg.TokenHeader), "Bearer ")
	provider := r.Header.Get(cfg.ProviderHeader)

	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return jsonapi.Request{}, jsonapi.ErrPayload("path", "/{resource}[/{id}[/...]]", r.URL.Path)
	}

	req := jsonapi.Request{
		Token:    token,
		Provider: provider,
		RawQuery: r.URL.RawQuery,
		Resource: segments[0],
	}

	switch len(segments) {
	case 1:
		req.Operation = methodOp(r.Method, jsonapi.OpQuery, jsonapi.OpPost, "", "", "")
	case 2:
		req.ID = segments[1]
		req.Operation = methodOp(r.Method, jsonapi.OpGet, "", jsonapi.OpPut, jsonapi.OpPatch, jsonapi.OpDelete)
	case 3:
		req.ID = segments[1]
		req.RelationshipName = segments[2]
		req.Operation = jsonapi.OpGetRelated
	case 4:
		if segments[2] != "relationships" {
			return jsonapi.Request{}, jsonapi.ErrPayload("path", "/{resource}/{id}/relationships/{name}", r.URL.Path)
		}
		req.ID = segments[1]
		req.RelationshipName = segments[3]
		req.Operation = methodOp(r.Method, jsonapi.OpGetRelationships, jsonapi.OpPostRelationships, "", jsonapi.OpPatchRelationships, jsonapi.OpDeleteRelationships)
	default:
		return jsonapi.Request{}, jsonapi.ErrPayload("path", "at most four path segments", r.URL.Path)
	}

	return req, nil
}

// methodOp maps an HTTP method onto the Operation valid for that route
// shape; get/post/put/patch/delete positionally, 0 meaning "not valid here".
func methodOp(method string, get, post, put, patch, delete jsonapi.Operation) jsonapi.Operation {
	switch method {
	case http.MethodGet:
		return get
	case http.MethodPost:
		return post
	case http.MethodPut:
		return put
	case http.MethodPatch:
		return patch
	case http.MethodDelete:
		return delete
	default:
		return ""
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, doc := jsonapi.RenderError(err)
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(doc)
}
