package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsonapi-go/engine"
)

func newReq(t *testing.T, method, path string) *http.Request {
	t.Helper()
	r, err := http.NewRequest(method, path, nil)
	require.NoError(t, err)
	return r
}

func TestBuildRequest_CollectionRoutes(t *testing.T) {
	req, err := buildRequest(newReq(t, http.MethodGet, "/posts?sort=-title"), Config{})
	require.NoError(t, err)
	assert.Equal(t, jsonapi.OpQuery, req.Operation)
	assert.Equal(t, "posts", req.Resource)
	assert.Equal(t, "sort=-title", req.RawQuery)

	req, err = buildRequest(newReq(t, http.MethodPost, "/posts"), Config{})
	require.NoError(t, err)
	assert.Equal(t, jsonapi.OpPost, req.Operation)
}

func TestBuildRequest_SingleRecordRoutes(t *testing.T) {
	for method, op := range map[string]jsonapi.Operation{
		http.MethodGet:    jsonapi.OpGet,
		http.MethodPut:    jsonapi.OpPut,
		http.MethodPatch:  jsonapi.OpPatch,
		http.MethodDelete: jsonapi.OpDelete,
	} {
		req, err := buildRequest(newReq(t, method, "/posts/42"), Config{})
		require.NoError(t, err)
		assert.Equal(t, op, req.Operation)
		assert.Equal(t, "42", req.ID)
	}
}

func TestBuildRequest_RelatedRoute(t *testing.T) {
	req, err := buildRequest(newReq(t, http.MethodGet, "/posts/42/author"), Config{})
	require.NoError(t, err)
	assert.Equal(t, jsonapi.OpGetRelated, req.Operation)
	assert.Equal(t, "author", req.RelationshipName)
}

func TestBuildRequest_RelationshipLinkageRoutes(t *testing.T) {
	req, err := buildRequest(newReq(t, http.MethodGet, "/posts/42/relationships/author"), Config{})
	require.NoError(t, err)
	assert.Equal(t, jsonapi.OpGetRelationships, req.Operation)

	req, err = buildRequest(newReq(t, http.MethodPatch, "/posts/42/relationships/author"), Config{})
	require.NoError(t, err)
	assert.Equal(t, jsonapi.OpPatchRelationships, req.Operation)
}

func TestBuildRequest_RejectsMalformedRelationshipPath(t *testing.T) {
	_, err := buildRequest(newReq(t, http.MethodGet, "/posts/42/bogus/author"), Config{})
	assert.Error(t, err)
}

func TestBuildRequest_ExtractsBearerTokenAndProvider(t *testing.T) {
	r := newReq(t, http.MethodGet, "/posts")
	r.Header.Set("Authorization", "Bearer abc123")
	r.Header.Set("X-Auth-Provider", "demo")

	req, err := buildRequest(r, Config{})
	require.NoError(t, err)
	assert.Equal(t, "abc123", req.Token)
	assert.Equal(t, "demo", req.Provider)
}

func TestWriteError_RendersJSONAPIErrorDocument(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, jsonapi.ErrNotFound("posts", "1"))

	assert.Equal(t, 404, rec.Code)
	assert.Equal(t, "application/vnd.api+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"errors"`)
}
