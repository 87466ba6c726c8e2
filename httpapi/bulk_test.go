package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsonapi-go/engine"
)

// memStorage is a minimal jsonapi.StorageAdapter backed by a map, just
// enough to drive the bulk HTTP route end to end.
type memStorage struct {
	rows map[string]map[string]any
	seq  int
}

func newMemStorage() *memStorage { return &memStorage{rows: map[string]map[string]any{}} }

type memTx struct{ id string }

func (t *memTx) ID() string { return t.id }

func (s *memStorage) NewTransaction(ctx context.Context) (jsonapi.Transaction, error) {
	return &memTx{id: "tx"}, nil
}
func (s *memStorage) Commit(ctx context.Context, tx jsonapi.Transaction) error   { return nil }
func (s *memStorage) Rollback(ctx context.Context, tx jsonapi.Transaction) error { return nil }
func (s *memStorage) Capabilities() jsonapi.Capabilities                        { return jsonapi.Capabilities{} }

func (s *memStorage) Exists(ctx context.Context, resource, id string, tx jsonapi.Transaction) (bool, error) {
	_, ok := s.rows[id]
	return ok, nil
}
func (s *memStorage) GetMinimal(ctx context.Context, resource, id string, tx jsonapi.Transaction) (*jsonapi.MinimalRecord, error) {
	row, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	return &jsonapi.MinimalRecord{ID: id, Attributes: row}, nil
}
func (s *memStorage) Get(ctx context.Context, resource, id string, selection []string, tx jsonapi.Transaction) (*jsonapi.Record, error) {
	row, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	return &jsonapi.Record{ID: id, Attributes: row}, nil
}
func (s *memStorage) Query(ctx context.Context, resource string, params jsonapi.QueryParams, tx jsonapi.Transaction) (*jsonapi.QueryResult, error) {
	var records []jsonapi.Record
	for id, row := range s.rows {
		records = append(records, jsonapi.Record{ID: id, Attributes: row})
	}
	return &jsonapi.QueryResult{Records: records, Meta: &jsonapi.PaginationMeta{Total: int64(len(records))}}, nil
}
func (s *memStorage) Post(ctx context.Context, resource string, attributes map[string]any, tx jsonapi.Transaction) (*jsonapi.Record, error) {
	s.seq++
	id := fmt.Sprintf("%d", s.seq)
	row := map[string]any{}
	for k, v := range attributes {
		row[k] = v
	}
	s.rows[id] = row
	return &jsonapi.Record{ID: id, Attributes: row}, nil
}
func (s *memStorage) Patch(ctx context.Context, resource, id string, attributes map[string]any, tx jsonapi.Transaction) (*jsonapi.Record, error) {
	row := s.rows[id]
	if row == nil {
		row = map[string]any{}
	}
	for k, v := range attributes {
		row[k] = v
	}
	s.rows[id] = row
	return &jsonapi.Record{ID: id, Attributes: row}, nil
}
func (s *memStorage) Put(ctx context.Context, resource, id string, attributes map[string]any, tx jsonapi.Transaction) (*jsonapi.Record, error) {
	return s.Patch(ctx, resource, id, attributes, tx)
}
func (s *memStorage) Delete(ctx context.Context, resource, id string, tx jsonapi.Transaction) error {
	if _, ok := s.rows[id]; !ok {
		return jsonapi.ErrNotFound(resource, id)
	}
	delete(s.rows, id)
	return nil
}
func (s *memStorage) PivotInsert(ctx context.Context, through string, rows []jsonapi.PivotRow, tx jsonapi.Transaction) error {
	return nil
}
func (s *memStorage) PivotDelete(ctx context.Context, through string, filter jsonapi.PivotFilter, tx jsonapi.Transaction) error {
	return nil
}
func (s *memStorage) QueryIncluded(ctx context.Context, resource, keyField string, ids []string, extraEquals map[string]string, orderBy string, perParentLimit *int, tx jsonapi.Transaction) ([]jsonapi.Record, error) {
	return nil, nil
}
func (s *memStorage) QueryPivotRows(ctx context.Context, through, localKeyField string, localKeyValues []string, otherKeyField string, tx jsonapi.Transaction) ([]jsonapi.PivotRow, error) {
	return nil, nil
}

func newBulkTestHandler(t *testing.T) http.HandlerFunc {
	t.Helper()
	b := jsonapi.NewBuilder()
	b.AddResource(jsonapi.ResourceDefinition{
		Name: "posts",
		Fields: map[string]jsonapi.FieldSpec{
			"title": {Name: "title", Kind: jsonapi.FieldString},
		},
		AuthRules: map[jsonapi.Operation][]string{
			jsonapi.OpPost:   {"public"},
			jsonapi.OpPatch:  {"public"},
			jsonapi.OpDelete: {"public"},
			jsonapi.OpGet:    {"public"},
			jsonapi.OpQuery:  {"public"},
		},
	})
	reg, err := b.Freeze()
	require.NoError(t, err)

	storage := newMemStorage()
	authBuilder := &jsonapi.AuthContextBuilder{}
	ex := jsonapi.NewExecutor(reg, storage, authBuilder, nil)
	bx := jsonapi.NewBulkExecutor(ex, storage, 100)
	return NewHTTP(ex, bx, Config{})
}

func TestBulkRoute_PostCreatesEveryItem(t *testing.T) {
	handler := newBulkTestHandler(t)

	body := `{"data":[{"type":"posts","attributes":{"title":"one"}},{"type":"posts","attributes":{"title":"two"}}]}`
	r := httptest.NewRequest(http.MethodPost, "/posts/bulk", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"succeeded":2`)
}

func TestBulkRoute_MissingIDOnPatchItemIsRejected(t *testing.T) {
	handler := newBulkTestHandler(t)

	body := `{"data":[{"type":"posts","attributes":{"title":"ok"}}]}`
	r := httptest.NewRequest(http.MethodPatch, "/posts/bulk?atomic=true", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler(rec, r)

	assert.NotEqual(t, http.StatusOK, rec.Code)
}
