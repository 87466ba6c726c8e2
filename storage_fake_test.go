package jsonapi

import (
	"context"
	"fmt"
	"sync"
)

// fakeTx is the minimal Transaction used by fakeStorage.
type fakeTx struct{ id string }

func (t *fakeTx) ID() string { return t.id }

// fakeStorage is an in-memory StorageAdapter sufficient to drive
// Executor/BulkExecutor tests without a real database, the way the teacher
// tests its resolvers against an in-memory PubSub rather than a live broker.
type fakeStorage struct {
	mu       sync.Mutex
	tables   map[string]map[string]map[string]any
	nextID   int
	failPost map[string]bool // resource -> force Post to fail
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{tables: make(map[string]map[string]map[string]any), failPost: make(map[string]bool)}
}

func (s *fakeStorage) table(resource string) map[string]map[string]any {
	if s.tables[resource] == nil {
		s.tables[resource] = make(map[string]map[string]any)
	}
	return s.tables[resource]
}

func (s *fakeStorage) Exists(ctx context.Context, resource, id string, tx Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.table(resource)[id]
	return ok, nil
}

func (s *fakeStorage) GetMinimal(ctx context.Context, resource, id string, tx Transaction) (*MinimalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.table(resource)[id]
	if !ok {
		return nil, nil
	}
	return &MinimalRecord{ID: id, Attributes: row}, nil
}

func (s *fakeStorage) Get(ctx context.Context, resource, id string, selection []string, tx Transaction) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.table(resource)[id]
	if !ok {
		return nil, nil
	}
	return &Record{ID: id, Attributes: row}, nil
}

func (s *fakeStorage) Query(ctx context.Context, resource string, params QueryParams, tx Transaction) (*QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []Record
	for id, row := range s.table(resource) {
		records = append(records, Record{ID: id, Attributes: row})
	}
	return &QueryResult{Records: records, Meta: &PaginationMeta{Total: int64(len(records))}}, nil
}

func (s *fakeStorage) Post(ctx context.Context, resource string, attributes map[string]any, tx Transaction) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPost[resource] {
		return nil, ErrStorage(fmt.Errorf("forced failure"))
	}
	s.nextID++
	id := fmt.Sprintf("%d", s.nextID)
	row := map[string]any{}
	for k, v := range attributes {
		row[k] = v
	}
	s.table(resource)[id] = row
	return &Record{ID: id, Attributes: row}, nil
}

func (s *fakeStorage) Patch(ctx context.Context, resource, id string, attributes map[string]any, tx Transaction) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.table(resource)[id]
	if row == nil {
		row = map[string]any{}
	}
	for k, v := range attributes {
		row[k] = v
	}
	s.table(resource)[id] = row
	return &Record{ID: id, Attributes: row}, nil
}

func (s *fakeStorage) Put(ctx context.Context, resource, id string, attributes map[string]any, tx Transaction) (*Record, error) {
	return s.Patch(ctx, resource, id, attributes, tx)
}

func (s *fakeStorage) Delete(ctx context.Context, resource, id string, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.table(resource), id)
	return nil
}

func (s *fakeStorage) PivotInsert(ctx context.Context, through string, rows []PivotRow, tx Transaction) error {
	return nil
}

func (s *fakeStorage) PivotDelete(ctx context.Context, through string, filter PivotFilter, tx Transaction) error {
	return nil
}

func (s *fakeStorage) QueryIncluded(ctx context.Context, resource, keyField string, ids []string, extraEquals map[string]string, orderBy string, perParentLimit *int, tx Transaction) ([]Record, error) {
	return nil, nil
}

func (s *fakeStorage) QueryPivotRows(ctx context.Context, through, localKeyField string, localKeyValues []string, otherKeyField string, tx Transaction) ([]PivotRow, error) {
	return nil, nil
}

func (s *fakeStorage) NewTransaction(ctx context.Context) (Transaction, error) {
	s.nextID++
	return &fakeTx{id: fmt.Sprintf("tx-%d", s.nextID)}, nil
}

func (s *fakeStorage) Commit(ctx context.Context, tx Transaction) error   { return nil }
func (s *fakeStorage) Rollback(ctx context.Context, tx Transaction) error { return nil }
func (s *fakeStorage) Capabilities() Capabilities                        { return Capabilities{} }
