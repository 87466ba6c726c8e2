package jsonapi

import "context"

// Transaction is an opaque handle to a storage-level transaction. The
// executor opens one through NewTransaction for the duration of each write
// and commits or rolls it back itself; a Request has no way to carry a
// caller-supplied transaction (spec.md §4.9, §6.2).
type Transaction interface {
	// ID uniquely identifies this transaction for the lifetime of the
	// broadcaster's buffering map (spec.md §4.11, §5).
	ID() string
}

// Capabilities reports what a StorageAdapter implementation can do, so the
// core engine can fail fast and explicitly rather than guess (spec.md §4.7,
// §6.2).
type Capabilities struct {
	WindowFunctions bool
	Dialect         string
	Version         string
}

// MinimalRecord is the per-request-prefetched snapshot of a target record
// sufficient to evaluate ownership (spec.md Glossary, §6.2).
type MinimalRecord struct {
	ID            string
	Attributes    map[string]any
	Relationships map[string]any
}

// OwnerValue extracts the owner linkage from a MinimalRecord for the given
// owner field name, whether it was declared as a belongsTo relationship
// (spec.md §4.5: "as a relationship to the users resource when declared
// belongsTo") or as a plain attribute.
func (m *MinimalRecord) OwnerValue(ownerField string) string {
	if m == nil {
		return ""
	}
	if m.Relationships != nil {
		if raw, ok := m.Relationships[ownerField]; ok {
			if id := relationshipIdentifierID(raw); id != "" {
				return id
			}
		}
	}
	if m.Attributes != nil {
		if raw, ok := m.Attributes[ownerField]; ok {
			return stringifyScalar(raw)
		}
	}
	return ""
}

// relationshipIdentifierID extracts the id from a {type,id} resource
// identifier value, if raw is shaped like one.
func relationshipIdentifierID(raw any) string {
	switch v := raw.(type) {
	case map[string]any:
		if id, ok := v["id"]; ok {
			return stringifyScalar(id)
		}
	case string:
		return v
	}
	return ""
}

// Record is a fully-loaded storage row: the id plus its attributes
// (relationships are resolved separately by the Include Engine).
type Record struct {
	ID         string
	Attributes map[string]any
}

// PaginationMeta mirrors spec.md §4.8's meta.pagination shape.
type PaginationMeta struct {
	Page       int
	PageSize   int
	PageCount  int
	Total      int64
}

// PaginationLinks mirrors spec.md §4.8's top-level pagination links.
type PaginationLinks struct {
	First, Prev, Next, Last string
}

// QueryResult is what StorageAdapter.Query returns for a collection read.
type QueryResult struct {
	Records  []Record
	Meta     *PaginationMeta
	Links    *PaginationLinks
}

// PivotRow is one row written to or matched against a manyToMany through
// table (spec.md §4.6, §6.2).
type PivotRow struct {
	LocalKey string
	OtherKey string
}

// PivotFilter selects rows in a through table for deletion.
type PivotFilter struct {
	LocalKeyField string
	LocalKeyValue string
	OtherKeyField string
	OtherKeyValues []string // empty means "all for LocalKeyValue"
}

// StorageAdapter is the single external collaborator the whole engine is
// built against (spec.md §1, §6.2). Physical drivers are out of scope for
// this module; gormstore/ provides one concrete implementation, used by
// cmd/jsonapi-demo.
type StorageAdapter interface {
	Exists(ctx context.Context, resource, id string, tx Transaction) (bool, error)
	GetMinimal(ctx context.Context, resource, id string, tx Transaction) (*MinimalRecord, error)
	Get(ctx context.Context, resource, id string, selection []string, tx Transaction) (*Record, error)
	Query(ctx context.Context, resource string, params QueryParams, tx Transaction) (*QueryResult, error)

	Post(ctx context.Context, resource string, attributes map[string]any, tx Transaction) (*Record, error)
	Patch(ctx context.Context, resource, id string, attributes map[string]any, tx Transaction) (*Record, error)
	Put(ctx context.Context, resource, id string, attributes map[string]any, tx Transaction) (*Record, error)
	Delete(ctx context.Context, resource, id string, tx Transaction) error

	PivotInsert(ctx context.Context, through string, rows []PivotRow, tx Transaction) error
	PivotDelete(ctx context.Context, through string, filter PivotFilter, tx Transaction) error

	// QueryIncluded batch-loads related records for the Include Engine. ids
	// is the set of foreign-key/local-key values to match against
	// keyField, optionally narrowed by extraEquals (used by
	// reversePolymorphic's type-column filter). When perParentLimit is
	// non-nil and > 0 the adapter must apply the PARTITION BY keyField
	// window-function path of spec.md §4.7; the Include Engine returns
	// ErrUnsupportedOperation("window_functions") itself, without calling
	// the adapter, when Capabilities().WindowFunctions is false. A perParentLimit of <= 0
	// means the limit was explicitly disabled (spec.md §4.7: "null/false
	// limit explicitly disables the cap").
	QueryIncluded(ctx context.Context, resource, keyField string, ids []string, extraEquals map[string]string, orderBy string, perParentLimit *int, tx Transaction) ([]Record, error)

	// QueryPivotRows reads through-table rows for the manyToMany traversal
	// of spec.md §4.7 step 3.
	QueryPivotRows(ctx context.Context, through, localKeyField string, localKeyValues []string, otherKeyField string, tx Transaction) ([]PivotRow, error)

	NewTransaction(ctx context.Context) (Transaction, error)
	Commit(ctx context.Context, tx Transaction) error
	Rollback(ctx context.Context, tx Transaction) error

	Capabilities() Capabilities
}
