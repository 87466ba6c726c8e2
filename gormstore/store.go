// Package gormstore is a reference jsonapi.StorageAdapter over gorm.io/gorm,
// grounded on the teacher's page.go: GenericQueryPageable's
// count-then-filter-then-paginate shape and buildSearchCondition's operator
// switch, generalized from typed GORM models to the declarative
// jsonapi.ResourceDefinition's untyped table/column model (there is no
// compile-time Go struct per resource, so every query runs against
// db.Table(name) with map[string]any rows instead of db.Model(&T{})).
package gormstore

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/jsonapi-go/engine"
)

// Store is a reference StorageAdapter backed by one gorm.DB connection.
// Schema migration is the caller's responsibility (see AutoMigrate); Store only
// issues reads and writes against tables already shaped to match the
// registry.
type Store struct {
	db  *gorm.DB
	reg *jsonapi.Registry
	caps jsonapi.Capabilities
}

// New wires a Store. dialect/version are surfaced through Capabilities so
// the Include Engine can decide whether the window-function include path is
// available (spec.md §4.7).
func New(db *gorm.DB, reg *jsonapi.Registry, dialect, version string, windowFunctions bool) *Store {
	return &Store{
		db:  db,
		reg: reg,
		caps: jsonapi.Capabilities{
			WindowFunctions: windowFunctions,
			Dialect:         dialect,
			Version:         version,
		},
	}
}

func (s *Store) Capabilities() jsonapi.Capabilities { return s.caps }

// gormTx adapts *gorm.DB to jsonapi.Transaction; its ID is assigned once at
// NewTransaction and reused for the broadcaster's buffering key (spec.md
// §4.11).
type gormTx struct {
	tx *gorm.DB
	id string
}

func (t *gormTx) ID() string { return t.id }

func (s *Store) NewTransaction(ctx context.Context) (jsonapi.Transaction, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormTx{tx: tx, id: newTxID()}, nil
}

func (s *Store) Commit(ctx context.Context, tx jsonapi.Transaction) error {
	gt, ok := tx.(*gormTx)
	if !ok || gt == nil {
		return nil
	}
	return gt.tx.Commit().Error
}

func (s *Store) Rollback(ctx context.Context, tx jsonapi.Transaction) error {
	gt, ok := tx.(*gormTx)
	if !ok || gt == nil {
		return nil
	}
	return gt.tx.Rollback().Error
}

// conn returns the transactional connection when tx is a live *gormTx,
// otherwise the pool connection - mirrors the teacher's "query off db or an
// active *gorm.DB" pattern.
func (s *Store) conn(ctx context.Context, tx jsonapi.Transaction) *gorm.DB {
	if gt, ok := tx.(*gormTx); ok && gt != nil {
		return gt.tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

func (s *Store) Exists(ctx context.Context, resource, id string, tx jsonapi.Transaction) (bool, error) {
	var count int64
	err := s.conn(ctx, tx).Table(resource).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (s *Store) GetMinimal(ctx context.Context, resource, id string, tx jsonapi.Transaction) (*jsonapi.MinimalRecord, error) {
	row, err := s.fetchRow(ctx, tx, resource, id, nil)
	if err != nil || row == nil {
		return nil, err
	}
	return &jsonapi.MinimalRecord{ID: id, Attributes: row}, nil
}

func (s *Store) Get(ctx context.Context, resource, id string, selection []string, tx jsonapi.Transaction) (*jsonapi.Record, error) {
	row, err := s.fetchRow(ctx, tx, resource, id, selection)
	if err != nil || row == nil {
		return nil, err
	}
	return &jsonapi.Record{ID: id, Attributes: row}, nil
}

func (s *Store) fetchRow(ctx context.Context, tx jsonapi.Transaction, resource, id string, selection []string) (map[string]any, error) {
	q := s.conn(ctx, tx).Table(resource)
	if len(selection) > 0 {
		q = q.Select(append([]string{"id"}, selection...))
	}
	var rows []map[string]any
	if err := q.Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, jsonapi.ErrStorage(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Query runs the full list path: owner/user filters + declared searchSchema
// filters, sort, count, then offset/limit pagination (teacher's
// GenericQueryPageable order: count before pagination, applySorting before
// Offset/Limit).
func (s *Store) Query(ctx context.Context, resource string, params jsonapi.QueryParams, tx jsonapi.Transaction) (*jsonapi.QueryResult, error) {
	def, ok := s.reg.Resource(resource)
	if !ok {
		return nil, jsonapi.ErrNotFound(resource, "")
	}

	q := s.conn(ctx, tx).Table(resource)
	q = applyFilters(q, def, params.Filters)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, jsonapi.ErrStorage(err)
	}

	q = applySort(q, params.Sort)

	pageSize := def.DefaultPageSize
	if v, ok := params.Page["size"].(int64); ok && int(v) > 0 {
		pageSize = int(v)
	}
	if pageSize > def.MaxPageSize {
		pageSize = def.MaxPageSize
	}
	page := 1
	if v, ok := params.Page["number"].(int64); ok && v > 0 {
		page = int(v)
	}
	q = q.Offset((page - 1) * pageSize).Limit(pageSize)

	var rows []map[string]any
	if err := q.Find(&rows).Error; err != nil {
		return nil, jsonapi.ErrStorage(err)
	}

	records := make([]jsonapi.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, jsonapi.Record{ID: fmt.Sprintf("%v", r["id"]), Attributes: r})
	}

	pageCount := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &jsonapi.QueryResult{
		Records: records,
		Meta:    &jsonapi.PaginationMeta{Page: page, PageSize: pageSize, PageCount: pageCount, Total: total},
	}, nil
}

// applyFilters generalizes the teacher's buildSearchCondition operator
// switch (LIKE/EQUAL/GT/...) onto the jsonapi.Operator vocabulary, reading
// the operator from the resource's searchSchema declaration for each field.
func applyFilters(q *gorm.DB, def *jsonapi.ResourceDefinition, filters map[string]string) *gorm.DB {
	for field, value := range filters {
		spec, ok := def.SearchSchema[field]
		if !ok {
			// The owner filter injected by the executor is an equality match
			// even when the owner field is not declared in searchSchema.
			owner := def.OwnerField
			if owner == "" {
				owner = "user_id"
			}
			if def.Ownership == jsonapi.OwnershipNever || field != owner {
				continue
			}
		}
		op := jsonapi.OpEq
		if len(spec.Operators) > 0 {
			op = spec.Operators[0]
		}
		switch op {
		case jsonapi.OpLike:
			q = q.Where(fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", field), "%"+value+"%")
		case jsonapi.OpNE:
			q = q.Where(fmt.Sprintf("%s != ?", field), value)
		case jsonapi.OpIn:
			q = q.Where(fmt.Sprintf("%s IN ?", field), strings.Split(value, ","))
		case jsonapi.OpBetween:
			bounds := strings.SplitN(value, ",", 2)
			if len(bounds) == 2 {
				q = q.Where(fmt.Sprintf("%s BETWEEN ? AND ?", field), bounds[0], bounds[1])
			}
		case jsonapi.OpLT:
			q = q.Where(fmt.Sprintf("%s < ?", field), value)
		case jsonapi.OpLTE:
			q = q.Where(fmt.Sprintf("%s <= ?", field), value)
		case jsonapi.OpGT:
			q = q.Where(fmt.Sprintf("%s > ?", field), value)
		case jsonapi.OpGTE:
			q = q.Where(fmt.Sprintf("%s >= ?", field), value)
		default:
			q = q.Where(fmt.Sprintf("%s = ?", field), value)
		}
	}
	return q
}

func applySort(q *gorm.DB, sort []jsonapi.SortKey) *gorm.DB {
	for _, s := range sort {
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		q = q.Order(fmt.Sprintf("%s %s", s.Field, dir))
	}
	return q
}

func (s *Store) Post(ctx context.Context, resource string, attributes map[string]any, tx jsonapi.Transaction) (*jsonapi.Record, error) {
	if attributes == nil {
		attributes = map[string]any{}
	}
	if _, ok := attributes["id"]; !ok {
		attributes["id"] = newRecordID()
	}
	if err := s.conn(ctx, tx).Table(resource).Create(attributes).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, jsonapi.ErrConflict(err.Error())
		}
		return nil, jsonapi.ErrStorage(err)
	}
	id := fmt.Sprintf("%v", attributes["id"])
	return s.Get(ctx, resource, id, nil, tx)
}

func (s *Store) Patch(ctx context.Context, resource, id string, attributes map[string]any, tx jsonapi.Transaction) (*jsonapi.Record, error) {
	if len(attributes) > 0 {
		if err := s.conn(ctx, tx).Table(resource).Where("id = ?", id).Updates(attributes).Error; err != nil {
			if isUniqueViolation(err) {
				return nil, jsonapi.ErrConflict(err.Error())
			}
			return nil, jsonapi.ErrStorage(err)
		}
	}
	return s.Get(ctx, resource, id, nil, tx)
}

func (s *Store) Put(ctx context.Context, resource, id string, attributes map[string]any, tx jsonapi.Transaction) (*jsonapi.Record, error) {
	// PUT replaces the full resource: NULL out every declared non-relationship
	// column first (belongsTo/polymorphic key columns and the id are kept),
	// then apply the provided attributes (spec.md §4.2 put semantics).
	def, ok := s.reg.Resource(resource)
	if ok {
		idField := def.IDField
		if idField == "" {
			idField = "id"
		}
		blank := map[string]any{}
		for name, field := range def.Fields {
			if field.Kind == jsonapi.FieldBelongsTo || field.Kind == jsonapi.FieldPolymorphicBelongsTo || name == idField {
				continue
			}
			blank[name] = nil
		}
		if len(blank) > 0 {
			if err := s.conn(ctx, tx).Table(resource).Where("id = ?", id).Updates(blank).Error; err != nil {
				return nil, jsonapi.ErrStorage(err)
			}
		}
	}
	return s.Patch(ctx, resource, id, attributes, tx)
}

func (s *Store) Delete(ctx context.Context, resource, id string, tx jsonapi.Transaction) error {
	return s.conn(ctx, tx).Table(resource).Where("id = ?", id).Delete(nil).Error
}

func (s *Store) PivotInsert(ctx context.Context, through string, rows []jsonapi.PivotRow, tx jsonapi.Transaction) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		values = append(values, map[string]any{"local_key": r.LocalKey, "other_key": r.OtherKey})
	}
	return s.conn(ctx, tx).Table(through).Create(&values).Error
}

func (s *Store) PivotDelete(ctx context.Context, through string, filter jsonapi.PivotFilter, tx jsonapi.Transaction) error {
	q := s.conn(ctx, tx).Table(through).Where("local_key = ?", filter.LocalKeyValue)
	if len(filter.OtherKeyValues) > 0 {
		q = q.Where("other_key IN ?", filter.OtherKeyValues)
	}
	return q.Delete(nil).Error
}

func (s *Store) QueryIncluded(ctx context.Context, resource, keyField string, ids []string, extraEquals map[string]string, orderBy string, perParentLimit *int, tx jsonapi.Transaction) ([]jsonapi.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if perParentLimit != nil && *perParentLimit > 0 {
		return s.queryIncludedWindowed(ctx, resource, keyField, ids, extraEquals, orderBy, *perParentLimit, tx)
	}

	q := s.conn(ctx, tx).Table(resource).Where(fmt.Sprintf("%s IN ?", keyField), ids)
	for field, value := range extraEquals {
		q = q.Where(fmt.Sprintf("%s = ?", field), value)
	}
	if orderBy != "" {
		q = q.Order(orderBy)
	}
	var rows []map[string]any
	if err := q.Find(&rows).Error; err != nil {
		return nil, jsonapi.ErrStorage(err)
	}
	return toRecords(rows), nil
}

// queryIncludedWindowed runs the ROW_NUMBER() OVER (PARTITION BY keyField)
// path of spec.md §4.7. Requires Capabilities().WindowFunctions, checked by
// the Include Engine before this is ever called.
func (s *Store) queryIncludedWindowed(ctx context.Context, resource, keyField string, ids []string, extraEquals map[string]string, orderBy string, limit int, tx jsonapi.Transaction) ([]jsonapi.Record, error) {
	if orderBy == "" {
		orderBy = "id ASC"
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+len(extraEquals))
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	where := fmt.Sprintf("%s IN (%s)", keyField, strings.Join(placeholders, ","))
	for field, value := range extraEquals {
		where += fmt.Sprintf(" AND %s = ?", field)
		args = append(args, value)
	}

	sql := fmt.Sprintf(
		`SELECT * FROM (SELECT *, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS rn FROM %s WHERE %s) ranked WHERE rn <= ?`,
		keyField, orderBy, resource, where,
	)
	args = append(args, limit)

	var rows []map[string]any
	if err := s.conn(ctx, tx).Raw(sql, args...).Find(&rows).Error; err != nil {
		return nil, jsonapi.ErrStorage(err)
	}
	for _, r := range rows {
		delete(r, "rn")
	}
	return toRecords(rows), nil
}

func (s *Store) QueryPivotRows(ctx context.Context, through, localKeyField string, localKeyValues []string, otherKeyField string, tx jsonapi.Transaction) ([]jsonapi.PivotRow, error) {
	if len(localKeyValues) == 0 {
		return nil, nil
	}
	var rows []struct {
		LocalKey string `gorm:"column:local_key"`
		OtherKey string `gorm:"column:other_key"`
	}
	if err := s.conn(ctx, tx).Table(through).Where("local_key IN ?", localKeyValues).Find(&rows).Error; err != nil {
		return nil, jsonapi.ErrStorage(err)
	}
	out := make([]jsonapi.PivotRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, jsonapi.PivotRow{LocalKey: r.LocalKey, OtherKey: r.OtherKey})
	}
	return out, nil
}

func toRecords(rows []map[string]any) []jsonapi.Record {
	out := make([]jsonapi.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, jsonapi.Record{ID: fmt.Sprintf("%v", r["id"]), Attributes: r})
	}
	return out
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
